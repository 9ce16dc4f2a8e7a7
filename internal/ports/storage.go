package ports

import (
	"context"

	"github.com/alejandrodnm/polypredict/internal/domain"
)

// LedgerStore persiste el libro de rondas, el de apuestas y el estado global.
type LedgerStore interface {
	// Load devuelve todo lo persistido. Un store vacío devuelve un Snapshot cero.
	Load(ctx context.Context) (domain.Snapshot, error)

	// Version devuelve el número de commits persistidos.
	Version(ctx context.Context) (uint64, error)

	// Commit persiste un changeset de forma atómica: todo o nada, abonos
	// incluidos. Si la versión persistida no es cs.BaseVersion devuelve
	// domain.ErrStaleLedger sin escribir nada.
	Commit(ctx context.Context, cs domain.Changeset) error
}
