package ports

import (
	"context"

	"github.com/holiman/uint256"
)

// Payer realiza la única transferencia saliente de un cobro hacia un sistema
// externo. Se invoca siempre después de marcar las apuestas como cobradas. Es
// opcional: sin Payer el cobro se abona como domain.Credit dentro del Commit.
type Payer interface {
	Transfer(ctx context.Context, to string, amount *uint256.Int) error
}
