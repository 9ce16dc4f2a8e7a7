package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/polypredict/internal/domain"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Cuentas internas: los cobros se abonan en `balances` y cada abono queda
// registrado en `transfers`. El motor sin Payer externo los manda como
// domain.Credit dentro del mismo Commit que marca las apuestas cobradas.
const payerSchema = `
CREATE TABLE IF NOT EXISTS balances (
    user_id    TEXT PRIMARY KEY,
    amount     TEXT    NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS transfers (
    id         TEXT PRIMARY KEY,
    user_id    TEXT    NOT NULL,
    amount     TEXT    NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transfers_user ON transfers(user_id, created_at DESC);
`

// Transfer es un abono registrado.
type Transfer struct {
	ID        string       `json:"id"`
	User      string       `json:"user"`
	Amount    *uint256.Int `json:"amount"`
	CreatedAt time.Time    `json:"created_at"`
}

// StoredEvent es una fila del log de eventos.
type StoredEvent struct {
	Seq     int64           `json:"seq"`
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	Epoch   uint64          `json:"epoch"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// Transfer abona amount a to en su propia transacción. Un importe cero no hace nada.
func (s *SQLiteStorage) Transfer(ctx context.Context, to string, amount *uint256.Int) error {
	if to == "" {
		return errors.New("storage.Transfer: empty recipient")
	}
	if amount == nil || amount.IsZero() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.Transfer: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := credit(ctx, tx, domain.Credit{To: to, Amount: amount}); err != nil {
		return fmt.Errorf("storage.Transfer: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.Transfer: commit: %w", err)
	}
	return nil
}

// credit suma c.Amount al saldo de c.To y registra el abono dentro de tx.
func credit(ctx context.Context, tx *sql.Tx, c domain.Credit) error {
	if c.To == "" {
		return errors.New("credit: empty recipient")
	}
	if c.Amount == nil || c.Amount.IsZero() {
		return nil
	}
	id := c.ID
	if id == "" {
		id = uuid.New().String()
	}

	balance, err := balanceOf(ctx, tx, c.To)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(balance, c.Amount)
	if overflow {
		return fmt.Errorf("credit: balance overflow for %s", c.To)
	}

	now := time.Now().UnixNano()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO balances (user_id, amount, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			amount     = excluded.amount,
			updated_at = excluded.updated_at
	`, c.To, next.Dec(), now); err != nil {
		return fmt.Errorf("credit: upsert balance: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO transfers (id, user_id, amount, created_at) VALUES (?, ?, ?, ?)`,
		id, c.To, c.Amount.Dec(), now,
	); err != nil {
		return fmt.Errorf("credit: insert transfer %s: %w", id, err)
	}
	return nil
}

// Balance devuelve el saldo acumulado de user (cero si nunca cobró).
func (s *SQLiteStorage) Balance(ctx context.Context, user string) (*uint256.Int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("storage.Balance: begin tx: %w", err)
	}
	defer tx.Rollback()

	b, err := balanceOf(ctx, tx, user)
	if err != nil {
		return nil, fmt.Errorf("storage.Balance: %w", err)
	}
	return b, nil
}

// Transfers devuelve los últimos abonos de user, el más reciente primero.
func (s *SQLiteStorage) Transfers(ctx context.Context, user string, limit int) ([]Transfer, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, amount, created_at FROM transfers
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, user, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.Transfers: query: %w", err)
	}
	defer rows.Close()

	var out []Transfer
	for rows.Next() {
		var t Transfer
		var amount string
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.User, &amount, &createdAt); err != nil {
			return nil, fmt.Errorf("storage.Transfers: scan row: %w", err)
		}
		if t.Amount, err = domain.ParseAmount(amount); err != nil {
			return nil, fmt.Errorf("storage.Transfers: %w", err)
		}
		t.CreatedAt = fromNanos(createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Events devuelve hasta limit eventos con seq > after, en orden.
func (s *SQLiteStorage) Events(ctx context.Context, after int64, limit int) ([]StoredEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, kind, epoch, at, payload FROM events
		WHERE seq > ?
		ORDER BY seq
		LIMIT ?
	`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.Events: query: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var ev StoredEvent
		var epoch, at int64
		var payload string
		if err := rows.Scan(&ev.Seq, &ev.ID, &ev.Kind, &epoch, &at, &payload); err != nil {
			return nil, fmt.Errorf("storage.Events: scan row: %w", err)
		}
		ev.Epoch = uint64(epoch)
		ev.At = fromNanos(at)
		ev.Payload = json.RawMessage(payload)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func balanceOf(ctx context.Context, tx *sql.Tx, user string) (*uint256.Int, error) {
	var amount string
	err := tx.QueryRowContext(ctx, `SELECT amount FROM balances WHERE user_id = ?`, user).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Zero(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("query balance: %w", err)
	}
	return domain.ParseAmount(amount)
}
