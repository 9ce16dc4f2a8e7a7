package storage

// sqlite.go: persistencia del ledger de predicción.
//
// Estrategia:
//   - `engine_state`: una sola fila con el estado global y los parámetros.
//   - `rounds`: una fila por época (UPSERT). Append-only en la práctica.
//   - `bets`: una fila por (época, usuario). Solo `claimed` cambia tras el insert.
//   - `events`: log append-only, en el mismo commit que el estado que producen.
//   - Cada Commit es una única transacción: todo o nada, abonos incluidos.
//   - `engine_state.version` cuenta los commits. Un Commit solo se aplica si la
//     versión persistida es la que el motor cargó; si otro proceso escribió antes,
//     devuelve domain.ErrStaleLedger y no toca nada.
//   - Tiempos como unix nanos e importes como decimal en TEXT (uint256 no cabe en INTEGER).

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/polypredict/internal/domain"
	"github.com/holiman/uint256"
	_ "modernc.org/sqlite"
)

const schema = `
-- Estado global, siempre una fila
CREATE TABLE IF NOT EXISTS engine_state (
    id                   INTEGER PRIMARY KEY CHECK (id = 1),
    current_epoch        INTEGER NOT NULL DEFAULT 0,
    genesis_started      INTEGER NOT NULL DEFAULT 0,
    genesis_locked       INTEGER NOT NULL DEFAULT 0,
    paused               INTEGER NOT NULL DEFAULT 0,
    treasury_balance     TEXT    NOT NULL DEFAULT '0',
    last_oracle_round_id INTEGER NOT NULL DEFAULT 0,
    admin                TEXT    NOT NULL,
    operator             TEXT    NOT NULL DEFAULT '',
    interval_ns          INTEGER NOT NULL,
    buffer_ns            INTEGER NOT NULL,
    min_bet_amount       TEXT    NOT NULL,
    treasury_fee_bps     INTEGER NOT NULL,
    oracle_allowance_ns  INTEGER NOT NULL,
    version              INTEGER NOT NULL DEFAULT 0,
    updated_at           INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS rounds (
    epoch              INTEGER PRIMARY KEY,
    start_time         INTEGER NOT NULL,
    lock_time          INTEGER NOT NULL,
    close_time         INTEGER NOT NULL,
    lock_price         INTEGER,
    close_price        INTEGER,
    lock_oracle_id     INTEGER NOT NULL DEFAULT 0,
    close_oracle_id    INTEGER NOT NULL DEFAULT 0,
    total_amount       TEXT    NOT NULL DEFAULT '0',
    bull_amount        TEXT    NOT NULL DEFAULT '0',
    bear_amount        TEXT    NOT NULL DEFAULT '0',
    reward_base_amount TEXT    NOT NULL DEFAULT '0',
    reward_amount      TEXT    NOT NULL DEFAULT '0',
    oracle_called      INTEGER NOT NULL DEFAULT 0,
    status             TEXT    NOT NULL,
    refund_reason      TEXT    NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS bets (
    seq       INTEGER PRIMARY KEY AUTOINCREMENT,
    epoch     INTEGER NOT NULL,
    user_id   TEXT    NOT NULL,
    position  TEXT    NOT NULL,
    amount    TEXT    NOT NULL,
    claimed   INTEGER NOT NULL DEFAULT 0,
    placed_at INTEGER NOT NULL,
    UNIQUE (epoch, user_id)
);

CREATE TABLE IF NOT EXISTS events (
    seq     INTEGER PRIMARY KEY AUTOINCREMENT,
    id      TEXT    NOT NULL UNIQUE,
    kind    TEXT    NOT NULL,
    epoch   INTEGER NOT NULL,
    at      INTEGER NOT NULL,
    payload TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bets_user    ON bets(user_id);
CREATE INDEX IF NOT EXISTS idx_events_epoch ON events(epoch);
CREATE INDEX IF NOT EXISTS idx_events_kind  ON events(kind);
`

// migrations añade columnas que bases anteriores no tienen. Fallan si la
// columna ya existe, y eso está bien.
var migrations = []string{
	"ALTER TABLE engine_state ADD COLUMN version INTEGER NOT NULL DEFAULT 0",
}

// SQLiteStorage implementa ports.LedgerStore y ports.Payer usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada y aplica el schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	// Varios procesos pueden compartir el fichero: esperar al lock en vez de fallar.
	for _, stmt := range []string{"PRAGMA busy_timeout = 5000", schema, payerSchema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
		}
	}
	for _, m := range migrations {
		db.Exec(m) // ignora "duplicate column"
	}
	return &SQLiteStorage{db: db}, nil
}

// Load devuelve todo el ledger. Una base vacía devuelve un Snapshot cero.
func (s *SQLiteStorage) Load(ctx context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot

	// Una sola transacción de lectura: estado, rondas y apuestas de la misma versión.
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return snap, fmt.Errorf("storage.Load: begin tx: %w", err)
	}
	defer tx.Rollback()

	st, version, ok, err := loadState(ctx, tx)
	if err != nil {
		return snap, fmt.Errorf("storage.Load: %w", err)
	}
	if !ok {
		return snap, nil
	}
	snap.State = st
	snap.Version = version

	if snap.Rounds, err = loadRounds(ctx, tx); err != nil {
		return domain.Snapshot{}, fmt.Errorf("storage.Load: %w", err)
	}
	if snap.Bets, err = loadBets(ctx, tx); err != nil {
		return domain.Snapshot{}, fmt.Errorf("storage.Load: %w", err)
	}
	return snap, nil
}

// Version devuelve el número de commits persistidos (cero en una base vacía).
func (s *SQLiteStorage) Version(ctx context.Context) (uint64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM engine_state WHERE id = 1`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("storage.Version: %w", err)
	}
	return uint64(v), nil
}

// Commit persiste un changeset en una sola transacción.
func (s *SQLiteStorage) Commit(ctx context.Context, cs domain.Changeset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.Commit: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := upsertState(ctx, tx, cs.BaseVersion, cs.State); err != nil {
		return fmt.Errorf("storage.Commit: %w", err)
	}
	if err := upsertRounds(ctx, tx, cs.Rounds); err != nil {
		return fmt.Errorf("storage.Commit: %w", err)
	}
	if err := upsertBets(ctx, tx, cs.Bets); err != nil {
		return fmt.Errorf("storage.Commit: %w", err)
	}
	if err := insertEvents(ctx, tx, cs.Events); err != nil {
		return fmt.Errorf("storage.Commit: %w", err)
	}
	for _, c := range cs.Credits {
		if err := credit(ctx, tx, c); err != nil {
			return fmt.Errorf("storage.Commit: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.Commit: commit: %w", err)
	}
	return nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- escritura ---

// upsertState escribe el estado con versión base+1, solo si la persistida es base.
func upsertState(ctx context.Context, tx *sql.Tx, base uint64, st domain.State) error {
	p := st.Params
	res, err := tx.ExecContext(ctx, `
		INSERT INTO engine_state
			(id, current_epoch, genesis_started, genesis_locked, paused, treasury_balance,
			 last_oracle_round_id, admin, operator, interval_ns, buffer_ns, min_bet_amount,
			 treasury_fee_bps, oracle_allowance_ns, version, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			current_epoch        = excluded.current_epoch,
			genesis_started      = excluded.genesis_started,
			genesis_locked       = excluded.genesis_locked,
			paused               = excluded.paused,
			treasury_balance     = excluded.treasury_balance,
			last_oracle_round_id = excluded.last_oracle_round_id,
			admin                = excluded.admin,
			operator             = excluded.operator,
			interval_ns          = excluded.interval_ns,
			buffer_ns            = excluded.buffer_ns,
			min_bet_amount       = excluded.min_bet_amount,
			treasury_fee_bps     = excluded.treasury_fee_bps,
			oracle_allowance_ns  = excluded.oracle_allowance_ns,
			version              = excluded.version,
			updated_at           = excluded.updated_at
		WHERE engine_state.version = ?
	`,
		int64(st.CurrentEpoch),
		boolToInt(st.GenesisStarted),
		boolToInt(st.GenesisLocked),
		boolToInt(st.Paused),
		domain.AmountString(st.TreasuryBalance),
		int64(st.LastOracleRoundID),
		st.Admin,
		st.Operator,
		int64(p.Interval),
		int64(p.Buffer),
		domain.AmountString(p.MinBetAmount),
		int64(p.TreasuryFeeBps),
		int64(p.OracleUpdateAllowance),
		int64(base+1),
		time.Now().UnixNano(),
		int64(base),
	)
	if err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("upsert state at version %d: %w", base, domain.ErrStaleLedger)
	}
	return nil
}

func upsertRounds(ctx context.Context, tx *sql.Tx, rounds []domain.Round) error {
	if len(rounds) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rounds
			(epoch, start_time, lock_time, close_time, lock_price, close_price,
			 lock_oracle_id, close_oracle_id, total_amount, bull_amount, bear_amount,
			 reward_base_amount, reward_amount, oracle_called, status, refund_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(epoch) DO UPDATE SET
			start_time         = excluded.start_time,
			lock_time          = excluded.lock_time,
			close_time         = excluded.close_time,
			lock_price         = excluded.lock_price,
			close_price        = excluded.close_price,
			lock_oracle_id     = excluded.lock_oracle_id,
			close_oracle_id    = excluded.close_oracle_id,
			total_amount       = excluded.total_amount,
			bull_amount        = excluded.bull_amount,
			bear_amount        = excluded.bear_amount,
			reward_base_amount = excluded.reward_base_amount,
			reward_amount      = excluded.reward_amount,
			oracle_called      = excluded.oracle_called,
			status             = excluded.status,
			refund_reason      = excluded.refund_reason
	`)
	if err != nil {
		return fmt.Errorf("prepare rounds: %w", err)
	}
	defer stmt.Close()

	for _, r := range rounds {
		if _, err := stmt.ExecContext(ctx,
			int64(r.Epoch),
			r.StartTime.UnixNano(),
			r.LockTime.UnixNano(),
			r.CloseTime.UnixNano(),
			nullPrice(r.LockPrice),
			nullPrice(r.ClosePrice),
			int64(r.LockOracleID),
			int64(r.CloseOracleID),
			domain.AmountString(r.TotalAmount),
			domain.AmountString(r.BullAmount),
			domain.AmountString(r.BearAmount),
			domain.AmountString(r.RewardBaseAmount),
			domain.AmountString(r.RewardAmount),
			boolToInt(r.OracleCalled),
			r.Status.String(),
			string(r.RefundReason),
		); err != nil {
			return fmt.Errorf("upsert round %d: %w", r.Epoch, err)
		}
	}
	return nil
}

func upsertBets(ctx context.Context, tx *sql.Tx, bets []domain.Bet) error {
	if len(bets) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bets (epoch, user_id, position, amount, claimed, placed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(epoch, user_id) DO UPDATE SET
			claimed = excluded.claimed
	`)
	if err != nil {
		return fmt.Errorf("prepare bets: %w", err)
	}
	defer stmt.Close()

	for _, b := range bets {
		if _, err := stmt.ExecContext(ctx,
			int64(b.Epoch),
			b.User,
			b.Position.String(),
			domain.AmountString(b.Amount),
			boolToInt(b.Claimed),
			b.PlacedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("upsert bet %d/%s: %w", b.Epoch, b.User, err)
		}
	}
	return nil
}

func insertEvents(ctx context.Context, tx *sql.Tx, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (id, kind, epoch, at, payload) VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare events: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		payload, err := domain.MarshalEvent(ev)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", ev.Kind(), err)
		}
		m := ev.Metadata()
		if _, err := stmt.ExecContext(ctx, m.ID, ev.Kind(), int64(m.Epoch), m.At.UnixNano(), string(payload)); err != nil {
			return fmt.Errorf("insert event %s: %w", ev.Kind(), err)
		}
	}
	return nil
}

// --- lectura ---

func loadState(ctx context.Context, tx *sql.Tx) (domain.State, uint64, bool, error) {
	var st domain.State
	var epoch, lastOracle, feeBps, intervalNs, bufferNs, allowanceNs, version int64
	var started, locked, paused int
	var treasury, minBet string
	err := tx.QueryRowContext(ctx, `
		SELECT current_epoch, genesis_started, genesis_locked, paused, treasury_balance,
		       last_oracle_round_id, admin, operator, interval_ns, buffer_ns, min_bet_amount,
		       treasury_fee_bps, oracle_allowance_ns, version
		FROM engine_state WHERE id = 1
	`).Scan(
		&epoch, &started, &locked, &paused, &treasury,
		&lastOracle, &st.Admin, &st.Operator, &intervalNs, &bufferNs, &minBet,
		&feeBps, &allowanceNs, &version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.State{}, 0, false, nil
	}
	if err != nil {
		return domain.State{}, 0, false, fmt.Errorf("query state: %w", err)
	}

	if st.TreasuryBalance, err = domain.ParseAmount(treasury); err != nil {
		return domain.State{}, 0, false, fmt.Errorf("treasury balance: %w", err)
	}
	minBetAmount, err := domain.ParseAmount(minBet)
	if err != nil {
		return domain.State{}, 0, false, fmt.Errorf("min bet amount: %w", err)
	}

	st.CurrentEpoch = uint64(epoch)
	st.GenesisStarted = started == 1
	st.GenesisLocked = locked == 1
	st.Paused = paused == 1
	st.LastOracleRoundID = uint64(lastOracle)
	st.Params = domain.Params{
		Interval:              time.Duration(intervalNs),
		Buffer:                time.Duration(bufferNs),
		MinBetAmount:          minBetAmount,
		TreasuryFeeBps:        uint64(feeBps),
		OracleUpdateAllowance: time.Duration(allowanceNs),
	}
	return st, uint64(version), true, nil
}

func loadRounds(ctx context.Context, tx *sql.Tx) ([]domain.Round, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT epoch, start_time, lock_time, close_time, lock_price, close_price,
		       lock_oracle_id, close_oracle_id, total_amount, bull_amount, bear_amount,
		       reward_base_amount, reward_amount, oracle_called, status, refund_reason
		FROM rounds ORDER BY epoch
	`)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()

	var rounds []domain.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

func scanRound(rows *sql.Rows) (domain.Round, error) {
	var r domain.Round
	var epoch, lockOracle, closeOracle, start, lock, closeAt int64
	var lockPrice, closePrice sql.NullInt64
	var total, bull, bear, rewardBase, reward, status, reason string
	var oracleCalled int
	if err := rows.Scan(
		&epoch, &start, &lock, &closeAt, &lockPrice, &closePrice,
		&lockOracle, &closeOracle, &total, &bull, &bear,
		&rewardBase, &reward, &oracleCalled, &status, &reason,
	); err != nil {
		return r, fmt.Errorf("scan round: %w", err)
	}

	var err error
	if r.Status, err = domain.ParseRoundStatus(status); err != nil {
		return r, fmt.Errorf("round %d: %w", epoch, err)
	}
	amounts := []struct {
		dst **uint256.Int
		src string
	}{
		{&r.TotalAmount, total},
		{&r.BullAmount, bull},
		{&r.BearAmount, bear},
		{&r.RewardBaseAmount, rewardBase},
		{&r.RewardAmount, reward},
	}
	for _, a := range amounts {
		if *a.dst, err = domain.ParseAmount(a.src); err != nil {
			return r, fmt.Errorf("round %d: %w", epoch, err)
		}
	}

	r.Epoch = uint64(epoch)
	r.StartTime = fromNanos(start)
	r.LockTime = fromNanos(lock)
	r.CloseTime = fromNanos(closeAt)
	r.LockPrice = priceFromNull(lockPrice)
	r.ClosePrice = priceFromNull(closePrice)
	r.LockOracleID = uint64(lockOracle)
	r.CloseOracleID = uint64(closeOracle)
	r.OracleCalled = oracleCalled == 1
	r.RefundReason = domain.RefundReason(reason)
	return r, nil
}

func loadBets(ctx context.Context, tx *sql.Tx) ([]domain.Bet, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT epoch, user_id, position, amount, claimed, placed_at FROM bets ORDER BY seq`,
	)
	if err != nil {
		return nil, fmt.Errorf("query bets: %w", err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		var b domain.Bet
		var epoch, placedAt int64
		var position, amount string
		var claimed int
		if err := rows.Scan(&epoch, &b.User, &position, &amount, &claimed, &placedAt); err != nil {
			return nil, fmt.Errorf("scan bet: %w", err)
		}
		if b.Position, err = domain.ParsePosition(position); err != nil {
			return nil, fmt.Errorf("bet %d/%s: %w", epoch, b.User, err)
		}
		if b.Amount, err = domain.ParseAmount(amount); err != nil {
			return nil, fmt.Errorf("bet %d/%s: %w", epoch, b.User, err)
		}
		b.Epoch = uint64(epoch)
		b.Claimed = claimed == 1
		b.PlacedAt = fromNanos(placedAt)
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

// --- helpers internos ---

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullPrice(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func priceFromNull(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	return domain.PriceOf(n.Int64)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
