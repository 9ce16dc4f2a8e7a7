package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/polypredict/internal/domain"
	"github.com/alejandrodnm/polypredict/internal/ports"
)

// Config seeds the ledger the first time the engine runs against an empty store.
// Once state is persisted, the stored params and roles win.
type Config struct {
	Params   domain.Params
	Admin    string
	Operator string
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSinks registers sinks that receive every committed event.
func WithSinks(sinks ...ports.EventSink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, sinks...) }
}

// maxStaleRetries bounds how many times a command is replayed after another
// process committed to the same store.
const maxStaleRetries = 3

// Engine owns the round and bet ledgers. Every public command runs to
// completion under a single mutex and either commits all of its changes or none.
// Commands first bring the ledger up to the store's version, so several
// processes can share one store: a commit based on an old version is rejected
// by the store and the command is replayed on the reloaded ledger.
type Engine struct {
	mu     sync.Mutex
	ledger *domain.Ledger
	oracle ports.PriceOracle
	store  ports.LedgerStore
	payer  ports.Payer
	sinks  []ports.EventSink
	now    func() time.Time
}

// New loads the ledger from store and returns a ready engine. payer may be nil:
// payouts are then handed to the store as credits in the same commit that marks
// the bets claimed.
func New(
	ctx context.Context,
	cfg Config,
	oracle ports.PriceOracle,
	store ports.LedgerStore,
	payer ports.Payer,
	opts ...Option,
) (*Engine, error) {
	if oracle == nil || store == nil {
		return nil, errors.New("engine.New: oracle and store are required")
	}

	snap, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine.New: load ledger: %w", err)
	}

	if snap.State.Admin == "" && len(snap.Rounds) == 0 {
		if cfg.Admin == "" {
			return nil, fmt.Errorf("engine.New: %w: admin is required", domain.ErrInvalidParams)
		}
		if err := cfg.Params.Validate(); err != nil {
			return nil, fmt.Errorf("engine.New: %w", err)
		}
		snap.State = domain.State{
			Admin:           cfg.Admin,
			Operator:        cfg.Operator,
			Params:          cfg.Params.Clone(),
			TreasuryBalance: domain.Zero(),
		}
	}

	ledger, err := domain.NewLedgerFromSnapshot(snap)
	if err != nil {
		return nil, fmt.Errorf("engine.New: %w", err)
	}

	e := &Engine{
		ledger: ledger,
		oracle: oracle,
		store:  store,
		payer:  payer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	st := ledger.State()
	slog.Info("engine ready",
		"version", ledger.Version(),
		"current_epoch", st.CurrentEpoch,
		"rounds", ledger.RoundCount(),
		"genesis_started", st.GenesisStarted,
		"genesis_locked", st.GenesisLocked,
		"paused", st.Paused,
	)
	return e, nil
}

// run executes fn under the engine lock and publishes what it committed.
func (e *Engine) run(ctx context.Context, fn func() ([]domain.Event, error)) error {
	var events []domain.Event
	err := e.locked(ctx, func() error {
		var err error
		events, err = fn()
		return err
	})
	if err != nil {
		return err
	}
	e.publish(ctx, events)
	return nil
}

// locked runs fn under e.mu on a ledger synced with the store. When fn fails
// with ErrStaleLedger the ledger is reloaded and fn runs again, so fn must
// start from scratch on every call.
func (e *Engine) locked(ctx context.Context, fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for attempt := 1; ; attempt++ {
		if err := e.sync(ctx); err != nil {
			return err
		}
		err := fn()
		if !errors.Is(err, domain.ErrStaleLedger) || attempt > maxStaleRetries {
			return err
		}
		slog.Warn("ledger changed in store, replaying command", "attempt", attempt, "err", err)
	}
}

// sync reloads the ledger when the store holds commits this engine has not
// seen. Caller holds e.mu.
func (e *Engine) sync(ctx context.Context) error {
	v, err := e.store.Version(ctx)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if v == e.ledger.Version() {
		return nil
	}
	snap, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("sync: load ledger: %w", err)
	}
	ledger, err := domain.NewLedgerFromSnapshot(snap)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	slog.Info("ledger reloaded from store",
		"from_version", e.ledger.Version(),
		"to_version", ledger.Version(),
		"current_epoch", ledger.State().CurrentEpoch,
	)
	e.ledger = ledger
	return nil
}

// Refresh brings the in-memory ledger up to the store's version. Queries read
// memory only; long-lived readers sharing a store call this periodically.
func (e *Engine) Refresh(ctx context.Context) error {
	if err := e.locked(ctx, func() error { return nil }); err != nil {
		return fmt.Errorf("engine.Refresh: %w", err)
	}
	return nil
}

// commit applies events to the ledger and persists the resulting changeset in
// one transaction. On any failure the ledger is rolled back. Caller holds e.mu.
func (e *Engine) commit(ctx context.Context, events ...domain.Event) error {
	return e.commitCredits(ctx, nil, events...)
}

// commitCredits is commit plus credits the store applies in the same transaction.
func (e *Engine) commitCredits(ctx context.Context, credits []domain.Credit, events ...domain.Event) error {
	j := e.ledger.Begin()
	for _, ev := range events {
		if err := e.ledger.Apply(ev); err != nil {
			j.Rollback()
			return fmt.Errorf("apply %s: %w", ev.Kind(), err)
		}
	}
	cs := j.Changeset(events)
	cs.Credits = credits
	if err := e.store.Commit(ctx, cs); err != nil {
		j.Rollback()
		if errors.Is(err, domain.ErrStaleLedger) {
			return fmt.Errorf("commit: %w", err)
		}
		slog.Error("ledger commit failed, changes rolled back", "err", err, "events", len(events))
		return fmt.Errorf("commit: %w", err)
	}
	j.Commit()
	return nil
}

func (e *Engine) publish(ctx context.Context, events []domain.Event) {
	if len(events) == 0 {
		return
	}
	for _, s := range e.sinks {
		if err := s.Publish(ctx, events); err != nil {
			slog.Warn("event sink error", "err", err)
		}
	}
}

// authorize is the access guard run at the start of every privileged command.
func (e *Engine) authorize(caller string, allowed ...domain.Role) error {
	st := e.ledger.State()
	return domain.Authorize(domain.RoleOf(caller, st.Admin, st.Operator), allowed...)
}
