package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polypredict/internal/domain"
	"github.com/alejandrodnm/polypredict/internal/ports"
)

// Lifecycle es la parte del motor que el keeper necesita. *engine.Engine la implementa.
type Lifecycle interface {
	Refresh(ctx context.Context) error
	State() domain.State
	GetRound(epoch uint64) (domain.Round, error)
	GenesisStart(ctx context.Context, caller string) error
	GenesisLock(ctx context.Context, caller string) error
	ExecuteRound(ctx context.Context, caller string) error
	RecoverStalled(ctx context.Context, caller string) error
}

// Config contiene la configuración del keeper.
type Config struct {
	Caller       string        // identidad con la que firma (operator)
	PollInterval time.Duration
	AutoGenesis  bool // arranca el génesis si no hay rondas en curso
	AutoRecover  bool // llama a RecoverStalled si se perdió la ventana
	LockKey      string
	LockTTL      time.Duration
	DryRun       bool // un solo ciclo
}

// DefaultConfig devuelve una configuración sensata para producción.
func DefaultConfig() Config {
	return Config{
		PollInterval: time.Second,
		AutoGenesis:  true,
		AutoRecover:  true,
		LockKey:      "polypredict:keeper",
		LockTTL:      15 * time.Second,
	}
}

// Keeper empuja el ciclo de vida de las rondas: decide qué paso toca según el
// reloj y lo ejecuta contra el motor.
type Keeper struct {
	cfg    Config
	engine Lifecycle
	locker ports.Locker // opcional, para varias réplicas
	now    func() time.Time
}

// New crea un Keeper. locker puede ser nil.
func New(cfg Config, engine Lifecycle, locker ports.Locker) *Keeper {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.LockKey == "" {
		cfg.LockKey = DefaultConfig().LockKey
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultConfig().LockTTL
	}
	return &Keeper{cfg: cfg, engine: engine, locker: locker, now: time.Now}
}

// Run ejecuta el loop hasta que el contexto se cancele.
// Si cfg.DryRun está activo, solo ejecuta un ciclo.
func (k *Keeper) Run(ctx context.Context) error {
	slog.Info("keeper starting",
		"interval", k.cfg.PollInterval,
		"caller", k.cfg.Caller,
		"dry_run", k.cfg.DryRun,
	)

	if _, err := k.RunOnce(ctx); err != nil {
		slog.Error("keeper cycle failed", "err", err)
		if k.cfg.DryRun {
			return err
		}
	}

	if k.cfg.DryRun {
		return nil
	}

	ticker := time.NewTicker(k.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("keeper stopped")
			return nil
		case <-ticker.C:
			if _, err := k.RunOnce(ctx); err != nil {
				slog.Error("keeper cycle failed", "err", err)
			}
		}
	}
}

// RunOnce decide y ejecuta, como mucho, un paso del ciclo de vida.
func (k *Keeper) RunOnce(ctx context.Context) (Decision, error) {
	// Otra réplica pudo avanzar el ledger: planificar sobre lo último persistido.
	if err := k.engine.Refresh(ctx); err != nil {
		return Decision{}, fmt.Errorf("keeper.RunOnce: %w", err)
	}
	d := k.plan()
	switch d.Action {
	case ActionWait:
		return d, nil
	case ActionGenesisStart:
		if !k.cfg.AutoGenesis {
			return Decision{Action: ActionWait, Epoch: d.Epoch}, nil
		}
	case ActionRecover:
		if !k.cfg.AutoRecover {
			slog.Warn("execution window missed, waiting for manual recovery", "epoch", d.Epoch)
			return Decision{Action: ActionWait, Epoch: d.Epoch}, nil
		}
	}

	if k.locker != nil {
		unlock, err := k.locker.Acquire(ctx, k.cfg.LockKey, k.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			slog.Debug("keeper lock held elsewhere, skipping", "action", d.Action)
			d.Skipped = true
			return d, nil
		}
		if err != nil {
			return d, fmt.Errorf("keeper.RunOnce: lock: %w", err)
		}
		defer unlock()
	}

	start := time.Now()
	if err := k.apply(ctx, d.Action); err != nil {
		// Otra réplica pudo adelantarse entre plan y ejecución.
		if errors.Is(err, domain.ErrTimingViolation) ||
			errors.Is(err, domain.ErrInvalidRoundState) ||
			errors.Is(err, domain.ErrStaleLedger) {
			slog.Debug("keeper step rejected", "action", d.Action, "err", err)
			d.Skipped = true
			return d, nil
		}
		return d, fmt.Errorf("keeper.RunOnce: %s: %w", d.Action, err)
	}

	slog.Info("keeper step complete",
		"action", d.Action,
		"epoch", d.Epoch,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return d, nil
}

func (k *Keeper) apply(ctx context.Context, a Action) error {
	switch a {
	case ActionGenesisStart:
		return k.engine.GenesisStart(ctx, k.cfg.Caller)
	case ActionGenesisLock:
		return k.engine.GenesisLock(ctx, k.cfg.Caller)
	case ActionExecute:
		return k.engine.ExecuteRound(ctx, k.cfg.Caller)
	case ActionRecover:
		return k.engine.RecoverStalled(ctx, k.cfg.Caller)
	}
	return nil
}

func (k *Keeper) plan() Decision {
	st := k.engine.State()
	cur, err := k.engine.GetRound(st.CurrentEpoch)
	return Plan(st, cur, err == nil, k.now())
}
