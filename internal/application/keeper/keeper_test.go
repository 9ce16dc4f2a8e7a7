package keeper

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alejandrodnm/polypredict/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockLifecycle struct {
	state      domain.State
	round      domain.Round
	calls      []string
	err        error
	refreshes  int
	refreshErr error
}

func (m *mockLifecycle) Refresh(_ context.Context) error {
	m.refreshes++
	return m.refreshErr
}

func (m *mockLifecycle) State() domain.State { return m.state }

func (m *mockLifecycle) GetRound(epoch uint64) (domain.Round, error) {
	if epoch == 0 || epoch != m.round.Epoch {
		return domain.Round{}, domain.ErrRoundNotFound
	}
	return m.round, nil
}

func (m *mockLifecycle) record(name string) error {
	m.calls = append(m.calls, name)
	return m.err
}

func (m *mockLifecycle) GenesisStart(_ context.Context, _ string) error   { return m.record("start") }
func (m *mockLifecycle) GenesisLock(_ context.Context, _ string) error    { return m.record("lock") }
func (m *mockLifecycle) ExecuteRound(_ context.Context, _ string) error   { return m.record("execute") }
func (m *mockLifecycle) RecoverStalled(_ context.Context, _ string) error { return m.record("recover") }

type mockLocker struct {
	err      error
	acquired int
	released int
}

func (m *mockLocker) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	if m.err != nil {
		return nil, m.err
	}
	m.acquired++
	return func() { m.released++ }, nil
}

// --- helpers ---

var t0 = time.Unix(1_700_000_000, 0).UTC()

func runningState() domain.State {
	return domain.State{
		CurrentEpoch:   2,
		GenesisStarted: true,
		GenesisLocked:  true,
		Params:         domain.DefaultParams(),
	}
}

func openRound(epoch uint64) domain.Round {
	return domain.NewRound(epoch, t0, 5*time.Minute)
}

func newTestKeeper(lc Lifecycle, locker *mockLocker, now time.Time) *Keeper {
	cfg := DefaultConfig()
	cfg.Caller = "operator"
	var k *Keeper
	if locker != nil {
		k = New(cfg, lc, locker)
	} else {
		k = New(cfg, lc, nil)
	}
	k.now = func() time.Time { return now }
	return k
}

// --- Plan ---

func TestPlan(t *testing.T) {
	lockAt := t0.Add(5 * time.Minute)
	notLocked := runningState()
	notLocked.GenesisLocked = false

	tests := []struct {
		name   string
		state  domain.State
		hasCur bool
		now    time.Time
		want   Action
	}{
		{"fresh ledger", domain.State{}, false, t0, ActionGenesisStart},
		{"genesis reset", domain.State{CurrentEpoch: 4}, true, t0, ActionGenesisStart},
		{"genesis before lock", notLocked, true, t0.Add(time.Minute), ActionWait},
		{"genesis at lock", notLocked, true, lockAt, ActionGenesisLock},
		{"running before lock", runningState(), true, t0.Add(time.Minute), ActionWait},
		{"running at lock", runningState(), true, lockAt, ActionExecute},
		{"running at buffer edge", runningState(), true, lockAt.Add(30 * time.Second), ActionExecute},
		{"running past buffer", runningState(), true, lockAt.Add(31 * time.Second), ActionRecover},
		{"missing round", runningState(), false, lockAt, ActionWait},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Plan(tt.state, openRound(tt.state.CurrentEpoch), tt.hasCur, tt.now)
			assert.Equal(t, tt.want, d.Action, d.Action.String())
		})
	}
}

func TestPlan_WaitReportsDueTime(t *testing.T) {
	d := Plan(runningState(), openRound(2), true, t0)
	assert.Equal(t, ActionWait, d.Action)
	assert.Equal(t, t0.Add(5*time.Minute), d.DueAt)
	assert.Equal(t, uint64(2), d.Epoch)
}

// --- RunOnce ---

func TestKeeper_RunOnce_Executes(t *testing.T) {
	lc := &mockLifecycle{state: runningState(), round: openRound(2)}
	locker := &mockLocker{}
	k := newTestKeeper(lc, locker, t0.Add(5*time.Minute))

	d, err := k.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionExecute, d.Action)
	assert.False(t, d.Skipped)
	assert.Equal(t, []string{"execute"}, lc.calls)
	assert.Equal(t, 1, locker.acquired)
	assert.Equal(t, 1, locker.released)
	assert.Equal(t, 1, lc.refreshes)
}

func TestKeeper_RunOnce_RefreshError(t *testing.T) {
	lc := &mockLifecycle{state: runningState(), round: openRound(2), refreshErr: errors.New("database is locked")}
	k := newTestKeeper(lc, nil, t0.Add(5*time.Minute))

	_, err := k.RunOnce(context.Background())
	assert.ErrorContains(t, err, "database is locked")
	assert.Empty(t, lc.calls)
}

func TestKeeper_RunOnce_StaleLedgerIsSkipped(t *testing.T) {
	lc := &mockLifecycle{state: runningState(), round: openRound(2), err: fmt.Errorf("commit: %w", domain.ErrStaleLedger)}
	k := newTestKeeper(lc, nil, t0.Add(5*time.Minute))

	d, err := k.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, d.Skipped)
	assert.Equal(t, []string{"execute"}, lc.calls)
}

func TestKeeper_RunOnce_Waits(t *testing.T) {
	lc := &mockLifecycle{state: runningState(), round: openRound(2)}
	k := newTestKeeper(lc, nil, t0)

	d, err := k.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionWait, d.Action)
	assert.Empty(t, lc.calls)
}

func TestKeeper_RunOnce_LockHeldSkips(t *testing.T) {
	lc := &mockLifecycle{state: runningState(), round: openRound(2)}
	k := newTestKeeper(lc, &mockLocker{err: domain.ErrLockHeld}, t0.Add(5*time.Minute))

	d, err := k.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, d.Skipped)
	assert.Empty(t, lc.calls)
}

func TestKeeper_RunOnce_LockError(t *testing.T) {
	lc := &mockLifecycle{state: runningState(), round: openRound(2)}
	k := newTestKeeper(lc, &mockLocker{err: errors.New("redis down")}, t0.Add(5*time.Minute))

	_, err := k.RunOnce(context.Background())
	require.Error(t, err)
	assert.Empty(t, lc.calls)
}

func TestKeeper_RunOnce_RaceIsSkipped(t *testing.T) {
	lc := &mockLifecycle{
		state: runningState(),
		round: openRound(2),
		err:   domain.ErrTimingViolation,
	}
	k := newTestKeeper(lc, nil, t0.Add(5*time.Minute))

	d, err := k.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, d.Skipped)
}

func TestKeeper_RunOnce_EngineError(t *testing.T) {
	lc := &mockLifecycle{state: runningState(), round: openRound(2), err: errors.New("commit: disk full")}
	k := newTestKeeper(lc, nil, t0.Add(5*time.Minute))

	_, err := k.RunOnce(context.Background())
	assert.ErrorContains(t, err, "disk full")
}

func TestKeeper_RunOnce_RecoveryDisabled(t *testing.T) {
	lc := &mockLifecycle{state: runningState(), round: openRound(2)}
	k := newTestKeeper(lc, nil, t0.Add(time.Hour))
	k.cfg.AutoRecover = false

	d, err := k.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionWait, d.Action)
	assert.Empty(t, lc.calls)

	k.cfg.AutoRecover = true
	d, err = k.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionRecover, d.Action)
	assert.Equal(t, []string{"recover"}, lc.calls)
}

func TestKeeper_RunOnce_GenesisDisabled(t *testing.T) {
	lc := &mockLifecycle{}
	k := newTestKeeper(lc, nil, t0)
	k.cfg.AutoGenesis = false

	d, err := k.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionWait, d.Action)
	assert.Empty(t, lc.calls)
}

// --- Run ---

func TestKeeper_Run_DryRun(t *testing.T) {
	lc := &mockLifecycle{}
	k := newTestKeeper(lc, nil, t0)
	k.cfg.DryRun = true

	require.NoError(t, k.Run(context.Background()))
	assert.Equal(t, []string{"start"}, lc.calls)
}

func TestKeeper_Run_StopsOnCancel(t *testing.T) {
	lc := &mockLifecycle{state: runningState(), round: openRound(2)}
	k := newTestKeeper(lc, nil, t0)
	k.cfg.PollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, k.Run(ctx))
	assert.Empty(t, lc.calls)
}
