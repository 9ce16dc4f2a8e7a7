package keeper

import (
	"time"

	"github.com/alejandrodnm/polypredict/internal/domain"
)

// Action es el paso del ciclo de vida que toca ejecutar.
type Action int

const (
	ActionWait Action = iota
	ActionGenesisStart
	ActionGenesisLock
	ActionExecute
	ActionRecover
)

func (a Action) String() string {
	switch a {
	case ActionGenesisStart:
		return "genesis_start"
	case ActionGenesisLock:
		return "genesis_lock"
	case ActionExecute:
		return "execute"
	case ActionRecover:
		return "recover"
	default:
		return "wait"
	}
}

// Decision es el resultado de Plan.
type Decision struct {
	Action  Action
	Epoch   uint64    // ronda Open sobre la que actúa
	DueAt   time.Time // cuándo toca el siguiente paso si Action es Wait
	Skipped bool      // otro keeper se adelantó
}

// Plan decide el siguiente paso a partir del estado del motor y la ronda Open.
func Plan(st domain.State, cur domain.Round, hasCur bool, now time.Time) Decision {
	if !st.GenesisStarted {
		return Decision{Action: ActionGenesisStart, Epoch: st.CurrentEpoch + 1}
	}
	if !hasCur || cur.Status != domain.RoundOpen {
		return Decision{Action: ActionWait, Epoch: st.CurrentEpoch}
	}
	if now.Before(cur.LockTime) {
		return Decision{Action: ActionWait, Epoch: cur.Epoch, DueAt: cur.LockTime}
	}
	if !st.GenesisLocked {
		return Decision{Action: ActionGenesisLock, Epoch: cur.Epoch}
	}
	if now.After(cur.LockTime.Add(st.Params.Buffer)) {
		return Decision{Action: ActionRecover, Epoch: cur.Epoch}
	}
	return Decision{Action: ActionExecute, Epoch: cur.Epoch}
}
