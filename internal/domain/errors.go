package domain

import "errors"

// Errores visibles por el caller. Ninguno deja estado parcial: la operación que
// los devuelve no ha modificado el ledger.
var (
	ErrInvalidRoundState = errors.New("invalid round state")
	ErrTimingViolation   = errors.New("timing violation")
	ErrDuplicateBet      = errors.New("duplicate bet")
	ErrBelowMinimumStake = errors.New("below minimum stake")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrOracleUnavailable = errors.New("oracle unavailable")
	ErrNothingToClaim    = errors.New("nothing to claim")

	ErrPaused          = errors.New("betting paused")
	ErrRoundNotFound   = errors.New("round not found")
	ErrInvalidParams   = errors.New("invalid params")
	ErrInvalidPosition = errors.New("invalid position")
	ErrLockHeld        = errors.New("lock already held")

	// ErrStaleLedger: otro proceso persistió cambios después de la última carga.
	ErrStaleLedger = errors.New("stale ledger")
)

// Nombres estables de cada tipo de error, usados por la API HTTP y los logs.
const (
	KindInvalidRoundState = "InvalidRoundState"
	KindTimingViolation   = "TimingViolation"
	KindDuplicateBet      = "DuplicateBet"
	KindBelowMinimumStake = "BelowMinimumStake"
	KindUnauthorized      = "Unauthorized"
	KindOracleUnavailable = "OracleUnavailable"
	KindNothingToClaim    = "NothingToClaim"
	KindPaused            = "Paused"
	KindRoundNotFound     = "RoundNotFound"
	KindInvalidParams     = "InvalidParams"
	KindInvalidPosition   = "InvalidPosition"
	KindConflict          = "Conflict"
	KindInternal          = "Internal"
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidRoundState, KindInvalidRoundState},
	{ErrTimingViolation, KindTimingViolation},
	{ErrDuplicateBet, KindDuplicateBet},
	{ErrBelowMinimumStake, KindBelowMinimumStake},
	{ErrUnauthorized, KindUnauthorized},
	{ErrOracleUnavailable, KindOracleUnavailable},
	{ErrNothingToClaim, KindNothingToClaim},
	{ErrPaused, KindPaused},
	{ErrRoundNotFound, KindRoundNotFound},
	{ErrInvalidParams, KindInvalidParams},
	{ErrInvalidPosition, KindInvalidPosition},
	{ErrStaleLedger, KindConflict},
}

// KindOf devuelve el nombre del tipo de error de dominio envuelto en err,
// o KindInternal si no corresponde a ninguno.
func KindOf(err error) string {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
