package domain

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

const (
	// BasisPoints es el denominador de las comisiones.
	BasisPoints = 10_000
	// MaxTreasuryFeeBps limita la comisión de tesorería al 10%.
	MaxTreasuryFeeBps = 1_000
)

// Params es la configuración de rondas que el admin puede cambiar.
// Los cambios aplican a las rondas que se abran o liquiden después.
type Params struct {
	Interval              time.Duration
	Buffer                time.Duration // tolerancia para ejecutar un paso tarde
	MinBetAmount          *uint256.Int
	TreasuryFeeBps        uint64
	OracleUpdateAllowance time.Duration // antigüedad máxima aceptada de un precio
}

// DefaultParams devuelve los valores de producción.
func DefaultParams() Params {
	return Params{
		Interval:              300 * time.Second,
		Buffer:                30 * time.Second,
		MinBetAmount:          uint256.NewInt(1_000_000_000_000_000),
		TreasuryFeeBps:        1000,
		OracleUpdateAllowance: 300 * time.Second,
	}
}

// Validate comprueba que los parámetros sean coherentes.
func (p Params) Validate() error {
	if p.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidParams)
	}
	if p.Buffer <= 0 || p.Buffer >= p.Interval {
		return fmt.Errorf("%w: buffer must be in (0, interval)", ErrInvalidParams)
	}
	if p.MinBetAmount == nil {
		return fmt.Errorf("%w: min bet amount is required", ErrInvalidParams)
	}
	if p.TreasuryFeeBps > MaxTreasuryFeeBps {
		return fmt.Errorf("%w: treasury fee %d bps exceeds %d", ErrInvalidParams, p.TreasuryFeeBps, MaxTreasuryFeeBps)
	}
	if p.OracleUpdateAllowance <= 0 {
		return fmt.Errorf("%w: oracle update allowance must be positive", ErrInvalidParams)
	}
	return nil
}

// Clone devuelve una copia profunda.
func (p Params) Clone() Params {
	c := p
	c.MinBetAmount = cloneAmount(p.MinBetAmount)
	return c
}
