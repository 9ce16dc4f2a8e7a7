package domain

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Los importes (stakes, pools, tesorería) son enteros sin signo de 256 bits en
// unidades base, igual que el valor nativo del ledger anfitrión (wei).

// ParseAmount convierte un string decimal en unidades base.
func ParseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("domain.ParseAmount: %q: %w", s, err)
	}
	return v, nil
}

// Zero devuelve un importe nuevo a cero.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// cloneAmount copia a, tratando nil como cero.
func cloneAmount(a *uint256.Int) *uint256.Int {
	if a == nil {
		return new(uint256.Int)
	}
	return a.Clone()
}

// AmountString formatea a en decimal; nil se muestra como "0".
func AmountString(a *uint256.Int) string {
	if a == nil {
		return "0"
	}
	return a.Dec()
}
