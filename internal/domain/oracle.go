package domain

import "time"

// PriceSample es una lectura del oráculo externo.
type PriceSample struct {
	RoundID   uint64 // 0 si la fuente no numera sus actualizaciones
	Price     int64
	UpdatedAt time.Time
	Source    string
}

// FreshAt indica si la muestra está dentro de allowance del instante programado.
func (s PriceSample) FreshAt(scheduled time.Time, allowance time.Duration) bool {
	if s.UpdatedAt.IsZero() {
		return false
	}
	d := s.UpdatedAt.Sub(scheduled)
	if d < 0 {
		d = -d
	}
	return d <= allowance
}

// Advances indica si la muestra es posterior a la última ronda del oráculo usada.
// Las fuentes sin numeración (RoundID == 0) no se comprueban.
func (s PriceSample) Advances(lastRoundID uint64) bool {
	return s.RoundID == 0 || s.RoundID > lastRoundID
}
