package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"
)

// Position es el lado de una apuesta.
type Position int

const (
	PositionBull Position = iota + 1 // el precio sube
	PositionBear                     // el precio baja
)

func (p Position) String() string {
	switch p {
	case PositionBull:
		return "bull"
	case PositionBear:
		return "bear"
	default:
		return "none"
	}
}

// Valid indica si p es Bull o Bear.
func (p Position) Valid() bool {
	return p == PositionBull || p == PositionBear
}

// ParsePosition acepta "bull"/"bear" sin distinguir mayúsculas.
func ParsePosition(s string) (Position, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bull":
		return PositionBull, nil
	case "bear":
		return PositionBear, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidPosition, s)
}

func (p Position) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Position) UnmarshalText(b []byte) error {
	v, err := ParsePosition(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Bet es la apuesta única de un usuario en una época. Amount no cambia nunca.
type Bet struct {
	Epoch    uint64
	User     string
	Position Position
	Amount   *uint256.Int
	Claimed  bool
	PlacedAt time.Time
}

// Clone devuelve una copia profunda de la apuesta.
func (b Bet) Clone() Bet {
	c := b
	c.Amount = cloneAmount(b.Amount)
	return c
}
