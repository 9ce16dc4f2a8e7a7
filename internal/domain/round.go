package domain

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

// RoundStatus es la etapa del ciclo de vida de una ronda.
// Scheduled → Open → Locked → {Resolved | Refundable}.
type RoundStatus int

const (
	RoundScheduled RoundStatus = iota
	RoundOpen
	RoundLocked
	RoundResolved
	RoundRefundable
)

func (s RoundStatus) String() string {
	switch s {
	case RoundOpen:
		return "OPEN"
	case RoundLocked:
		return "LOCKED"
	case RoundResolved:
		return "RESOLVED"
	case RoundRefundable:
		return "REFUNDABLE"
	default:
		return "SCHEDULED"
	}
}

// ParseRoundStatus es el inverso de String.
func ParseRoundStatus(s string) (RoundStatus, error) {
	switch s {
	case "SCHEDULED":
		return RoundScheduled, nil
	case "OPEN":
		return RoundOpen, nil
	case "LOCKED":
		return RoundLocked, nil
	case "RESOLVED":
		return RoundResolved, nil
	case "REFUNDABLE":
		return RoundRefundable, nil
	}
	return RoundScheduled, fmt.Errorf("domain: unknown round status %q", s)
}

func (s RoundStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *RoundStatus) UnmarshalText(b []byte) error {
	v, err := ParseRoundStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Terminal indica si la ronda ya no cambia de estado.
func (s RoundStatus) Terminal() bool {
	return s == RoundResolved || s == RoundRefundable
}

// Round es el registro de una época. Se crea una vez y nunca se borra.
type Round struct {
	Epoch     uint64
	StartTime time.Time
	LockTime  time.Time
	CloseTime time.Time

	LockPrice     *int64 // nil hasta que la ronda se bloquea
	ClosePrice    *int64 // nil hasta que la ronda se cierra
	LockOracleID  uint64
	CloseOracleID uint64

	// Invariante: BullAmount + BearAmount == TotalAmount.
	TotalAmount *uint256.Int
	BullAmount  *uint256.Int
	BearAmount  *uint256.Int

	// Fijados una sola vez al liquidar. RewardAmount <= TotalAmount.
	RewardBaseAmount *uint256.Int
	RewardAmount     *uint256.Int

	OracleCalled bool
	Status       RoundStatus
	RefundReason RefundReason
}

// NewRound crea la ronda epoch abierta a apuestas desde start.
func NewRound(epoch uint64, start time.Time, interval time.Duration) Round {
	return Round{
		Epoch:            epoch,
		StartTime:        start,
		LockTime:         start.Add(interval),
		CloseTime:        start.Add(2 * interval),
		TotalAmount:      Zero(),
		BullAmount:       Zero(),
		BearAmount:       Zero(),
		RewardBaseAmount: Zero(),
		RewardAmount:     Zero(),
		Status:           RoundOpen,
	}
}

// Clone devuelve una copia profunda de la ronda.
func (r Round) Clone() Round {
	c := r
	c.LockPrice = clonePrice(r.LockPrice)
	c.ClosePrice = clonePrice(r.ClosePrice)
	c.TotalAmount = cloneAmount(r.TotalAmount)
	c.BullAmount = cloneAmount(r.BullAmount)
	c.BearAmount = cloneAmount(r.BearAmount)
	c.RewardBaseAmount = cloneAmount(r.RewardBaseAmount)
	c.RewardAmount = cloneAmount(r.RewardAmount)
	return c
}

// PoolBalanced comprueba el invariante bull + bear == total.
func (r Round) PoolBalanced() bool {
	sum := new(uint256.Int).Add(cloneAmount(r.BullAmount), cloneAmount(r.BearAmount))
	return sum.Eq(cloneAmount(r.TotalAmount))
}

// PositionAmount devuelve el pool del lado p.
func (r Round) PositionAmount(p Position) *uint256.Int {
	if p == PositionBull {
		return cloneAmount(r.BullAmount)
	}
	return cloneAmount(r.BearAmount)
}

// Winner devuelve el lado ganador de una ronda Resolved.
func (r Round) Winner() (Position, bool) {
	if r.Status != RoundResolved || r.LockPrice == nil || r.ClosePrice == nil {
		return 0, false
	}
	switch {
	case *r.ClosePrice > *r.LockPrice:
		return PositionBull, true
	case *r.ClosePrice < *r.LockPrice:
		return PositionBear, true
	}
	return 0, false
}

// Bettable indica si la ronda acepta apuestas en el instante now.
func (r Round) Bettable(now time.Time) bool {
	return r.Status == RoundOpen && !now.Before(r.StartTime) && now.Before(r.LockTime)
}

// WithLock devuelve la ronda bloqueada con el precio dado. El cierre se
// reprograma a lockedAt + interval.
func (r Round) WithLock(price *int64, oracleID uint64, fresh bool, lockedAt time.Time, interval time.Duration) Round {
	c := r.Clone()
	c.LockPrice = clonePrice(price)
	c.LockOracleID = oracleID
	c.OracleCalled = fresh
	c.LockTime = lockedAt
	c.CloseTime = lockedAt.Add(interval)
	c.Status = RoundLocked
	return c
}

// WithClose devuelve la ronda con el precio de cierre fijado. Sigue Locked
// hasta que se aplique la liquidación.
func (r Round) WithClose(price *int64, oracleID uint64, fresh bool, closedAt time.Time) Round {
	c := r.Clone()
	c.ClosePrice = clonePrice(price)
	c.CloseOracleID = oracleID
	c.OracleCalled = r.OracleCalled && fresh
	c.CloseTime = closedAt
	return c
}

func clonePrice(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// PriceOf es un helper para construir precios opcionales.
func PriceOf(v int64) *int64 {
	return &v
}
