package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Tipos de evento. Un indexador puede reconstruir el estado completo a partir
// de esta secuencia sin consultar cada ronda.
const (
	EventRoundStarted     = "round_started"
	EventRoundLocked      = "round_locked"
	EventRoundEnded       = "round_ended"
	EventRoundResolved    = "round_resolved"
	EventRoundRefundable  = "round_refundable"
	EventBetPlaced        = "bet_placed"
	EventRewardClaimed    = "reward_claimed"
	EventTransferReverted = "transfer_reverted"
	EventTreasuryClaimed  = "treasury_claimed"
	EventParamsUpdated    = "params_updated"
	EventBettingPaused    = "betting_paused"
	EventBettingUnpaused  = "betting_unpaused"
	EventOperatorChanged  = "operator_changed"
	EventLockPriceChanged = "lock_price_changed"
	EventGenesisReset     = "genesis_reset"
)

// Event es un cambio de estado ya validado. Ledger.Apply es su único consumidor.
type Event interface {
	Kind() string
	Metadata() Meta
}

// Meta es la cabecera común de todos los eventos.
type Meta struct {
	ID    string    `json:"id"`
	Epoch uint64    `json:"epoch"`
	At    time.Time `json:"at"`
}

// NewMeta crea la cabecera de un evento de la época dada.
func NewMeta(epoch uint64, at time.Time) Meta {
	return Meta{ID: uuid.New().String(), Epoch: epoch, At: at.UTC()}
}

func (m Meta) Metadata() Meta { return m }

type RoundStarted struct {
	Meta
	StartTime time.Time `json:"start_time"`
	LockTime  time.Time `json:"lock_time"`
	CloseTime time.Time `json:"close_time"`
	Genesis   bool      `json:"genesis"`
}

type RoundLockedEvent struct {
	Meta
	Price         *int64        `json:"price"`
	OracleRoundID uint64        `json:"oracle_round_id"`
	Fresh         bool          `json:"fresh"`
	LockedAt      time.Time     `json:"locked_at"`
	Interval      time.Duration `json:"interval"`
}

type RoundEnded struct {
	Meta
	Price         *int64    `json:"price"`
	OracleRoundID uint64    `json:"oracle_round_id"`
	Fresh         bool      `json:"fresh"`
	ClosedAt      time.Time `json:"closed_at"`
}

// RoundSettled cierra el ciclo de vida de una ronda. Su Kind depende del veredicto.
type RoundSettled struct {
	Meta
	Settlement      Settlement   `json:"settlement"`
	TotalAmount     *uint256.Int `json:"total_amount"`
	TreasuryBalance *uint256.Int `json:"treasury_balance"` // saldo resultante
}

type BetPlaced struct {
	Meta
	User     string       `json:"user"`
	Position Position     `json:"position"`
	Amount   *uint256.Int `json:"amount"`
	PlacedAt time.Time    `json:"placed_at"`

	// Pools resultantes de la ronda tras la apuesta.
	TotalAmount *uint256.Int `json:"total_amount"`
	BullAmount  *uint256.Int `json:"bull_amount"`
	BearAmount  *uint256.Int `json:"bear_amount"`
}

type RewardClaimed struct {
	Meta
	User   string       `json:"user"`
	Amount *uint256.Int `json:"amount"`
	Refund bool         `json:"refund"`
}

// TransferReverted deshace las marcas de cobro cuando la transferencia falla.
type TransferReverted struct {
	Meta
	User     string       `json:"user"`
	Amount   *uint256.Int `json:"amount"`
	Epochs   []uint64     `json:"epochs,omitempty"`
	Treasury bool         `json:"treasury"`
}

type TreasuryClaimed struct {
	Meta
	To              string       `json:"to"`
	Amount          *uint256.Int `json:"amount"`
	TreasuryBalance *uint256.Int `json:"treasury_balance"`
}

type ParamsUpdated struct {
	Meta
	Params Params `json:"params"`
}

type BettingPaused struct{ Meta }

type BettingUnpaused struct{ Meta }

type OperatorChanged struct {
	Meta
	Operator string `json:"operator"`
}

type LockPriceChanged struct {
	Meta
	Price int64 `json:"price"`
}

// GenesisReset rearranca el ciclo tras una ventana de ejecución perdida.
type GenesisReset struct{ Meta }

func (RoundStarted) Kind() string     { return EventRoundStarted }
func (RoundLockedEvent) Kind() string { return EventRoundLocked }
func (RoundEnded) Kind() string       { return EventRoundEnded }
func (BetPlaced) Kind() string        { return EventBetPlaced }
func (RewardClaimed) Kind() string    { return EventRewardClaimed }
func (TransferReverted) Kind() string { return EventTransferReverted }
func (TreasuryClaimed) Kind() string  { return EventTreasuryClaimed }
func (ParamsUpdated) Kind() string    { return EventParamsUpdated }
func (BettingPaused) Kind() string    { return EventBettingPaused }
func (BettingUnpaused) Kind() string  { return EventBettingUnpaused }
func (OperatorChanged) Kind() string  { return EventOperatorChanged }
func (LockPriceChanged) Kind() string { return EventLockPriceChanged }
func (GenesisReset) Kind() string     { return EventGenesisReset }

func (e RoundSettled) Kind() string {
	if e.Settlement.Status == RoundResolved {
		return EventRoundResolved
	}
	return EventRoundRefundable
}

// envelope es la forma serializada de un evento para storage y buses.
type envelope struct {
	ID    string    `json:"id"`
	Kind  string    `json:"kind"`
	Epoch uint64    `json:"epoch"`
	At    time.Time `json:"at"`
	Data  Event     `json:"data"`
}

// MarshalEvent serializa ev con su cabecera en JSON.
func MarshalEvent(ev Event) ([]byte, error) {
	m := ev.Metadata()
	return json.Marshal(envelope{ID: m.ID, Kind: ev.Kind(), Epoch: m.Epoch, At: m.At, Data: ev})
}
