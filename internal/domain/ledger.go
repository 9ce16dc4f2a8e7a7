package domain

import (
	"fmt"

	"github.com/holiman/uint256"
)

// State es el estado global del motor de predicción.
type State struct {
	CurrentEpoch      uint64 // época de la ronda Open
	GenesisStarted    bool
	GenesisLocked     bool
	Paused            bool // solo bloquea apuestas nuevas
	TreasuryBalance   *uint256.Int
	LastOracleRoundID uint64
	Admin             string
	Operator          string
	Params            Params
}

// Clone devuelve una copia profunda del estado.
func (s State) Clone() State {
	c := s
	c.TreasuryBalance = cloneAmount(s.TreasuryBalance)
	c.Params = s.Params.Clone()
	return c
}

// Snapshot es el contenido completo del ledger, tal como se persiste.
type Snapshot struct {
	Version uint64 // número de commits aplicados
	State   State
	Rounds  []Round // ordenadas por época
	Bets    []Bet   // en orden de colocación
}

// Credit es un abono que se persiste en la misma transacción que el cobro que
// lo origina.
type Credit struct {
	ID     string
	To     string
	Amount *uint256.Int
}

// Changeset es lo que una operación modificó: se persiste en una sola transacción.
// El store lo rechaza con ErrStaleLedger si su versión ya no es BaseVersion.
type Changeset struct {
	BaseVersion uint64
	State       State
	Rounds      []Round
	Bets        []Bet
	Events      []Event
	Credits     []Credit
}

type betKey struct {
	epoch uint64
	user  string
}

// Ledger es el agregado que contiene el libro de rondas (append-only, indexado
// por época) y el libro de apuestas (época → usuario → apuesta). Solo Apply lo muta.
type Ledger struct {
	state      State
	rounds     []Round // rounds[i].Epoch == i+1
	bets       map[uint64]map[string]*Bet
	betOrder   []betKey
	userEpochs map[string][]uint64
	journal    *Journal
	version    uint64
}

// NewLedger crea un ledger vacío con el estado inicial dado.
func NewLedger(state State) *Ledger {
	st := state.Clone()
	if st.TreasuryBalance == nil {
		st.TreasuryBalance = Zero()
	}
	return &Ledger{
		state:      st,
		bets:       make(map[uint64]map[string]*Bet),
		userEpochs: make(map[string][]uint64),
	}
}

// NewLedgerFromSnapshot reconstruye el ledger a partir de lo persistido.
func NewLedgerFromSnapshot(s Snapshot) (*Ledger, error) {
	l := NewLedger(s.State)
	l.version = s.Version
	for i, r := range s.Rounds {
		if r.Epoch != uint64(i+1) {
			return nil, fmt.Errorf("domain.NewLedgerFromSnapshot: round %d at position %d", r.Epoch, i)
		}
		l.rounds = append(l.rounds, r.Clone())
	}
	for _, b := range s.Bets {
		if b.Epoch == 0 || b.Epoch > uint64(len(l.rounds)) {
			return nil, fmt.Errorf("domain.NewLedgerFromSnapshot: bet for unknown epoch %d", b.Epoch)
		}
		if _, dup := l.bets[b.Epoch][b.User]; dup {
			return nil, fmt.Errorf("domain.NewLedgerFromSnapshot: epoch %d user %s: %w", b.Epoch, b.User, ErrDuplicateBet)
		}
		l.addBet(b.Clone())
	}
	if s.State.CurrentEpoch > uint64(len(l.rounds)) {
		return nil, fmt.Errorf("domain.NewLedgerFromSnapshot: current epoch %d beyond %d rounds", s.State.CurrentEpoch, len(l.rounds))
	}
	return l, nil
}

// --- lecturas (siempre devuelven copias) ---

func (l *Ledger) State() State {
	return l.state.Clone()
}

// Version es el número de commits que contiene el ledger.
func (l *Ledger) Version() uint64 {
	return l.version
}

func (l *Ledger) Round(epoch uint64) (Round, bool) {
	if epoch == 0 || epoch > uint64(len(l.rounds)) {
		return Round{}, false
	}
	return l.rounds[epoch-1].Clone(), true
}

func (l *Ledger) RoundCount() int {
	return len(l.rounds)
}

// RecentRounds devuelve hasta n rondas, la más reciente primero.
func (l *Ledger) RecentRounds(n int) []Round {
	out := make([]Round, 0, min(n, len(l.rounds)))
	for i := len(l.rounds) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.rounds[i].Clone())
	}
	return out
}

func (l *Ledger) Bet(epoch uint64, user string) (Bet, bool) {
	b, ok := l.bets[epoch][user]
	if !ok {
		return Bet{}, false
	}
	return b.Clone(), true
}

// UserEpochs devuelve las épocas en las que user apostó, en orden.
func (l *Ledger) UserEpochs(user string) []uint64 {
	return append([]uint64(nil), l.userEpochs[user]...)
}

// Snapshot devuelve una copia completa del ledger.
func (l *Ledger) Snapshot() Snapshot {
	s := Snapshot{Version: l.version, State: l.state.Clone()}
	for _, r := range l.rounds {
		s.Rounds = append(s.Rounds, r.Clone())
	}
	for _, k := range l.betOrder {
		s.Bets = append(s.Bets, l.bets[k.epoch][k.user].Clone())
	}
	return s
}

// CheckInvariants verifica los invariantes contables de todas las rondas.
func (l *Ledger) CheckInvariants() error {
	for _, r := range l.rounds {
		if !r.PoolBalanced() {
			return fmt.Errorf("epoch %d: bull %s + bear %s != total %s", r.Epoch,
				AmountString(r.BullAmount), AmountString(r.BearAmount), AmountString(r.TotalAmount))
		}
		if cloneAmount(r.RewardAmount).Gt(cloneAmount(r.TotalAmount)) {
			return fmt.Errorf("epoch %d: reward %s exceeds total %s", r.Epoch,
				AmountString(r.RewardAmount), AmountString(r.TotalAmount))
		}
	}
	return nil
}

// --- mutación ---

// Apply aplica un evento al ledger. Si hay un journal abierto, registra cómo
// deshacer el cambio.
func (l *Ledger) Apply(ev Event) error {
	switch e := ev.(type) {
	case RoundStarted:
		next := uint64(len(l.rounds)) + 1
		if e.Epoch != next {
			return fmt.Errorf("%w: round %d started out of sequence, next is %d", ErrInvalidRoundState, e.Epoch, next)
		}
		r := Round{
			Epoch:            e.Epoch,
			StartTime:        e.StartTime,
			LockTime:         e.LockTime,
			CloseTime:        e.CloseTime,
			TotalAmount:      Zero(),
			BullAmount:       Zero(),
			BearAmount:       Zero(),
			RewardBaseAmount: Zero(),
			RewardAmount:     Zero(),
			Status:           RoundOpen,
		}
		l.appendRound(r)
		l.touchState()
		l.state.CurrentEpoch = e.Epoch
		l.state.GenesisStarted = true

	case RoundLockedEvent:
		r, err := l.roundForUpdate(e.Epoch, RoundOpen)
		if err != nil {
			return err
		}
		*r = r.WithLock(e.Price, e.OracleRoundID, e.Fresh, e.LockedAt, e.Interval)
		l.touchState()
		l.state.GenesisLocked = true
		l.noteOracleRound(e.OracleRoundID)

	case RoundEnded:
		r, err := l.roundForUpdate(e.Epoch, RoundLocked)
		if err != nil {
			return err
		}
		*r = r.WithClose(e.Price, e.OracleRoundID, e.Fresh, e.ClosedAt)
		l.touchState()
		l.noteOracleRound(e.OracleRoundID)

	case RoundSettled:
		if !e.Settlement.Status.Terminal() {
			return fmt.Errorf("%w: settlement status %s", ErrInvalidRoundState, e.Settlement.Status)
		}
		r, err := l.roundForUpdate(e.Epoch, RoundOpen, RoundLocked)
		if err != nil {
			return err
		}
		r.Status = e.Settlement.Status
		r.RewardBaseAmount = cloneAmount(e.Settlement.RewardBaseAmount)
		r.RewardAmount = cloneAmount(e.Settlement.RewardAmount)
		r.RefundReason = e.Settlement.Reason
		if fee := cloneAmount(e.Settlement.TreasuryFee); !fee.IsZero() {
			l.touchState()
			l.state.TreasuryBalance = new(uint256.Int).Add(l.state.TreasuryBalance, fee)
		}

	case BetPlaced:
		if !e.Position.Valid() {
			return fmt.Errorf("%w: %d", ErrInvalidPosition, e.Position)
		}
		if e.Amount == nil || e.Amount.IsZero() {
			return fmt.Errorf("%w: zero stake", ErrBelowMinimumStake)
		}
		if _, dup := l.bets[e.Epoch][e.User]; dup {
			return fmt.Errorf("%w: epoch %d user %s", ErrDuplicateBet, e.Epoch, e.User)
		}
		r, err := l.roundForUpdate(e.Epoch, RoundOpen)
		if err != nil {
			return err
		}
		r.TotalAmount = new(uint256.Int).Add(r.TotalAmount, e.Amount)
		if e.Position == PositionBull {
			r.BullAmount = new(uint256.Int).Add(r.BullAmount, e.Amount)
		} else {
			r.BearAmount = new(uint256.Int).Add(r.BearAmount, e.Amount)
		}
		l.addBet(Bet{
			Epoch:    e.Epoch,
			User:     e.User,
			Position: e.Position,
			Amount:   e.Amount.Clone(),
			PlacedAt: e.PlacedAt,
		})

	case RewardClaimed:
		b := l.betForUpdate(e.Epoch, e.User)
		if b == nil {
			return fmt.Errorf("%w: no bet for epoch %d", ErrNothingToClaim, e.Epoch)
		}
		if b.Claimed {
			return fmt.Errorf("%w: epoch %d already claimed", ErrNothingToClaim, e.Epoch)
		}
		b.Claimed = true

	case TransferReverted:
		if e.Treasury {
			l.touchState()
			l.state.TreasuryBalance = new(uint256.Int).Add(l.state.TreasuryBalance, cloneAmount(e.Amount))
			break
		}
		for _, epoch := range e.Epochs {
			if b := l.betForUpdate(epoch, e.User); b != nil {
				b.Claimed = false
			}
		}

	case TreasuryClaimed:
		amount := cloneAmount(e.Amount)
		if amount.Gt(l.state.TreasuryBalance) {
			return fmt.Errorf("%w: treasury holds %s", ErrNothingToClaim, AmountString(l.state.TreasuryBalance))
		}
		l.touchState()
		l.state.TreasuryBalance = new(uint256.Int).Sub(l.state.TreasuryBalance, amount)

	case ParamsUpdated:
		if err := e.Params.Validate(); err != nil {
			return err
		}
		l.touchState()
		l.state.Params = e.Params.Clone()

	case BettingPaused:
		l.touchState()
		l.state.Paused = true

	case BettingUnpaused:
		l.touchState()
		l.state.Paused = false

	case OperatorChanged:
		l.touchState()
		l.state.Operator = e.Operator

	case LockPriceChanged:
		r, err := l.roundForUpdate(e.Epoch, RoundLocked)
		if err != nil {
			return err
		}
		r.LockPrice = PriceOf(e.Price)

	case GenesisReset:
		l.touchState()
		l.state.GenesisStarted = false
		l.state.GenesisLocked = false

	default:
		return fmt.Errorf("domain: unknown event %T", ev)
	}
	return nil
}

func (l *Ledger) roundForUpdate(epoch uint64, allowed ...RoundStatus) (*Round, error) {
	if epoch == 0 || epoch > uint64(len(l.rounds)) {
		return nil, fmt.Errorf("%w: epoch %d", ErrRoundNotFound, epoch)
	}
	r := &l.rounds[epoch-1]
	ok := false
	for _, s := range allowed {
		if r.Status == s {
			ok = true
			break
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: epoch %d is %s", ErrInvalidRoundState, epoch, r.Status)
	}
	l.touchRound(epoch)
	return r, nil
}

func (l *Ledger) betForUpdate(epoch uint64, user string) *Bet {
	b, ok := l.bets[epoch][user]
	if !ok {
		return nil
	}
	l.touchBet(b)
	return b
}

func (l *Ledger) appendRound(r Round) {
	if j := l.journal; j != nil {
		n := len(l.rounds)
		j.undo = append(j.undo, func() { l.rounds = l.rounds[:n] })
		j.markRound(r.Epoch)
	}
	l.rounds = append(l.rounds, r)
}

func (l *Ledger) addBet(b Bet) {
	if j := l.journal; j != nil {
		key := betKey{b.Epoch, b.User}
		nOrder := len(l.betOrder)
		nUser := len(l.userEpochs[b.User])
		j.undo = append(j.undo, func() {
			delete(l.bets[key.epoch], key.user)
			if len(l.bets[key.epoch]) == 0 {
				delete(l.bets, key.epoch)
			}
			l.betOrder = l.betOrder[:nOrder]
			if nUser == 0 {
				delete(l.userEpochs, key.user)
			} else {
				l.userEpochs[key.user] = l.userEpochs[key.user][:nUser]
			}
		})
		j.markBet(key)
	}
	if l.bets[b.Epoch] == nil {
		l.bets[b.Epoch] = make(map[string]*Bet)
	}
	bet := b
	l.bets[b.Epoch][b.User] = &bet
	l.betOrder = append(l.betOrder, betKey{b.Epoch, b.User})
	l.userEpochs[b.User] = append(l.userEpochs[b.User], b.Epoch)
}

func (l *Ledger) noteOracleRound(id uint64) {
	if id > l.state.LastOracleRoundID {
		l.state.LastOracleRoundID = id
	}
}

func (l *Ledger) touchState() {
	j := l.journal
	if j == nil || j.state {
		return
	}
	j.state = true
	old := l.state.Clone()
	j.undo = append(j.undo, func() { l.state = old })
}

func (l *Ledger) touchRound(epoch uint64) {
	j := l.journal
	if j == nil || j.rounds[epoch] {
		return
	}
	idx := epoch - 1
	old := l.rounds[idx].Clone()
	j.undo = append(j.undo, func() { l.rounds[idx] = old })
	j.markRound(epoch)
}

func (l *Ledger) touchBet(b *Bet) {
	j := l.journal
	key := betKey{b.Epoch, b.User}
	if j == nil || j.bets[key] {
		return
	}
	old := b.Clone()
	j.undo = append(j.undo, func() { *b = old })
	j.markBet(key)
}

// Journal registra los cambios de una operación para poder persistirlos juntos
// o deshacerlos si la persistencia falla.
type Journal struct {
	l         *Ledger
	undo      []func()
	state     bool
	rounds    map[uint64]bool
	roundList []uint64
	bets      map[betKey]bool
	betList   []betKey
}

// Begin abre un journal. Solo puede haber uno abierto a la vez.
func (l *Ledger) Begin() *Journal {
	j := &Journal{
		l:      l,
		rounds: make(map[uint64]bool),
		bets:   make(map[betKey]bool),
	}
	l.journal = j
	return j
}

func (j *Journal) markRound(epoch uint64) {
	if !j.rounds[epoch] {
		j.rounds[epoch] = true
		j.roundList = append(j.roundList, epoch)
	}
}

func (j *Journal) markBet(k betKey) {
	if !j.bets[k] {
		j.bets[k] = true
		j.betList = append(j.betList, k)
	}
}

// Changeset devuelve el estado actual de todo lo que tocó el journal.
func (j *Journal) Changeset(events []Event) Changeset {
	l := j.l
	cs := Changeset{BaseVersion: l.version, State: l.state.Clone(), Events: events}
	for _, epoch := range j.roundList {
		if r, ok := l.Round(epoch); ok {
			cs.Rounds = append(cs.Rounds, r)
		}
	}
	for _, k := range j.betList {
		if b, ok := l.Bet(k.epoch, k.user); ok {
			cs.Bets = append(cs.Bets, b)
		}
	}
	return cs
}

// Rollback deshace todos los cambios registrados y cierra el journal.
func (j *Journal) Rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
	j.Close()
}

// Commit cierra el journal una vez persistido su changeset.
func (j *Journal) Commit() {
	if j.l.journal == j {
		j.l.version++
	}
	j.Close()
}

// Close cierra el journal conservando los cambios.
func (j *Journal) Close() {
	if j.l.journal == j {
		j.l.journal = nil
	}
}
