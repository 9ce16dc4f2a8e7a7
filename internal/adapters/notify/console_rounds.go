package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/alejandrodnm/polypredict/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// PrintStatus imprime el estado global y una tabla con las rondas dadas.
func (c *Console) PrintStatus(st domain.State, rounds []domain.Round, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	phase := "running"
	switch {
	case !st.GenesisStarted:
		phase = "waiting genesis"
	case !st.GenesisLocked:
		phase = "genesis started"
	}
	paused := ""
	if st.Paused {
		paused = " | PAUSED"
	}

	fmt.Fprintf(c.out, "\n=== PREDICTION ENGINE: epoch %d (%s)%s ===\n", st.CurrentEpoch, phase, paused)
	fmt.Fprintf(c.out, "  interval:%s buffer:%s fee:%dbps min bet:%s\n",
		st.Params.Interval, st.Params.Buffer, st.Params.TreasuryFeeBps, c.amount(st.Params.MinBetAmount))
	fmt.Fprintf(c.out, "  treasury:%s  admin:%s  operator:%s\n\n", c.amount(st.TreasuryBalance), st.Admin, st.Operator)

	if len(rounds) == 0 {
		fmt.Fprintln(c.out, "  no rounds yet")
		return
	}
	c.printRounds(rounds, now)
}

func (c *Console) printRounds(rounds []domain.Round, now time.Time) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Epoch", "Status", "Lock", "Close", "Lock px", "Close px", "Pool", "Bull", "Bear", "Result")

	for _, r := range rounds {
		table.Append(
			fmt.Sprintf("%d", r.Epoch),
			r.Status.String(),
			since(r.LockTime, now),
			since(r.CloseTime, now),
			c.price(r.LockPrice),
			c.price(r.ClosePrice),
			c.amount(r.TotalAmount),
			c.amount(r.BullAmount),
			c.amount(r.BearAmount),
			result(r),
		)
	}

	table.Render()
	fmt.Fprintln(c.out, "  Result: BULL/BEAR = lado ganador | refund(<motivo>) = cada apuesta recupera su stake")
}

func result(r domain.Round) string {
	switch r.Status {
	case domain.RoundResolved:
		if w, ok := r.Winner(); ok {
			return strings.ToUpper(w.String())
		}
	case domain.RoundRefundable:
		return fmt.Sprintf("refund(%s)", r.RefundReason)
	}
	return "-"
}
