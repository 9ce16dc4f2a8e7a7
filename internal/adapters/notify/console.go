package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/polypredict/internal/domain"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// ConsoleConfig controla cómo se formatean importes y precios.
type ConsoleConfig struct {
	AmountDecimals int32 // decimales de la unidad base (18 para wei)
	PriceDecimals  int32 // decimales del precio del oráculo
	Verbose        bool  // imprime también apuestas y cobros
}

// DefaultConsoleConfig devuelve la configuración para importes en wei y precios Chainlink.
func DefaultConsoleConfig() ConsoleConfig {
	return ConsoleConfig{AmountDecimals: 18, PriceDecimals: 8}
}

// Console implementa ports.EventSink escribiendo una línea por evento.
type Console struct {
	mu  sync.Mutex
	out io.Writer
	cfg ConsoleConfig
}

// NewConsole crea un sink que escribe a stdout.
func NewConsole(cfg ConsoleConfig) *Console {
	return &Console{out: os.Stdout, cfg: cfg}
}

// NewConsoleWriter crea un sink para tests.
func NewConsoleWriter(w io.Writer, cfg ConsoleConfig) *Console {
	return &Console{out: w, cfg: cfg}
}

// Publish imprime los eventos en formato compacto.
func (c *Console) Publish(_ context.Context, events []domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ev := range events {
		line := c.describe(ev)
		if line == "" {
			continue
		}
		fmt.Fprintf(c.out, "[%s] #%d %s\n", ev.Metadata().At.Local().Format("15:04:05"), ev.Metadata().Epoch, line)
	}
	return nil
}

// describe devuelve la línea de un evento, o "" si no se muestra.
func (c *Console) describe(ev domain.Event) string {
	switch e := ev.(type) {
	case domain.RoundStarted:
		label := "OPEN"
		if e.Genesis {
			label = "OPEN (genesis)"
		}
		return fmt.Sprintf("%s lock:%s", label, e.LockTime.Local().Format("15:04:05"))
	case domain.RoundLockedEvent:
		return fmt.Sprintf("LOCKED price:%s%s", c.price(e.Price), staleMark(e.Fresh))
	case domain.RoundEnded:
		return fmt.Sprintf("ENDED price:%s%s", c.price(e.Price), staleMark(e.Fresh))
	case domain.RoundSettled:
		s := e.Settlement
		if s.Status == domain.RoundResolved {
			return fmt.Sprintf("RESOLVED %s wins | pool:%s reward:%s fee:%s",
				strings.ToUpper(s.Winner.String()),
				c.amount(e.TotalAmount), c.amount(s.RewardAmount), c.amount(s.TreasuryFee))
		}
		return fmt.Sprintf("REFUNDABLE (%s) | pool:%s", s.Reason, c.amount(e.TotalAmount))
	case domain.BetPlaced:
		if !c.cfg.Verbose {
			return ""
		}
		return fmt.Sprintf("BET %s %s %s | bull:%s bear:%s",
			e.User, e.Position, c.amount(e.Amount), c.amount(e.BullAmount), c.amount(e.BearAmount))
	case domain.RewardClaimed:
		if !c.cfg.Verbose {
			return ""
		}
		kind := "CLAIM"
		if e.Refund {
			kind = "REFUND"
		}
		return fmt.Sprintf("%s %s %s", kind, e.User, c.amount(e.Amount))
	case domain.TransferReverted:
		return fmt.Sprintf("TRANSFER FAILED %s %s, claim reverted", e.User, c.amount(e.Amount))
	case domain.TreasuryClaimed:
		return fmt.Sprintf("TREASURY → %s %s", e.To, c.amount(e.Amount))
	case domain.ParamsUpdated:
		return fmt.Sprintf("PARAMS interval:%s buffer:%s fee:%dbps min:%s",
			e.Params.Interval, e.Params.Buffer, e.Params.TreasuryFeeBps, c.amount(e.Params.MinBetAmount))
	case domain.BettingPaused:
		return "PAUSED"
	case domain.BettingUnpaused:
		return "UNPAUSED"
	case domain.OperatorChanged:
		return "OPERATOR " + e.Operator
	case domain.LockPriceChanged:
		return "LOCK PRICE OVERRIDE " + c.price(domain.PriceOf(e.Price))
	case domain.GenesisReset:
		return "GENESIS RESET (stalled)"
	}
	return ev.Kind()
}

func (c *Console) amount(a *uint256.Int) string {
	return FormatAmount(a, c.cfg.AmountDecimals)
}

func (c *Console) price(p *int64) string {
	if p == nil {
		return "n/a"
	}
	return decimal.New(*p, -c.cfg.PriceDecimals).String()
}

// FormatAmount muestra un importe en unidades enteras con 4 decimales.
func FormatAmount(a *uint256.Int, decimals int32) string {
	if a == nil {
		return "0.0000"
	}
	return decimal.NewFromBigInt(a.ToBig(), -decimals).StringFixed(4)
}

func staleMark(fresh bool) string {
	if fresh {
		return ""
	}
	return " (stale)"
}

func since(t time.Time, now time.Time) string {
	d := t.Sub(now).Round(time.Second)
	if d >= 0 {
		return "in " + d.String()
	}
	return (-d).String() + " ago"
}
