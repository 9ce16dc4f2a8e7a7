package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/alejandrodnm/polypredict/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	defaultRatePerSec = 5
	maxRetries        = 3
	baseRetryWait     = 500 * time.Millisecond
)

// HTTPFeedConfig describes a JSON price endpoint.
type HTTPFeedConfig struct {
	URL      string
	Decimals int32 // precio guardado como entero con estos decimales
	Timeout  time.Duration
}

// quote is the body the feed serves. round_id is optional; without it the
// publication time is used as round id.
type quote struct {
	RoundID   uint64          `json:"round_id"`
	Price     decimal.Decimal `json:"price"`
	UpdatedAt int64           `json:"updated_at"` // unix seconds
}

// HTTPFeed implements ports.PriceOracle against a JSON endpoint, with rate
// limiting and retries.
type HTTPFeed struct {
	http      *http.Client
	cfg       HTTPFeedConfig
	limiter   *rate.Limiter
	retryWait time.Duration
}

// NewHTTPFeed crea el cliente del feed.
func NewHTTPFeed(cfg HTTPFeedConfig) *HTTPFeed {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTPFeed{
		http:      &http.Client{Timeout: cfg.Timeout},
		cfg:       cfg,
		limiter:   rate.NewLimiter(defaultRatePerSec, 2),
		retryWait: baseRetryWait,
	}
}

// LatestPrice fetches and scales the current quote.
func (f *HTTPFeed) LatestPrice(ctx context.Context) (domain.PriceSample, error) {
	var q quote
	if err := f.get(ctx, &q); err != nil {
		return domain.PriceSample{}, fmt.Errorf("oracle.HTTPFeed: %w", err)
	}
	if q.UpdatedAt <= 0 {
		return domain.PriceSample{}, fmt.Errorf("oracle.HTTPFeed: quote without updated_at")
	}

	scaled := q.Price.Shift(f.cfg.Decimals).Truncate(0)
	if scaled.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || scaled.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return domain.PriceSample{}, fmt.Errorf("oracle.HTTPFeed: price %s overflows", q.Price)
	}

	roundID := q.RoundID
	if roundID == 0 {
		roundID = uint64(q.UpdatedAt)
	}
	return domain.PriceSample{
		RoundID:   roundID,
		Price:     scaled.IntPart(),
		UpdatedAt: time.Unix(q.UpdatedAt, 0).UTC(),
		Source:    f.cfg.URL,
	}, nil
}

// get hace un GET con rate limiting y retries.
func (f *HTTPFeed) get(ctx context.Context, out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.URL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := f.http.Do(req)
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			f.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			slog.Warn("price feed unavailable, retrying", "status", resp.StatusCode, "attempt", attempt+1)
			f.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (f *HTTPFeed) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * f.retryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
