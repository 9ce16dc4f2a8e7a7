package ports

import (
	"context"

	"github.com/alejandrodnm/polypredict/internal/domain"
)

// PriceOracle envuelve una única fuente externa de precios. Es falible: el
// motor nunca propaga su error, degrada la ronda a Refundable.
type PriceOracle interface {
	// LatestPrice devuelve el último precio y el instante en que se publicó.
	LatestPrice(ctx context.Context) (domain.PriceSample, error)
}
