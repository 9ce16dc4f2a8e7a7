package ports

import (
	"context"

	"github.com/alejandrodnm/polypredict/internal/domain"
)

// EventSink recibe los eventos ya persistidos (consola, bus de redis, ...).
type EventSink interface {
	Publish(ctx context.Context, events []domain.Event) error
}
