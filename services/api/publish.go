package api

import (
	"context"

	"pipemock/pkg/bus"
)

// Publisher delivers events after a unit of work has committed.
type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// publishEvent is fire and forget: a failed publish is logged and never
// fails the request that caused it.
func (a *API) publishEvent(ctx context.Context, subject string, data any) {
	if a.publisher == nil || subject == "" {
		return
	}
	ev, err := bus.NewEvent(subject, a.now(), data)
	if err != nil {
		a.logger.Warn().Err(err).Str("subject", subject).Msg("encode event")
		return
	}

	ctx, cancel := withTimeout(context.WithoutCancel(ctx))
	defer cancel()
	if err := a.publisher.Publish(ctx, subject, ev); err != nil {
		a.logger.Warn().Err(err).Str("subject", subject).Msg("publish event")
	}
}
