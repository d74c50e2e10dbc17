package analytics

import (
	"context"

	"github.com/routehub/routehub/internal/events"
)

// RunConsumer subscribes the collector to the event bus and records route
// events until the context ends. Intended to run in its own goroutine.
func RunConsumer(ctx context.Context, bus *events.Bus, c *Collector) {
	sub := bus.Subscribe(256)
	defer bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			_ = c.Flush(context.Background())
			return
		case e := <-sub.C:
			ev, ok := eventFromBus(e)
			if !ok {
				continue
			}
			c.Record(ctx, ev)
		}
	}
}

// eventFromBus maps a bus event onto the analytics schema. Only route events
// land in the event table; operational events are for metrics and dashboards.
func eventFromBus(e events.Event) (Event, bool) {
	switch e.Type {
	case events.EventRouteSuccess, events.EventRouteError, events.EventRouteFallback:
	default:
		return Event{}, false
	}
	return Event{
		Timestamp:        e.Timestamp,
		RequestID:        e.RequestID,
		ModelID:          e.ModelID,
		ModelName:        e.ModelName,
		Profile:          e.Profile,
		Success:          e.Type != events.EventRouteError,
		Fallback:         e.Fallback || e.Type == events.EventRouteFallback,
		LatencyMS:        int64(e.LatencyMS),
		PromptTokens:     e.PromptTokens,
		CompletionTokens: e.CompletionTokens,
		EstimatedCost:    e.EstimatedCost,
		ErrorClass:       e.ErrorClass,
		ClientID:         e.ClientID,
	}, true
}
