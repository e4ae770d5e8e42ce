package streaming

import (
	"context"

	"github.com/rendis/drawmaid/pkg/schema"
)

// EventFilter specifies which stage events a subscriber wants to receive.
type EventFilter struct {
	RequestID  string         `json:"request_id,omitempty"`
	EventTypes []string       `json:"event_types,omitempty"`
	Stages     []schema.Stage `json:"stages,omitempty"`
}

// EventHub provides pub/sub for conversion stage events.
type EventHub interface {
	Publish(ctx context.Context, event schema.StageEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan schema.StageEvent, func(), error)
}
