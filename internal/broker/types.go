package broker

import (
	"context"

	"crisiswatch/pkg/models"
)

// Producer publishes a JSON payload to a topic. It carries both outbound
// surfaces: alert egress and event re-publication.
type Producer interface {
	Publish(ctx context.Context, topic string, key string, payload interface{}) error
	Close() error
}

// Consumer delivers monitoring events from a topic to a handler. A handler
// error triggers the retry policy; the message is committed either way once
// processing settles.
type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetComponentName(name string)
}

type HandlerFunc func(ctx context.Context, event models.MonitoringEvent) error
