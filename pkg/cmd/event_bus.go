package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/pipevine/pipevine/pkg/channels/gochannel"
	"github.com/pipevine/pipevine/pkg/channels/kafka"
	"github.com/pipevine/pipevine/pkg/eventbus"
)

// NewEventBus builds the event bus for the given provider. "kafka" uses the
// brokers from KAFKA_BROKERS; "gochannel" (the default) is in-process only.
func NewEventBus(provider, serviceName string, logger *slog.Logger) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		publisher, subscriber, err := kafka.CreateChannel(wmLogger, serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka channel: %w", err)
		}

		return eventbus.NewWatermillEventBus(publisher, subscriber), nil
	case "", "gochannel", "memory":
		publisher, subscriber, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create gochannel channel: %w", err)
		}

		return eventbus.NewWatermillEventBus(publisher, subscriber), nil
	default:
		return nil, fmt.Errorf("unknown event bus provider: %q", provider)
	}
}
