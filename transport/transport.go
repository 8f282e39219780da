// Package transport defines the message transports the control bus can run
// on. Each transport lives in its own sub-package and registers a Builder
// under its name.
package transport

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a builder.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	// Connection is shared by both sides and closed after them. Optional.
	Connection io.Closer
}

// Close closes both sides, then the shared connection. A pub/sub
// implementing both interfaces with one value is closed once.
func (t Transport) Close() error {
	var errs []error
	if t.Publisher != nil {
		errs = append(errs, t.Publisher.Close())
	}
	if t.Subscriber != nil && !sameValue(t.Publisher, t.Subscriber) {
		errs = append(errs, t.Subscriber.Close())
	}
	if t.Connection != nil {
		errs = append(errs, t.Connection.Close())
	}
	return errors.Join(errs...)
}

func sameValue(pub message.Publisher, sub message.Subscriber) bool {
	if pub == nil || sub == nil {
		return false
	}
	other, ok := sub.(message.Publisher)
	return ok && other == pub
}

// Pair builds the publisher, then the subscriber. The publisher is closed
// again when the subscriber cannot be built.
func Pair(newPublisher func() (message.Publisher, error), newSubscriber func() (message.Subscriber, error)) (Transport, error) {
	publisher, err := newPublisher()
	if err != nil {
		return Transport{}, err
	}
	subscriber, err := newSubscriber()
	if err != nil {
		_ = publisher.Close()
		return Transport{}, err
	}
	return Transport{Publisher: publisher, Subscriber: subscriber}, nil
}

// ClientID names one connection of one service instance, as
// "<service>-<short uuid>". Characters brokers reject in client names are
// replaced with '-'.
func ClientID(cfg Config) string {
	service := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		default:
			return '-'
		}
	}, cfg.GetServiceName())
	if service == "" {
		service = "semo"
	}
	return service + "-" + watermill.NewShortUUID()
}

// Builder creates a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the values transports need without depending on the full
// config package.
type Config interface {
	// GetControlBusSystem returns the transport name.
	GetControlBusSystem() string
	// GetServiceName names the connections a transport opens.
	GetServiceName() string

	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	GetRabbitMQURL() string

	GetNATSURL() string
}

// CapabilitiesProvider is implemented by transports that can report their
// capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
