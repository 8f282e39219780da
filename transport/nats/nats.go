// Package nats provides the NATS Core control bus transport.
//
// JetStream stays disabled: a control command is only meant for the
// instances connected when it is sent. Subscribers join no queue group, so
// every instance receives every command.
package nats

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/asafsemo/semo/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// ReconnectWait is the pause between reconnect attempts. Attempts are
// unlimited.
const ReconnectWait = time.Second

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

// Register adds the transport to the default registry.
func Register() {
	transport.Register(TransportName, Build, transport.NATSCapabilities)
}

// Build creates a new NATS transport.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return transport.Transport{}, errors.New("semo: nats transport requires a url")
	}
	options := connectOptions(transport.ClientID(cfg))
	marshaler := &nats.NATSMarshaler{}
	jetStream := nats.JetStreamConfig{Disabled: true}

	return transport.Pair(
		func() (message.Publisher, error) {
			return PublisherFactory(nats.PublisherConfig{
				URL:         url,
				NatsOptions: options,
				Marshaler:   marshaler,
				JetStream:   jetStream,
			}, logger)
		},
		func() (message.Subscriber, error) {
			return SubscriberFactory(nats.SubscriberConfig{
				URL:              url,
				NatsOptions:      options,
				Unmarshaler:      marshaler,
				SubscribersCount: 1,
				JetStream:        jetStream,
			}, logger)
		},
	)
}

func connectOptions(clientID string) []natsgo.Option {
	return []natsgo.Option{
		natsgo.Name(clientID),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(ReconnectWait),
	}
}

func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
