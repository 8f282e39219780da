// Package kafka provides the Kafka control bus transport.
//
// Every service instance consumes in its own consumer group, derived from the
// configured group and the instance's client id, so a command published once
// reaches all instances. Consumers start at the newest offset: a restarted
// instance never replays a shutdown command meant for its predecessor.
package kafka

import (
	"context"
	"errors"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/asafsemo/semo/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafka"

// DefaultConsumerGroup prefixes instance groups when the config leaves the
// group empty.
const DefaultConsumerGroup = "semo-control"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

// Register adds the transport to the default registry.
func Register() {
	transport.Register(TransportName, Build, transport.KafkaCapabilities)
}

// Build creates a new Kafka transport.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := cfg.GetKafkaBrokers()
	if len(brokers) == 0 {
		return transport.Transport{}, errors.New("semo: kafka transport requires at least one broker")
	}
	clientID := transport.ClientID(cfg)

	return transport.Pair(
		func() (message.Publisher, error) {
			return PublisherFactory(publisherConfig(brokers, clientID), logger)
		},
		func() (message.Subscriber, error) {
			return SubscriberFactory(subscriberConfig(brokers, cfg.GetKafkaConsumerGroup(), clientID), logger)
		},
	)
}

func publisherConfig(brokers []string, clientID string) kafka.PublisherConfig {
	saramaCfg := kafka.DefaultSaramaSyncPublisherConfig()
	saramaCfg.ClientID = clientID

	return kafka.PublisherConfig{
		Brokers:               brokers,
		Marshaler:             kafka.DefaultMarshaler{},
		OverwriteSaramaConfig: saramaCfg,
	}
}

func subscriberConfig(brokers []string, group, clientID string) kafka.SubscriberConfig {
	if group == "" {
		group = DefaultConsumerGroup
	}
	saramaCfg := kafka.DefaultSaramaSubscriberConfig()
	saramaCfg.ClientID = clientID
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetNewest

	return kafka.SubscriberConfig{
		Brokers:               brokers,
		Unmarshaler:           kafka.DefaultMarshaler{},
		ConsumerGroup:         group + "." + clientID,
		OverwriteSaramaConfig: saramaCfg,
	}
}

func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}
