// Package rabbitmq provides the RabbitMQ/AMQP control bus transport.
//
// Each service instance binds its own non-durable, auto-deleted queue to
// the topic's fanout exchange. Every running instance receives a command;
// none is queued for an instance that is not running.
package rabbitmq

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/asafsemo/semo/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "rabbitmq"

// Heartbeat is the AMQP heartbeat interval requested from the broker.
const Heartbeat = 10 * time.Second

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

// CloseConnection allows overriding how the shared connection is closed for
// testing.
var CloseConnection = func(conn *amqp.ConnectionWrapper) error {
	return conn.Close()
}

type sharedConnection struct{ conn *amqp.ConnectionWrapper }

func (c sharedConnection) Close() error { return CloseConnection(c.conn) }

// Register adds the transport to the default registry.
func Register() {
	transport.Register(TransportName, Build, transport.RabbitMQCapabilities)
}

// Build creates a new RabbitMQ transport. Publisher and subscriber share one
// connection named after the instance's client id.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetRabbitMQURL()
	if url == "" {
		return transport.Transport{}, errors.New("semo: rabbitmq transport requires a url")
	}
	amqpConfig := controlConfig(url, transport.ClientID(cfg))

	conn, err := ConnectionFactory(amqpConfig.Connection, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	tr, err := transport.Pair(
		func() (message.Publisher, error) { return PublisherFactory(amqpConfig, logger, conn) },
		func() (message.Subscriber, error) { return SubscriberFactory(amqpConfig, logger, conn) },
	)
	if err != nil {
		_ = CloseConnection(conn)
		return transport.Transport{}, err
	}
	tr.Connection = sharedConnection{conn: conn}
	return tr, nil
}

func controlConfig(url, clientID string) amqp.Config {
	cfg := amqp.NewNonDurablePubSubConfig(url, amqp.GenerateQueueNameTopicNameWithSuffix(clientID))
	cfg.Queue.AutoDelete = true

	props := amqp091.NewConnectionProperties()
	props.SetClientConnectionName(clientID)
	cfg.Connection.AmqpConfig = &amqp091.Config{
		Heartbeat:  Heartbeat,
		Locale:     "en_US",
		Properties: props,
	}
	cfg.Connection.Reconnect = amqp.DefaultReconnectConfig()
	return cfg
}

func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}
