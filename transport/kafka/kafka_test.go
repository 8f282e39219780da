package kafka

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asafsemo/semo/transport"
)

type mockConfig struct {
	brokers       []string
	consumerGroup string
}

func (m *mockConfig) GetControlBusSystem() string   { return TransportName }
func (m *mockConfig) GetServiceName() string        { return "billing api" }
func (m *mockConfig) GetKafkaBrokers() []string     { return m.brokers }
func (m *mockConfig) GetKafkaConsumerGroup() string { return m.consumerGroup }
func (m *mockConfig) GetRabbitMQURL() string        { return "" }
func (m *mockConfig) GetNATSURL() string            { return "" }

type mockPublisher struct{ closed bool }

func (m *mockPublisher) Publish(string, ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error {
	m.closed = true
	return nil
}

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	return nil, nil
}
func (m *mockSubscriber) Close() error { return nil }

func stubFactories(t *testing.T, pub func(kafka.PublisherConfig) (message.Publisher, error), sub func(kafka.SubscriberConfig) (message.Subscriber, error)) {
	t.Helper()
	originalPub, originalSub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() {
		PublisherFactory = originalPub
		SubscriberFactory = originalSub
	})
	PublisherFactory = func(cfg kafka.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		return pub(cfg)
	}
	SubscriberFactory = func(cfg kafka.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		return sub(cfg)
	}
}

func TestRegister(t *testing.T) {
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "kafka", caps.Name)
	assert.True(t, caps.CrossProcess())
	assert.Equal(t, transport.KafkaCapabilities, Capabilities())
}

func TestBuildGivesEveryInstanceItsOwnGroup(t *testing.T) {
	pub, sub := &mockPublisher{}, &mockSubscriber{}
	var pubCfg kafka.PublisherConfig
	var subCfg kafka.SubscriberConfig
	stubFactories(t,
		func(cfg kafka.PublisherConfig) (message.Publisher, error) {
			pubCfg = cfg
			return pub, nil
		},
		func(cfg kafka.SubscriberConfig) (message.Subscriber, error) {
			subCfg = cfg
			return sub, nil
		},
	)

	tr, err := Build(context.Background(), &mockConfig{brokers: []string{"localhost:9092"}, consumerGroup: "ops"}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Same(t, pub, tr.Publisher)
	assert.Same(t, sub, tr.Subscriber)

	assert.Equal(t, []string{"localhost:9092"}, pubCfg.Brokers)
	clientID := pubCfg.OverwriteSaramaConfig.ClientID
	assert.True(t, strings.HasPrefix(clientID, "billing-api-"), clientID)
	assert.Equal(t, clientID, subCfg.OverwriteSaramaConfig.ClientID)
	assert.Equal(t, "ops."+clientID, subCfg.ConsumerGroup)
	assert.Equal(t, sarama.OffsetNewest, subCfg.OverwriteSaramaConfig.Consumer.Offsets.Initial)
}

func TestSubscriberConfigDefaultsGroup(t *testing.T) {
	cfg := subscriberConfig([]string{"b:9092"}, "", "svc-1")
	assert.Equal(t, DefaultConsumerGroup+".svc-1", cfg.ConsumerGroup)
}

func TestBuildRequiresBrokers(t *testing.T) {
	_, err := Build(context.Background(), &mockConfig{}, watermill.NopLogger{})
	assert.ErrorContains(t, err, "broker")
}

func TestBuildClosesPublisherWhenSubscriberFails(t *testing.T) {
	pub := &mockPublisher{}
	stubFactories(t,
		func(kafka.PublisherConfig) (message.Publisher, error) { return pub, nil },
		func(kafka.SubscriberConfig) (message.Subscriber, error) { return nil, errors.New("subscriber error") },
	)

	_, err := Build(context.Background(), &mockConfig{brokers: []string{"b:9092"}}, watermill.NopLogger{})
	assert.EqualError(t, err, "subscriber error")
	assert.True(t, pub.closed)
}
