package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConfig struct {
	system  string
	service string
}

func (m *mockConfig) GetControlBusSystem() string   { return m.system }
func (m *mockConfig) GetServiceName() string        { return m.service }
func (m *mockConfig) GetKafkaBrokers() []string     { return nil }
func (m *mockConfig) GetKafkaConsumerGroup() string { return "" }
func (m *mockConfig) GetRabbitMQURL() string        { return "" }
func (m *mockConfig) GetNATSURL() string            { return "" }

type mockPublisher struct{ closed int }

func (m *mockPublisher) Publish(string, ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error {
	m.closed++
	return nil
}

type mockSubscriber struct {
	closed int
	err    error
}

func (m *mockSubscriber) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (m *mockSubscriber) Close() error {
	m.closed++
	return m.err
}

type mockPubSub struct {
	mockPublisher
	mockSubscriber
}

func (m *mockPubSub) Close() error {
	m.mockPublisher.closed++
	return nil
}

func TestRegistryBuildUsesControlBusSystem(t *testing.T) {
	reg := NewRegistry()
	pub, sub := &mockPublisher{}, &mockSubscriber{}
	reg.Register("Fake", func(context.Context, Config, watermill.LoggerAdapter) (Transport, error) {
		return Transport{Publisher: pub, Subscriber: sub}, nil
	}, Capabilities{SupportsAck: true})

	tr, err := reg.Build(context.Background(), &mockConfig{system: " FAKE "}, nil)
	require.NoError(t, err)
	assert.Same(t, pub, tr.Publisher)
	assert.True(t, reg.Has("fake"))
	assert.Equal(t, "fake", reg.GetCapabilities("fake").Name)
}

func TestRegistryRejectsIncompleteTransport(t *testing.T) {
	reg := NewRegistry()
	pub := &mockPublisher{}
	reg.Register("half", func(context.Context, Config, watermill.LoggerAdapter) (Transport, error) {
		return Transport{Publisher: pub}, nil
	}, Capabilities{})

	_, err := reg.Build(context.Background(), &mockConfig{system: "half"}, nil)
	require.ErrorIs(t, err, ErrIncompleteTransport)
	assert.Equal(t, 1, pub.closed)
}

func TestRegistryBuildUnknownTransport(t *testing.T) {
	reg := NewRegistry()
	reg.Register("b", nil, Capabilities{})
	reg.Register("a", nil, Capabilities{})

	_, err := reg.Build(context.Background(), &mockConfig{system: "missing"}, watermill.NopLogger{})
	require.ErrorIs(t, err, ErrUnknownTransport)
	assert.Contains(t, err.Error(), `"missing"`)
	assert.Equal(t, []string{"a", "b"}, reg.Names())
}

func TestRegistryBuildRequiresConfig(t *testing.T) {
	_, err := NewRegistry().Build(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestRegistryPropagatesBuilderError(t *testing.T) {
	reg := NewRegistry()
	reg.Register("broken", func(context.Context, Config, watermill.LoggerAdapter) (Transport, error) {
		return Transport{}, errors.New("dial failed")
	}, Capabilities{})

	_, err := reg.Build(context.Background(), &mockConfig{system: "broken"}, nil)
	assert.EqualError(t, err, "dial failed")
}

func TestUnknownCapabilitiesCarryName(t *testing.T) {
	caps := NewRegistry().GetCapabilities("ghost")
	assert.Equal(t, Capabilities{Name: "ghost"}, caps)
	assert.True(t, caps.CrossProcess())
}

func TestCapabilities(t *testing.T) {
	assert.True(t, ChannelCapabilities.SupportsReliableDelivery())
	assert.False(t, ChannelCapabilities.CrossProcess())
	assert.False(t, KafkaCapabilities.SupportsReliableDelivery())
	assert.False(t, RabbitMQCapabilities.Durable)
	assert.True(t, KafkaCapabilities.Durable)
	assert.True(t, NATSCapabilities.CrossProcess())
}

func TestTransportCloseClosesBothSides(t *testing.T) {
	pub := &mockPublisher{}
	sub := &mockSubscriber{err: errors.New("sub close")}

	err := Transport{Publisher: pub, Subscriber: sub}.Close()
	assert.EqualError(t, err, "sub close")
	assert.Equal(t, 1, pub.closed)
	assert.Equal(t, 1, sub.closed)
}

func TestTransportCloseClosesConnectionLast(t *testing.T) {
	var order []string
	pub := &orderedCloser{name: "publisher", order: &order}
	conn := &orderedCloser{name: "connection", order: &order}

	require.NoError(t, Transport{Publisher: pub, Connection: conn}.Close())
	assert.Equal(t, []string{"publisher", "connection"}, order)
}

type orderedCloser struct {
	name  string
	order *[]string
}

func (c *orderedCloser) Publish(string, ...*message.Message) error { return nil }
func (c *orderedCloser) Close() error {
	*c.order = append(*c.order, c.name)
	return nil
}

func TestPairClosesPublisherWhenSubscriberFails(t *testing.T) {
	pub := &mockPublisher{}
	_, err := Pair(
		func() (message.Publisher, error) { return pub, nil },
		func() (message.Subscriber, error) { return nil, errors.New("no subscriber") },
	)
	assert.EqualError(t, err, "no subscriber")
	assert.Equal(t, 1, pub.closed)
}

func TestClientIDSanitizesServiceName(t *testing.T) {
	id := ClientID(&mockConfig{service: "billing api/v2"})
	assert.Regexp(t, `^billing-api-v2-[A-Za-z0-9]+$`, id)
	assert.NotEqual(t, id, ClientID(&mockConfig{service: "billing api/v2"}))
	assert.Regexp(t, `^semo-`, ClientID(&mockConfig{}))
}

func TestTransportCloseSharedPubSubOnce(t *testing.T) {
	ps := &mockPubSub{}
	require.NoError(t, Transport{Publisher: ps, Subscriber: ps}.Close())
	assert.Equal(t, 1, ps.mockPublisher.closed)
}
