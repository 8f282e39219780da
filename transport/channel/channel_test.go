package channel

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asafsemo/semo/transport"
)

func TestRegister(t *testing.T) {
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "channel", caps.Name)
	assert.True(t, caps.SupportsReliableDelivery())
	assert.Equal(t, transport.ChannelCapabilities, Capabilities())
}

func TestBuildDeliversInProcess(t *testing.T) {
	tr, err := Build(context.Background(), nil, watermill.NopLogger{})
	require.NoError(t, err)
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	messages, err := tr.Subscriber.Subscribe(ctx, "semo.control")
	require.NoError(t, err)

	require.NoError(t, tr.Publisher.Publish("semo.control", message.NewMessage(watermill.NewUUID(), []byte("shutdown"))))

	select {
	case msg := <-messages:
		assert.Equal(t, "shutdown", string(msg.Payload))
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestBuildSharesOnePubSub(t *testing.T) {
	original := NewPubSub
	t.Cleanup(func() { NewPubSub = original })

	var got gochannel.Config
	NewPubSub = func(cfg gochannel.Config, logger watermill.LoggerAdapter) *gochannel.GoChannel {
		got = cfg
		return original(cfg, logger)
	}

	tr, err := Build(context.Background(), nil, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Same(t, tr.Publisher, tr.Subscriber)
	assert.Equal(t, int64(OutputBuffer), got.OutputChannelBuffer)
	assert.False(t, got.BlockPublishUntilSubscriberAck)

	require.NoError(t, tr.Close())
	assert.Error(t, tr.Publisher.Publish("semo.control", message.NewMessage(watermill.NewUUID(), nil)))
}
