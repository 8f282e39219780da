// Package channel provides the in-memory Go channel transport. The control
// bus uses it by default, when only in-process messages are expected.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/asafsemo/semo/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// OutputBuffer sizes each subscriber channel so a publish never blocks on a
// slow control handler.
const OutputBuffer = 16

// NewPubSub allows overriding the channel creation for testing.
var NewPubSub = func(cfg gochannel.Config, logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(cfg, logger)
}

// Register adds the transport to the default registry.
func Register() {
	transport.Register(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates a new Go channel transport. Publisher and subscriber are the
// same in-memory pub/sub, so only subscribers of this transport see its
// messages.
func Build(_ context.Context, _ transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pubSub := NewPubSub(pubSubConfig(), logger)
	return transport.Pair(
		func() (message.Publisher, error) { return pubSub, nil },
		func() (message.Subscriber, error) { return pubSub, nil },
	)
}

func pubSubConfig() gochannel.Config {
	return gochannel.Config{
		OutputChannelBuffer:            OutputBuffer,
		BlockPublishUntilSubscriberAck: false,
	}
}

func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
