// Package transports registers every built-in control bus transport with
// the default registry.
package transports

import (
	"github.com/asafsemo/semo/transport/channel"
	"github.com/asafsemo/semo/transport/kafka"
	"github.com/asafsemo/semo/transport/nats"
	"github.com/asafsemo/semo/transport/rabbitmq"
)

func init() {
	RegisterAll()
}

// RegisterAll (re)registers the built-in transports. Tests that swap
// transport.DefaultRegistry call it to repopulate the new registry.
func RegisterAll() {
	channel.Register()
	kafka.Register()
	nats.Register()
	rabbitmq.Register()
}
