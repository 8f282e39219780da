// Package semo is a small runtime for HTTP services. It resolves components
// from a registry, starts them in priority tiers, and stops them in reverse
// order when a signal, a fault or a control message asks for shutdown.
//
// Bootstrap reads Config (file, environment and .env), builds the structured
// logger, and registers the core components: telemetry, the request
// pipeline, the HTTP server and the optional control bus. Controllers
// registered with RegisterController are mounted on the HTTP server, and
// every route runs through the pipeline stages onRequest, preParsing,
// preValidation, preHandler, handler, preSerialization, onSend and
// onResponse, with onError, onTimeout and onAbort on the failure paths.
//
// A minimal service therefore fills Config, registers one controller module,
// and calls App.Run; the process exit code reports how the shutdown ended.
//
// # Control bus
//
// The control bus listens for shutdown commands and publishes lifecycle
// transitions over one of the registered Watermill transports:
//   - channel: In-memory Go channels for tests and single-process setups
//   - kafka: Consumer groups over Kafka brokers
//   - rabbitmq: AMQP durable queues
//   - nats: NATS JetStream
//
// # Exit codes
//
// 0 after a clean shutdown, 1 when startup fails, 6 when the shutdown
// watchdog fires, and 10 when a fault triggered the shutdown.
package semo
