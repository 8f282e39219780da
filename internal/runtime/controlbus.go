package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	idspkg "github.com/asafsemo/semo/internal/runtime/ids"
	"github.com/asafsemo/semo/internal/runtime/jsoncodec"
	loggingpkg "github.com/asafsemo/semo/internal/runtime/logging"
	"github.com/asafsemo/semo/transport"
)

const (
	// ComponentControlBus is the registry name of the control bus.
	ComponentControlBus = "controlBus"
	// ControlBusPriority starts the bus in the first tier so it is the last
	// component stopped.
	ControlBusPriority = 0

	DefaultControlTopic  = "semo.control"
	lifecycleTopicSuffix = ".lifecycle"

	metadataEventType = "event_type"
	eventTypeCommand  = "semo.command"
	eventTypeState    = "semo.lifecycle"

	controlHandlerName = "semo_control"
)

// ControlCommand is the payload accepted on the control topic. A raw text
// payload is read as the command name.
type ControlCommand struct {
	Command string `json:"command"`
	Reason  string `json:"reason,omitempty"`
}

// LifecycleEvent is published on <topic>.lifecycle for every supervisor
// state change.
type LifecycleEvent struct {
	Service string    `json:"service"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	At      time.Time `json:"at"`
}

// ControlBusOptions configure a ControlBus.
type ControlBusOptions struct {
	// Topic defaults to DefaultControlTopic.
	Topic       string
	ServiceName string
	Config      transport.Config
	// Transports defaults to transport.DefaultRegistry.
	Transports *transport.Registry
	// OnCommand receives every command name and reports whether it acted on
	// it. Coordinator.HandleMessage fits.
	OnCommand func(command string) bool
	// OnPanic receives a panic recovered on the router goroutine. Without it
	// the panic is re-raised.
	OnPanic func(recovered any)
}

// ControlBus is a supervised component listening for operational commands
// on a watermill transport and publishing lifecycle events.
type ControlBus struct {
	opts   ControlBusOptions
	logger *loggingpkg.Logger

	mu      sync.Mutex
	tr      transport.Transport
	caps    transport.Capabilities
	router  *message.Router
	cancel  context.CancelFunc
	runErr  chan error
	running bool
}

// NewControlBus builds an unstarted control bus.
func NewControlBus(logger *loggingpkg.Logger, opts ControlBusOptions) *ControlBus {
	if opts.Topic == "" {
		opts.Topic = DefaultControlTopic
	}
	if opts.Transports == nil {
		opts.Transports = transport.DefaultRegistry
	}
	return &ControlBus{opts: opts, logger: logger}
}

// Topic returns the command topic.
func (b *ControlBus) Topic() string { return b.opts.Topic }

// LifecycleTopic returns the topic lifecycle events are published on.
func (b *ControlBus) LifecycleTopic() string { return b.opts.Topic + lifecycleTopicSuffix }

// Start builds the transport and runs the router until Stop.
func (b *ControlBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}
	if b.opts.Config == nil {
		return errors.New("semo: control bus requires a transport config")
	}

	wmLogger := loggingpkg.NewWatermillAdapter(b.logger)
	tr, err := b.opts.Transports.Build(ctx, b.opts.Config, wmLogger)
	if err != nil {
		return fmt.Errorf("semo: build control bus transport: %w", err)
	}

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 5 * time.Second}, wmLogger)
	if err != nil {
		_ = tr.Close()
		return err
	}
	router.AddMiddleware(middleware.CorrelationID, middleware.Recoverer)
	router.AddNoPublisherHandler(controlHandlerName, b.opts.Topic, tr.Subscriber, b.handle)

	runCtx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() {
		defer recoverWith(b.opts.OnPanic)
		runErr <- router.Run(runCtx)
	}()

	select {
	case <-router.Running():
	case err := <-runErr:
		cancel()
		_ = tr.Close()
		if err == nil {
			err = errors.New("semo: control bus router exited before running")
		}
		return fmt.Errorf("semo: run control bus: %w", err)
	case <-ctx.Done():
		cancel()
		_ = router.Close()
		_ = tr.Close()
		return ctx.Err()
	}

	b.tr = tr
	b.caps = b.opts.Transports.GetCapabilities(b.opts.Config.GetControlBusSystem())
	b.router = router
	b.cancel = cancel
	b.runErr = runErr
	b.running = true

	b.logger.Info("Control bus listening", loggingpkg.LogFields{
		"transport":    b.caps.Name,
		"topic":        b.opts.Topic,
		"crossProcess": b.caps.CrossProcess(),
	})
	if !b.caps.SupportsReliableDelivery() {
		b.logger.Debug("Control bus transport does not redeliver, commands may be lost", loggingpkg.LogFields{"transport": b.caps.Name})
	}
	return nil
}

func (b *ControlBus) handle(msg *message.Message) error {
	command := parseCommand(msg.Payload)
	fields := loggingpkg.LogFields{
		"command":       command.Command,
		"messageId":     msg.UUID,
		"correlationId": middleware.MessageCorrelationID(msg),
	}
	if command.Reason != "" {
		fields["reason"] = command.Reason
	}

	if command.Command == "" {
		b.logger.Warn("Control message without command ignored", fields)
		return nil
	}
	if b.opts.OnCommand == nil || !b.opts.OnCommand(command.Command) {
		b.logger.Warn("Control command ignored", fields)
		return nil
	}
	b.logger.Complete("Control command accepted", fields)
	return nil
}

func parseCommand(payload []byte) ControlCommand {
	var cmd ControlCommand
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "{") && jsoncodec.Unmarshal([]byte(trimmed), &cmd) == nil {
		cmd.Command = strings.TrimSpace(cmd.Command)
		return cmd
	}
	return ControlCommand{Command: trimmed}
}

// Send publishes a command on the control topic.
func (b *ControlBus) Send(cmd ControlCommand) error {
	msg, err := b.newMessage(cmd, eventTypeCommand)
	if err != nil {
		return err
	}
	return b.publish(b.opts.Topic, msg)
}

// ObserveTransition publishes a lifecycle event. Register it with
// Supervisor.OnTransition. Events after Stop are dropped.
func (b *ControlBus) ObserveTransition(t Transition) {
	msg, err := b.newMessage(LifecycleEvent{
		Service: b.opts.ServiceName,
		From:    t.From.String(),
		To:      t.To.String(),
		At:      t.At.UTC(),
	}, eventTypeState)
	if err != nil {
		b.logger.Warn("Lifecycle event encoding failed", loggingpkg.LogFields{"error": err.Error()})
		return
	}
	if err := b.publish(b.LifecycleTopic(), msg); err != nil && !errors.Is(err, errControlBusStopped) {
		b.logger.Warn("Lifecycle event publish failed", loggingpkg.LogFields{"error": err.Error(), "to": t.To.String()})
	}
}

var errControlBusStopped = errors.New("semo: control bus is not running")

func (b *ControlBus) newMessage(v any, eventType string) (*message.Message, error) {
	payload, err := jsoncodec.Marshal(v)
	if err != nil {
		return nil, err
	}
	id := idspkg.NewID()
	msg := message.NewMessage(id, payload)
	msg.Metadata.Set(metadataEventType, eventType)
	middleware.SetCorrelationID(id, msg)
	return msg, nil
}

func (b *ControlBus) publish(topic string, msg *message.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return errControlBusStopped
	}
	return b.tr.Publisher.Publish(topic, msg)
}

// Stop closes the router, waiting for in-flight commands, then the
// transport.
func (b *ControlBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	router, tr, cancel, runErr := b.router, b.tr, b.cancel, b.runErr
	b.mu.Unlock()

	var errs []error
	if err := router.Close(); err != nil {
		errs = append(errs, err)
	}
	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			errs = append(errs, err)
		}
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	if err := tr.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
