package semo

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingController struct{}

func (pingController) Routes() []Route {
	return []Route{{
		Method:  "GET",
		Pattern: "/ping",
		Handler: func(context.Context, *Request) (any, error) { return map[string]string{"pong": "ok"}, nil },
	}}
}

func TestBootstrapThroughFacade(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AppName = "facade"
	cfg.HTTPServerPort = 0
	cfg.ControlBusEnabled = false
	cfg.MetricsEnabled = false

	app, err := Bootstrap(context.Background(), AppOptions{
		Config: cfg,
		Output: io.Discard,
		Modules: []Module{func(reg *Registry) error {
			return RegisterController(reg, "ping", func(Resolver) (any, error) { return pingController{}, nil })
		}},
	})
	require.NoError(t, err)

	sup, err := Resolve[*Supervisor](app.Supervisor.Registry(), "supervisor")
	require.NoError(t, err)
	assert.Same(t, app.Supervisor, sup)
	assert.Equal(t, StateInitialized, sup.State())
}

func TestManagedErrorExports(t *testing.T) {
	err := NewManagedError("ORDER_LOCKED", "order is locked", WithStatus(423))
	assert.Equal(t, 423, err.Status)
	assert.Equal(t, "ORDER_LOCKED", err.Type)
}

func TestEncodingExportAliases(t *testing.T) {
	payload := map[string]string{"hello": "world"}
	data, err := Marshal(payload)
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, Unmarshal(data, &decoded))
	assert.Equal(t, payload, decoded)
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, []int{0, 1, 6, 10}, []int{ExitClean, ExitStartupFailure, ExitWatchdog, ExitFault})
}
