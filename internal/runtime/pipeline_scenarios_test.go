package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/asafsemo/semo/internal/runtime/errors"
	loggingpkg "github.com/asafsemo/semo/internal/runtime/logging"
	"github.com/asafsemo/semo/internal/runtime/tracectx"
)

func TestValidationHookFaultAnswers420(t *testing.T) {
	p, _ := newTestPipeline(PipelineOptions{Hooks: Hooks{
		Validation: func(context.Context, *http.Request, *loggingpkg.Logger) error {
			return errspkg.ValidateMandatoryFields(map[string]any{}, []string{"id"})
		},
	}})
	route := Route{Method: http.MethodPost, Pattern: "/orders", Handler: func(context.Context, *Request) (any, error) {
		return "created", nil
	}}

	rec := serveRoute(p, route, httptest.NewRequest(http.MethodPost, "/orders", nil))

	assert.Equal(t, errspkg.StatusValidationFailed, rec.Code)
	body := decodeErrorResponse(t, rec)
	assert.Equal(t, errspkg.TypeRequestParamMissing, body.Type)
	assert.Equal(t, "Missing field: id", body.Message)
}

func TestConcurrentRequestsKeepTheirOwnState(t *testing.T) {
	p, _ := newTestPipeline(PipelineOptions{})

	var (
		mu     sync.Mutex
		states []*RequestState
	)
	handler := p.Handler(Route{Method: http.MethodGet, Pattern: "/orders", Handler: func(ctx context.Context, _ *Request) (any, error) {
		state, ok := RequestStateFromContext(ctx)
		if !ok {
			return nil, errTest
		}
		mu.Lock()
		states = append(states, state)
		mu.Unlock()
		return nil, nil
	}})

	const perKind = 10
	var wg sync.WaitGroup
	for i := 0; i < 2*perKind; i++ {
		wg.Add(1)
		go func(withInbound bool) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "/orders", nil)
			if withInbound {
				req.Header.Set(tracectx.HeaderCloudTrace, inboundTraceID+"/1;o=1")
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusNoContent, rec.Code)
		}(i%2 == 0)
	}
	wg.Wait()

	require.Len(t, states, 2*perKind)
	records := map[*StageRecord]bool{}
	spans := map[string]bool{}
	minted := map[string]bool{}
	shared := 0
	for _, st := range states {
		records[st.Record] = true
		spans[st.Trace.SpanID] = true
		if st.Trace.TraceID == inboundTraceID {
			shared++
		} else {
			minted[st.Trace.TraceID] = true
		}
		_, ok := st.Record.At(StageOnRequest)
		assert.True(t, ok)
	}
	assert.Len(t, records, 2*perKind)
	assert.Len(t, spans, 2*perKind)
	assert.Equal(t, perKind, shared)
	assert.Len(t, minted, perKind)
}
