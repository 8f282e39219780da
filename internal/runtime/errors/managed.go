package errors

import (
	sterrors "errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Managed error types reported to clients.
const (
	TypeInternal            = "INTERNAL_ERROR"
	TypeRequestParamMissing = "REQUEST_PARAM_MISSING"
	TypeRequestParamInvalid = "REQUEST_PARAM_INVALID"
	TypeResponseBodyEmpty   = "RESPONSE_BODY_EMPTY"
	TypeUnauthorized        = "UNAUTHORIZED"
	TypeNotFound            = "NOT_FOUND"
)

// StatusValidationFailed is the non-standard status used for request
// parameter faults.
const StatusValidationFailed = 420

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// ManagedError is an error whose type, message and status are safe to hand
// back to a client.
type ManagedError struct {
	Type      string
	Message   string
	Status    int
	Internal  error
	ExtraData any

	stack pkgerrors.StackTrace
}

// ManagedOption customizes a ManagedError.
type ManagedOption func(*ManagedError)

// WithStatus overrides the HTTP status.
func WithStatus(status int) ManagedOption {
	return func(e *ManagedError) { e.Status = status }
}

// WithCause attaches the underlying cause. It is never exposed in production.
func WithCause(err error) ManagedOption {
	return func(e *ManagedError) { e.Internal = err }
}

// WithExtraData attaches client visible details.
func WithExtraData(data any) ManagedOption {
	return func(e *ManagedError) { e.ExtraData = data }
}

// NewManagedError builds a managed error and captures the caller's stack.
// The status defaults to 500.
func NewManagedError(typ, message string, opts ...ManagedOption) *ManagedError {
	e := &ManagedError{
		Type:    typ,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
	for _, opt := range opts {
		opt(e)
	}
	if st, ok := pkgerrors.New(message).(stackTracer); ok {
		if frames := st.StackTrace(); len(frames) > 1 {
			e.stack = frames[1:]
		}
	}
	return e
}

func (e *ManagedError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Internal)
	}
	return e.Type + ": " + e.Message
}

func (e *ManagedError) Unwrap() error { return e.Internal }

// StackTrace returns the frames captured at construction.
func (e *ManagedError) StackTrace() pkgerrors.StackTrace { return e.stack }

// ErrorResponse is the body written for faults.
type ErrorResponse struct {
	Type          string `json:"type"`
	Message       string `json:"message"`
	Trace         string `json:"trace"`
	Stack         string `json:"stack,omitempty"`
	InternalError string `json:"internalError,omitempty"`
	ExtraData     any    `json:"extraData,omitempty"`
}

// HandleOptions control HandleError.
type HandleOptions struct {
	// ExposeStack adds stack and internal error details. Production
	// deployments leave it false.
	ExposeStack bool
	TraceID     string
}

// HandleError maps err onto a status and response body. Managed errors keep
// their type and status; anything else becomes a 500 INTERNAL_ERROR.
func HandleError(err error, opts HandleOptions) (int, ErrorResponse) {
	status := http.StatusInternalServerError
	resp := ErrorResponse{
		Type:  TypeInternal,
		Trace: opts.TraceID,
	}
	if err == nil {
		resp.Message = http.StatusText(status)
		return status, resp
	}

	resp.Message = err.Error()
	stack := formatStack(err)
	var internal string

	var managed *ManagedError
	if sterrors.As(err, &managed) {
		if managed.Status > 0 {
			status = managed.Status
		}
		resp.Type = managed.Type
		resp.Message = managed.Message
		resp.ExtraData = managed.ExtraData
		stack = formatStack(managed)
		if managed.Internal != nil {
			internal = managed.Internal.Error()
			if s := formatStack(managed.Internal); s != "" {
				internal += "\n" + s
			}
		}
	}

	if opts.ExposeStack {
		resp.Stack = stack
		resp.InternalError = internal
	}
	return status, resp
}

func formatStack(err error) string {
	var st stackTracer
	if !sterrors.As(err, &st) {
		return ""
	}
	return strings.TrimSpace(fmt.Sprintf("%+v", st.StackTrace()))
}

// MandatoryOptions tune ValidateMandatoryFields.
type MandatoryOptions struct {
	// Message may contain {paramName}. Defaults to "Missing field: {paramName}".
	Message string
	Type    string
	Status  int
}

// ValidateMandatoryFields fails on the first field that is absent or holds a
// zero value. The default fault is a 420 REQUEST_PARAM_MISSING.
func ValidateMandatoryFields(obj map[string]any, fields []string, opts ...MandatoryOptions) error {
	var o MandatoryOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Message == "" {
		o.Message = "Missing field: {paramName}"
	}
	if o.Type == "" {
		o.Type = TypeRequestParamMissing
	}
	if o.Status == 0 {
		o.Status = StatusValidationFailed
	}

	for _, field := range fields {
		if field == "" {
			continue
		}
		value, ok := obj[field]
		if ok && !isZero(value) {
			continue
		}
		return NewManagedError(o.Type, strings.ReplaceAll(o.Message, "{paramName}", field), WithStatus(o.Status))
	}
	return nil
}

func isZero(v any) bool {
	if v == nil {
		return true
	}
	return reflect.ValueOf(v).IsZero()
}
