package runtime

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/asafsemo/semo/internal/runtime/errors"
	"github.com/asafsemo/semo/internal/runtime/jsoncodec"
)

// HandlerFunc serves one route. The returned payload is serialized by the
// pipeline; a returned error is routed to onError.
type HandlerFunc func(ctx context.Context, req *Request) (any, error)

// Route binds a handler to a method and chi pattern.
type Route struct {
	Method  string
	Pattern string
	// APIName labels logs, spans and metrics. The raw path is used when empty.
	APIName string
	// Timeout overrides the transport default. Zero keeps the default.
	Timeout time.Duration
	Handler HandlerFunc
}

func (r Route) key() string {
	return strings.ToUpper(r.Method) + " " + r.Pattern
}

func (r Route) validate() error {
	if r.Method == "" || r.Pattern == "" || r.Handler == nil {
		return errspkg.ErrRouteInvalid
	}
	if !strings.HasPrefix(r.Pattern, "/") {
		return errspkg.ErrRouteInvalid
	}
	return nil
}

// Response lets a handler pick the status and headers of a successful reply.
type Response struct {
	Status  int
	Headers http.Header
	Body    any
}

// Request is what a HandlerFunc sees of the inbound HTTP request.
type Request struct {
	*http.Request

	State *RequestState

	validate *validator.Validate
}

// Param returns a chi URL parameter.
func (r *Request) Param(name string) string {
	return chi.URLParam(r.Request, name)
}

// Query returns a query string value.
func (r *Request) Query(name string) string {
	return r.URL.Query().Get(name)
}

// maxMultipartMemory is how much of a multipart body is held in memory;
// larger file parts spill to temporary files.
const maxMultipartMemory = 32 << 20

// Bind decodes the body into v and validates it against its `validate`
// struct tags. JSON bodies are decoded with sonic. multipart/form-data
// bodies have their text fields decoded by json tag name, with strings
// converted to the field types. Faults are 420 managed errors: a missing
// body or a failed `required` rule is REQUEST_PARAM_MISSING, anything else
// REQUEST_PARAM_INVALID.
func (r *Request) Bind(v any) error {
	if r.isMultipart() {
		if err := r.bindMultipart(v); err != nil {
			return err
		}
		return r.validateStruct(v)
	}

	missing := errspkg.NewManagedError(errspkg.TypeRequestParamMissing, "Missing request body",
		errspkg.WithStatus(errspkg.StatusValidationFailed))
	if r.Body == nil {
		return missing
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return invalidBody(err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return missing
	}
	if err := jsoncodec.Unmarshal(data, v); err != nil {
		return invalidBody(err)
	}
	return r.validateStruct(v)
}

// File returns the first file uploaded under name in a multipart body.
func (r *Request) File(name string) (*multipart.FileHeader, error) {
	if !r.isMultipart() {
		return nil, errspkg.NewManagedError(errspkg.TypeRequestParamInvalid, "Expected a multipart body",
			errspkg.WithStatus(errspkg.StatusValidationFailed))
	}
	if err := r.parseMultipart(); err != nil {
		return nil, err
	}
	files := r.MultipartForm.File[name]
	if len(files) == 0 {
		return nil, errspkg.NewManagedError(errspkg.TypeRequestParamMissing, "Missing field: "+name,
			errspkg.WithStatus(errspkg.StatusValidationFailed))
	}
	return files[0], nil
}

func (r *Request) isMultipart() bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

func (r *Request) parseMultipart() error {
	if r.MultipartForm != nil {
		return nil
	}
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return invalidBody(err)
	}
	return nil
}

func (r *Request) bindMultipart(v any) error {
	if err := r.parseMultipart(); err != nil {
		return err
	}
	fields := make(map[string]any, len(r.MultipartForm.Value))
	for name, values := range r.MultipartForm.Value {
		if len(values) == 1 {
			fields[name] = values[0]
			continue
		}
		fields[name] = values
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           v,
	})
	if err != nil {
		return invalidBody(err)
	}
	if err := decoder.Decode(fields); err != nil {
		return invalidBody(err)
	}
	return nil
}

func (r *Request) validateStruct(v any) error {
	if r.validate == nil || !isStruct(v) {
		return nil
	}
	return validationFault(r.validate.Struct(v))
}

func invalidBody(cause error) error {
	return errspkg.NewManagedError(errspkg.TypeRequestParamInvalid, "Invalid request body",
		errspkg.WithStatus(errspkg.StatusValidationFailed), errspkg.WithCause(cause))
}

func isStruct(v any) bool {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t != nil && t.Kind() == reflect.Struct
}

// FieldError describes one failed validation rule.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

func validationFault(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return errspkg.NewManagedError(errspkg.TypeRequestParamInvalid, "Invalid request body",
			errspkg.WithStatus(errspkg.StatusValidationFailed), errspkg.WithCause(err))
	}

	details := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, FieldError{Field: fieldPath(fe), Rule: fe.Tag()})
	}
	first := verrs[0]
	typ, msg := errspkg.TypeRequestParamInvalid, "Invalid field: "+first.Field()
	if first.Tag() == "required" {
		typ, msg = errspkg.TypeRequestParamMissing, "Missing field: "+first.Field()
	}
	return errspkg.NewManagedError(typ, msg,
		errspkg.WithStatus(errspkg.StatusValidationFailed),
		errspkg.WithCause(err),
		errspkg.WithExtraData(details))
}

// fieldPath drops the root struct name from the namespace, leaving the json
// path of the field.
func fieldPath(fe validator.FieldError) string {
	if _, path, ok := strings.Cut(fe.Namespace(), "."); ok {
		return path
	}
	return fe.Field()
}

// newValidator reports fields by their json names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return f.Name
		}
		return name
	})
	return v
}

// serialized is a payload ready for onSend.
type serialized struct {
	status      int
	contentType string
	headers     http.Header
	body        []byte
}

var protoJSON = protojson.MarshalOptions{}

func serialize(payload any) (serialized, error) {
	out := serialized{status: http.StatusOK}
	if resp, ok := payload.(Response); ok {
		payload = &resp
	}
	if resp, ok := payload.(*Response); ok && resp != nil {
		inner, err := serialize(resp.Body)
		if err != nil {
			return serialized{}, err
		}
		if resp.Status > 0 {
			inner.status = resp.Status
		}
		inner.headers = resp.Headers
		return inner, nil
	}

	switch body := payload.(type) {
	case nil:
		out.status = http.StatusNoContent
	case []byte:
		out.contentType = "application/octet-stream"
		out.body = body
	case string:
		out.contentType = "text/plain; charset=utf-8"
		out.body = []byte(body)
	case proto.Message:
		data, err := protoJSON.Marshal(body)
		if err != nil {
			return serialized{}, err
		}
		out.contentType = "application/json"
		out.body = data
	default:
		data, err := jsoncodec.Marshal(body)
		if err != nil {
			return serialized{}, err
		}
		out.contentType = "application/json"
		out.body = data
	}
	return out, nil
}
