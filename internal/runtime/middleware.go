package runtime

import (
	"context"
	"errors"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	idspkg "github.com/asafsemo/semo/internal/runtime/ids"
	loggingpkg "github.com/asafsemo/semo/internal/runtime/logging"
)

// HTTPMiddleware is a chi compatible middleware.
type HTTPMiddleware = func(http.Handler) http.Handler

// MiddlewareBuilder constructs a middleware using the provided server.
type MiddlewareBuilder func(*Server) (HTTPMiddleware, error)

// MiddlewareRegistration captures how a middleware should be registered on
// the server router.
type MiddlewareRegistration struct {
	Name       string
	Middleware HTTPMiddleware
	Builder    MiddlewareBuilder
}

// HeaderRequestID carries the request id on requests and responses.
const HeaderRequestID = "X-Request-Id"

// DefaultMiddlewares returns the router chain installed by NewServer.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		RequestIDMiddleware(),
		RealIPMiddleware(),
		CleanPathMiddleware(),
		RecovererMiddleware(),
	}
}

// RequestIDMiddleware keeps an inbound X-Request-Id or assigns a ULID, and
// echoes it on the response.
func RequestIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "request_id",
		Middleware: requestID,
	}
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = idspkg.NewID()
		}
		w.Header().Set(HeaderRequestID, id)
		ctx := context.WithValue(r.Context(), chimw.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RealIPMiddleware rewrites RemoteAddr from X-Real-IP / X-Forwarded-For.
func RealIPMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "real_ip",
		Middleware: chimw.RealIP,
	}
}

// CleanPathMiddleware collapses duplicate slashes before routing.
func CleanPathMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "clean_path",
		Middleware: chimw.CleanPath,
	}
}

// RecovererMiddleware answers 500 for panics outside the request pipeline,
// such as in the health handlers. Pipeline routes recover on their own.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "recoverer",
		Builder: func(s *Server) (HTTPMiddleware, error) {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					defer func() {
						if rec := recover(); rec != nil {
							if rec == http.ErrAbortHandler {
								panic(rec)
							}
							s.logger.Error("Panic outside request pipeline", loggingpkg.LogFields{
								"panic": rec,
								"path":  r.URL.Path,
							})
							w.WriteHeader(http.StatusInternalServerError)
						}
					}()
					next.ServeHTTP(w, r)
				})
			}, nil
		},
	}
}

// ThrottleMiddleware caps concurrently served requests; excess requests get
// 429 after waiting up to backlogTimeout.
func ThrottleMiddleware(limit, backlog int, backlogTimeout time.Duration) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "throttle",
		Middleware: chimw.ThrottleBacklog(limit, backlog, backlogTimeout),
	}
}

// timeoutMiddleware bounds a route. When the deadline passes the pipeline
// runs onTimeout and this middleware answers 504.
func timeoutMiddleware(d time.Duration) HTTPMiddleware {
	if d <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return chimw.Timeout(d)
}

// RegisterMiddleware appends the middleware to the router chain. It must be
// called before Start.
func (s *Server) RegisterMiddleware(cfg MiddlewareRegistration) error {
	var mw HTTPMiddleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(s)
		if err != nil {
			return err
		}
	default:
		return errors.New("semo: middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return errors.New("semo: middleware must be registered before the server starts")
	}
	s.middlewares = append(s.middlewares, mw)
	return nil
}
