package httputil

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ulule/limiter/v3"
	limiterhttp "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/medflow/medflow-pharmacy/pkg/actor"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/messaging"
	"github.com/medflow/medflow-pharmacy/pkg/tenant"
)

type requestIDKey struct{}

// HeaderRequestID is echoed back on every response.
const HeaderRequestID = "X-Request-ID"

// Gateway headers carrying the caller identity.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserRole  = "X-User-Role"
	HeaderUserEmail = "X-User-Email"
	HeaderUserName  = "X-User-Name"
)

// RequestID propagates the gateway's request id, minting one when absent.
// The id doubles as the correlation id of events published by the request.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)

		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		ctx = messaging.WithCorrelationID(ctx, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFrom returns the id stored by RequestID.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Logger writes one line per request once the handler returns. 5xx log at
// error and 4xx at warn.
func Logger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			sc := &scope{ctx: r.Context()}
			next.ServeHTTP(sw, r.WithContext(context.WithValue(r.Context(), scopeKey{}, sc)))

			l := log.ForContext(sc.ctx).WithRequestID(RequestIDFrom(r.Context()))
			event := l.Info()
			switch {
			case sw.status >= 500:
				event = l.Error()
			case sw.status >= 400:
				event = l.Warn()
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sw.status).
				Int("bytes", sw.bytes).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Msg("request")
		})
	}
}

// Recoverer turns a handler panic into a 500 envelope.
func Recoverer(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil || rec == http.ErrAbortHandler {
					if rec != nil {
						panic(rec)
					}
					return
				}
				log.Error().
					Interface("panic", rec).
					Str("request_id", RequestIDFrom(r.Context())).
					Str("path", r.URL.Path).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")
				Error(w, r, errors.Internal("an unexpected error occurred"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// scope lets Logger see the tenant and actor that later middleware attach.
type scope struct{ ctx context.Context }

type scopeKey struct{}

func remember(ctx context.Context) context.Context {
	if sc, ok := ctx.Value(scopeKey{}).(*scope); ok {
		sc.ctx = ctx
	}
	return ctx
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// ActorMiddleware builds the request actor from the identity headers the
// gateway forwards. Requests without X-User-ID are rejected, except /health.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		userID := r.Header.Get(HeaderUserID)
		if userID == "" || userID == actor.SystemID {
			Error(w, r, errors.Forbidden("missing caller identity"))
			return
		}

		first, last := splitName(r.Header.Get(HeaderUserName))
		tenantID, _ := tenant.TenantID(r.Context())

		ctx := remember(actor.WithActor(r.Context(), &actor.Actor{
			ID:        userID,
			FirstName: first,
			LastName:  last,
			Email:     r.Header.Get(HeaderUserEmail),
			TenantID:  tenantID,
			RoleName:  r.Header.Get(HeaderUserRole),
		}))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission rejects callers whose role is not granted required.
// It must run after ActorMiddleware.
func RequirePermission(required string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a := actor.FromContext(r.Context())
			if a == nil || !a.Can(required) {
				Error(w, r, errors.Forbidden("missing permission "+required))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func splitName(full string) (string, string) {
	full = strings.TrimSpace(full)
	if i := strings.LastIndex(full, " "); i > 0 {
		return full[:i], full[i+1:]
	}
	return full, ""
}

// Tenant headers set by the gateway.
const (
	HeaderTenantID     = "X-Tenant-ID"
	HeaderTenantSlug   = "X-Tenant-Slug"
	HeaderTenantSchema = "X-Tenant-Schema"
)

// TenantMiddleware scopes the request to the tenant schema named by the
// gateway headers. Without headers the request runs on the default
// search_path unless required is set.
func TenantMiddleware(required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, schema := r.Header.Get(HeaderTenantID), r.Header.Get(HeaderTenantSchema)
			switch {
			case r.URL.Path == "/health":
			case id == "" || schema == "":
				if required {
					Error(w, r, errors.Forbidden("missing tenant context"))
					return
				}
			case !tenant.ValidSchema(schema):
				Error(w, r, errors.BadRequest("invalid tenant schema"))
				return
			default:
				ctx := tenant.WithTenantContext(r.Context(), id, r.Header.Get(HeaderTenantSlug), schema)
				r = r.WithContext(remember(ctx))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit throttles clients by IP using an in-memory store.
// rate uses the limiter format, e.g. "100-M" for 100 requests per minute.
func RateLimit(rate string, log *logger.Logger) (func(http.Handler) http.Handler, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, err
	}

	instance := limiter.New(memory.NewStore(), parsed, limiter.WithTrustForwardHeader(true))
	mw := limiterhttp.NewMiddleware(instance,
		limiterhttp.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			Error(w, r, &errors.AppError{
				Code:       "TOO_MANY_REQUESTS",
				Message:    "too many requests",
				MessageKey: "errors.too_many_requests",
				StatusCode: http.StatusTooManyRequests,
			})
		}),
		limiterhttp.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			log.Error().Err(err).Msg("rate limiter failure")
			Error(w, r, errors.Internal("rate limiter failure"))
		}),
	)
	return mw.Handler, nil
}
