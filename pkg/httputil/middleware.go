package httputil

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/luizmoretti/erp-backend/pkg/actor"
	"github.com/luizmoretti/erp-backend/pkg/errors"
	"github.com/luizmoretti/erp-backend/pkg/logger"
	"github.com/luizmoretti/erp-backend/pkg/permissions"
	"github.com/luizmoretti/erp-backend/pkg/token"
)

type contextKey string

const RequestIDKey contextKey = "request_id"

// Headers forwarded by the API gateway after it authenticated the caller
const (
	HeaderUserID          = "X-User-ID"
	HeaderUserEmail       = "X-User-Email"
	HeaderUserName        = "X-User-Name"
	HeaderCompanyID       = "X-Company-ID"
	HeaderUserPermissions = "X-User-Permissions"
)

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Validate(tokenString string) (*token.Claims, error)
}

// RequestID middleware adds a request ID to each request
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logger middleware logs HTTP requests
func Logger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			// Authentication runs further down the chain, so the actor is
			// read back from the request it stored it on.
			holder := &actorHolder{}
			next.ServeHTTP(wrapped, r.WithContext(context.WithValue(r.Context(), actorHolderKey{}, holder)))

			event := log.Info()
			if wrapped.statusCode >= http.StatusInternalServerError {
				event = log.Error()
			}
			event.
				Str("request_id", GetRequestID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.statusCode).
				Dur("duration", time.Since(start)).
				Str("user_id", holder.userID()).
				Str("remote_addr", r.RemoteAddr).
				Msg("HTTP request")
		})
	}
}

// Recoverer middleware recovers from panics
func Recoverer(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error().
						Interface("panic", err).
						Str("request_id", GetRequestID(r.Context())).
						Str("path", r.URL.Path).
						Msg("panic recovered")

					Error(w, errors.Internal("internal server error"))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// Authenticate resolves the acting user from a bearer token. When
// trustGateway is set, requests without a token fall back to the
// X-User-* headers injected by the gateway.
func Authenticate(verifier TokenVerifier, trustGateway bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a, err := resolveActor(r, verifier, trustGateway)
			if err != nil {
				Error(w, err)
				return
			}
			if a.CompanyID == "" {
				Error(w, errors.Forbidden("missing company context"))
				return
			}

			if holder, ok := r.Context().Value(actorHolderKey{}).(*actorHolder); ok {
				holder.actor = a
			}
			next.ServeHTTP(w, r.WithContext(actor.WithActor(r.Context(), a)))
		})
	}
}

// RequirePermission rejects actors lacking the permission.
func RequirePermission(required string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a := actor.FromContext(r.Context())
			if a == nil {
				Error(w, errors.Unauthorized("authentication required"))
				return
			}
			if !permissions.HasPermission(a.Permissions, required) {
				Error(w, errors.Forbidden("missing permission "+required))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func resolveActor(r *http.Request, verifier TokenVerifier, trustGateway bool) (*actor.Actor, error) {
	if raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && verifier != nil {
		claims, err := verifier.Validate(strings.TrimSpace(raw))
		if err != nil {
			return nil, err
		}
		return claims.Actor(), nil
	}

	if trustGateway && r.Header.Get(HeaderUserID) != "" {
		first, last, _ := strings.Cut(r.Header.Get(HeaderUserName), " ")
		return &actor.Actor{
			ID:          r.Header.Get(HeaderUserID),
			FirstName:   first,
			LastName:    last,
			Email:       r.Header.Get(HeaderUserEmail),
			CompanyID:   r.Header.Get(HeaderCompanyID),
			Permissions: permissions.Parse(r.Header.Get(HeaderUserPermissions)),
		}, nil
	}

	return nil, errors.Unauthorized("authentication required")
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

type actorHolderKey struct{}

type actorHolder struct {
	actor *actor.Actor
}

func (h *actorHolder) userID() string {
	if h.actor == nil {
		return ""
	}
	return h.actor.ID
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
