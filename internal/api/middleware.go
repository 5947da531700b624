package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/atendelab/zapdesk/internal/tenancy"
	"github.com/atendelab/zapdesk/pkg/logging"
)

type ctxKey string

const userIDKey ctxKey = "zapdesk.user_id"

// UserIDFromContext returns the authenticated agent's id, if any.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok
}

// RequestLogger logs one line per request with latency and status.
func RequestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote", r.RemoteAddr,
			)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// JWTAuth validates the HMAC bearer token and puts the subject (agent id) on
// the context.
func JWTAuth(secret string, logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
				return
			}
			raw := strings.TrimPrefix(header, "Bearer ")

			token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !token.Valid {
				logger.Warn("rejected token", "error", err)
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
				return
			}

			ctx := r.Context()
			if sub, err := token.Claims.GetSubject(); err == nil {
				if userID, err := uuid.Parse(sub); err == nil {
					ctx = context.WithValue(ctx, userIDKey, userID)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type tenantChecker interface {
	Exists(ctx context.Context, tenantID uuid.UUID) (bool, error)
}

// TenantResolver reads X-Tenant-ID, checks it against the tenants table and
// scopes the request context. Every downstream query filters by this id.
func TenantResolver(tenants tenantChecker, logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("X-Tenant-ID")
			tenantID, err := uuid.Parse(raw)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing or invalid X-Tenant-ID header"})
				return
			}
			exists, err := tenants.Exists(r.Context(), tenantID)
			if err != nil {
				logger.Error("failed to check tenant", "tenant_id", tenantID, "error", err)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
				return
			}
			if !exists {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown tenant"})
				return
			}
			ctx := tenancy.WithTenantID(r.Context(), tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
