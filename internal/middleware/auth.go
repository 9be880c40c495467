package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"farm-access/internal/domain"
)

// LoginInterval is the minimum time between two recorded logins of the same
// subject in the same tenant.
const LoginInterval = 15 * time.Minute

// LoginRecorder stores a subject's successful authentication.
type LoginRecorder interface {
	RecordLogin(ctx context.Context, subjectID, tenantID string, at time.Time) error
}

// Authenticator validates Bearer tokens and places the caller's principal in
// the request context. Successful authentications feed the last-login table
// used by stale-access detection.
type Authenticator struct {
	validator JWTValidator
	logins    LoginRecorder
	logger    *slog.Logger
	now       domain.Clock

	recorded sync.Map // subject|tenant -> time.Time
}

// NewAuthenticator creates an Authenticator. logins may be nil.
func NewAuthenticator(validator JWTValidator, logins LoginRecorder, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		validator: validator,
		logins:    logins,
		logger:    logger.With("component", "auth"),
		now:       time.Now,
	}
}

// Middleware returns the HTTP middleware. Requests without a valid token
// carrying both a subject and a tenant get 401.
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				writeUnauthorized(w, "unauthorized: provide a valid JWT Bearer token")
				return
			}
			claims, err := a.validator.Validate(r.Context(), strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				a.logger.Debug("token rejected", "error", err, "request_id", RequestIDFromContext(r.Context()))
				writeUnauthorized(w, "unauthorized: invalid token")
				return
			}
			if claims.Subject == "" || claims.Tenant == "" {
				writeUnauthorized(w, "unauthorized: token must carry sub and tenant claims")
				return
			}

			p := domain.ContextPrincipal{Subject: claims.Subject, Tenant: claims.Tenant}
			if claims.Name != nil {
				p.Name = *claims.Name
			}
			a.recordLogin(r.Context(), p)
			next.ServeHTTP(w, r.WithContext(domain.WithPrincipal(r.Context(), p)))
		})
	}
}

func (a *Authenticator) recordLogin(ctx context.Context, p domain.ContextPrincipal) {
	if a.logins == nil {
		return
	}
	now := a.now().UTC()
	key := p.Subject + "|" + p.Tenant
	if v, ok := a.recorded.Load(key); ok && now.Sub(v.(time.Time)) < LoginInterval {
		return
	}
	if err := a.logins.RecordLogin(ctx, p.Subject, p.Tenant, now); err != nil {
		a.logger.Warn("record login failed", "subject", p.Subject, "tenant", p.Tenant, "error", err)
		return
	}
	a.recorded.Store(key, now)
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    401,
		"message": msg,
	})
}
