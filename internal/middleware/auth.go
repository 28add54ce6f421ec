package middleware

import (
	"context"
	"net/http"

	"github.com/mesophy/signaged/internal/audit"
	apperrors "github.com/mesophy/signaged/internal/errors"
	"github.com/mesophy/signaged/internal/httputil"
	"github.com/mesophy/signaged/internal/util"
)

type contextKey string

const OperatorContextKey contextKey = "operator"

// GetOperator returns the basic-auth user of an authenticated control request.
func GetOperator(ctx context.Context) string {
	if user, ok := ctx.Value(OperatorContextKey).(string); ok {
		return user
	}
	return ""
}

// ControlAuthMiddleware guards control endpoints with HTTP basic auth
// checked against a bcrypt hash. Without a hash control is disabled.
type ControlAuthMiddleware struct {
	passwordHash string
}

func NewControlAuthMiddleware(passwordHash string) *ControlAuthMiddleware {
	return &ControlAuthMiddleware{passwordHash: passwordHash}
}

func (m *ControlAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.passwordHash == "" {
			httputil.WriteError(w, apperrors.Forbidden("Control API is disabled"))
			return
		}

		user, password, ok := r.BasicAuth()
		if !ok || !util.CheckPasswordHash(password, m.passwordHash) {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventAuthFailure,
				Details: map[string]interface{}{"path": r.URL.Path},
			})
			w.Header().Set("WWW-Authenticate", `Basic realm="signaged", charset="UTF-8"`)
			httputil.WriteError(w, apperrors.Unauthorized("Invalid credentials"))
			return
		}

		ctx := context.WithValue(r.Context(), OperatorContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
