package auth

import (
	"net/http"
	"strings"

	"github.com/testkart/backend-testkart/internal/common"
)

// Middleware wires authentication context into HTTP handlers.
type Middleware struct {
	Tokens *Tokens
}

// RequireStudent enforces that a valid token with the student role is present
// before executing the next handler. Any other role is refused.
func (m Middleware) RequireStudent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Tokens == nil {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}
		token := extractBearer(r)
		if token == "" {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}
		claims, err := m.Tokens.Parse(token)
		if err != nil {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}
		if claims.Role != RoleStudent {
			common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "students only", nil)
			return
		}
		ctx := common.WithStudent(r.Context(), claims.StudentID, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearer(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
