package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/fleetdesk/internal/authz"
	"github.com/odyssey-erp/fleetdesk/internal/platform/httpx"
	"github.com/odyssey-erp/fleetdesk/internal/shared"
)

// Authorizer decides permissions for the current subject.
type Authorizer interface {
	CheckPermission(ctx context.Context, permission string, c authz.Context) authz.Result
}

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Authorizer Authorizer
	Logger     *slog.Logger
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.require(normalizePermissions(perms), false)
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.require(normalizePermissions(perms), true)
}

func (m Middleware) require(required []string, all bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			userID := shared.SubjectFromContext(r.Context())
			if userID <= 0 {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", authz.ReasonNotAuthenticated)
				return
			}
			c := authz.Context{SubjectID: authz.Ptr(userID)}
			var reasons []string
			granted := 0
			for _, perm := range required {
				result := m.Authorizer.CheckPermission(r.Context(), perm, c)
				if result.Allowed && !result.RequiresApproval {
					granted++
					if !all {
						break
					}
					continue
				}
				reasons = append(reasons, result.Reason)
				if all {
					break
				}
			}
			if (all && granted == len(required)) || (!all && granted > 0) {
				next.ServeHTTP(w, r)
				return
			}
			if m.Logger != nil {
				m.Logger.Info("rbac denied", slog.Int64("user_id", userID), slog.String("path", r.URL.Path), slog.Any("required", required))
			}
			httpx.Problem(w, http.StatusForbidden, "Forbidden", strings.Join(reasons, "; "))
		})
	}
}
