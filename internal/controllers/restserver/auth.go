package restserver

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/chrissnell/powermeter/internal/storage"
)

type contextKey string

const principalContextKey contextKey = "principal"

// principal is the authenticated caller of a dashboard API request. A
// service caller holds the store's service key and may act on all users.
type principal struct {
	UserID  string
	Service bool
}

// scope is the set of rows a bulk operation may touch for this caller. A
// service caller that names no user spans all users.
func (p principal) scope() storage.Scope {
	if p.Service && p.UserID == "" {
		return storage.AllUsers()
	}
	return storage.UserScope(p.UserID)
}

func principalFromContext(ctx context.Context) (principal, bool) {
	p, ok := ctx.Value(principalContextKey).(principal)
	return p, ok
}

// bearerToken extracts the token from the Authorization header, or from the
// token query parameter for websocket clients that cannot set headers
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

func (c *Controller) isServiceKey(token string) bool {
	if c.deps.Endpoint == nil || token == "" {
		return false
	}
	ep, err := c.deps.Endpoint()
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(ep.ServiceKey)) == 1
}

// authMiddleware resolves the bearer token to a principal
func (c *Controller) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			c.handlers.formatter.WriteError(w, r, http.StatusUnauthorized, "Missing authorization header")
			return
		}

		var p principal
		if c.isServiceKey(token) {
			// Service callers may name the user they act for
			p = principal{UserID: r.URL.Query().Get("user_id"), Service: true}
		} else {
			userID, err := c.deps.Store.ResolveToken(r.Context(), token)
			if errors.Is(err, storage.ErrInvalidToken) {
				c.logger.Debugf("rejected token for %s", r.URL.Path)
				c.handlers.formatter.WriteError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			if err != nil {
				c.logger.Errorf("error resolving token: %v", err)
				c.handlers.formatter.WriteError(w, r, http.StatusInternalServerError, "could not verify token")
				return
			}
			p = principal{UserID: userID}
		}

		ctx := context.WithValue(r.Context(), principalContextKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireUser returns the user a per-user endpoint acts for, writing a 400
// when a service caller did not name one
func (h *Handlers) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	p, ok := principalFromContext(r.Context())
	if !ok {
		h.formatter.WriteError(w, r, http.StatusUnauthorized, "Missing authorization header")
		return "", false
	}
	if p.UserID == "" {
		h.formatter.WriteError(w, r, http.StatusBadRequest, "user_id is required for service requests")
		return "", false
	}
	return p.UserID, true
}
