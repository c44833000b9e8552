package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/coursekart/internal/domain/auth"
)

// Scopes required by route groups.
const (
	ScopeAPI   = "api"
	ScopeAdmin = "admin"
)

type userIDKey struct{}

// userID returns the authenticated user ID stored by requireUser.
func userID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// apiKeyFrom extracts the raw API key from the Authorization bearer token,
// falling back to the X-API-Key header.
func apiKeyFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if raw, ok := strings.CutPrefix(h, "Bearer "); ok {
			return raw
		}
	}
	return r.Header.Get("X-API-Key")
}

// requireAPIKey authenticates the request's API key and checks it carries the
// given scope.
func (h *Handler) requireAPIKey(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, err := h.verifier.Verify(r.Context(), apiKeyFrom(r))
			if err != nil {
				if !errors.Is(err, auth.ErrKeyNotFound) {
					zctx.From(r.Context()).Error("verify api key", zap.Error(err))
				}
				respond(w, http.StatusUnauthorized, errorBody{
					Code: "UNAUTHORIZED", Message: "invalid api key",
				})
				return
			}
			if !info.HasScope(scope) {
				respond(w, http.StatusForbidden, errorBody{
					Code: "FORBIDDEN", Message: "insufficient scope",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireUser demands an X-User-ID header and stores it in the context. The
// gateway in front of this service resolves sessions to user IDs.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if id == "" {
			respond(w, http.StatusUnauthorized, errorBody{
				Code: "UNAUTHORIZED", Message: "missing X-User-ID header",
			})
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
