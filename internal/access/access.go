// Package access provides the role-check collaborator consumed by the
// vault's privileged operations, plus the HTTP middleware that resolves a
// bearer token to a caller account. Role storage lives here; enforcement
// lives at the call sites.
package access

import (
	"context"
	"net/http"
	"strings"
	"sync"
)

// Roles checked by privileged vault operations.
const (
	RoleAgent = "agent"
	RoleAdmin = "admin"
)

type ctxKey struct{}

// Registry maps bearer tokens to accounts and accounts to roles.
type Registry struct {
	mu     sync.RWMutex
	tokens map[string]string          // token → account
	roles  map[string]map[string]bool // role → account set
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tokens: make(map[string]string),
		roles:  make(map[string]map[string]bool),
	}
}

// Grant assigns a role to an account, reachable via the given token.
func (r *Registry) Grant(role, account, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if token != "" {
		r.tokens[token] = account
	}
	if r.roles[role] == nil {
		r.roles[role] = make(map[string]bool)
	}
	r.roles[role][account] = true
}

// HasRole reports whether account holds role.
func (r *Registry) HasRole(role, account string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roles[role][account]
}

// Middleware resolves the Authorization bearer token (if any) to an account
// and stores it on the request context. Requests without a token pass
// through unauthenticated; role checks happen per handler.
func (r *Registry) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		auth := req.Header.Get("Authorization")
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			r.mu.RLock()
			account := r.tokens[token]
			r.mu.RUnlock()
			if account != "" {
				req = req.WithContext(context.WithValue(req.Context(), ctxKey{}, account))
			}
		}
		next.ServeHTTP(w, req)
	})
}

// Caller returns the authenticated account on ctx, or "" if none.
func Caller(ctx context.Context) string {
	account, _ := ctx.Value(ctxKey{}).(string)
	return account
}
