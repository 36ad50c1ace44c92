// Package auth implements bearer-token authentication for the gateway's
// invoking and mutating routes. Authentication is a deployment-level switch:
// with no token configured every request is allowed.
package auth

import (
	"net/http"
	"strings"
)

// Verifier checks request credentials against the configured deployment token.
type Verifier struct {
	token string
}

// NewVerifier creates a verifier. An empty token disables authentication.
func NewVerifier(token string) *Verifier {
	return &Verifier{token: token}
}

// Enabled reports whether a token is configured.
func (v *Verifier) Enabled() bool { return v.token != "" }

// Allow reports whether the request carries valid credentials. Accepts
// "Authorization: Bearer <token>" and the bare token for curl convenience.
func (v *Verifier) Allow(r *http.Request) bool {
	if v.token == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return false
	}
	credential := header
	if strings.HasPrefix(header, "Bearer ") {
		credential = strings.TrimPrefix(header, "Bearer ")
	}
	return credential == v.token
}
