package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// SecretHeader carries the shared secret on HTTP and WebSocket requests
const SecretHeader = "X-Dbperms-Secret"

// AuthHandler checks the shared secret presented by HTTP clients
type AuthHandler struct {
	sharedSecret string
}

// NewAuthHandler creates a new authentication handler. An empty secret
// disables authentication.
func NewAuthHandler(sharedSecret string) *AuthHandler {
	return &AuthHandler{
		sharedSecret: sharedSecret,
	}
}

// Enabled reports whether a shared secret is configured
func (a *AuthHandler) Enabled() bool {
	return a.sharedSecret != ""
}

// VerifySecret compares secret with the configured one in constant time
func (a *AuthHandler) VerifySecret(secret string) bool {
	if !a.Enabled() {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(a.sharedSecret), []byte(secret)) == 1
}

// Authenticate checks the secret header of r, falling back to a bearer
// Authorization header.
func (a *AuthHandler) Authenticate(r *http.Request) bool {
	if !a.Enabled() {
		return true
	}
	secret := r.Header.Get(SecretHeader)
	if secret == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			secret = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	return a.VerifySecret(secret)
}
