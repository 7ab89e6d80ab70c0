package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/xenking/skybites/internal/domain/auth"
	"github.com/xenking/skybites/pkg/httpmiddleware"
)

// apiKeyHeader carries the client's API key.
const apiKeyHeader = "api_key"

// authInfoKey is the context key for the validated API key info.
type authInfoKey struct{}

// AuthInfoFromContext returns the validated API key info for the request, or
// nil for unauthenticated requests.
func AuthInfoFromContext(ctx context.Context) *auth.APIKeyInfo {
	info, _ := ctx.Value(authInfoKey{}).(*auth.APIKeyInfo)
	return info
}

// SecurityHandler authenticates API requests via HMAC-SHA256 hashed API keys.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurityHandler creates a SecurityHandler with the given API key
// repository and HMAC pepper.
func NewSecurityHandler(apikeys auth.Repository, pepper []byte) *SecurityHandler {
	return &SecurityHandler{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// Middleware returns a middleware that rejects requests without a valid API
// key. The validated key info is stored in the request context.
func (s *SecurityHandler) Middleware() httpmiddleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(apiKeyHeader)
			if key == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			mac := hmac.New(sha256.New, s.pepper)
			mac.Write([]byte(key))
			hash := mac.Sum(nil)

			info, err := s.apikeys.FindByHash(r.Context(), hex.EncodeToString(hash))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			// Constant-time comparison guards against timing side-channels
			// even though the lookup already succeeded: the stored hash could
			// differ from what we computed if the repository returns a
			// stale/wrong row.
			stored, err := hex.DecodeString(info.KeyHash)
			if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			ctx := context.WithValue(r.Context(), authInfoKey{}, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireStaff rejects the request with 403 unless the validated API key
// carries the staff scope. It reports whether the request may proceed.
func (h *Handler) requireStaff(w http.ResponseWriter, r *http.Request) bool {
	info := AuthInfoFromContext(r.Context())
	if info == nil || !info.HasScope(auth.ScopeStaff) {
		writeError(w, http.StatusForbidden, "staff scope required")
		return false
	}
	return true
}
