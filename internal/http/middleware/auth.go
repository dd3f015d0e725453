package middlewarex

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"esimflow/internal/config"
	"esimflow/internal/store/repositories"
)

// APIKeyAuth authenticates order-API calls by bearer key hash.
func APIKeyAuth(keys repositories.APIKeyRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "missing bearer", http.StatusUnauthorized)
				return
			}
			key := strings.TrimPrefix(auth, "Bearer ")
			h := sha256.Sum256([]byte(key))
			hx := hex.EncodeToString(h[:])

			clientID, err := keys.FindClientByKeyHash(r.Context(), hx)
			if err != nil {
				http.Error(w, "invalid key", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClientID(r.Context(), clientID)))
		})
	}
}

// AdminAuth guards the administrative trigger endpoints with a static token.
func AdminAuth(cfg config.Cfg) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Sec.AdminToken == "" {
				http.Error(w, "admin API disabled", http.StatusForbidden)
				return
			}
			tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(tok), []byte(cfg.Sec.AdminToken)) != 1 {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
