package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/psantana5/dispatch-proxy/pkg/logging"
)

type contextKey string

const principalContextKey contextKey = "principal"

// CallerHeader carries the caller's ledger address
const CallerHeader = "X-Caller"

// WithPrincipal returns a context carrying p
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext returns the authenticated principal, if any
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*Principal)
	return p, ok && p != nil
}

// Middleware authenticates requests with "Authorization: Bearer <key>" and the
// X-Caller address header. Paths in skip are served without authentication.
func Middleware(ks *KeyStore, logger *logging.Logger, skip ...string) func(http.Handler) http.Handler {
	open := make(map[string]bool, len(skip))
	for _, path := range skip {
		open[path] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if open[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			key, ok := bearerToken(r)
			if !ok {
				unauthorized(w, "missing bearer api key")
				return
			}
			caller := r.Header.Get(CallerHeader)
			if !common.IsHexAddress(caller) {
				unauthorized(w, "missing or malformed "+CallerHeader+" header")
				return
			}

			p, err := ks.Authenticate(common.HexToAddress(caller), key)
			if err != nil {
				logger.Warn("Authentication failed", logging.Fields{
					"caller": caller,
					"path":   r.URL.Path,
					"error":  err.Error(),
				})
				unauthorized(w, "invalid credentials")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="proxyd"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized", "message": msg})
}
