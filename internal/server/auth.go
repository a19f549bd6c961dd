package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/astrorag-go/internal/logging"
)

// authRealm is announced in WWW-Authenticate challenges.
const authRealm = "astrorag"

// authMiddleware requires "Authorization: Bearer <apiKey>" on next. An empty
// apiKey disables the check; New logs a warning for that case once.
//
// Tokens are compared as SHA-256 digests in constant time, so neither the
// comparison time nor the log output reveals anything about the key.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := sha256.Sum256([]byte(apiKey))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			unauthorized(w, r, "missing bearer token", `Bearer realm="`+authRealm+`"`)
			return
		}
		got := sha256.Sum256([]byte(token))
		if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
			unauthorized(w, r, "invalid token", `Bearer realm="`+authRealm+`", error="invalid_token"`)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter, r *http.Request, reason, challenge string) {
	logging.FromContext(r.Context()).Warn("auth: rejected",
		slog.String("reason", reason),
		slog.String("path", r.URL.Path),
	)
	w.Header().Set("WWW-Authenticate", challenge)
	http.Error(w, reason, http.StatusUnauthorized)
}

// bearerToken returns the token of a "Bearer" Authorization header. The
// scheme is case-insensitive.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
