// ABOUTME: Bearer authentication for state-changing API routes.
// ABOUTME: Accepts a shared static token or an HS256 JWT whose subject becomes the caller.

package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/2389/sdrhub/internal/errors"
)

type contextKey string

const callerContextKey contextKey = "caller"

const (
	// Anonymous is the caller recorded when authentication is disabled.
	Anonymous = "anonymous"
	// StaticCaller is the caller recorded for the shared static token.
	StaticCaller = "token"
)

// Options configures accepted credentials. With both fields empty every
// request passes as Anonymous.
type Options struct {
	Token     string
	JWTSecret string
}

func (o Options) Enabled() bool {
	return o.Token != "" || o.JWTSecret != ""
}

// Middleware rejects requests without a valid bearer credential: 401 when
// none is sent, 403 when it does not verify.
func Middleware(opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := Anonymous
			if opts.Enabled() {
				got := extractToken(r.Header.Get("Authorization"))
				if got == "" {
					apierrors.WriteError(w, http.StatusUnauthorized, apierrors.ErrUnauthorized, "missing bearer token")
					return
				}
				var err error
				if caller, err = opts.verify(got); err != nil {
					apierrors.WriteError(w, http.StatusForbidden, apierrors.ErrForbidden, err.Error())
					return
				}
			}
			ctx := context.WithValue(r.Context(), callerContextKey, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

var errInvalidToken = errors.New("invalid bearer token")

func (o Options) verify(token string) (string, error) {
	if o.Token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(o.Token)) == 1 {
		return StaticCaller, nil
	}
	if o.JWTSecret == "" {
		return "", errInvalidToken
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(o.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return "", errInvalidToken
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// CallerFromContext returns who passed the middleware, or "" outside it.
func CallerFromContext(ctx context.Context) string {
	caller, _ := ctx.Value(callerContextKey).(string)
	return caller
}

func extractToken(authHeader string) string {
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
