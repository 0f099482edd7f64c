// Package auth identifies the caller from a bearer token. Tokens are
// optional: the drive backend remains the authority and receives the
// caller's credentials as-is. A token that is present must verify.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/mosacloud/drive/internal/logging"
	"github.com/mosacloud/drive/internal/metrics"
	"github.com/mosacloud/drive/internal/protocol"
)

type contextKey string

const principalKey contextKey = "principal"

// Principal is a verified caller.
type Principal struct {
	// UserID is the drive user id, when the token carries it.
	UserID  string
	Subject string
	Email   string
	Method  string // jwt or oidc
}

// Verifier checks a raw bearer token.
type Verifier interface {
	Name() string
	Verify(ctx context.Context, token string) (*Principal, error)
}

// ErrNoVerifier is returned when a token is sent but no verifier is
// configured to check it.
var ErrNoVerifier = errors.New("no token verifier configured")

// Authenticator tries each verifier in turn.
type Authenticator struct {
	verifiers []Verifier
}

// New creates an authenticator. Nil verifiers are skipped.
func New(verifiers ...Verifier) *Authenticator {
	a := &Authenticator{}
	for _, v := range verifiers {
		if v != nil && !isNilVerifier(v) {
			a.verifiers = append(a.verifiers, v)
		}
	}
	return a
}

func isNilVerifier(v Verifier) bool {
	switch t := v.(type) {
	case *JWTVerifier:
		return t == nil
	case *OIDCVerifier:
		return t == nil
	}
	return false
}

// Enabled reports whether any verifier is configured.
func (a *Authenticator) Enabled() bool {
	return len(a.verifiers) > 0
}

// Verify checks token against every verifier and returns the first
// success.
func (a *Authenticator) Verify(ctx context.Context, token string) (*Principal, error) {
	if !a.Enabled() {
		return nil, ErrNoVerifier
	}
	var errs []error
	for _, v := range a.verifiers {
		p, err := v.Verify(ctx, token)
		if err == nil {
			metrics.RecordAuthAttempt(v.Name(), true)
			return p, nil
		}
		metrics.RecordAuthAttempt(v.Name(), false)
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

// Middleware attaches the verified principal to the request context.
// Requests without a bearer token pass through untouched, and so do all
// requests when no verifier is configured.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" || !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		p, err := a.Verify(r.Context(), token)
		if err != nil {
			logging.WithContext(r.Context()).Debug("bearer token rejected", logging.Err(err))
			sendAuthError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := WithPrincipal(r.Context(), p)
		ctx = logging.WithFields(ctx, logging.String("subject", p.Subject))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal returns the principal of ctx, or nil.
func GetPrincipal(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}

func extractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func sendAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="drive-navigation"`)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: msg, Code: status})
}
