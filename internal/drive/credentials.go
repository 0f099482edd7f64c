package drive

import (
	"context"
	"encoding/hex"
	"net/http"

	"golang.org/x/crypto/blake2b"
)

// Credentials are forwarded verbatim from the browser request to the
// drive backend, so lookups run with the caller's permissions.
type Credentials struct {
	Authorization string
	Cookie        string
}

type credentialsKey struct{}

// WithCredentials attaches creds to ctx.
func WithCredentials(ctx context.Context, creds Credentials) context.Context {
	return context.WithValue(ctx, credentialsKey{}, creds)
}

// CredentialsFrom returns the credentials attached to ctx.
func CredentialsFrom(ctx context.Context) Credentials {
	creds, _ := ctx.Value(credentialsKey{}).(Credentials)
	return creds
}

// CredentialsFromRequest copies the headers that identify the caller.
func CredentialsFromRequest(r *http.Request) Credentials {
	return Credentials{
		Authorization: r.Header.Get("Authorization"),
		Cookie:        r.Header.Get("Cookie"),
	}
}

// IsZero reports whether no credentials are present.
func (c Credentials) IsZero() bool {
	return c.Authorization == "" && c.Cookie == ""
}

// Fingerprint is a stable digest of the credentials, used to partition
// caches per caller without keeping secrets in memory as keys.
func (c Credentials) Fingerprint() string {
	if c.IsZero() {
		return "anonymous"
	}
	sum := blake2b.Sum256([]byte(c.Authorization + "\x00" + c.Cookie))
	return hex.EncodeToString(sum[:16])
}

func (c Credentials) apply(req *http.Request) {
	if c.Authorization != "" {
		req.Header.Set("Authorization", c.Authorization)
	}
	if c.Cookie != "" {
		req.Header.Set("Cookie", c.Cookie)
	}
}
