package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/mosacloud/drive/internal/logging"
	"github.com/mosacloud/drive/internal/metrics"
	"github.com/mosacloud/drive/internal/provenance"
)

// StateCookieName holds the sealed state for the cookie backend.
const StateCookieName = "drive_nav_ctx"

const nonceSize = 24

var errBadSeal = errors.New("state cookie cannot be opened")

// CookieBackend keeps the whole state client-side in a sealed session
// cookie. Nothing is stored on the server, so Purge is a no-op and the
// context ends with the browser session. The state cookie is shared by
// every tab of the browser.
type CookieBackend struct {
	key    [32]byte
	cookie CookieOptions
}

// NewCookieBackend derives the sealing key from secret.
func NewCookieBackend(secret string, cookie CookieOptions) (*CookieBackend, error) {
	if len(secret) < 32 {
		return nil, errors.New("cookie session secret must be at least 32 bytes")
	}
	return &CookieBackend{key: blake2b.Sum256([]byte(secret)), cookie: cookie}, nil
}

// Name implements Backend.
func (b *CookieBackend) Name() string { return "cookie" }

// Open implements Backend.
func (b *CookieBackend) Open(w http.ResponseWriter, r *http.Request) (Store, error) {
	id := Identify(w, r, b.cookie)
	return &cookieStore{backend: b, w: w, r: r, id: id}, nil
}

// Purge implements Backend.
func (b *CookieBackend) Purge(context.Context, time.Duration) (int64, error) { return 0, nil }

// Close implements Backend.
func (b *CookieBackend) Close() error { return nil }

func (b *CookieBackend) seal(st State) (string, error) {
	plain, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plain, &nonce, &b.key)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (b *CookieBackend) open(value string) (State, error) {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return State{}, errBadSeal
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return State{}, errBadSeal
	}
	var st State
	if err := json.Unmarshal(plain, &st); err != nil {
		return State{}, errBadSeal
	}
	return st, nil
}

type cookieStore struct {
	backend *CookieBackend
	w       http.ResponseWriter
	r       *http.Request
	id      string

	// written is the state set during this request, if any. The request
	// cookie still holds the old value.
	written *State
}

func (s *cookieStore) Load(ctx context.Context) (State, error) {
	if s.written != nil {
		return *s.written, nil
	}

	start := time.Now()
	defer func() { metrics.RecordSessionOp("cookie", "load", time.Since(start)) }()

	c, err := s.r.Cookie(StateCookieName)
	if err != nil {
		return State{}, nil
	}
	st, err := s.backend.open(c.Value)
	if err != nil {
		// Tampered or sealed with a rotated secret: start over.
		logging.WithContext(ctx).Debug("discarding navigation state cookie", logging.Err(err))
		return State{}, nil
	}
	return st, nil
}

func (s *cookieStore) Save(ctx context.Context, st State) error {
	start := time.Now()
	defer func() { metrics.RecordSessionOp("cookie", "save", time.Since(start)) }()

	value, err := s.backend.seal(st)
	if err != nil {
		return err
	}
	s.set(value, 0)
	s.written = &st
	return nil
}

func (s *cookieStore) Clear(ctx context.Context) error {
	s.set("", -1)
	s.written = &State{}
	return nil
}

// ClearMarks compares against the state as last written in this
// request. Concurrent requests each carry their own cookie, and the
// browser keeps whichever response arrives last.
func (s *cookieStore) ClearMarks(ctx context.Context, expected provenance.Marks) (bool, error) {
	st, err := s.Load(ctx)
	if err != nil || st.Marks != expected {
		return false, err
	}
	st.Marks = provenance.Marks{}
	if err := s.Save(ctx, st); err != nil {
		return false, err
	}
	return true, nil
}

func (s *cookieStore) TakeRedirect(ctx context.Context) (string, error) {
	st, err := s.Load(ctx)
	if err != nil || st.RedirectAfterLogin == "" {
		return "", err
	}
	target := st.RedirectAfterLogin
	st.RedirectAfterLogin = ""
	if err := s.Save(ctx, st); err != nil {
		return "", err
	}
	return target, nil
}

func (s *cookieStore) Fingerprint() string {
	return Fingerprint(s.id)
}

func (s *cookieStore) set(value string, maxAge int) {
	http.SetCookie(s.w, &http.Cookie{
		Name:     StateCookieName,
		Value:    value,
		Path:     s.backend.cookie.path(),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.backend.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
