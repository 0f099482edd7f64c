// Package session keeps the navigation context of each browsing session:
// the default route and manually reached item marks, plus the URL a
// visitor tried to open before being sent to log in.
package session

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/mosacloud/drive/internal/logging"
	"github.com/mosacloud/drive/internal/metrics"
	"github.com/mosacloud/drive/internal/provenance"
)

const (
	// HeaderName lets a client scope the context to a single tab.
	HeaderName = "X-Navigation-Session"
	// CookieName carries the session id when no header is sent.
	CookieName = "drive_nav_sid"
)

// ErrNoSession is returned when a store is used without a session id.
var ErrNoSession = errors.New("no navigation session")

// State is everything kept per session.
type State struct {
	Marks              provenance.Marks `json:"marks"`
	RedirectAfterLogin string           `json:"redirect_after_login,omitempty"`
}

// Store is the navigation context of one session.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, st State) error
	Clear(ctx context.Context) error
	// ClearMarks drops the marks only if they still equal expected and
	// reports whether it did. The redirect URL is left alone.
	ClearMarks(ctx context.Context, expected provenance.Marks) (bool, error)
	// TakeRedirect returns the remembered redirect URL and forgets it.
	// Concurrent callers never get the same URL twice.
	TakeRedirect(ctx context.Context) (string, error)
	// Fingerprint identifies the session in logs and events without
	// exposing its id.
	Fingerprint() string
}

// Backend opens the Store for the session an HTTP request belongs to.
type Backend interface {
	Name() string
	Open(w http.ResponseWriter, r *http.Request) (Store, error)
	// Purge drops sessions idle for longer than maxIdle.
	Purge(ctx context.Context, maxIdle time.Duration) (int64, error)
	Close() error
}

// Repository persists states by session id.
type Repository interface {
	Get(ctx context.Context, id string) (State, bool, error)
	Put(ctx context.Context, id string, st State) error
	Delete(ctx context.Context, id string) error
	ClearMarks(ctx context.Context, id string, expected provenance.Marks) (bool, error)
	TakeRedirect(ctx context.Context, id string) (string, error)
	// Touch marks a session as used without changing it.
	Touch(ctx context.Context, id string) error
	DeleteIdle(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// CookieOptions controls the session id cookie.
type CookieOptions struct {
	Secure bool
	Path   string
}

func (o CookieOptions) path() string {
	if o.Path == "" {
		return "/"
	}
	return o.Path
}

// Identify returns the session id of r. A per-tab header wins over the
// cookie. When neither is present a new id is minted and set as a
// session cookie on w.
func Identify(w http.ResponseWriter, r *http.Request, opts CookieOptions) string {
	if id := r.Header.Get(HeaderName); validID(id) {
		return id
	}
	if c, err := r.Cookie(CookieName); err == nil && validID(c.Value) {
		return c.Value
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     opts.path(),
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	// Visible to handlers running later in the same request.
	r.AddCookie(&http.Cookie{Name: CookieName, Value: id})
	return id
}

func validID(id string) bool {
	if id == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// Fingerprint returns a short digest of a session id.
func Fingerprint(id string) string {
	sum := blake2b.Sum256([]byte(id))
	return hex.EncodeToString(sum[:8])
}

// KeyedBackend serves sessions from a Repository keyed by session id.
type KeyedBackend struct {
	name   string
	repo   Repository
	cookie CookieOptions
	now    func() time.Time
}

// NewKeyedBackend wraps repo.
func NewKeyedBackend(name string, repo Repository, cookie CookieOptions) *KeyedBackend {
	return &KeyedBackend{name: name, repo: repo, cookie: cookie, now: time.Now}
}

// Name implements Backend.
func (b *KeyedBackend) Name() string { return b.name }

// Open implements Backend.
func (b *KeyedBackend) Open(w http.ResponseWriter, r *http.Request) (Store, error) {
	return b.Session(Identify(w, r, b.cookie))
}

// Session returns the store for a known session id.
func (b *KeyedBackend) Session(id string) (Store, error) {
	if id == "" {
		return nil, ErrNoSession
	}
	return &keyedStore{backend: b, id: id}, nil
}

// Purge implements Backend.
func (b *KeyedBackend) Purge(ctx context.Context, maxIdle time.Duration) (int64, error) {
	start := time.Now()
	defer func() { metrics.RecordSessionOp(b.name, "purge", time.Since(start)) }()
	n, err := b.repo.DeleteIdle(ctx, b.now().Add(-maxIdle))
	if err == nil {
		metrics.RecordSessionsPurged(n)
	}
	return n, err
}

// Close implements Backend.
func (b *KeyedBackend) Close() error {
	return b.repo.Close()
}

type keyedStore struct {
	backend *KeyedBackend
	id      string
}

func (s *keyedStore) Load(ctx context.Context) (State, error) {
	start := time.Now()
	defer func() { metrics.RecordSessionOp(s.backend.name, "load", time.Since(start)) }()
	st, ok, err := s.backend.repo.Get(ctx, s.id)
	if err != nil || !ok {
		return st, err
	}
	// Idle time counts from the last read too.
	if err := s.backend.repo.Touch(ctx, s.id); err != nil {
		logging.WithContext(ctx).Warn("touch navigation session", logging.Err(err))
	}
	return st, nil
}

func (s *keyedStore) Save(ctx context.Context, st State) error {
	start := time.Now()
	defer func() { metrics.RecordSessionOp(s.backend.name, "save", time.Since(start)) }()
	return s.backend.repo.Put(ctx, s.id, st)
}

func (s *keyedStore) Clear(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.RecordSessionOp(s.backend.name, "clear", time.Since(start)) }()
	return s.backend.repo.Delete(ctx, s.id)
}

func (s *keyedStore) ClearMarks(ctx context.Context, expected provenance.Marks) (bool, error) {
	start := time.Now()
	defer func() { metrics.RecordSessionOp(s.backend.name, "clear_marks", time.Since(start)) }()
	return s.backend.repo.ClearMarks(ctx, s.id, expected)
}

func (s *keyedStore) TakeRedirect(ctx context.Context) (string, error) {
	start := time.Now()
	defer func() { metrics.RecordSessionOp(s.backend.name, "take_redirect", time.Since(start)) }()
	return s.backend.repo.TakeRedirect(ctx, s.id)
}

func (s *keyedStore) Fingerprint() string {
	return Fingerprint(s.id)
}
