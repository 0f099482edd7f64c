// Package navigation records how a visitor moves through the explorer
// and turns that history into breadcrumb trails.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mosacloud/drive/internal/breadcrumbs"
	"github.com/mosacloud/drive/internal/drive"
	"github.com/mosacloud/drive/internal/events"
	"github.com/mosacloud/drive/internal/logging"
	"github.com/mosacloud/drive/internal/menu"
	"github.com/mosacloud/drive/internal/metrics"
	"github.com/mosacloud/drive/internal/provenance"
	"github.com/mosacloud/drive/internal/session"
)

var (
	ErrUnknownRoute = errors.New("unknown default route")
	ErrInvalidItem  = errors.New("item id is required")
	ErrInvalidURL   = errors.New("only same-origin paths are accepted")
)

// Publisher receives navigation events.
type Publisher interface {
	Publish(events.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(events.Event) {}

// forgetter is implemented by lookups that cache records.
type forgetter interface {
	Forget(id string)
}

// Tracker applies navigation triggers to a session store and resolves
// trails against the drive API.
type Tracker struct {
	lookup        drive.Lookup
	publisher     Publisher
	lookupTimeout time.Duration
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithPublisher sends events to p.
func WithPublisher(p Publisher) Option {
	return func(t *Tracker) { t.publisher = p }
}

// WithLookupTimeout bounds each drive lookup of a trail resolution.
func WithLookupTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.lookupTimeout = d }
}

// NewTracker creates a tracker.
func NewTracker(lookup drive.Lookup, opts ...Option) *Tracker {
	t := &Tracker{
		lookup:        lookup,
		publisher:     nopPublisher{},
		lookupTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// EnterRoute records that a default route page was displayed.
func (t *Tracker) EnterRoute(ctx context.Context, store session.Store, route provenance.DefaultRoute) error {
	if !route.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownRoute, route)
	}
	err := t.update(ctx, store, func(st *session.State) {
		st.Marks = st.Marks.WithRoute(route)
	})
	if err != nil {
		return err
	}
	metrics.RecordTrigger("route")
	t.publish(store, events.Event{Type: events.EventRouteEntered, Route: string(route)})
	return nil
}

// NavigateTo records that the visitor clicked into itemID.
func (t *Tracker) NavigateTo(ctx context.Context, store session.Store, itemID string) error {
	if itemID == "" {
		return ErrInvalidItem
	}
	err := t.update(ctx, store, func(st *session.State) {
		st.Marks = st.Marks.WithManualItem(itemID)
	})
	if err != nil {
		return err
	}
	metrics.RecordTrigger("folder")
	t.publish(store, events.Event{Type: events.EventFolderNavigated, ItemID: itemID})
	return nil
}

// Clear discards both navigation marks.
func (t *Tracker) Clear(ctx context.Context, store session.Store) error {
	err := t.update(ctx, store, func(st *session.State) {
		st.Marks = st.Marks.Invalidate()
	})
	if err != nil {
		return err
	}
	t.publish(store, events.Event{Type: events.EventProvenanceCleared})
	return nil
}

// Marks returns the marks currently stored for a session.
func (t *Tracker) Marks(ctx context.Context, store session.Store) (provenance.Marks, error) {
	st, err := store.Load(ctx)
	if err != nil {
		return provenance.Marks{}, fmt.Errorf("load navigation context: %w", err)
	}
	return st.Marks, nil
}

// Deletion is where to go after the displayed item was deleted.
type Deletion struct {
	Redirect string `json:"redirect"`
	ParentID string `json:"parent_id,omitempty"`
}

// AfterDelete sends the visitor to the parent of a deleted item and
// records the parent as manually reached, so the trail there keeps its
// provenance. Without a parent the visitor lands on My files. path is
// the deleted item's ancestor path; when empty the item is looked up.
func (t *Tracker) AfterDelete(ctx context.Context, store session.Store, itemID, path string) (Deletion, error) {
	if itemID == "" {
		return Deletion{}, ErrInvalidItem
	}
	if path == "" {
		lctx, cancel := context.WithTimeout(ctx, t.lookupTimeout)
		item, err := t.lookup.Item(lctx, itemID)
		cancel()
		if err == nil {
			path = item.Path
		} else {
			logging.WithContext(ctx).Debug("deleted item lookup failed",
				logging.String("item_id", itemID),
				logging.String("outcome", drive.Outcome(err)),
			)
		}
	}
	if f, ok := t.lookup.(forgetter); ok {
		f.Forget(itemID)
	}
	t.publish(store, events.Event{Type: events.EventItemDeleted, ItemID: itemID})

	parentID := drive.ParentIDFromPath(path)
	if parentID == "" {
		return Deletion{Redirect: provenance.Landing}, nil
	}
	if err := t.NavigateTo(ctx, store, parentID); err != nil {
		return Deletion{}, err
	}
	return Deletion{Redirect: provenance.ItemPath(parentID), ParentID: parentID}, nil
}

// RememberAttemptedURL keeps the page a visitor tried to open before
// being sent to log in.
func (t *Tracker) RememberAttemptedURL(ctx context.Context, store session.Store, raw string) error {
	if !isLocalPath(raw) {
		return ErrInvalidURL
	}
	return t.update(ctx, store, func(st *session.State) {
		st.RedirectAfterLogin = raw
	})
}

// Landing returns where to send a visitor after login. A remembered
// URL is handed out once.
func (t *Tracker) Landing(ctx context.Context, store session.Store) (string, error) {
	target, err := store.TakeRedirect(ctx)
	if err != nil {
		return "", fmt.Errorf("take redirect: %w", err)
	}
	if target == "" {
		return provenance.Landing, nil
	}
	return target, nil
}

// isLocalPath accepts absolute paths on the same origin only.
func isLocalPath(raw string) bool {
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return false
	}
	u, err := url.Parse(raw)
	return err == nil && u.Scheme == "" && u.Host == ""
}

func (t *Tracker) update(ctx context.Context, store session.Store, fn func(*session.State)) error {
	st, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load navigation context: %w", err)
	}
	fn(&st)
	if err := store.Save(ctx, st); err != nil {
		return fmt.Errorf("save navigation context: %w", err)
	}
	return nil
}

func (t *Tracker) publish(store session.Store, e events.Event) {
	e.Session = store.Fingerprint()
	t.publisher.Publish(e)
}

// TrailRequest describes the page a trail is built for.
type TrailRequest struct {
	ItemID string
	// PageRoute is the default route id or path of the page, if any.
	PageRoute      string
	AllFolders     bool
	MenuOnLastItem bool
	// Minimal trims the last item's action menu.
	Minimal bool
}

// Trail is a resolved breadcrumb trail.
type Trail struct {
	ItemID  string              `json:"item_id,omitempty"`
	Entries []breadcrumbs.Entry `json:"entries"`
	Source  provenance.Source   `json:"source,omitempty"`
	// Partial is set when some lookup failed and the trail only shows
	// what was known.
	Partial bool `json:"partial,omitempty"`
}

type lookups struct {
	item      *drive.Item
	ancestors []drive.Breadcrumb
	user      *drive.User

	itemErr, ancestorsErr, userErr error
}

// Trail resolves the breadcrumb trail for req. Lookup failures never
// fail the call; the trail is returned with what is known.
func (t *Tracker) Trail(ctx context.Context, store session.Store, req TrailRequest) (*Trail, error) {
	logger := logging.WithContext(ctx)

	var page *provenance.RouteData
	if req.PageRoute != "" {
		if r, ok := provenance.ParseRoute(req.PageRoute); ok {
			page = &r
		}
	}

	trail := &Trail{ItemID: req.ItemID}
	if req.ItemID == "" {
		trail.Entries = breadcrumbs.Assemble(breadcrumbs.Input{PageRoute: page, AllFolders: req.AllFolders})
		return trail, nil
	}

	st, err := store.Load(ctx)
	if err != nil {
		// Without marks the trail falls back to the ownership guess.
		logger.Warn("load navigation context", logging.Err(err))
		st = session.State{}
	}

	l := t.fetch(ctx, req.ItemID)
	for name, err := range map[string]error{"item": l.itemErr, "breadcrumb": l.ancestorsErr, "user": l.userErr} {
		if err == nil {
			continue
		}
		if name != "user" || !errors.Is(err, drive.ErrUnauthenticated) {
			trail.Partial = true
		}
		logger.Debug("trail lookup failed",
			logging.String("lookup", name),
			logging.String("item_id", req.ItemID),
			logging.String("outcome", drive.Outcome(err)),
		)
	}
	if trail.Partial {
		metrics.RecordPartialTrail()
	}

	in := provenance.Input{Marks: st.Marks, ItemID: req.ItemID}
	if l.item != nil {
		in.ItemKnown = true
		in.CreatorID = l.item.Creator.ID
	}
	if l.user != nil {
		in.UserID = l.user.ID
	}
	decision := provenance.Decide(in)

	// Marks set by a click that landed during the lookups are kept.
	if decision.Invalidate {
		cleared, err := store.ClearMarks(ctx, st.Marks)
		switch {
		case err != nil:
			logger.Warn("discard stale navigation marks", logging.Err(err))
		case cleared:
			metrics.RecordInvalidation()
			t.publish(store, events.Event{Type: events.EventProvenanceCleared, ItemID: req.ItemID})
		}
	}

	var actions []menu.Item
	if req.MenuOnLastItem && l.item != nil {
		actions = menu.Visible(menu.ItemActions(l.item, menu.ActionOptions{Minimal: req.Minimal}))
	}

	trail.Entries = breadcrumbs.Assemble(breadcrumbs.Input{
		PageRoute:       page,
		Lead:            decision,
		AllFolders:      req.AllFolders,
		MenuOnLastItem:  req.MenuOnLastItem,
		CurrentItemID:   req.ItemID,
		Item:            l.item,
		Ancestors:       l.ancestors,
		LastItemActions: actions,
	})
	if !req.AllFolders {
		trail.Source = decision.Source
	}

	metrics.RecordResolution(string(trail.Source))
	logger.Debug("trail resolved",
		logging.String("item_id", req.ItemID),
		logging.String("source", string(trail.Source)),
		logging.Int("entries", len(trail.Entries)),
		logging.Bool("partial", trail.Partial),
	)
	route := ""
	if decision.Route != nil && !req.AllFolders {
		route = string(decision.Route.ID)
	}
	t.publish(store, events.Event{
		Type:   events.EventTrailResolved,
		ItemID: req.ItemID,
		Route:  route,
		Source: string(trail.Source),
	})
	return trail, nil
}

// fetch runs the three lookups concurrently. Results are only kept when
// they describe itemID.
func (t *Tracker) fetch(ctx context.Context, itemID string) lookups {
	var l lookups
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		lctx, cancel := context.WithTimeout(gctx, t.lookupTimeout)
		defer cancel()
		item, err := t.lookup.Item(lctx, itemID)
		if err == nil && item.ID != itemID {
			err = drive.ErrMismatch
		}
		if err != nil {
			l.itemErr = err
			return nil
		}
		l.item = item
		return nil
	})
	g.Go(func() error {
		lctx, cancel := context.WithTimeout(gctx, t.lookupTimeout)
		defer cancel()
		chain, err := t.lookup.Ancestors(lctx, itemID)
		if err == nil && len(chain) > 0 && chain[len(chain)-1].ID != itemID {
			err = drive.ErrMismatch
		}
		if err != nil {
			l.ancestorsErr = err
			return nil
		}
		l.ancestors = chain
		return nil
	})
	g.Go(func() error {
		lctx, cancel := context.WithTimeout(gctx, t.lookupTimeout)
		defer cancel()
		user, err := t.lookup.CurrentUser(lctx)
		if err != nil {
			l.userErr = err
			return nil
		}
		l.user = user
		return nil
	})

	// Every goroutine returns nil; failures are carried in l.
	_ = g.Wait()
	return l
}
