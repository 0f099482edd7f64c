package navigation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/mosacloud/drive/internal/auth"
	"github.com/mosacloud/drive/internal/breadcrumbs"
	"github.com/mosacloud/drive/internal/drive"
	"github.com/mosacloud/drive/internal/events"
	"github.com/mosacloud/drive/internal/menu"
	"github.com/mosacloud/drive/internal/provenance"
	"github.com/mosacloud/drive/internal/session"
)

// fakeDrive is an in-memory drive with a tree of items.
type fakeDrive struct {
	mu      sync.Mutex
	items   map[string]*drive.Item
	user    *drive.User
	fail    map[string]error // per item id, applied to every lookup
	forgets []string
	// gates hold Item lookups for an id until the channel is closed.
	gates   map[string]chan struct{}
	entered chan string
}

func newFakeDrive(userID string) *fakeDrive {
	d := &fakeDrive{items: map[string]*drive.Item{}, fail: map[string]error{}}
	if userID != "" {
		d.user = &drive.User{ID: userID}
	}
	return d
}

func (d *fakeDrive) add(parent, id, title, creator string) *drive.Item {
	d.mu.Lock()
	defer d.mu.Unlock()
	path := id
	if parent != "" {
		path = d.items[parent].Path + "." + id
	}
	item := &drive.Item{
		ID: id, Title: title, Type: drive.TypeFolder, Path: path,
		Creator:   drive.Creator{ID: creator},
		Abilities: drive.Abilities{Retrieve: true, Update: true, Destroy: true},
	}
	d.items[id] = item
	return item
}

// hold blocks Item lookups of id until the returned func is called.
func (d *fakeDrive) hold(id string) (release func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gates == nil {
		d.gates = map[string]chan struct{}{}
	}
	gate := make(chan struct{})
	d.gates[id] = gate
	d.entered = make(chan string, 1)
	return func() { close(gate) }
}

func (d *fakeDrive) Item(ctx context.Context, id string) (*drive.Item, error) {
	d.mu.Lock()
	gate, entered := d.gates[id], d.entered
	d.mu.Unlock()
	if gate != nil {
		entered <- id
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail[id]; err != nil {
		return nil, err
	}
	item, ok := d.items[id]
	if !ok {
		return nil, drive.ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (d *fakeDrive) Ancestors(ctx context.Context, id string) ([]drive.Breadcrumb, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail[id]; err != nil {
		return nil, err
	}
	item, ok := d.items[id]
	if !ok {
		return nil, drive.ErrNotFound
	}
	var chain []drive.Breadcrumb
	for _, aid := range strings.Split(item.Path, ".") {
		chain = append(chain, drive.Breadcrumb{ID: aid, Title: d.items[aid].Title})
	}
	return chain, nil
}

func (d *fakeDrive) CurrentUser(ctx context.Context) (*drive.User, error) {
	if d.user == nil {
		return nil, drive.ErrUnauthenticated
	}
	return d.user, nil
}

func (d *fakeDrive) Forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forgets = append(d.forgets, id)
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	t       *testing.T
	drive   *fakeDrive
	backend *session.KeyedBackend
	tracker *Tracker
	events  *recorder
}

func newHarness(t *testing.T, userID string) *harness {
	d := newFakeDrive(userID)
	rec := &recorder{}
	return &harness{
		t:       t,
		drive:   d,
		backend: session.NewKeyedBackend("memory", session.NewMemoryRepository(), session.CookieOptions{}),
		tracker: NewTracker(d, WithPublisher(rec)),
		events:  rec,
	}
}

// newSession starts a fresh browsing session.
func (h *harness) newSession() session.Store {
	st, err := h.backend.Session(uuid.NewString())
	if err != nil {
		h.t.Fatal(err)
	}
	return st
}

func (h *harness) titles(store session.Store, req TrailRequest) []string {
	h.t.Helper()
	trail, err := h.tracker.Trail(context.Background(), store, req)
	if err != nil {
		h.t.Fatalf("Trail: %v", err)
	}
	return breadcrumbs.Titles(trail.Entries)
}

func (h *harness) marks(store session.Store) provenance.Marks {
	h.t.Helper()
	m, err := h.tracker.Marks(context.Background(), store)
	if err != nil {
		h.t.Fatal(err)
	}
	return m
}

func TestOwnershipGuessWithoutManualMark(t *testing.T) {
	h := newHarness(t, "me")
	h.drive.add("", "mine", "Mine", "me")
	h.drive.add("", "theirs", "Theirs", "someone")
	store := h.newSession()

	if diff := cmp.Diff([]string{"My files", "Mine"}, h.titles(store, TrailRequest{ItemID: "mine"})); diff != "" {
		t.Errorf("own item (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Shared with me", "Theirs"}, h.titles(store, TrailRequest{ItemID: "theirs"})); diff != "" {
		t.Errorf("foreign item (-want +got):\n%s", diff)
	}
	if !h.marks(store).IsZero() {
		t.Errorf("guess was written back: %+v", h.marks(store))
	}
}

func TestManualMarkOverridesGuess(t *testing.T) {
	h := newHarness(t, "me")
	h.drive.add("", "foo", "Foo", "me")
	store := h.newSession()
	ctx := context.Background()

	h.tracker.EnterRoute(ctx, store, provenance.Recent)
	h.tracker.NavigateTo(ctx, store, "foo")

	trail, err := h.tracker.Trail(ctx, store, TrailRequest{ItemID: "foo"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"Recent", "Foo"}, breadcrumbs.Titles(trail.Entries)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if trail.Source != provenance.SourceManual {
		t.Errorf("source = %q", trail.Source)
	}
}

func TestStaleMarkIsClearedThenGuessed(t *testing.T) {
	h := newHarness(t, "me")
	h.drive.add("", "a", "A", "someone")
	h.drive.add("", "b", "B", "someone")
	store := h.newSession()
	ctx := context.Background()

	h.tracker.EnterRoute(ctx, store, provenance.Favorites)
	h.tracker.NavigateTo(ctx, store, "a")

	if diff := cmp.Diff([]string{"Shared with me", "B"}, h.titles(store, TrailRequest{ItemID: "b"})); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if m := h.marks(store); !m.IsZero() {
		t.Fatalf("marks not cleared: %+v", m)
	}
	// Resolving again for the same item still guesses.
	if diff := cmp.Diff([]string{"Shared with me", "B"}, h.titles(store, TrailRequest{ItemID: "b"})); diff != "" {
		t.Errorf("second resolution (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{
		events.EventRouteEntered, events.EventFolderNavigated,
		events.EventProvenanceCleared, events.EventTrailResolved, events.EventTrailResolved,
	}, h.events.types()); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestClickDuringLookupSurvivesInvalidation(t *testing.T) {
	h := newHarness(t, "me")
	h.drive.add("", "w", "W", "someone")
	h.drive.add("", "x", "X", "someone")
	h.drive.add("", "y", "Y", "someone")
	store := h.newSession()
	ctx := context.Background()

	h.tracker.EnterRoute(ctx, store, provenance.Favorites)
	h.tracker.NavigateTo(ctx, store, "w")

	release := h.drive.hold("x")
	done := make(chan *Trail, 1)
	go func() {
		trail, err := h.tracker.Trail(ctx, store, TrailRequest{ItemID: "x"})
		if err != nil {
			t.Error(err)
		}
		done <- trail
	}()

	// The trail for x read {favorites, w}; the visitor clicks into y
	// before its lookups return.
	<-h.drive.entered
	h.tracker.EnterRoute(ctx, store, provenance.Favorites)
	h.tracker.NavigateTo(ctx, store, "y")
	release()

	trail := <-done
	if diff := cmp.Diff([]string{"Shared with me", "X"}, breadcrumbs.Titles(trail.Entries)); diff != "" {
		t.Errorf("trail for x (-want +got):\n%s", diff)
	}
	want := provenance.Marks{DefaultRoute: provenance.Favorites, ManualItemID: "y"}
	if got := h.marks(store); got != want {
		t.Fatalf("marks = %+v, want %+v", got, want)
	}
	if diff := cmp.Diff([]string{"Starred", "Y"}, h.titles(store, TrailRequest{ItemID: "y"})); diff != "" {
		t.Errorf("trail for y (-want +got):\n%s", diff)
	}
	for _, typ := range h.events.types() {
		if typ == events.EventProvenanceCleared {
			t.Error("provenance_cleared published although nothing was cleared")
		}
	}
}

func TestExactlyOneActiveEntry(t *testing.T) {
	h := newHarness(t, "me")
	h.drive.add("", "r", "Root", "me")
	h.drive.add("r", "m", "Mid", "me")
	h.drive.add("m", "l", "Leaf", "me")
	store := h.newSession()

	trail, _ := h.tracker.Trail(context.Background(), store, TrailRequest{ItemID: "l"})
	var active []string
	for _, e := range trail.Entries {
		if e.Active {
			active = append(active, e.ID)
		}
	}
	if diff := cmp.Diff([]string{"l"}, active); diff != "" {
		t.Errorf("active entries (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"My files", "Root", "Mid", "Leaf"}, breadcrumbs.Titles(trail.Entries)); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
}

// My files, create Foo, open it, copy the URL, paste it in a new session.
func TestPastedURLInFreshSession(t *testing.T) {
	h := newHarness(t, "me")
	h.drive.add("", "foo", "Foo", "me")
	ctx := context.Background()

	first := h.newSession()
	h.tracker.EnterRoute(ctx, first, provenance.MyFiles)
	h.tracker.NavigateTo(ctx, first, "foo")

	fresh := h.newSession()
	trail, _ := h.tracker.Trail(ctx, fresh, TrailRequest{ItemID: "foo"})
	if diff := cmp.Diff([]string{"My files", "Foo"}, breadcrumbs.Titles(trail.Entries)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if trail.Source != provenance.SourceGuessed {
		t.Errorf("source = %q, want guessed", trail.Source)
	}
}

// My files > Bar > Sub Bar, then Favorites > Foo, then back to Bar by URL.
func TestNoResidualLabelAfterReturningByURL(t *testing.T) {
	h := newHarness(t, "me")
	h.drive.add("", "bar", "Bar", "me")
	h.drive.add("bar", "subbar", "Sub Bar", "me")
	h.drive.add("", "foo", "Foo", "me")
	store := h.newSession()
	ctx := context.Background()

	h.tracker.EnterRoute(ctx, store, provenance.MyFiles)
	h.tracker.NavigateTo(ctx, store, "bar")
	h.tracker.NavigateTo(ctx, store, "subbar")

	h.tracker.EnterRoute(ctx, store, provenance.Favorites)
	h.tracker.NavigateTo(ctx, store, "foo")
	if diff := cmp.Diff([]string{"Starred", "Foo"}, h.titles(store, TrailRequest{ItemID: "foo"})); diff != "" {
		t.Fatalf("favorites trail (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"My files", "Bar"}, h.titles(store, TrailRequest{ItemID: "bar"})); diff != "" {
		t.Fatalf("bar trail (-want +got):\n%s", diff)
	}

	h.tracker.NavigateTo(ctx, store, "subbar")
	if diff := cmp.Diff([]string{"My files", "Bar", "Sub Bar"}, h.titles(store, TrailRequest{ItemID: "subbar"})); diff != "" {
		t.Fatalf("sub bar trail (-want +got):\n%s", diff)
	}
}

func TestPartialTrailOnLookupFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"not found", drive.ErrNotFound},
		{"forbidden", drive.ErrForbidden},
		{"transient", errors.New("connection reset")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "me")
			h.drive.add("", "x", "X", "me")
			h.drive.fail["x"] = tt.err

			trail, err := h.tracker.Trail(context.Background(), h.newSession(), TrailRequest{ItemID: "x", PageRoute: "recent"})
			if err != nil {
				t.Fatalf("Trail returned error: %v", err)
			}
			if !trail.Partial {
				t.Error("trail not marked partial")
			}
			// Only the page entry survives; no provenance without the item.
			if diff := cmp.Diff([]string{"Recent"}, breadcrumbs.Titles(trail.Entries)); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestUnauthenticatedVisitorIsNotPartial(t *testing.T) {
	h := newHarness(t, "")
	h.drive.add("", "pub", "Public", "owner")
	trail, _ := h.tracker.Trail(context.Background(), h.newSession(), TrailRequest{ItemID: "pub"})
	if trail.Partial {
		t.Error("anonymous visit should not be partial")
	}
	if diff := cmp.Diff([]string{"Shared with me", "Public"}, breadcrumbs.Titles(trail.Entries)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

type mismatchedDrive struct{ *fakeDrive }

func (m mismatchedDrive) Ancestors(ctx context.Context, id string) ([]drive.Breadcrumb, error) {
	return []drive.Breadcrumb{{ID: "other", Title: "Other"}}, nil
}

func TestChainForAnotherItemIsDiscarded(t *testing.T) {
	d := newFakeDrive("me")
	d.add("", "x", "X", "me")
	tracker := NewTracker(mismatchedDrive{d})
	store, _ := session.NewKeyedBackend("memory", session.NewMemoryRepository(), session.CookieOptions{}).Session(uuid.NewString())

	trail, _ := tracker.Trail(context.Background(), store, TrailRequest{ItemID: "x"})
	if !trail.Partial {
		t.Error("mismatched chain should leave a partial trail")
	}
	if diff := cmp.Diff([]string{"My files"}, breadcrumbs.Titles(trail.Entries)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestAllFoldersModeStillDiscardsStaleMarks(t *testing.T) {
	h := newHarness(t, "me")
	h.drive.add("", "a", "A", "me")
	store := h.newSession()
	ctx := context.Background()
	h.tracker.EnterRoute(ctx, store, provenance.Favorites)
	h.tracker.NavigateTo(ctx, store, "elsewhere")

	trail, _ := h.tracker.Trail(ctx, store, TrailRequest{ItemID: "a", AllFolders: true, PageRoute: "my_files"})
	if trail.Entries[0].Kind != breadcrumbs.KindAllFolders || trail.Entries[0].Action != breadcrumbs.ActionGoToSpaces {
		t.Errorf("first entry = %+v", trail.Entries[0])
	}
	if trail.Source != provenance.SourceNone {
		t.Errorf("source = %q, want none", trail.Source)
	}
	if !h.marks(store).IsZero() {
		t.Error("stale marks survived")
	}
}

func TestMenuOnLastItem(t *testing.T) {
	h := newHarness(t, "me")
	h.drive.add("", "p", "Parent", "me")
	leaf := h.drive.add("p", "l", "Leaf", "me")
	leaf.ComputedLinkReach = drive.LinkReachPublic

	trail, _ := h.tracker.Trail(context.Background(), h.newSession(), TrailRequest{ItemID: "l", MenuOnLastItem: true, Minimal: true})
	last := trail.Entries[len(trail.Entries)-1]
	if last.Kind != breadcrumbs.KindLastItem || last.Indicator != breadcrumbs.IndicatorPublic {
		t.Fatalf("last entry = %+v", last)
	}
	var got []string
	for _, a := range last.Actions {
		if a.Separator {
			got = append(got, "-")
		} else {
			got = append(got, a.ID)
		}
	}
	if diff := cmp.Diff([]string{menu.ActionRename, "-", menu.ActionFavorite}, got); diff != "" {
		t.Errorf("actions (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"My files", "Parent", "Leaf"}, breadcrumbs.Titles(trail.Entries)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestTrailWithoutItem(t *testing.T) {
	h := newHarness(t, "me")
	trail, _ := h.tracker.Trail(context.Background(), h.newSession(), TrailRequest{PageRoute: "/explorer/items/shared-with-me"})
	if diff := cmp.Diff([]string{"Shared with me"}, breadcrumbs.Titles(trail.Entries)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestEnterRouteRejectsUnknown(t *testing.T) {
	h := newHarness(t, "me")
	err := h.tracker.EnterRoute(context.Background(), h.newSession(), "trash")
	if !errors.Is(err, ErrUnknownRoute) {
		t.Fatalf("err = %v", err)
	}
}

func TestClear(t *testing.T) {
	h := newHarness(t, "me")
	store := h.newSession()
	ctx := context.Background()
	h.tracker.EnterRoute(ctx, store, provenance.Recent)
	h.tracker.NavigateTo(ctx, store, "x")
	h.tracker.RememberAttemptedURL(ctx, store, "/explorer/items/x")

	if err := h.tracker.Clear(ctx, store); err != nil {
		t.Fatal(err)
	}
	if !h.marks(store).IsZero() {
		t.Error("marks not cleared")
	}
	// The remembered URL is not part of the navigation marks.
	if got, _ := h.tracker.Landing(ctx, store); got != "/explorer/items/x" {
		t.Errorf("Landing = %q", got)
	}
}

func TestAfterDelete(t *testing.T) {
	h := newHarness(t, "me")
	h.drive.add("", "p", "Parent", "me")
	h.drive.add("p", "c", "Child", "me")
	h.drive.add("", "top", "Top", "me")
	ctx := context.Background()

	store := h.newSession()
	h.tracker.EnterRoute(ctx, store, provenance.Favorites)
	got, err := h.tracker.AfterDelete(ctx, store, "c", "")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Deletion{Redirect: "/explorer/items/p", ParentID: "p"}, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if m := h.marks(store); m.ManualItemID != "p" || m.DefaultRoute != provenance.Favorites {
		t.Errorf("marks = %+v", m)
	}
	// Landing on the parent keeps the provenance.
	if diff := cmp.Diff([]string{"Starred", "Parent"}, h.titles(store, TrailRequest{ItemID: "p"})); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	got, _ = h.tracker.AfterDelete(ctx, store, "top", "")
	if got.Redirect != "/explorer/items/my-files" || got.ParentID != "" {
		t.Errorf("root deletion = %+v", got)
	}

	// Already gone from the backend: the client supplies the path.
	got, _ = h.tracker.AfterDelete(ctx, store, "gone", "p.gone")
	if got.ParentID != "p" {
		t.Errorf("deletion with path = %+v", got)
	}
	if diff := cmp.Diff([]string{"c", "top", "gone"}, h.drive.forgets); diff != "" {
		t.Errorf("forgotten ids (-want +got):\n%s", diff)
	}
}

func TestAfterDeleteForgetsCachedItem(t *testing.T) {
	d := newFakeDrive("me")
	d.add("", "p", "Parent", "me")
	d.add("p", "c", "Child", "me")
	cached := drive.NewCachedLookup(d, time.Minute, 0)
	tracker := NewTracker(auth.PrincipalLookup{Lookup: cached})
	backend := session.NewKeyedBackend("memory", session.NewMemoryRepository(), session.CookieOptions{})
	store, _ := backend.Session(uuid.NewString())
	ctx := context.Background()

	if _, err := cached.Item(ctx, "c"); err != nil {
		t.Fatal(err)
	}
	if n := cached.Len(); n != 1 {
		t.Fatalf("cached records = %d, want 1", n)
	}
	if _, err := tracker.AfterDelete(ctx, store, "c", "p.c"); err != nil {
		t.Fatal(err)
	}
	if n := cached.Len(); n != 0 {
		t.Errorf("cached records after delete = %d, want 0", n)
	}
}

func TestLandingConsumesAttemptedURL(t *testing.T) {
	h := newHarness(t, "me")
	store := h.newSession()
	ctx := context.Background()

	if got, _ := h.tracker.Landing(ctx, store); got != provenance.Landing {
		t.Errorf("default landing = %q", got)
	}
	if err := h.tracker.RememberAttemptedURL(ctx, store, "/explorer/items/abc?tab=share"); err != nil {
		t.Fatal(err)
	}
	if got, _ := h.tracker.Landing(ctx, store); got != "/explorer/items/abc?tab=share" {
		t.Errorf("landing = %q", got)
	}
	if got, _ := h.tracker.Landing(ctx, store); got != provenance.Landing {
		t.Errorf("attempted URL handed out twice: %q", got)
	}
}

func TestConcurrentLandingHandsURLOutOnce(t *testing.T) {
	h := newHarness(t, "me")
	store := h.newSession()
	ctx := context.Background()
	if err := h.tracker.RememberAttemptedURL(ctx, store, "/explorer/items/abc"); err != nil {
		t.Fatal(err)
	}

	const callers = 16
	got := make(chan string, callers)
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			target, err := h.tracker.Landing(ctx, store)
			if err != nil {
				t.Error(err)
			}
			got <- target
		}()
	}
	wg.Wait()
	close(got)

	handed := 0
	for target := range got {
		if target == "/explorer/items/abc" {
			handed++
		} else if target != provenance.Landing {
			t.Errorf("unexpected landing %q", target)
		}
	}
	if handed != 1 {
		t.Errorf("attempted URL handed out %d times, want 1", handed)
	}
}

func TestRememberAttemptedURLRejectsForeignTargets(t *testing.T) {
	h := newHarness(t, "me")
	for _, raw := range []string{"https://evil.example/x", "//evil.example", "/\\evil", "relative/path", ""} {
		if err := h.tracker.RememberAttemptedURL(context.Background(), h.newSession(), raw); !errors.Is(err, ErrInvalidURL) {
			t.Errorf("%q: err = %v", raw, err)
		}
	}
}
