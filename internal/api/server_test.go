package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
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
	"github.com/mosacloud/drive/internal/navigation"
	"github.com/mosacloud/drive/internal/protocol"
	"github.com/mosacloud/drive/internal/provenance"
	"github.com/mosacloud/drive/internal/retry"
	"github.com/mosacloud/drive/internal/session"
)

const driveToken = "Bearer drive-session"

// fakeDriveAPI serves the few drive endpoints the service reads.
type fakeDriveAPI struct {
	mu     sync.Mutex
	items  map[string]drive.Item
	userID string
}

func (f *fakeDriveAPI) add(parent, id, title, creator string, abilities drive.Abilities) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := id
	if parent != "" {
		path = f.items[parent].Path + "." + id
	}
	f.items[id] = drive.Item{
		ID: id, Title: title, Type: drive.TypeFolder, Path: path,
		Creator: drive.Creator{ID: creator}, Abilities: abilities,
	}
}

func (f *fakeDriveAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != driveToken {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	p := strings.TrimPrefix(r.URL.Path, "/api/v1.0")
	switch {
	case p == "/users/me/":
		writeJSON(w, http.StatusOK, drive.User{ID: f.userID})
	case strings.HasSuffix(p, "/breadcrumb/"):
		item, ok := f.items[strings.TrimSuffix(strings.TrimPrefix(p, "/items/"), "/breadcrumb/")]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
			return
		}
		var chain []drive.Breadcrumb
		for _, id := range strings.Split(item.Path, ".") {
			chain = append(chain, drive.Breadcrumb{ID: id, Title: f.items[id].Title})
		}
		writeJSON(w, http.StatusOK, chain)
	case strings.HasPrefix(p, "/items/"):
		item, ok := f.items[strings.Trim(strings.TrimPrefix(p, "/items/"), "/")]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
			return
		}
		writeJSON(w, http.StatusOK, item)
	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type testEnv struct {
	t       *testing.T
	drive   *fakeDriveAPI
	server  *httptest.Server
	session string
}

type envOption func(*Deps)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	fake := &fakeDriveAPI{items: map[string]drive.Item{}, userID: "me"}
	driveSrv := httptest.NewServer(fake)

	client := drive.NewClient(drive.Config{
		BaseURL: driveSrv.URL + "/api/v1.0",
		RetryConfig: retry.Config{
			MaxAttempts: 1,
			InitialWait: time.Millisecond,
			MaxWait:     time.Millisecond,
		},
	})
	lookup := drive.NewCachedLookup(client, 0, 0)
	deps := Deps{
		Tracker:  navigation.NewTracker(lookup),
		Lookup:   lookup,
		Sessions: session.NewKeyedBackend("memory", session.NewMemoryRepository(), session.CookieOptions{}),
		Pinger:   client,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	srv := httptest.NewServer(NewServer(deps).Handler())
	t.Cleanup(func() {
		srv.Close()
		client.Close()
		driveSrv.Close()
	})
	return &testEnv{t: t, drive: fake, server: srv, session: uuid.NewString()}
}

func (e *testEnv) do(method, path string, body any) *http.Response {
	e.t.Helper()
	var rdr *strings.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = strings.NewReader(string(b))
	} else {
		rdr = strings.NewReader("")
	}
	req, err := http.NewRequest(method, e.server.URL+path, rdr)
	if err != nil {
		e.t.Fatal(err)
	}
	req.Header.Set("Authorization", driveToken)
	req.Header.Set(session.HeaderName, e.session)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		e.t.Fatal(err)
	}
	e.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) expect(resp *http.Response, status int, out any) {
	e.t.Helper()
	if resp.StatusCode != status {
		var er protocol.ErrorResponse
		json.NewDecoder(resp.Body).Decode(&er)
		e.t.Fatalf("%s %s: status = %d, want %d (%s)", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, status, er.Error)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			e.t.Fatalf("decode: %v", err)
		}
	}
}

func (e *testEnv) trail(path string) navigation.Trail {
	e.t.Helper()
	var tr navigation.Trail
	e.expect(e.do(http.MethodGet, path, nil), http.StatusOK, &tr)
	return tr
}

var folderAbilities = drive.Abilities{Retrieve: true, Update: true, Destroy: true, ChildrenCreate: true}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	var h protocol.HealthResponse
	e.expect(e.do(http.MethodGet, "/health", nil), http.StatusOK, &h)
	want := protocol.HealthResponse{Status: "ok", Backend: "memory", Drive: "ok"}
	if diff := cmp.Diff(want, h); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthDegraded(t *testing.T) {
	e := newTestEnv(t, func(d *Deps) { d.Pinger = failingPinger{} })
	var h protocol.HealthResponse
	e.expect(e.do(http.MethodGet, "/health", nil), http.StatusOK, &h)
	if h.Status != "degraded" || h.Drive != "unreachable" {
		t.Errorf("health = %+v", h)
	}
}

func TestManualNavigationThenStaleMarks(t *testing.T) {
	e := newTestEnv(t)
	e.drive.add("", "root", "Root", "me", folderAbilities)
	e.drive.add("root", "foo", "Foo", "me", folderAbilities)

	e.expect(e.do(http.MethodPost, "/api/v1/navigation/routes/recent", nil), http.StatusNoContent, nil)
	e.expect(e.do(http.MethodPost, "/api/v1/navigation/items/foo", nil), http.StatusNoContent, nil)

	var marks provenance.Marks
	e.expect(e.do(http.MethodGet, "/api/v1/navigation", nil), http.StatusOK, &marks)
	if diff := cmp.Diff(provenance.Marks{DefaultRoute: provenance.Recent, ManualItemID: "foo"}, marks); diff != "" {
		t.Fatalf("marks (-want +got):\n%s", diff)
	}

	tr := e.trail("/api/v1/breadcrumbs/foo")
	if diff := cmp.Diff([]string{"Recent", "Root", "Foo"}, breadcrumbs.Titles(tr.Entries)); diff != "" {
		t.Errorf("manual trail (-want +got):\n%s", diff)
	}
	if tr.Source != provenance.SourceManual || tr.Partial {
		t.Errorf("source = %q, partial = %v", tr.Source, tr.Partial)
	}

	// Reaching root through another path makes the marks stale.
	tr = e.trail("/api/v1/breadcrumbs/root")
	if diff := cmp.Diff([]string{"My files", "Root"}, breadcrumbs.Titles(tr.Entries)); diff != "" {
		t.Errorf("guessed trail (-want +got):\n%s", diff)
	}
	if tr.Source != provenance.SourceGuessed {
		t.Errorf("source = %q", tr.Source)
	}
	marks = provenance.Marks{}
	e.expect(e.do(http.MethodGet, "/api/v1/navigation", nil), http.StatusOK, &marks)
	if !marks.IsZero() {
		t.Errorf("stale marks kept: %+v", marks)
	}
}

func TestSharedItemGuess(t *testing.T) {
	e := newTestEnv(t)
	e.drive.add("", "theirs", "Theirs", "someone-else", folderAbilities)

	tr := e.trail("/api/v1/breadcrumbs/theirs")
	if diff := cmp.Diff([]string{"Shared with me", "Theirs"}, breadcrumbs.Titles(tr.Entries)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestTrailOptions(t *testing.T) {
	e := newTestEnv(t)
	e.drive.add("", "root", "Root", "me", folderAbilities)
	e.drive.add("root", "foo", "Foo", "me", folderAbilities)

	tr := e.trail("/api/v1/breadcrumbs/foo?menu_last_item=true")
	if len(tr.Entries) != 3 {
		t.Fatalf("entries = %v", breadcrumbs.Titles(tr.Entries))
	}
	last := tr.Entries[2]
	if last.Kind != breadcrumbs.KindLastItem || !last.Active || len(last.Actions) == 0 {
		t.Errorf("last entry = %+v", last)
	}

	tr = e.trail("/api/v1/breadcrumbs/foo?all_folders=1")
	if tr.Entries[0].Kind != breadcrumbs.KindAllFolders || tr.Entries[0].Action != breadcrumbs.ActionGoToSpaces {
		t.Errorf("first entry = %+v", tr.Entries[0])
	}
	if tr.Source != provenance.SourceNone {
		t.Errorf("all-folders source = %q", tr.Source)
	}

	tr = e.trail("/api/v1/breadcrumbs?route=favorites")
	if diff := cmp.Diff([]string{"Starred"}, breadcrumbs.Titles(tr.Entries)); diff != "" {
		t.Errorf("route page (-want +got):\n%s", diff)
	}
}

func TestTrailWithoutDriveCredentials(t *testing.T) {
	e := newTestEnv(t)
	e.drive.add("", "root", "Root", "me", folderAbilities)

	req, _ := http.NewRequest(http.MethodGet, e.server.URL+"/api/v1/breadcrumbs/root", nil)
	req.Header.Set(session.HeaderName, e.session)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var tr navigation.Trail
	e.expect(resp, http.StatusOK, &tr)
	if !tr.Partial || len(tr.Entries) != 0 {
		t.Errorf("trail = %+v", tr)
	}
}

func TestEnterUnknownRoute(t *testing.T) {
	e := newTestEnv(t)
	e.expect(e.do(http.MethodPost, "/api/v1/navigation/routes/trash", nil), http.StatusBadRequest, nil)
}

func TestClear(t *testing.T) {
	e := newTestEnv(t)
	e.expect(e.do(http.MethodPost, "/api/v1/navigation/routes/favorites", nil), http.StatusNoContent, nil)
	e.expect(e.do(http.MethodDelete, "/api/v1/navigation", nil), http.StatusNoContent, nil)

	var marks provenance.Marks
	e.expect(e.do(http.MethodGet, "/api/v1/navigation", nil), http.StatusOK, &marks)
	if !marks.IsZero() {
		t.Errorf("marks = %+v", marks)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	e := newTestEnv(t)
	e.expect(e.do(http.MethodPost, "/api/v1/navigation/routes/favorites", nil), http.StatusNoContent, nil)

	e.session = uuid.NewString()
	var marks provenance.Marks
	e.expect(e.do(http.MethodGet, "/api/v1/navigation", nil), http.StatusOK, &marks)
	if !marks.IsZero() {
		t.Errorf("other tab sees %+v", marks)
	}
}

func TestSessionCookieMinted(t *testing.T) {
	e := newTestEnv(t)
	resp, err := http.Get(e.server.URL + "/api/v1/navigation")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	found := false
	for _, c := range resp.Cookies() {
		if c.Name == session.CookieName && c.HttpOnly {
			found = true
		}
	}
	if !found {
		t.Errorf("no %s cookie in %v", session.CookieName, resp.Header["Set-Cookie"])
	}
}

func TestItemActions(t *testing.T) {
	e := newTestEnv(t)
	e.drive.add("", "root", "Root", "me", drive.Abilities{Retrieve: true})

	var m protocol.MenuResponse
	e.expect(e.do(http.MethodGet, "/api/v1/items/root/actions", nil), http.StatusOK, &m)
	if m.ItemID != "root" || len(m.Items) == 0 {
		t.Fatalf("menu = %+v", m)
	}
	for _, it := range m.Items {
		if it.Hidden || it.ID == menu.ActionDelete || it.ID == menu.ActionRename {
			t.Errorf("unexpected entry %+v", it)
		}
	}

	e.expect(e.do(http.MethodGet, "/api/v1/items/missing/actions", nil), http.StatusNotFound, nil)
}

func TestCreateMenu(t *testing.T) {
	e := newTestEnv(t)
	e.drive.add("", "open", "Open", "me", folderAbilities)
	e.drive.add("", "locked", "Locked", "me", drive.Abilities{Retrieve: true})

	var m protocol.MenuResponse
	e.expect(e.do(http.MethodGet, "/api/v1/create-menu", nil), http.StatusOK, &m)
	if len(m.Items) == 0 || m.Items[0].ID != menu.CreateFolder {
		t.Errorf("top-level menu = %+v", m.Items)
	}

	m = protocol.MenuResponse{}
	e.expect(e.do(http.MethodGet, "/api/v1/items/open/create-menu?include_import=true", nil), http.StatusOK, &m)
	var ids []string
	for _, it := range m.Items {
		ids = append(ids, it.ID)
	}
	if !strings.Contains(strings.Join(ids, ","), menu.ImportFiles) {
		t.Errorf("import entries missing: %v", ids)
	}

	m = protocol.MenuResponse{}
	e.expect(e.do(http.MethodGet, "/api/v1/items/locked/create-menu", nil), http.StatusOK, &m)
	if len(m.Items) != 0 {
		t.Errorf("locked folder offers %+v", m.Items)
	}
}

func TestDeletedRedirectsToParent(t *testing.T) {
	e := newTestEnv(t)
	e.drive.add("", "root", "Root", "me", folderAbilities)
	e.drive.add("root", "foo", "Foo", "me", folderAbilities)

	var d navigation.Deletion
	e.expect(e.do(http.MethodPost, "/api/v1/navigation/items/foo/deleted", nil), http.StatusOK, &d)
	if d.Redirect != "/explorer/items/root" || d.ParentID != "root" {
		t.Errorf("deletion = %+v", d)
	}

	d = navigation.Deletion{}
	e.expect(e.do(http.MethodPost, "/api/v1/navigation/items/root/deleted",
		protocol.DeletedRequest{Path: "root"}), http.StatusOK, &d)
	if d.Redirect != provenance.Landing {
		t.Errorf("root deletion = %+v", d)
	}
}

func TestAttemptedURLAndLanding(t *testing.T) {
	e := newTestEnv(t)

	e.expect(e.do(http.MethodPost, "/api/v1/navigation/attempted-url",
		protocol.AttemptedURLRequest{URL: "https://evil.example/phish"}), http.StatusBadRequest, nil)
	e.expect(e.do(http.MethodPost, "/api/v1/navigation/attempted-url",
		protocol.AttemptedURLRequest{URL: "/explorer/items/foo"}), http.StatusNoContent, nil)

	var r protocol.RedirectResponse
	e.expect(e.do(http.MethodGet, "/api/v1/navigation/landing", nil), http.StatusOK, &r)
	if r.Redirect != "/explorer/items/foo" {
		t.Errorf("first landing = %q", r.Redirect)
	}
	e.expect(e.do(http.MethodGet, "/api/v1/navigation/landing", nil), http.StatusOK, &r)
	if r.Redirect != provenance.Landing {
		t.Errorf("second landing = %q", r.Redirect)
	}
}

func TestRateLimit(t *testing.T) {
	e := newTestEnv(t, func(d *Deps) { d.RequestsPerMinute = 2 })
	for i := 0; i < 2; i++ {
		e.expect(e.do(http.MethodGet, "/api/v1/navigation", nil), http.StatusOK, nil)
	}
	resp := e.do(http.MethodGet, "/api/v1/navigation", nil)
	if resp.StatusCode != http.StatusTooManyRequests || resp.Header.Get("Retry-After") == "" {
		t.Errorf("status = %d, Retry-After = %q", resp.StatusCode, resp.Header.Get("Retry-After"))
	}

	e.session = uuid.NewString()
	e.expect(e.do(http.MethodGet, "/api/v1/navigation", nil), http.StatusOK, nil)
}

func TestInvalidBearerTokenRejected(t *testing.T) {
	e := newTestEnv(t, func(d *Deps) { d.Auth = auth.New(auth.NewJWTVerifier("service-secret")) })
	resp := e.do(http.MethodGet, "/api/v1/navigation", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d", resp.StatusCode)
	}
	// Public endpoints stay open.
	e.expect(e.do(http.MethodGet, "/api/v1/routes", nil), http.StatusOK, nil)
}

func TestEventStream(t *testing.T) {
	b := events.NewBroadcaster()
	e := newTestEnv(t, func(d *Deps) {
		d.Broadcaster = b
		d.Tracker = navigation.NewTracker(d.Lookup, navigation.WithPublisher(b))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, e.server.URL+"/api/v1/navigation/events", nil)
	req.Header.Set(session.HeaderName, e.session)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	e.expect(e.do(http.MethodPost, "/api/v1/navigation/routes/recent", nil), http.StatusNoContent, nil)

	lines := make(chan string, 8)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	select {
	case line := <-lines:
		if line != "event: "+events.EventRouteEntered {
			t.Errorf("first line = %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}
