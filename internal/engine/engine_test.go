package engine

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/marksync/marksync/internal/bookmarks"
	"github.com/marksync/marksync/internal/localstore"
)

type fakeAPI struct {
	mu sync.Mutex

	token   string
	remote  []bookmarks.Bookmark
	listErr error
	search  map[string][]bookmarks.Bookmark
	syncFn  func(req bookmarks.SyncRequest) (*bookmarks.SyncResult, error)

	listCalls int
	created   []bookmarks.Payload
	deleted   []int64
	syncReqs  []bookmarks.SyncRequest
	nextID    int64
}

func (f *fakeAPI) Token() string { return f.token }

func (f *fakeAPI) ListBookmarks(ctx context.Context) ([]bookmarks.Bookmark, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.remote, nil
}

func (f *fakeAPI) CreateBookmark(ctx context.Context, p bookmarks.Payload, position int) (*bookmarks.Bookmark, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, p)
	f.nextID++
	return &bookmarks.Bookmark{ID: f.nextID, Title: p.Title, URL: p.URL, Folder: p.Folder}, nil
}

func (f *fakeAPI) UpdateBookmark(ctx context.Context, id int64, p bookmarks.Payload, position int) (*bookmarks.Bookmark, error) {
	return &bookmarks.Bookmark{ID: id, Title: p.Title, URL: p.URL, Folder: p.Folder}, nil
}

func (f *fakeAPI) DeleteBookmark(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeAPI) SyncBookmark(ctx context.Context, req bookmarks.SyncRequest) (*bookmarks.SyncResult, error) {
	f.mu.Lock()
	f.syncReqs = append(f.syncReqs, req)
	fn := f.syncFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return &bookmarks.SyncResult{Action: bookmarks.ActionNone}, nil
}

func (f *fakeAPI) SearchByURL(ctx context.Context, url string) ([]bookmarks.Bookmark, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.search[url], nil
}

type fakeMapper struct {
	mu sync.Mutex
	m  map[string]int64
}

func newFakeMapper() *fakeMapper { return &fakeMapper{m: make(map[string]int64)} }

func (f *fakeMapper) Record(ctx context.Context, localID string, remoteID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[localID] = remoteID
	return nil
}

func (f *fakeMapper) Lookup(ctx context.Context, localID string) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.m[localID]
	return id, ok, nil
}

func (f *fakeMapper) Forget(ctx context.Context, localID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.m, localID)
	return nil
}

func newTestEngine(t *testing.T, api *fakeAPI) (*Engine, *localstore.Tree, *fakeMapper) {
	t.Helper()

	tree := localstore.NewTree()
	ids := newFakeMapper()
	eng := New(tree, ids, api, &Config{Logger: log.New(io.Discard, "", 0)})
	return eng, tree, ids
}

func mustCreate(t *testing.T, tree *localstore.Tree, parent localstore.NodeID, title, url string) localstore.Node {
	t.Helper()

	node, err := tree.Create(context.Background(), parent, title, url)
	if err != nil {
		t.Fatalf("failed to create %q: %v", title, err)
	}
	return node
}

func TestFullSyncWithoutTokenIsNoOp(t *testing.T) {
	api := &fakeAPI{token: ""}
	eng, _, _ := newTestEngine(t, api)

	if err := eng.FullSync(context.Background()); err != nil {
		t.Fatalf("FullSync failed: %v", err)
	}
	if api.listCalls != 0 {
		t.Error("FullSync fetched remote bookmarks while logged out")
	}
}

func TestFullSyncEmptyRemoteIsNonDestructive(t *testing.T) {
	api := &fakeAPI{token: "tok"}
	eng, tree, _ := newTestEngine(t, api)
	ctx := context.Background()

	syncFolder, err := eng.EnsureSyncFolder(ctx)
	if err != nil {
		t.Fatalf("EnsureSyncFolder failed: %v", err)
	}
	local := mustCreate(t, tree, syncFolder.ID, "Keep", "https://keep.example.com")

	if err := eng.FullSync(ctx); err != nil {
		t.Fatalf("FullSync failed: %v", err)
	}

	if _, err := tree.Get(ctx, local.ID); err != nil {
		t.Error("empty remote set wiped a local bookmark")
	}
	if api.listCalls != 1 {
		t.Errorf("list calls = %d, want 1", api.listCalls)
	}
}

func TestFullSyncCreatesMissingBookmarks(t *testing.T) {
	api := &fakeAPI{token: "tok", remote: []bookmarks.Bookmark{
		{ID: 1, Title: "Top", URL: "https://top.example.com"},
		{ID: 2, Title: "Nested", URL: "https://nested.example.com", Folder: "Work"},
	}}
	eng, tree, _ := newTestEngine(t, api)
	ctx := context.Background()

	if err := eng.FullSync(ctx); err != nil {
		t.Fatalf("FullSync failed: %v", err)
	}

	syncFolder, err := eng.EnsureSyncFolder(ctx)
	if err != nil {
		t.Fatalf("EnsureSyncFolder failed: %v", err)
	}
	entries, err := localstore.ListSyncedBookmarks(ctx, tree, syncFolder.ID, 10, nil)
	if err != nil {
		t.Fatalf("failed to index: %v", err)
	}
	byURL := localstore.IndexByURL(entries)

	if e, ok := byURL["https://top.example.com"]; !ok || e.FolderPath != "" {
		t.Errorf("top bookmark missing or misplaced: %+v", e)
	}
	if e, ok := byURL["https://nested.example.com"]; !ok || e.FolderPath != "Work" {
		t.Errorf("nested bookmark missing or misplaced: %+v", e)
	}
}

func TestFullSyncSkipsInvalidRemoteRecords(t *testing.T) {
	api := &fakeAPI{token: "tok", remote: []bookmarks.Bookmark{
		{ID: 1, Title: "No URL", URL: "   "},
		{ID: 2, Title: "", URL: "https://untitled.example.com"},
		{ID: 3, Title: "Valid", URL: "https://valid.example.com"},
	}}
	eng, tree, _ := newTestEngine(t, api)
	ctx := context.Background()

	if err := eng.FullSync(ctx); err != nil {
		t.Fatalf("FullSync failed: %v", err)
	}

	syncFolder, _ := eng.EnsureSyncFolder(ctx)
	entries, err := localstore.ListSyncedBookmarks(ctx, tree, syncFolder.ID, 10, nil)
	if err != nil {
		t.Fatalf("failed to index: %v", err)
	}
	if len(entries) != 1 || entries[0].Title != "Valid" {
		t.Errorf("entries = %+v, want only the valid record", entries)
	}
}

func TestFullSyncCorrectsTitleAndFolder(t *testing.T) {
	api := &fakeAPI{token: "tok", remote: []bookmarks.Bookmark{
		{ID: 1, Title: "New Title", URL: "https://example.com", Folder: "Work"},
	}}
	eng, tree, _ := newTestEngine(t, api)
	ctx := context.Background()

	syncFolder, err := eng.EnsureSyncFolder(ctx)
	if err != nil {
		t.Fatalf("EnsureSyncFolder failed: %v", err)
	}
	local := mustCreate(t, tree, syncFolder.ID, "Old Title", "https://example.com")

	if err := eng.FullSync(ctx); err != nil {
		t.Fatalf("FullSync failed: %v", err)
	}

	node, err := tree.Get(ctx, local.ID)
	if err != nil {
		t.Fatalf("bookmark disappeared: %v", err)
	}
	if node.Title != "New Title" {
		t.Errorf("title = %q, want New Title", node.Title)
	}
	parent, err := tree.Get(ctx, node.ParentID)
	if err != nil {
		t.Fatalf("failed to load parent: %v", err)
	}
	if parent.Title != "Work" {
		t.Errorf("parent = %q, want Work", parent.Title)
	}
}

func TestFullSyncFetchErrorAbortsAndReleasesGuard(t *testing.T) {
	api := &fakeAPI{token: "tok", listErr: errors.New("server down")}
	eng, _, _ := newTestEngine(t, api)

	if err := eng.FullSync(context.Background()); err == nil {
		t.Fatal("FullSync succeeded despite fetch error")
	}
	if eng.State().Suppressed() {
		t.Error("guard flag left set after aborted full sync")
	}
	if eng.FullSyncPhase() != PhaseIdle {
		t.Error("full sync phase left running after abort")
	}
}

func TestPhaseGateSingleFlight(t *testing.T) {
	g := newPhaseGate()

	if !g.tryStart() {
		t.Fatal("first start rejected")
	}
	if g.tryStart() {
		t.Error("second start accepted while running")
	}
	g.finish()
	if !g.tryStart() {
		t.Error("start rejected after finish")
	}
}

func TestOnCreatedPushesAndRecordsMapping(t *testing.T) {
	api := &fakeAPI{token: "tok"}
	eng, tree, ids := newTestEngine(t, api)
	ctx := context.Background()

	syncFolder, _ := eng.EnsureSyncFolder(ctx)
	node := mustCreate(t, tree, syncFolder.ID, "Example", "https://example.com")

	if err := eng.OnCreated(ctx, node); err != nil {
		t.Fatalf("OnCreated failed: %v", err)
	}

	if len(api.created) != 1 {
		t.Fatalf("created %d remote bookmarks, want 1", len(api.created))
	}
	if remoteID, ok, _ := ids.Lookup(ctx, string(node.ID)); !ok || remoteID != 1 {
		t.Errorf("mapping = (%d, %v), want (1, true)", remoteID, ok)
	}
}

func TestOnCreatedOutsideSyncFolderIgnored(t *testing.T) {
	api := &fakeAPI{token: "tok"}
	eng, tree, _ := newTestEngine(t, api)
	ctx := context.Background()

	node := mustCreate(t, tree, tree.DefaultParentID(), "Outside", "https://outside.example.com")

	if err := eng.OnCreated(ctx, node); err != nil {
		t.Fatalf("OnCreated failed: %v", err)
	}
	if len(api.created) != 0 {
		t.Error("bookmark outside the sync folder was pushed")
	}
}

func TestRemoteApplyDoesNotEchoBack(t *testing.T) {
	api := &fakeAPI{token: "tok"}
	eng, tree, _ := newTestEngine(t, api)
	ctx := context.Background()

	// Wire tree events to the engine the way the daemon does.
	tree.Subscribe(func(ev localstore.Event) {
		_ = eng.HandleEvent(ctx, ev)
	})

	change := bookmarks.Change{
		Action: bookmarks.ActionCreated,
		Data:   bookmarks.Bookmark{ID: 7, Title: "Pushed", URL: "https://pushed.example.com"},
	}
	if err := eng.ApplyRemoteChange(ctx, change); err != nil {
		t.Fatalf("ApplyRemoteChange failed: %v", err)
	}

	matches, err := tree.Search(ctx, localstore.Query{URL: "https://pushed.example.com"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("pushed bookmark not applied locally")
	}
	if len(api.created) != 0 {
		t.Error("pushed create echoed back to the server")
	}
	if eng.State().Suppressed() {
		t.Error("guard flag left set after remote apply")
	}
}

func TestRemoteCreateSkipsExistingURL(t *testing.T) {
	api := &fakeAPI{token: "tok"}
	eng, tree, _ := newTestEngine(t, api)
	ctx := context.Background()

	syncFolder, _ := eng.EnsureSyncFolder(ctx)
	mustCreate(t, tree, syncFolder.ID, "Existing", "https://dup.example.com")

	change := bookmarks.Change{
		Action: bookmarks.ActionCreated,
		Data:   bookmarks.Bookmark{ID: 7, Title: "Duplicate", URL: "https://dup.example.com"},
	}
	if err := eng.ApplyRemoteChange(ctx, change); err != nil {
		t.Fatalf("ApplyRemoteChange failed: %v", err)
	}

	matches, _ := tree.Search(ctx, localstore.Query{URL: "https://dup.example.com"})
	if len(matches) != 1 {
		t.Errorf("got %d copies, want 1", len(matches))
	}
}

func TestRemoteDeleteRemovesLocalAndMapping(t *testing.T) {
	api := &fakeAPI{token: "tok"}
	eng, tree, ids := newTestEngine(t, api)
	ctx := context.Background()

	syncFolder, _ := eng.EnsureSyncFolder(ctx)
	node := mustCreate(t, tree, syncFolder.ID, "Doomed", "https://doomed.example.com")
	_ = ids.Record(ctx, string(node.ID), 9)

	change := bookmarks.Change{
		Action: bookmarks.ActionDeleted,
		Data:   bookmarks.Bookmark{ID: 9, Title: "Doomed", URL: "https://doomed.example.com"},
	}
	if err := eng.ApplyRemoteChange(ctx, change); err != nil {
		t.Fatalf("ApplyRemoteChange failed: %v", err)
	}

	if _, err := tree.Get(ctx, node.ID); err == nil {
		t.Error("bookmark survived pushed delete")
	}
	if _, ok, _ := ids.Lookup(ctx, string(node.ID)); ok {
		t.Error("mapping survived pushed delete")
	}
}

func TestOnRemovedFolderDeletesEachBookmark(t *testing.T) {
	api := &fakeAPI{token: "tok", search: map[string][]bookmarks.Bookmark{
		"https://b.example.com": {{ID: 22, URL: "https://b.example.com"}},
	}}
	eng, tree, ids := newTestEngine(t, api)
	ctx := context.Background()

	syncFolder, _ := eng.EnsureSyncFolder(ctx)
	folder := mustCreate(t, tree, syncFolder.ID, "Work", "")
	a := mustCreate(t, tree, folder.ID, "A", "https://a.example.com")
	b := mustCreate(t, tree, folder.ID, "B", "https://b.example.com")

	// A has a mapping; B relies on the URL-search fallback.
	_ = ids.Record(ctx, string(a.ID), 21)

	ev := localstore.Event{
		Kind:    localstore.EventRemoved,
		Node:    folder,
		Subtree: []localstore.Node{folder, a, b},
	}
	if err := eng.OnRemoved(ctx, ev); err != nil {
		t.Fatalf("OnRemoved failed: %v", err)
	}

	if len(api.deleted) != 2 {
		t.Fatalf("deleted %d remote bookmarks, want 2: %v", len(api.deleted), api.deleted)
	}
	if _, ok, _ := ids.Lookup(ctx, string(a.ID)); ok {
		t.Error("mapping survived removal")
	}
}

func TestOnMovedOutOfScopeReportsMembership(t *testing.T) {
	api := &fakeAPI{token: "tok"}
	api.syncFn = func(req bookmarks.SyncRequest) (*bookmarks.SyncResult, error) {
		return &bookmarks.SyncResult{Action: bookmarks.ActionDeleted}, nil
	}
	eng, tree, ids := newTestEngine(t, api)
	ctx := context.Background()

	node := mustCreate(t, tree, tree.DefaultParentID(), "Moved Out", "https://out.example.com")
	_ = ids.Record(ctx, string(node.ID), 5)

	if err := eng.OnMoved(ctx, node); err != nil {
		t.Fatalf("OnMoved failed: %v", err)
	}

	if len(api.syncReqs) != 1 {
		t.Fatalf("sync requests = %d, want 1", len(api.syncReqs))
	}
	req := api.syncReqs[0]
	if req.IsInSyncFolder {
		t.Error("request claims sync-folder membership for a node outside it")
	}
	if req.ID != 5 {
		t.Errorf("request id = %d, want 5", req.ID)
	}
	if _, ok, _ := ids.Lookup(ctx, string(node.ID)); ok {
		t.Error("mapping survived a deleted reconciliation decision")
	}
}

func TestOnChangedInScopeSyncs(t *testing.T) {
	api := &fakeAPI{token: "tok"}
	api.syncFn = func(req bookmarks.SyncRequest) (*bookmarks.SyncResult, error) {
		return &bookmarks.SyncResult{Action: bookmarks.ActionUpdated}, nil
	}
	eng, tree, _ := newTestEngine(t, api)
	ctx := context.Background()

	syncFolder, _ := eng.EnsureSyncFolder(ctx)
	node := mustCreate(t, tree, syncFolder.ID, "Edited", "https://edit.example.com")

	if err := eng.OnChanged(ctx, node); err != nil {
		t.Fatalf("OnChanged failed: %v", err)
	}
	if len(api.syncReqs) != 1 || !api.syncReqs[0].IsInSyncFolder {
		t.Errorf("sync requests = %+v, want one in-scope request", api.syncReqs)
	}
}

func TestPushLocalReportsEveryBookmark(t *testing.T) {
	api := &fakeAPI{token: "tok"}
	api.syncFn = func(req bookmarks.SyncRequest) (*bookmarks.SyncResult, error) {
		return &bookmarks.SyncResult{
			Action:   bookmarks.ActionCreated,
			Bookmark: &bookmarks.Bookmark{ID: int64(len(req.URL)), URL: req.URL},
		}, nil
	}
	eng, tree, ids := newTestEngine(t, api)
	ctx := context.Background()

	syncFolder, _ := eng.EnsureSyncFolder(ctx)
	a := mustCreate(t, tree, syncFolder.ID, "A", "https://a.example.com")
	folder := mustCreate(t, tree, syncFolder.ID, "Work", "")
	mustCreate(t, tree, folder.ID, "B", "https://b.example.com")

	if err := eng.PushLocal(ctx); err != nil {
		t.Fatalf("PushLocal failed: %v", err)
	}

	if len(api.syncReqs) != 2 {
		t.Fatalf("sync requests = %d, want 2", len(api.syncReqs))
	}
	if _, ok, _ := ids.Lookup(ctx, string(a.ID)); !ok {
		t.Error("mapping not recorded from created reconciliation result")
	}
	if eng.State().Suppressed() {
		t.Error("guard flag left set after push")
	}
}

func TestSyncStateWithReleasesOnError(t *testing.T) {
	s := NewSyncState()

	err := s.With(FlagImporting, func() error {
		if !s.IsSet(FlagImporting) {
			t.Error("flag not set inside With")
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("With swallowed the error")
	}
	if s.IsSet(FlagImporting) || s.Suppressed() {
		t.Error("flag left set after error")
	}
}

func TestSuppressedSkipsEventHandlers(t *testing.T) {
	api := &fakeAPI{token: "tok"}
	eng, tree, _ := newTestEngine(t, api)
	ctx := context.Background()

	syncFolder, _ := eng.EnsureSyncFolder(ctx)
	node := mustCreate(t, tree, syncFolder.ID, "Imported", "https://import.example.com")

	err := eng.State().With(FlagImporting, func() error {
		return eng.OnCreated(ctx, node)
	})
	if err != nil {
		t.Fatalf("OnCreated failed: %v", err)
	}
	if len(api.created) != 0 {
		t.Error("event handled while importing flag was held")
	}
}
