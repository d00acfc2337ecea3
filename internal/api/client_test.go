package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/marksync/marksync/internal/bookmarks"
)

func TestListBookmarksSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"bookmarks": []bookmarks.Bookmark{{ID: 1, Title: "A", URL: "https://a.example.com"}},
		})
	}))
	defer srv.Close()

	c := New(nil, srv.URL, func() string { return "tok" })

	got, err := c.ListBookmarks(context.Background())
	if err != nil {
		t.Fatalf("ListBookmarks failed: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", gotAuth)
	}
	if len(got) != 1 || got[0].URL != "https://a.example.com" {
		t.Errorf("bookmarks = %+v", got)
	}
}

func TestUnauthorizedMapsToSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(nil, srv.URL, nil)
	if _, err := c.ListBookmarks(context.Background()); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestNotFoundMapsToSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(nil, srv.URL, nil)
	if err := c.DeleteBookmark(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSyncBookmarkRoundTrip(t *testing.T) {
	var gotReq bookmarks.SyncRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bookmarks/sync" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(bookmarks.SyncResult{Action: bookmarks.ActionCreated})
	}))
	defer srv.Close()

	c := New(nil, srv.URL, func() string { return "tok" })

	res, err := c.SyncBookmark(context.Background(), bookmarks.SyncRequest{
		Title:          "A",
		URL:            "https://a.example.com",
		IsInSyncFolder: true,
	})
	if err != nil {
		t.Fatalf("SyncBookmark failed: %v", err)
	}
	if res.Action != bookmarks.ActionCreated {
		t.Errorf("action = %s, want created", res.Action)
	}
	if !gotReq.IsInSyncFolder {
		t.Error("isInSyncFolder not carried on the wire")
	}
}

func TestSearchByURLEscapesQuery(t *testing.T) {
	var gotURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.Query().Get("url")
		_ = json.NewEncoder(w).Encode(map[string]any{"bookmarks": []bookmarks.Bookmark{}})
	}))
	defer srv.Close()

	c := New(nil, srv.URL, nil)
	if _, err := c.SearchByURL(context.Background(), "https://example.com/a?b=c&d=e"); err != nil {
		t.Fatalf("SearchByURL failed: %v", err)
	}
	if gotURL != "https://example.com/a?b=c&d=e" {
		t.Errorf("url round trip = %q", gotURL)
	}
}

func TestHealthProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(nil, srv.URL, nil)
	if !c.Health(context.Background(), time.Second) {
		t.Error("Health reported a live server as down")
	}

	srv.Close()
	if c.Health(context.Background(), time.Second) {
		t.Error("Health reported a closed server as up")
	}
}
