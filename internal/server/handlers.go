package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/marksync/marksync/internal/bookmarks"
)

// recentScanLimit caps the no-identifier match scan of the reconciliation
// endpoint. Users with more bookmarks than this may miss matches on older
// records; the client's identifier mapping makes the scan a fallback path.
const recentScanLimit = 100

// decryptedPlaceholder stands in for the title of a record whose payload
// cannot be decrypted, in delete notifications only.
const decryptedPlaceholder = "(unreadable)"

func (s *Server) toBookmark(r Record, p bookmarks.Payload) bookmarks.Bookmark {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	return bookmarks.Bookmark{
		ID:          r.ID,
		Title:       p.Title,
		URL:         p.URL,
		Folder:      p.Folder,
		Tags:        tags,
		Description: p.Description,
		Position:    r.Position,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func decodePayload(r *http.Request) (bookmarks.Payload, int, error) {
	var body struct {
		bookmarks.Payload
		Position int `json:"position"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return bookmarks.Payload{}, 0, err
	}
	return body.Payload, body.Position, nil
}

// handleHealth reports availability and the connected client count.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
	})
}

// handleListBookmarks returns the user's full decrypted bookmark set.
// Records that fail to decrypt are skipped and counted, never fatal: one
// corrupt row must not hide the rest of the collection.
func (s *Server) handleListBookmarks(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	records, err := s.store.ListByUser(r.Context(), userID)
	if err != nil {
		s.logger.Printf("Failed to list bookmarks for %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to list bookmarks")
		return
	}

	out := make([]bookmarks.Bookmark, 0, len(records))
	skipped := 0
	for _, record := range records {
		payload, err := s.cipher.DecryptPayload(record.EncryptedData)
		if err != nil {
			skipped++
			s.logger.Printf("Warning: skipping undecryptable bookmark %d: %v", record.ID, err)
			continue
		}
		out = append(out, s.toBookmark(record, payload))
	}
	if skipped > 0 {
		s.logger.Printf("Returned %d bookmarks for %s, skipped %d undecryptable", len(out), userID, skipped)
	}

	writeJSON(w, http.StatusOK, map[string]any{"bookmarks": out})
}

// handleCreateBookmark encrypts and stores a new bookmark.
func (s *Server) handleCreateBookmark(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	payload, position, err := decodePayload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := payload.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	encrypted, err := s.cipher.EncryptPayload(payload)
	if err != nil {
		s.logger.Printf("Failed to encrypt bookmark for %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to encrypt bookmark")
		return
	}

	record, err := s.store.Insert(r.Context(), userID, encrypted, position)
	if err != nil {
		s.logger.Printf("Failed to insert bookmark for %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to store bookmark")
		return
	}

	bookmark := s.toBookmark(record, payload)
	s.hub.NotifyBookmarkChange(userID, bookmarks.ActionCreated, bookmark)
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":  "bookmark created",
		"bookmark": bookmark,
	})
}

// handleUpdateBookmark re-encrypts and stores a bookmark by identifier. A
// record owned by another user is reported as not found.
func (s *Server) handleUpdateBookmark(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid bookmark id")
		return
	}

	payload, position, err := decodePayload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := payload.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	encrypted, err := s.cipher.EncryptPayload(payload)
	if err != nil {
		s.logger.Printf("Failed to encrypt bookmark for %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to encrypt bookmark")
		return
	}

	record, found, err := s.store.Update(r.Context(), userID, id, encrypted, position)
	if err != nil {
		s.logger.Printf("Failed to update bookmark %d for %s: %v", id, userID, err)
		writeError(w, http.StatusInternalServerError, "failed to update bookmark")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "bookmark not found")
		return
	}

	bookmark := s.toBookmark(record, payload)
	s.hub.NotifyBookmarkChange(userID, bookmarks.ActionUpdated, bookmark)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "bookmark updated",
		"bookmark": bookmark,
	})
}

// handleDeleteBookmark removes a bookmark by identifier. The record is read
// first so the change notification can carry the deleted bookmark's URL; a
// payload that no longer decrypts still gets deleted, with a placeholder
// title in the notification.
func (s *Server) handleDeleteBookmark(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid bookmark id")
		return
	}

	record, found, err := s.store.GetByID(r.Context(), userID, id)
	if err != nil {
		s.logger.Printf("Failed to load bookmark %d for %s: %v", id, userID, err)
		writeError(w, http.StatusInternalServerError, "failed to load bookmark")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "bookmark not found")
		return
	}

	notified := bookmarks.Bookmark{ID: id, Title: decryptedPlaceholder, Tags: []string{}}
	if payload, err := s.cipher.DecryptPayload(record.EncryptedData); err == nil {
		notified = s.toBookmark(record, payload)
	} else {
		s.logger.Printf("Warning: deleting undecryptable bookmark %d: %v", id, err)
	}

	if _, err := s.store.Delete(r.Context(), userID, id); err != nil {
		s.logger.Printf("Failed to delete bookmark %d for %s: %v", id, userID, err)
		writeError(w, http.StatusInternalServerError, "failed to delete bookmark")
		return
	}

	s.hub.NotifyBookmarkChange(userID, bookmarks.ActionDeleted, notified)
	writeJSON(w, http.StatusOK, map[string]string{"message": "bookmark deleted"})
}

// handleClearBookmarks removes the user's whole collection.
func (s *Server) handleClearBookmarks(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	deleted, err := s.store.DeleteAll(r.Context(), userID)
	if err != nil {
		s.logger.Printf("Failed to clear bookmarks for %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to clear bookmarks")
		return
	}

	s.logger.Printf("Cleared %d bookmarks for %s", deleted, userID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "bookmarks cleared",
		"deleted": deleted,
	})
}

// handleSearchBookmarks filters the user's decrypted set. The url parameter
// matches exactly; the q parameter matches title, URL, and description
// case-insensitively. Decryption happens server-side, so search cost is
// linear in the collection size.
func (s *Server) handleSearchBookmarks(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	exactURL := r.URL.Query().Get("url")
	query := strings.ToLower(r.URL.Query().Get("q"))
	if exactURL == "" && query == "" {
		writeError(w, http.StatusBadRequest, "url or q parameter required")
		return
	}

	records, err := s.store.ListByUser(r.Context(), userID)
	if err != nil {
		s.logger.Printf("Failed to list bookmarks for %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to search bookmarks")
		return
	}

	out := make([]bookmarks.Bookmark, 0)
	for _, record := range records {
		payload, err := s.cipher.DecryptPayload(record.EncryptedData)
		if err != nil {
			continue
		}
		switch {
		case exactURL != "":
			if payload.URL != exactURL {
				continue
			}
		default:
			haystack := strings.ToLower(payload.Title + " " + payload.URL + " " + payload.Description)
			if !strings.Contains(haystack, query) {
				continue
			}
		}
		out = append(out, s.toBookmark(record, payload))
	}

	writeJSON(w, http.StatusOK, map[string]any{"bookmarks": out})
}

// handleSyncBookmark is the reconciliation endpoint. The client reports a
// bookmark's current state and sync-folder membership; the server decides
// what to do:
//
//	found, in sync folder      -> update
//	found, left sync folder    -> delete
//	not found, in sync folder  -> create
//	not found, outside folder  -> none
//
// The record is located by the client-supplied identifier when present,
// otherwise by a URL scan over the most recently created records.
func (s *Server) handleSyncBookmark(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	var req bookmarks.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	payload := bookmarks.Payload{
		Title:       req.Title,
		URL:         req.URL,
		Folder:      req.Folder,
		Tags:        req.Tags,
		Description: req.Description,
	}
	if err := payload.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	record, found, err := s.locateRecord(r, userID, req)
	if err != nil {
		s.logger.Printf("Failed to locate bookmark for %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to locate bookmark")
		return
	}

	switch {
	case found && req.IsInSyncFolder:
		encrypted, err := s.cipher.EncryptPayload(payload)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to encrypt bookmark")
			return
		}
		updated, ok, err := s.store.Update(r.Context(), userID, record.ID, encrypted, req.Position)
		if err != nil || !ok {
			s.logger.Printf("Failed to update bookmark %d for %s: %v", record.ID, userID, err)
			writeError(w, http.StatusInternalServerError, "failed to update bookmark")
			return
		}
		bookmark := s.toBookmark(updated, payload)
		s.hub.NotifyBookmarkChange(userID, bookmarks.ActionUpdated, bookmark)
		writeJSON(w, http.StatusOK, bookmarks.SyncResult{
			Action:   bookmarks.ActionUpdated,
			Message:  "bookmark updated",
			Bookmark: &bookmark,
		})

	case found && !req.IsInSyncFolder:
		if _, err := s.store.Delete(r.Context(), userID, record.ID); err != nil {
			s.logger.Printf("Failed to delete bookmark %d for %s: %v", record.ID, userID, err)
			writeError(w, http.StatusInternalServerError, "failed to delete bookmark")
			return
		}
		bookmark := s.toBookmark(record, payload)
		s.hub.NotifyBookmarkChange(userID, bookmarks.ActionDeleted, bookmark)
		writeJSON(w, http.StatusOK, bookmarks.SyncResult{
			Action:  bookmarks.ActionDeleted,
			Message: "bookmark removed from sync",
		})

	case !found && req.IsInSyncFolder:
		encrypted, err := s.cipher.EncryptPayload(payload)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to encrypt bookmark")
			return
		}
		created, err := s.store.Insert(r.Context(), userID, encrypted, req.Position)
		if err != nil {
			s.logger.Printf("Failed to insert bookmark for %s: %v", userID, err)
			writeError(w, http.StatusInternalServerError, "failed to store bookmark")
			return
		}
		bookmark := s.toBookmark(created, payload)
		s.hub.NotifyBookmarkChange(userID, bookmarks.ActionCreated, bookmark)
		writeJSON(w, http.StatusOK, bookmarks.SyncResult{
			Action:   bookmarks.ActionCreated,
			Message:  "bookmark created",
			Bookmark: &bookmark,
		})

	default:
		writeJSON(w, http.StatusOK, bookmarks.SyncResult{
			Action:  bookmarks.ActionNone,
			Message: "bookmark not tracked",
		})
	}
}

// locateRecord finds the stored record a sync request refers to: by the
// supplied identifier when present, otherwise by scanning recent records
// for a URL match.
func (s *Server) locateRecord(r *http.Request, userID string, req bookmarks.SyncRequest) (Record, bool, error) {
	if req.ID != 0 {
		return s.store.GetByID(r.Context(), userID, req.ID)
	}

	recent, err := s.store.Recent(r.Context(), userID, recentScanLimit)
	if err != nil {
		return Record{}, false, err
	}
	for _, record := range recent {
		payload, err := s.cipher.DecryptPayload(record.EncryptedData)
		if err != nil {
			continue
		}
		if payload.URL == req.URL {
			return record, true, nil
		}
	}
	return Record{}, false, nil
}
