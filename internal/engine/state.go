package engine

import "sync"

// Flag names one of the sync-state booleans that gate event handling.
type Flag string

const (
	// FlagImporting is held during bulk import of an external bookmark file.
	FlagImporting Flag = "isImporting"
	// FlagExporting is held during bulk export.
	FlagExporting Flag = "isExporting"
	// FlagSyncingFromServer is held while server-originated changes are
	// being applied to the local tree, so the resulting local events are
	// not echoed back to the server.
	FlagSyncingFromServer Flag = "isSyncingFromServer"
)

// SyncState owns the three guard flags. It replaces the ambient storage
// keys of older designs with an explicit context object: flags are only
// ever held through With, which guarantees release on every exit path.
type SyncState struct {
	mu    sync.Mutex
	flags map[Flag]bool
}

// NewSyncState returns a state with all flags clear.
func NewSyncState() *SyncState {
	return &SyncState{flags: make(map[Flag]bool)}
}

// IsSet reports whether the named flag is currently held.
func (s *SyncState) IsSet(f Flag) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags[f]
}

// Suppressed reports whether any guard flag is held. Local bookmark-event
// handlers must no-op while suppressed: the browser fires identical events
// for user mutations and for the engine's own writes.
func (s *SyncState) Suppressed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags[FlagImporting] || s.flags[FlagExporting] || s.flags[FlagSyncingFromServer]
}

func (s *SyncState) set(f Flag, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[f] = v
}

// With runs fn with the named flag held, clearing it afterward regardless
// of how fn exits.
func (s *SyncState) With(f Flag, fn func() error) error {
	s.set(f, true)
	defer s.set(f, false)
	return fn()
}
