// Package history keeps recognition results newest-first. Storage is
// unbounded; callers cap what they display with Recent.
package history

import (
	"sync"
	"time"
)

// DisplayLimit is the number of entries shown by default.
const DisplayLimit = 10

// Preview lengths, in runes.
const (
	ListPreviewRunes  = 100
	ImagePreviewRunes = 50
)

// Result is one successful recognition.
type Result struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Text        string    `json:"text"`
	SourceImage string    `json:"source_image"`
	// Filter is the transform applied before upload.
	Filter string `json:"filter,omitempty"`
}

// Preview returns the text shortened for list display.
func (r Result) Preview() string { return Truncate(r.Text, ListPreviewRunes) }

// Store is safe for concurrent use. Readers always receive copies.
type Store struct {
	mu      sync.RWMutex
	entries []Result
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Append adds r as the newest entry.
func (s *Store) Append(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, Result{})
	copy(s.entries[1:], s.entries)
	s.entries[0] = r
}

// Clear removes every entry and returns how many were dropped.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.entries)
	s.entries = nil
	return n
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Snapshot returns every entry, newest first.
func (s *Store) Snapshot() []Result {
	return s.Recent(0)
}

// Recent returns at most n entries, newest first. n <= 0 returns all.
func (s *Store) Recent(n int) []Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || n > len(s.entries) {
		n = len(s.entries)
	}
	out := make([]Result, n)
	copy(out, s.entries[:n])
	return out
}

// Truncate shortens s to at most n runes, appending "..." when cut.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i] + "..."
		}
		count++
	}
	return s
}
