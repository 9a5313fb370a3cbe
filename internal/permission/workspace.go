package permission

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
	"sync"
)

// WorkspaceStore persists pattern approvals per working directory.
// Approvals never expire; the on-disk format is an implementation detail
// behind this contract. Implementations must be read-after-write
// consistent: a pattern approved via Approve is visible to an immediately
// following Approved call.
type WorkspaceStore interface {
	Approve(dir string, patterns []string) error
	Approved(dir string) ([]string, error)
}

// WorkspaceKey derives the stable bucket for a working directory.
// The path is cleaned, slash-normalized and case-folded before hashing so
// equivalent spellings land in the same bucket.
func WorkspaceKey(dir string) string {
	norm := filepath.ToSlash(filepath.Clean(dir))
	norm = strings.ToLower(strings.TrimSuffix(norm, "/"))
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:16])
}

// MemoryWorkspaceStore is an in-process WorkspaceStore. Tests construct
// their own instance; production wiring uses the sqlite-backed store.
type MemoryWorkspaceStore struct {
	mu       sync.RWMutex
	patterns map[string][]string
}

func NewMemoryWorkspaceStore() *MemoryWorkspaceStore {
	return &MemoryWorkspaceStore{patterns: make(map[string][]string)}
}

func (s *MemoryWorkspaceStore) Approve(dir string, patterns []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := WorkspaceKey(dir)
	existing := s.patterns[key]
	for _, p := range patterns {
		if !containsPattern(existing, p) {
			existing = append(existing, p)
		}
	}
	s.patterns[key] = existing
	return nil
}

func (s *MemoryWorkspaceStore) Approved(dir string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.patterns[WorkspaceKey(dir)]
	out := make([]string, len(stored))
	copy(out, stored)
	return out, nil
}

func containsPattern(patterns []string, pattern string) bool {
	for _, p := range patterns {
		if p == pattern {
			return true
		}
	}
	return false
}
