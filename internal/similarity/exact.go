package similarity

import (
	"sync"
)

// ExactTable maps exact content digests to post IDs for O(1) byte-identical
// duplicate lookup. Identical bytes mean the same post, so this is consulted
// before any perceptual scoring. Safe for concurrent use.
type ExactTable struct {
	mu       sync.RWMutex
	byDigest map[string]int64
	byPost   map[int64]string
}

// NewExactTable creates an empty exact-match table.
func NewExactTable() *ExactTable {
	return &ExactTable{
		byDigest: make(map[string]int64),
		byPost:   make(map[int64]string),
	}
}

// Lookup returns the post ID registered for digest, if any.
func (t *ExactTable) Lookup(digest string) (int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byDigest[digest]
	return id, ok
}

// Insert registers digest for postID. Registering the same digest for the
// same post is a no-op; registering it for a different live post returns a
// ConflictError and leaves the table unchanged.
func (t *ExactTable) Insert(digest string, postID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.byDigest[digest]; ok {
		if existing == postID {
			return nil
		}
		return &ConflictError{Digest: digest, ExistingPostID: existing}
	}

	// A post being re-registered under new content drops its old digest.
	if old, ok := t.byPost[postID]; ok {
		delete(t.byDigest, old)
	}

	t.byDigest[digest] = postID
	t.byPost[postID] = digest
	return nil
}

// Remove drops the entry for postID. Idempotent; reports whether an entry
// was present.
func (t *ExactTable) Remove(postID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	digest, ok := t.byPost[postID]
	if !ok {
		return false
	}
	delete(t.byPost, postID)
	delete(t.byDigest, digest)
	return true
}

// Len returns the number of registered posts.
func (t *ExactTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byDigest)
}

// Clear removes all entries.
func (t *ExactTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byDigest = make(map[string]int64)
	t.byPost = make(map[int64]string)
}

// PostIDs returns a snapshot of all registered post IDs.
func (t *ExactTable) PostIDs() []int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]int64, 0, len(t.byPost))
	for id := range t.byPost {
		ids = append(ids, id)
	}
	return ids
}
