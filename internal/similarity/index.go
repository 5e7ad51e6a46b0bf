package similarity

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Candidate is one index query result: a post whose minimum frame distance to
// the query signature is within the requested bound.
type Candidate struct {
	PostID    int64
	Distance  int
	CreatedAt time.Time
}

// indexEntry holds every frame signature registered for one post. A video
// registers multiple frame signatures all pointing at the same post.
type indexEntry struct {
	postID    int64
	createdAt time.Time
	frames    []Signature
}

// SignatureIndex is an in-memory approximate-nearest-neighbor structure over
// perceptual signatures. Entries are bucketed by each 16-bit word of each
// frame signature; a query only scans posts sharing at least one word with
// the query signature, which by pigeonhole is lossless for any maxDistance
// below IndexWords. Wider queries fall back to a full scan. Safe for
// concurrent use.
type SignatureIndex struct {
	mu      sync.RWMutex
	entries map[int64]*indexEntry
	buckets [IndexWords]map[uint16][]int64
}

// NewSignatureIndex creates an empty signature index.
func NewSignatureIndex() *SignatureIndex {
	idx := &SignatureIndex{
		entries: make(map[int64]*indexEntry),
	}
	for i := range idx.buckets {
		idx.buckets[i] = make(map[uint16][]int64)
	}
	return idx
}

// Insert registers the frame signatures of a post. Inserting a post that is
// already present replaces its prior entry idempotently.
func (x *SignatureIndex) Insert(postID int64, createdAt time.Time, frames []Signature) error {
	if len(frames) == 0 {
		return fmt.Errorf("similarity: post %d has no frame signatures", postID)
	}
	for _, f := range frames {
		if len(f) != signatureWords {
			return fmt.Errorf("similarity: post %d has a signature of %d words, want %d", postID, len(f), signatureWords)
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if _, ok := x.entries[postID]; ok {
		x.removeLocked(postID)
	}

	entry := &indexEntry{
		postID:    postID,
		createdAt: createdAt,
		frames:    make([]Signature, 0, len(frames)),
	}
	for _, f := range frames {
		entry.frames = append(entry.frames, f.Clone())
	}
	x.entries[postID] = entry

	for _, key := range entryBucketKeys(entry) {
		wordIdx, value := key.split()
		x.buckets[wordIdx][value] = append(x.buckets[wordIdx][value], postID)
	}
	return nil
}

// Remove drops a post from the index. Idempotent; reports whether an entry
// was present.
func (x *SignatureIndex) Remove(postID int64) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.entries[postID]; !ok {
		return false
	}
	x.removeLocked(postID)
	return true
}

func (x *SignatureIndex) removeLocked(postID int64) {
	entry := x.entries[postID]
	delete(x.entries, postID)

	for _, key := range entryBucketKeys(entry) {
		wordIdx, value := key.split()
		bucket := x.buckets[wordIdx][value]
		for i, id := range bucket {
			if id == postID {
				bucket = append(bucket[:i], bucket[i+1:]...)
				break
			}
		}
		if len(bucket) == 0 {
			delete(x.buckets[wordIdx], value)
		} else {
			x.buckets[wordIdx][value] = bucket
		}
	}
}

// Query returns every post whose minimum frame distance to sig is at most
// maxDistance, ascending by distance. Equal distances order by earlier
// creation time, then by post ID, for deterministic results.
func (x *SignatureIndex) Query(sig Signature, maxDistance int) []Candidate {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var results []Candidate
	scan := func(entry *indexEntry) {
		d := entry.distance(sig)
		if d <= maxDistance {
			results = append(results, Candidate{
				PostID:    entry.postID,
				Distance:  d,
				CreatedAt: entry.createdAt,
			})
		}
	}

	if maxDistance >= IndexWords {
		// The word-bucket prune is only lossless below IndexWords bit flips;
		// wider queries scan everything.
		for _, entry := range x.entries {
			scan(entry)
		}
	} else {
		seen := make(map[int64]struct{})
		for wordIdx, value := range sig.Words() {
			for _, id := range x.buckets[wordIdx][value] {
				if _, ok := seen[id]; ok {
					continue
				}
				seen[id] = struct{}{}
				scan(x.entries[id])
			}
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.Before(results[j].CreatedAt)
		}
		return results[i].PostID < results[j].PostID
	})
	return results
}

// distance is the minimum Hamming distance between sig and any frame of the
// entry, so a clip embedded at a different offset still matches.
func (e *indexEntry) distance(sig Signature) int {
	best := SignatureBits + 1
	for _, f := range e.frames {
		if d := sig.Distance(f); d < best {
			best = d
		}
	}
	return best
}

// Len returns the number of indexed posts.
func (x *SignatureIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Clear removes all entries.
func (x *SignatureIndex) Clear() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries = make(map[int64]*indexEntry)
	for i := range x.buckets {
		x.buckets[i] = make(map[uint16][]int64)
	}
}

// PostIDs returns a snapshot of all indexed post IDs.
func (x *SignatureIndex) PostIDs() []int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	ids := make([]int64, 0, len(x.entries))
	for id := range x.entries {
		ids = append(ids, id)
	}
	return ids
}

// bucketKey packs a word index and word value into one comparable key.
type bucketKey uint32

func makeBucketKey(wordIdx int, value uint16) bucketKey {
	return bucketKey(uint32(wordIdx)<<16 | uint32(value))
}

func (k bucketKey) split() (wordIdx int, value uint16) {
	return int(k >> 16), uint16(k & 0xffff)
}

// entryBucketKeys returns the deduplicated set of (word index, word value)
// buckets an entry occupies across all of its frame signatures.
func entryBucketKeys(entry *indexEntry) []bucketKey {
	seen := make(map[bucketKey]struct{}, IndexWords*len(entry.frames))
	keys := make([]bucketKey, 0, IndexWords*len(entry.frames))
	for _, frame := range entry.frames {
		for wordIdx, value := range frame.Words() {
			key := makeBucketKey(wordIdx, value)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	return keys
}
