package similarity

import (
	"math/rand"
	"testing"
	"time"
)

func mustInsert(t *testing.T, idx *SignatureIndex, postID int64, createdAt time.Time, frames ...Signature) {
	t.Helper()
	if err := idx.Insert(postID, createdAt, frames); err != nil {
		t.Fatalf("insert post %d: %v", postID, err)
	}
}

func TestIndexQueryOrdering(t *testing.T) {
	idx := NewSignatureIndex()
	rng := rand.New(rand.NewSource(10))
	base := randomSignature(rng)
	now := time.Now()

	mustInsert(t, idx, 1, now, flipBits(base, 6))
	mustInsert(t, idx, 2, now, flipBits(base, 2))
	mustInsert(t, idx, 3, now, base.Clone())
	mustInsert(t, idx, 4, now, flipBits(base, 200)) // well outside any threshold

	got := idx.Query(base, 10)
	wantIDs := []int64{3, 2, 1}
	wantDist := []int{0, 2, 6}
	if len(got) != len(wantIDs) {
		t.Fatalf("got %d candidates, want %d: %+v", len(got), len(wantIDs), got)
	}
	for i := range wantIDs {
		if got[i].PostID != wantIDs[i] || got[i].Distance != wantDist[i] {
			t.Errorf("candidate %d = (post %d, dist %d), want (post %d, dist %d)",
				i, got[i].PostID, got[i].Distance, wantIDs[i], wantDist[i])
		}
	}
}

func TestIndexThresholdBoundary(t *testing.T) {
	idx := NewSignatureIndex()
	rng := rand.New(rand.NewSource(11))
	base := randomSignature(rng)
	now := time.Now()

	mustInsert(t, idx, 1, now, flipBits(base, 10))
	mustInsert(t, idx, 2, now, flipBits(base, 11))

	got := idx.Query(base, 10)
	if len(got) != 1 || got[0].PostID != 1 {
		t.Fatalf("query at boundary returned %+v, want exactly post 1 at distance 10", got)
	}
}

func TestIndexTieBreakByCreatedAt(t *testing.T) {
	idx := NewSignatureIndex()
	rng := rand.New(rand.NewSource(12))
	base := randomSignature(rng)
	older := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	// Same distance, post 9 is older and must sort first.
	mustInsert(t, idx, 2, newer, flipBits(base, 3))
	mustInsert(t, idx, 9, older, flipBits(base, 3))

	got := idx.Query(base, 10)
	if len(got) != 2 || got[0].PostID != 9 || got[1].PostID != 2 {
		t.Fatalf("tie break order = %+v, want post 9 then post 2", got)
	}
}

func TestIndexInsertReplaces(t *testing.T) {
	idx := NewSignatureIndex()
	rng := rand.New(rand.NewSource(13))
	a := randomSignature(rng)
	b := randomSignature(rng)
	now := time.Now()

	mustInsert(t, idx, 1, now, a)
	mustInsert(t, idx, 1, now, b)

	if idx.Len() != 1 {
		t.Fatalf("len = %d after replace, want 1", idx.Len())
	}
	if got := idx.Query(a, 10); len(got) != 0 {
		t.Errorf("old signature still matches after replace: %+v", got)
	}
	if got := idx.Query(b, 10); len(got) != 1 || got[0].PostID != 1 {
		t.Errorf("new signature query = %+v, want post 1", got)
	}
}

func TestIndexInsertRejectsBadFrames(t *testing.T) {
	idx := NewSignatureIndex()
	now := time.Now()

	if err := idx.Insert(1, now, nil); err == nil {
		t.Error("insert with no frames succeeded")
	}
	if err := idx.Insert(1, now, []Signature{make(Signature, signatureWords-1)}); err == nil {
		t.Error("insert with short signature succeeded")
	}
	if idx.Len() != 0 {
		t.Errorf("len = %d after rejected inserts, want 0", idx.Len())
	}
}

func TestIndexRemove(t *testing.T) {
	idx := NewSignatureIndex()
	rng := rand.New(rand.NewSource(14))
	sig := randomSignature(rng)
	mustInsert(t, idx, 1, time.Now(), sig)

	if !idx.Remove(1) {
		t.Error("remove of present post returned false")
	}
	if idx.Remove(1) {
		t.Error("second remove returned true")
	}
	if got := idx.Query(sig, 0); len(got) != 0 {
		t.Errorf("removed post still matches: %+v", got)
	}
}

func TestIndexMultiFrameMinDistance(t *testing.T) {
	idx := NewSignatureIndex()
	rng := rand.New(rand.NewSource(15))
	frameA := randomSignature(rng)
	frameB := randomSignature(rng)
	mustInsert(t, idx, 1, time.Now(), frameA, frameB)

	// A query near the second frame must report the distance to that frame,
	// not to the first.
	got := idx.Query(flipBits(frameB, 4), 10)
	if len(got) != 1 || got[0].Distance != 4 {
		t.Fatalf("query = %+v, want post 1 at distance 4", got)
	}
}

// TestIndexMatchesBruteForce checks the word-bucket prune against a full scan
// on random data: below IndexWords bit flips the prune must be lossless.
func TestIndexMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(16))
	idx := NewSignatureIndex()
	now := time.Now()

	corpus := make(map[int64]Signature)
	base := randomSignature(rng)
	for id := int64(1); id <= 200; id++ {
		var sig Signature
		switch {
		case id%5 == 0:
			sig = flipBits(base, rng.Intn(IndexWords)) // guaranteed in range
		case id%5 == 1:
			sig = flipBits(base, IndexWords+rng.Intn(40)) // near the edge
		default:
			sig = randomSignature(rng)
		}
		corpus[id] = sig
		mustInsert(t, idx, id, now, sig)
	}

	for _, maxDistance := range []int{0, 5, 10, IndexWords - 1} {
		got := idx.Query(base, maxDistance)

		want := make(map[int64]int)
		for id, sig := range corpus {
			if d := base.Distance(sig); d <= maxDistance {
				want[id] = d
			}
		}

		if len(got) != len(want) {
			t.Fatalf("maxDistance %d: bucketed query found %d posts, brute force found %d",
				maxDistance, len(got), len(want))
		}
		for _, c := range got {
			if d, ok := want[c.PostID]; !ok || d != c.Distance {
				t.Errorf("maxDistance %d: post %d at distance %d not confirmed by brute force",
					maxDistance, c.PostID, c.Distance)
			}
		}
	}
}
