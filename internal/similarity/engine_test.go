package similarity

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math/rand"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/kaoru/booru/internal/media"
)

func newTestEngine() *Engine {
	return NewEngine(Options{VideoSampleCount: 7, ThresholdBits: 10})
}

// syntheticFingerprint builds a fingerprint without going through image
// decoding, for tests that care about index mechanics rather than hashing.
func syntheticFingerprint(digest string, frames ...Signature) *Fingerprint {
	return &Fingerprint{
		Digest:     digest,
		Signature:  frames[0],
		Frames:     frames,
		FrameCount: len(frames),
	}
}

func TestEngineExactDuplicateFlow(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine()
	raw := encodePNG(t, testImage(20))

	res, err := eng.Submit(ctx, raw)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.ExactMatch != nil || len(res.NearMatches) != 0 {
		t.Fatalf("empty corpus reported matches: %+v", res)
	}

	if err := eng.Commit(ctx, 1, time.Now(), res.Fingerprint); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Byte-identical resubmission hits the exact table; no near matches are
	// reported alongside an authoritative exact hit.
	res2, err := eng.Submit(ctx, raw)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if res2.ExactMatch == nil || *res2.ExactMatch != 1 {
		t.Fatalf("exact match = %v, want post 1", res2.ExactMatch)
	}
	if len(res2.NearMatches) != 0 {
		t.Errorf("near matches reported alongside exact match: %+v", res2.NearMatches)
	}
}

func TestEngineNearDuplicateFlow(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine()
	img := testImage(21)

	res, err := eng.Submit(ctx, encodePNG(t, img))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := eng.Commit(ctx, 1, time.Now(), res.Fingerprint); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// A lossy re-encode has a different digest but a near-identical signature.
	res2, err := eng.Submit(ctx, encodeJPEG(t, img, 90))
	if err != nil {
		t.Fatalf("submit jpeg: %v", err)
	}
	if res2.ExactMatch != nil {
		t.Fatal("re-encode reported as exact match")
	}
	if len(res2.NearMatches) != 1 || res2.NearMatches[0].PostID != 1 {
		t.Fatalf("near matches = %+v, want post 1", res2.NearMatches)
	}
	m := res2.NearMatches[0]
	if want := Confidence(m.Distance); m.Confidence != want {
		t.Errorf("confidence = %v, want %v for distance %d", m.Confidence, want, m.Distance)
	}

	// An unrelated image matches nothing.
	res3, err := eng.Submit(ctx, encodePNG(t, testImage(22)))
	if err != nil {
		t.Fatalf("submit unrelated: %v", err)
	}
	if res3.ExactMatch != nil || len(res3.NearMatches) != 0 {
		t.Errorf("unrelated image matched: %+v", res3)
	}
}

func TestEngineCommitConflict(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine()
	rng := rand.New(rand.NewSource(23))

	sig := randomSignature(rng)
	if err := eng.Commit(ctx, 1, time.Now(), syntheticFingerprint("d1", sig)); err != nil {
		t.Fatalf("commit: %v", err)
	}

	err := eng.Commit(ctx, 2, time.Now(), syntheticFingerprint("d1", randomSignature(rng)))
	if !IsConflict(err) {
		t.Fatalf("committing a second post with the same digest returned %v, want conflict", err)
	}
	// The failed commit must not leave a partial entry behind.
	if eng.Len() != 1 {
		t.Errorf("len = %d after rejected commit, want 1", eng.Len())
	}
	if err := eng.CheckConsistency(); err != nil {
		t.Errorf("consistency after rejected commit: %v", err)
	}
}

func TestEngineCommitRollsBackOnIndexFailure(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine()

	bad := syntheticFingerprint("d1", make(Signature, signatureWords-1))
	if err := eng.Commit(ctx, 1, time.Now(), bad); err == nil {
		t.Fatal("commit with malformed signature succeeded")
	}

	// The exact entry was rolled back, so the digest is free again.
	rng := rand.New(rand.NewSource(24))
	if err := eng.Commit(ctx, 2, time.Now(), syntheticFingerprint("d1", randomSignature(rng))); err != nil {
		t.Fatalf("commit after rollback: %v", err)
	}
	if err := eng.CheckConsistency(); err != nil {
		t.Errorf("consistency: %v", err)
	}
}

func TestEngineRetract(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine()
	raw := encodePNG(t, testImage(25))

	res, err := eng.Submit(ctx, raw)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := eng.Commit(ctx, 1, time.Now(), res.Fingerprint); err != nil {
		t.Fatalf("commit: %v", err)
	}

	eng.Retract(1)
	eng.Retract(1) // idempotent

	res2, err := eng.Submit(ctx, raw)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if res2.ExactMatch != nil || len(res2.NearMatches) != 0 {
		t.Errorf("retracted post still matches: %+v", res2)
	}
	if err := eng.CheckConsistency(); err != nil {
		t.Errorf("consistency: %v", err)
	}
}

func TestEngineMerge(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine()
	rng := rand.New(rand.NewSource(26))

	survivorSig := randomSignature(rng)
	if err := eng.Commit(ctx, 1, time.Now(), syntheticFingerprint("d1", randomSignature(rng))); err != nil {
		t.Fatalf("commit superseded: %v", err)
	}
	if err := eng.Commit(ctx, 2, time.Now(), syntheticFingerprint("d2", survivorSig)); err != nil {
		t.Fatalf("commit survivor: %v", err)
	}

	eng.Merge(1, 2)
	if eng.Len() != 1 {
		t.Fatalf("len = %d after merge, want 1", eng.Len())
	}
	if got := eng.scorer.FindDuplicates(survivorSig); len(got) != 1 || got[0].PostID != 2 {
		t.Errorf("survivor lookup after merge = %+v, want post 2", got)
	}

	// Merging a post into itself is a no-op.
	eng.Merge(2, 2)
	if eng.Len() != 1 {
		t.Error("self merge removed the post")
	}
}

func TestEngineOffsetRobustVideoMatch(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine()

	scenes := make([]image.Image, 5)
	for i := range scenes {
		scenes[i] = testImage(int64(200 + i))
	}

	// The full clip and a shorter cut that starts two scenes in.
	full, err := media.FromFrames([]byte("full-clip"), "video/mp4", scenes)
	if err != nil {
		t.Fatalf("from frames: %v", err)
	}
	cut, err := media.FromFrames([]byte("cut-clip"), "video/mp4", scenes[2:4])
	if err != nil {
		t.Fatalf("from frames: %v", err)
	}

	res, err := eng.SubmitMedia(ctx, full)
	if err != nil {
		t.Fatalf("submit full: %v", err)
	}
	if err := eng.Commit(ctx, 1, time.Now(), res.Fingerprint); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// The shared scenes sit at different offsets in the two clips; the
	// min-over-frames rule must still produce a confident match.
	res2, err := eng.SubmitMedia(ctx, cut)
	if err != nil {
		t.Fatalf("submit cut: %v", err)
	}
	if res2.ExactMatch != nil {
		t.Fatal("distinct byte streams reported as exact match")
	}
	if len(res2.NearMatches) != 1 || res2.NearMatches[0].PostID != 1 {
		t.Fatalf("near matches = %+v, want post 1", res2.NearMatches)
	}
	if res2.NearMatches[0].Distance > 10 {
		t.Errorf("shared-scene distance = %d, want within threshold", res2.NearMatches[0].Distance)
	}
}

func TestEngineConcurrentCommitsAndQueries(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine()
	rng := rand.New(rand.NewSource(27))

	const posts = 64
	fps := make([]*Fingerprint, posts)
	for i := range fps {
		fps[i] = syntheticFingerprint(fmt.Sprintf("digest-%d", i), randomSignature(rng))
	}

	var wg sync.WaitGroup
	for i := 0; i < posts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := eng.Commit(ctx, int64(i+1), time.Now(), fps[i]); err != nil {
				t.Errorf("commit %d: %v", i+1, err)
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			eng.scorer.FindDuplicates(fps[i].Signature)
		}(i)
	}
	wg.Wait()

	if eng.Len() != posts {
		t.Fatalf("len = %d, want %d", eng.Len(), posts)
	}
	if err := eng.CheckConsistency(); err != nil {
		t.Fatalf("consistency: %v", err)
	}
	for i, fp := range fps {
		got := eng.scorer.FindDuplicates(fp.Signature)
		if len(got) == 0 || got[0].PostID != int64(i+1) || got[0].Distance != 0 {
			t.Fatalf("post %d not retrievable after concurrent commits: %+v", i+1, got)
		}
	}
}

func TestEngineRebuild(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine()
	rng := rand.New(rand.NewSource(28))

	corpus := make([]*CorpusItem, 0, 20)
	for i := int64(1); i <= 20; i++ {
		corpus = append(corpus, &CorpusItem{
			PostID:      i,
			CreatedAt:   time.Now(),
			Fingerprint: syntheticFingerprint(fmt.Sprintf("digest-%d", i), randomSignature(rng)),
		})
	}

	feed := func(items []*CorpusItem) CorpusFunc {
		i := 0
		return func(ctx context.Context) (*CorpusItem, error) {
			if i >= len(items) {
				return nil, nil
			}
			item := items[i]
			i++
			return item, nil
		}
	}

	if err := eng.Rebuild(ctx, feed(corpus)); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if eng.Len() != 20 || eng.RebuildProgress() != 20 {
		t.Fatalf("len = %d, progress = %d, want 20", eng.Len(), eng.RebuildProgress())
	}
	queryAll := func() [][]Match {
		out := make([][]Match, len(corpus))
		for i, item := range corpus {
			out[i] = eng.scorer.FindDuplicates(item.Fingerprint.Signature)
		}
		return out
	}
	first := queryAll()

	// Rebuilding from the same corpus in reverse order is deterministic: same
	// size, same query results.
	reversed := make([]*CorpusItem, len(corpus))
	for i, item := range corpus {
		reversed[len(corpus)-1-i] = item
	}
	if err := eng.Rebuild(ctx, feed(reversed)); err != nil {
		t.Fatalf("second rebuild: %v", err)
	}
	if eng.Len() != 20 {
		t.Fatalf("len = %d after second rebuild, want 20", eng.Len())
	}
	if !reflect.DeepEqual(first, queryAll()) {
		t.Error("query results depend on corpus feed order")
	}
	if err := eng.CheckConsistency(); err != nil {
		t.Errorf("consistency: %v", err)
	}
}

func TestEngineRebuildErrors(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine()

	feedErr := errors.New("cursor broke")
	err := eng.Rebuild(ctx, func(ctx context.Context) (*CorpusItem, error) {
		return nil, feedErr
	})
	if !errors.Is(err, feedErr) {
		t.Errorf("rebuild error = %v, want wrapped feed error", err)
	}
	if eng.Rebuilding() {
		t.Error("rebuilding flag stuck after failed rebuild")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = eng.Rebuild(cancelled, func(ctx context.Context) (*CorpusItem, error) {
		return nil, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("rebuild with cancelled context = %v, want context.Canceled", err)
	}
}
