package similarity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"

	"github.com/corona10/goimagehash"

	"github.com/kaoru/booru/internal/media"
)

// Fingerprint is the immutable pair of artifacts extracted from one media
// buffer: a byte-exact content digest and one perceptual signature per
// sampled frame.
type Fingerprint struct {
	// Digest is the hex SHA-256 of the raw media bytes. Any single-bit
	// change in the source file yields a different digest.
	Digest string

	// Signature is the representative signature (first sampled frame), used
	// for fast first-pass indexing.
	Signature Signature

	// Frames holds the signature of every sampled frame, Signature included.
	Frames []Signature

	// FrameCount is the number of frames present in the source media, not
	// the number sampled.
	FrameCount int
}

// Extractor computes fingerprints from decoded media. It is a pure function
// over its inputs and safe for concurrent use.
type Extractor struct {
	sampleCount int
}

// NewExtractor creates an Extractor that samples up to sampleCount frames
// from animated media. Values below 1 are clamped to 1.
func NewExtractor(sampleCount int) *Extractor {
	if sampleCount < 1 {
		sampleCount = 1
	}
	return &Extractor{sampleCount: sampleCount}
}

// Extract computes the fingerprint of decoded media: the exact digest over
// the raw bytes and a perceptual signature per sampled frame. Frames are
// sampled at deterministic, duration-proportional offsets so short and long
// clips sample comparably.
func (e *Extractor) Extract(m *media.Media) (*Fingerprint, error) {
	if m == nil || len(m.Frames) == 0 {
		return nil, fmt.Errorf("similarity: no frames to fingerprint")
	}

	sum := sha256.Sum256(m.Raw)

	indexes := sampleIndexes(len(m.Frames), e.sampleCount)
	frames := make([]Signature, 0, len(indexes))
	for _, idx := range indexes {
		sig, err := hashFrame(m.Frames[idx])
		if err != nil {
			return nil, fmt.Errorf("similarity: frame %d: %w", idx, err)
		}
		frames = append(frames, sig)
	}

	return &Fingerprint{
		Digest:     hex.EncodeToString(sum[:]),
		Signature:  frames[0],
		Frames:     frames,
		FrameCount: len(m.Frames),
	}, nil
}

// hashFrame computes the 256-bit DCT perception hash of a single frame:
// downscale, luminance, DCT, threshold each low-frequency coefficient against
// the median.
func hashFrame(img image.Image) (Signature, error) {
	hash, err := goimagehash.ExtPerceptionHash(img, hashGridSize, hashGridSize)
	if err != nil {
		return nil, fmt.Errorf("perception hash: %w", err)
	}
	sig := make(Signature, 0, signatureWords)
	sig = append(sig, hash.GetHash()...)
	if len(sig) != signatureWords {
		return nil, fmt.Errorf("perception hash: unexpected width %d words", len(sig))
	}
	return sig, nil
}

// sampleIndexes returns the frame indexes to fingerprint: every frame when
// the media has no more than sampleCount frames, otherwise sampleCount
// indexes evenly spread across the full duration.
func sampleIndexes(frameCount, sampleCount int) []int {
	if frameCount <= sampleCount {
		indexes := make([]int, frameCount)
		for i := range indexes {
			indexes[i] = i
		}
		return indexes
	}
	if sampleCount == 1 {
		return []int{0}
	}

	indexes := make([]int, 0, sampleCount)
	last := -1
	for i := 0; i < sampleCount; i++ {
		idx := i * (frameCount - 1) / (sampleCount - 1)
		if idx != last {
			indexes = append(indexes, idx)
			last = idx
		}
	}
	return indexes
}
