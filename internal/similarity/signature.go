// Package similarity implements the duplicate-detection engine: fingerprint
// extraction over decoded media, an exact-match table keyed by content digest,
// a Hamming-distance signature index with word bucketing, and the scoring that
// turns index candidates into ranked duplicate matches.
package similarity

import (
	"fmt"
	"math/bits"
	"strconv"
)

const (
	// SignatureBits is the fixed width of a perceptual signature.
	SignatureBits = 256

	// signatureWords is the number of uint64 words backing a signature.
	signatureWords = SignatureBits / 64

	// hashGridSize is the DCT grid passed to the perception hash; a 16x16
	// grid yields one bit per coefficient, SignatureBits total.
	hashGridSize = 16

	// IndexWordBits is the width of the bucketing words the index is
	// partitioned by.
	IndexWordBits = 16

	// IndexWords is the number of bucketing words per signature. A query
	// within maxDistance < IndexWords is guaranteed to share at least one
	// word with every qualifying signature (pigeonhole), which is what makes
	// the bucketed scan lossless.
	IndexWords = SignatureBits / IndexWordBits
)

// Signature is a fixed-width perceptual bit vector. Visually similar images
// produce signatures with small Hamming distance.
type Signature []uint64

// Distance returns the Hamming distance to other in bits. Signatures of
// mismatched width never match: the full width is returned.
func (s Signature) Distance(other Signature) int {
	if len(s) != len(other) {
		return SignatureBits
	}
	d := 0
	for i := range s {
		d += bits.OnesCount64(s[i] ^ other[i])
	}
	return d
}

// Words splits the signature into IndexWords bucketing words, most
// significant first.
func (s Signature) Words() []uint16 {
	words := make([]uint16, 0, IndexWords)
	for _, w := range s {
		words = append(words,
			uint16(w>>48),
			uint16(w>>32),
			uint16(w>>16),
			uint16(w),
		)
	}
	return words
}

// Clone returns an independent copy of the signature.
func (s Signature) Clone() Signature {
	out := make(Signature, len(s))
	copy(out, s)
	return out
}

// String renders the signature as fixed-width hex, the persisted form.
func (s Signature) String() string {
	buf := make([]byte, 0, len(s)*16)
	for _, w := range s {
		buf = fmt.Appendf(buf, "%016x", w)
	}
	return string(buf)
}

// ParseSignature decodes the hex form produced by String.
func ParseSignature(text string) (Signature, error) {
	if len(text) != signatureWords*16 {
		return nil, fmt.Errorf("similarity: signature must be %d hex chars, got %d", signatureWords*16, len(text))
	}
	sig := make(Signature, signatureWords)
	for i := range sig {
		w, err := strconv.ParseUint(text[i*16:(i+1)*16], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("similarity: malformed signature %q: %w", text, err)
		}
		sig[i] = w
	}
	return sig, nil
}
