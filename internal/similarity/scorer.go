package similarity

import (
	"sort"
	"time"
)

// Match is one ranked duplicate candidate. Transient, computed per query,
// never persisted.
type Match struct {
	PostID     int64   `json:"post_id"`
	Distance   int     `json:"distance"`
	Confidence float64 `json:"confidence"`
}

// Confidence converts a Hamming distance to a similarity confidence in [0,1],
// monotonic decreasing in distance.
func Confidence(distance int) float64 {
	if distance < 0 {
		return 0
	}
	return 1 - float64(distance)/float64(SignatureBits)
}

// Scorer ranks signature-index candidates against a configured decision
// threshold. Candidates at exactly the threshold are included; one bit
// beyond is excluded entirely.
type Scorer struct {
	index         *SignatureIndex
	thresholdBits int
}

// NewScorer creates a Scorer over index with the given threshold in bits.
func NewScorer(index *SignatureIndex, thresholdBits int) *Scorer {
	return &Scorer{index: index, thresholdBits: thresholdBits}
}

// ThresholdBits returns the configured cutoff.
func (s *Scorer) ThresholdBits() int {
	return s.thresholdBits
}

// FindDuplicates returns likely duplicates of a single query signature,
// descending by confidence.
func (s *Scorer) FindDuplicates(sig Signature) []Match {
	return s.FindDuplicatesMulti([]Signature{sig})
}

// FindDuplicatesMulti returns likely duplicates of multi-frame query content.
// Every query frame is matched independently and each candidate post reports
// the minimum distance found, so a clip embedded at a different offset in a
// longer video is still detected. Results are ordered descending by
// confidence; equal confidences order by earlier post creation time.
func (s *Scorer) FindDuplicatesMulti(frames []Signature) []Match {
	best := make(map[int64]Candidate)
	for _, sig := range frames {
		for _, c := range s.index.Query(sig, s.thresholdBits) {
			if prev, ok := best[c.PostID]; !ok || c.Distance < prev.Distance {
				best[c.PostID] = c
			}
		}
	}

	matches := make([]Match, 0, len(best))
	order := make(map[int64]time.Time, len(best))
	for id, m := range best {
		matches = append(matches, Match{
			PostID:     id,
			Distance:   m.Distance,
			Confidence: Confidence(m.Distance),
		})
		order[id] = m.CreatedAt
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		ti, tj := order[matches[i].PostID], order[matches[j].PostID]
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return matches[i].PostID < matches[j].PostID
	})
	return matches
}
