package similarity

import (
	"errors"
	"fmt"

	"github.com/kaoru/booru/internal/media"
)

// ConflictError is returned when an exact digest is already indexed for a
// different post. Surfaced to the caller as a duplicate upload, never
// silently overwritten.
type ConflictError struct {
	Digest         string
	ExistingPostID int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("similarity: digest %s already indexed for post %d", e.Digest, e.ExistingPostID)
}

// IndexCorruptionError reports a structural inconsistency between the
// exact-match table and the signature index. Not locally recoverable; the
// caller is expected to force a rebuild.
type IndexCorruptionError struct {
	Detail string
}

func (e *IndexCorruptionError) Error() string {
	return "similarity: index corruption detected: " + e.Detail
}

// ErrRebuildInProgress is returned when a rebuild is requested while another
// rebuild is still running.
var ErrRebuildInProgress = errors.New("similarity: rebuild already in progress")

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsCorruption reports whether err is an IndexCorruptionError.
func IsCorruption(err error) bool {
	var ie *IndexCorruptionError
	return errors.As(err, &ie)
}

// IsDecode reports whether err is a media decode failure.
func IsDecode(err error) bool {
	var de *media.DecodeError
	return errors.As(err, &de)
}

// IsUnsupportedMedia reports whether err is an unsupported-format failure.
func IsUnsupportedMedia(err error) bool {
	var ue *media.UnsupportedMediaError
	return errors.As(err, &ue)
}
