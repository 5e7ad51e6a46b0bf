package domain

import "errors"

var (
	// ErrPostNotFound is returned when a post ID or checksum resolves to nothing.
	ErrPostNotFound = errors.New("post not found")

	// ErrSelfMerge is returned when a post merge names the same post on both sides.
	ErrSelfMerge = errors.New("cannot merge a post into itself")
)
