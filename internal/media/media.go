// Package media is the decoding boundary between raw upload bytes and the
// similarity engine. It turns validated upload buffers into decoded frame
// sets; everything downstream operates on pixels, never on container formats.
package media

import (
	"errors"
	"fmt"
	"image"
)

// Media is a decoded media buffer: the raw bytes plus one decoded frame per
// still image, or the full frame sequence for animated content.
type Media struct {
	Raw      []byte
	MimeType string
	Frames   []image.Image
	Width    int
	Height   int
}

// FrameCount returns the number of decoded frames.
func (m *Media) FrameCount() int {
	return len(m.Frames)
}

// IsAnimated reports whether the media has more than one frame.
func (m *Media) IsAnimated() bool {
	return len(m.Frames) > 1
}

// FromFrames builds a Media from frames decoded by an external collaborator
// (e.g. a video pipeline that has already demuxed and decoded a clip).
func FromFrames(raw []byte, mimeType string, frames []image.Image) (*Media, error) {
	if len(frames) == 0 {
		return nil, errors.New("media: at least one frame is required")
	}
	bounds := frames[0].Bounds()
	return &Media{
		Raw:      raw,
		MimeType: mimeType,
		Frames:   frames,
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
	}, nil
}

// DecodeError indicates that a buffer claiming a supported format could not
// be decoded.
type DecodeError struct {
	MimeType string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("media: failed to decode %s: %v", e.MimeType, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// UnsupportedMediaError indicates a format outside the supported set.
type UnsupportedMediaError struct {
	MimeType string
}

func (e *UnsupportedMediaError) Error() string {
	return fmt.Sprintf("media: unsupported media type %s", e.MimeType)
}
