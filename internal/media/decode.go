package media

import (
	"bytes"
	"image"
	"image/draw"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Decode sniffs the content type of raw and decodes it into a Media. Still
// images produce a single frame; animated GIFs produce the full composited
// frame sequence. Container video formats (mp4, webm, ...) are decoded by an
// external pipeline and enter through FromFrames, so they are reported as
// unsupported here.
func Decode(raw []byte) (*Media, error) {
	mimeType := http.DetectContentType(raw)

	switch {
	case mimeType == "image/gif":
		return decodeGIF(raw)
	case mimeType == "image/jpeg",
		mimeType == "image/png",
		mimeType == "image/webp",
		mimeType == "image/bmp":
		return decodeStill(raw, mimeType)
	case strings.HasPrefix(mimeType, "video/"), mimeType == "application/ogg":
		return nil, &UnsupportedMediaError{MimeType: mimeType}
	default:
		return nil, &UnsupportedMediaError{MimeType: mimeType}
	}
}

func decodeStill(raw []byte, mimeType string) (*Media, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, &DecodeError{MimeType: mimeType, Err: err}
	}
	bounds := img.Bounds()
	return &Media{
		Raw:      raw,
		MimeType: mimeType,
		Frames:   []image.Image{img},
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
	}, nil
}

// decodeGIF expands every frame of a GIF. Frames are composited onto the
// logical screen because GIF frames may be partial patches over the previous
// frame.
func decodeGIF(raw []byte) (*Media, error) {
	g, err := gif.DecodeAll(bytes.NewReader(raw))
	if err != nil {
		return nil, &DecodeError{MimeType: "image/gif", Err: err}
	}
	if len(g.Image) == 0 {
		return nil, &DecodeError{MimeType: "image/gif", Err: image.ErrFormat}
	}

	width, height := g.Config.Width, g.Config.Height
	if width == 0 || height == 0 {
		b := g.Image[0].Bounds()
		width, height = b.Dx(), b.Dy()
	}
	bounds := image.Rect(0, 0, width, height)

	canvas := image.NewRGBA(bounds)
	frames := make([]image.Image, 0, len(g.Image))
	for _, src := range g.Image {
		draw.Draw(canvas, src.Bounds(), src, src.Bounds().Min, draw.Over)
		snapshot := image.NewRGBA(bounds)
		draw.Draw(snapshot, bounds, canvas, bounds.Min, draw.Src)
		frames = append(frames, snapshot)
	}

	return &Media{
		Raw:      raw,
		MimeType: "image/gif",
		Frames:   frames,
		Width:    width,
		Height:   height,
	}, nil
}
