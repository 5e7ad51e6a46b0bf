package media

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/png"
	"testing"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 7), uint8(y * 11), 200, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func gifBytes(t *testing.T, w, h, frameCount int) []byte {
	t.Helper()
	g := &gif.GIF{Config: image.Config{Width: w, Height: h}}
	for i := 0; i < frameCount; i++ {
		frame := image.NewPaletted(image.Rect(0, 0, w, h), palette.Plan9)
		for p := range frame.Pix {
			frame.Pix[p] = uint8((p + i*31) % len(palette.Plan9))
		}
		g.Image = append(g.Image, frame)
		g.Delay = append(g.Delay, 10)
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, g); err != nil {
		t.Fatalf("encode gif: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeStillPNG(t *testing.T) {
	m, err := Decode(pngBytes(t, 40, 30))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.MimeType != "image/png" {
		t.Errorf("mime = %s, want image/png", m.MimeType)
	}
	if m.Width != 40 || m.Height != 30 {
		t.Errorf("dimensions = %dx%d, want 40x30", m.Width, m.Height)
	}
	if m.FrameCount() != 1 || m.IsAnimated() {
		t.Errorf("still image reported %d frames, animated=%v", m.FrameCount(), m.IsAnimated())
	}
}

func TestDecodeAnimatedGIF(t *testing.T) {
	m, err := Decode(gifBytes(t, 24, 24, 5))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.MimeType != "image/gif" {
		t.Errorf("mime = %s, want image/gif", m.MimeType)
	}
	if m.FrameCount() != 5 {
		t.Errorf("frame count = %d, want 5", m.FrameCount())
	}
	if !m.IsAnimated() {
		t.Error("multi-frame gif not reported as animated")
	}
	for i, frame := range m.Frames {
		b := frame.Bounds()
		if b.Dx() != 24 || b.Dy() != 24 {
			t.Errorf("frame %d is %dx%d, want the 24x24 logical screen", i, b.Dx(), b.Dy())
		}
	}
}

func TestDecodeUnsupported(t *testing.T) {
	testCases := []struct {
		name string
		raw  []byte
	}{
		{name: "mp4", raw: []byte("\x00\x00\x00\x18ftypmp42\x00\x00\x00\x00mp42isom")},
		{name: "pdf", raw: []byte("%PDF-1.7 not an image")},
		{name: "plain text", raw: []byte("just some text")},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.raw)
			var unsupported *UnsupportedMediaError
			if !errors.As(err, &unsupported) {
				t.Errorf("Decode returned %v, want UnsupportedMediaError", err)
			}
		})
	}
}

func TestDecodeCorrupt(t *testing.T) {
	// A valid PNG header with garbage after it sniffs as image/png but fails
	// to decode.
	raw := append([]byte("\x89PNG\r\n\x1a\n"), []byte("garbage payload here")...)
	_, err := Decode(raw)
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("Decode returned %v, want DecodeError", err)
	}
	if decodeErr.MimeType != "image/png" {
		t.Errorf("error mime = %s, want image/png", decodeErr.MimeType)
	}
	if decodeErr.Unwrap() == nil {
		t.Error("DecodeError does not wrap the underlying cause")
	}
}

func TestFromFrames(t *testing.T) {
	if _, err := FromFrames([]byte("x"), "video/mp4", nil); err == nil {
		t.Error("FromFrames with no frames succeeded")
	}

	frames := []image.Image{
		image.NewRGBA(image.Rect(0, 0, 64, 48)),
		image.NewRGBA(image.Rect(0, 0, 64, 48)),
	}
	m, err := FromFrames([]byte("clip"), "video/webm", frames)
	if err != nil {
		t.Fatalf("from frames: %v", err)
	}
	if m.Width != 64 || m.Height != 48 {
		t.Errorf("dimensions = %dx%d, want 64x48", m.Width, m.Height)
	}
	if m.MimeType != "video/webm" || m.FrameCount() != 2 {
		t.Errorf("mime = %s, frames = %d", m.MimeType, m.FrameCount())
	}
}
