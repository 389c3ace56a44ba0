package frame

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestDecodeResizesIgnoringAspect(t *testing.T) {
	payload, err := EncodePNG(solid(100, 100, color.RGBA{G: 200, A: 255}))
	require.NoError(t, err)

	f, err := Decode(payload, DefaultWidth, DefaultHeight, SourceStream)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(640, 360), f.Size())
	assert.Equal(t, SourceStream, f.Source())
	assert.Equal(t, uint8(200), f.RGBAAt(320, 180).G)
}

func TestDecodeAcceptsDataURL(t *testing.T) {
	payload, err := EncodePNG(solid(8, 4, color.RGBA{B: 255, A: 255}))
	require.NoError(t, err)

	f, err := Decode("data:image/png;base64,"+payload, 0, 0, SourceReset)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(8, 4), f.Size())
}

func TestDecodeRejectsGarbage(t *testing.T) {
	cases := map[string]string{
		"empty":      "",
		"whitespace": "   ",
		"not base64": "!!!not-base64!!!",
		"not image":  "aGVsbG8gd29ybGQ=",
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(payload, DefaultWidth, DefaultHeight, SourceStream)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDecode))
		})
	}
}

// pngHeader is a PNG signature and IHDR chunk with no pixel data.
func pngHeader(width, height uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], width)
	binary.BigEndian.PutUint32(ihdr[4:8], height)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 2 // truecolour
	chunk := append([]byte("IHDR"), ihdr...)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestDecodeRejectsOversizedRaster(t *testing.T) {
	_, err := DecodeImage(pngHeader(60000, 60000), DefaultWidth, DefaultHeight, SourceStream)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecode)
	assert.Contains(t, err.Error(), "60000x60000")

	payload := base64.StdEncoding.EncodeToString(pngHeader(60000, 60000))
	_, err = Decode(payload, DefaultWidth, DefaultHeight, SourceStream)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDecodeHonoursMaxPixels(t *testing.T) {
	encoded, err := EncodePNG(solid(40, 20, color.RGBA{B: 255, A: 255}))
	require.NoError(t, err)

	old := MaxPixels
	t.Cleanup(func() { MaxPixels = old })

	MaxPixels = 40*20 - 1
	_, err = Decode(encoded, 0, 0, SourceStream)
	assert.ErrorIs(t, err, ErrDecode)

	MaxPixels = 40 * 20
	f, err := Decode(encoded, 0, 0, SourceStream)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(40, 20), f.Size())
}

func TestFitSize(t *testing.T) {
	cases := []struct {
		srcW, srcH, maxW, maxH int
		wantW, wantH           int
	}{
		{640, 360, 640, 360, 640, 360},
		{1280, 720, 640, 360, 640, 360},
		{100, 100, 640, 360, 360, 360},
		{400, 100, 640, 360, 640, 160},
		{640, 360, 80, 80, 80, 45},
		{10, 10, 0, 10, 0, 0},
	}
	for _, tc := range cases {
		w, h := FitSize(tc.srcW, tc.srcH, tc.maxW, tc.maxH)
		if w != tc.wantW || h != tc.wantH {
			t.Fatalf("FitSize(%d,%d,%d,%d) = %dx%d, want %dx%d",
				tc.srcW, tc.srcH, tc.maxW, tc.maxH, w, h, tc.wantW, tc.wantH)
		}
	}
}

func TestFitKeepsAspect(t *testing.T) {
	f := New(solid(640, 360, color.RGBA{R: 10, A: 255}), SourceStream)
	fitted := f.Fit(640, 360)
	assert.Equal(t, image.Pt(640, 360), fitted.Size())

	small := f.Fit(64, 64)
	assert.Equal(t, image.Pt(64, 36), small.Size())
}

func TestWithRectLeavesOriginalUntouched(t *testing.T) {
	base := New(solid(640, 360, color.RGBA{A: 255}), SourceStream)
	box := Corners(10, 20, 200, 220)
	annotated := base.WithRect(box, BoxColor, BoxThickness)

	assert.Equal(t, SourceAnnotation, annotated.Source())
	assert.Equal(t, BoxColor, annotated.RGBAAt(10, 20))
	assert.Equal(t, BoxColor, annotated.RGBAAt(100, 220))
	assert.Equal(t, BoxColor, annotated.RGBAAt(200, 100))
	assert.Equal(t, color.RGBA{A: 255}, annotated.RGBAAt(100, 100), "interior stays clear")
	assert.Equal(t, color.RGBA{A: 255}, base.RGBAAt(10, 20), "source frame is immutable")
}

func TestWithRectClipsToBounds(t *testing.T) {
	base := New(solid(32, 32, color.RGBA{A: 255}), SourceStream)
	annotated := base.WithRect(Corners(-50, -50, 500, 500), BoxColor, BoxThickness)
	assert.Equal(t, image.Pt(32, 32), annotated.Size())
}

func TestCornersNormalizesOrder(t *testing.T) {
	assert.Equal(t, image.Rect(10, 20, 201, 221), Corners(200, 220, 10, 20))
}
