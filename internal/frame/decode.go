package frame

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var ErrDecode = errors.New("decode frame")

// DefaultMaxPixels bounds the raster a payload may declare, 8192×4096.
const DefaultMaxPixels = 8192 * 4096

// MaxPixels is checked against the image header before any pixel data is
// decoded. Non-positive disables the check.
var MaxPixels = DefaultMaxPixels

// DecodeBase64 unwraps an encoded observation. Data URLs and unpadded
// payloads are accepted.
func DecodeBase64(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if idx := strings.Index(payload, ";base64,"); idx >= 0 && strings.HasPrefix(payload, "data:") {
		payload = payload[idx+len(";base64,"):]
	}
	if payload == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, fmt.Errorf("%w: base64: %v", ErrDecode, err)
		}
	}
	return data, nil
}

// DecodeImage turns compressed image bytes into a frame resized to
// width×height. Non-positive dimensions keep the native size.
func DecodeImage(data []byte, width, height int, source Source) (*Frame, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrDecode)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if MaxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(MaxPixels) {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecode, cfg.Width, cfg.Height, MaxPixels)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: zero-sized image", ErrDecode)
	}
	return New(img, source).Resize(width, height), nil
}

// EncodePNG renders img as a base64 PNG payload, the format the agent
// server pushes.
func EncodePNG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode is DecodeBase64 followed by DecodeImage.
func Decode(payload string, width, height int, source Source) (*Frame, error) {
	data, err := DecodeBase64(payload)
	if err != nil {
		return nil, err
	}
	return DecodeImage(data, width, height, source)
}
