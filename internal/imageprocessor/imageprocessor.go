// Package imageprocessor decodes uploaded photographs and encodes regions for
// transport to the inference service.
package imageprocessor

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"

	// Registered decoders for camera and gallery uploads.
	_ "image/gif"
	_ "image/jpeg"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/example/dresscheck/internal/dresscode"
)

const (
	// DefaultMaxDimension bounds the width and height of a decoded photograph.
	DefaultMaxDimension = 6000
	// ModelInputSize is the side of the square input the dress-code models take.
	ModelInputSize = 224
)

// ErrUnsupportedFormat reports an upload that is not a supported image type.
var ErrUnsupportedFormat = errors.New("imageprocessor: unsupported image format")

var supportedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// Photo is a decoded upload.
type Photo struct {
	Image       image.Image
	ContentType string
	Format      string
	SHA1        string
	Size        int
}

// Supported reports whether contentType can be decoded.
func Supported(contentType string) bool {
	return supportedTypes[contentType]
}

// DetectContentType sniffs the media type of data.
func DetectContentType(data []byte) string {
	return http.DetectContentType(data)
}

// Decode sniffs and decodes data with DefaultMaxDimension as the size cap.
func Decode(data []byte) (*Photo, error) {
	return DecodeLimited(data, DefaultMaxDimension)
}

// DecodeLimited sniffs and decodes data. Undecodable or empty images, and
// images wider or taller than maxDimension pixels, are reported as
// dresscode.ErrMalformedInput. The header is checked before any pixel is
// decoded. A non-positive maxDimension disables the cap.
func DecodeLimited(data []byte, maxDimension int) (*Photo, error) {
	contentType := DetectContentType(data)
	if !Supported(contentType) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, contentType)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dresscode.ErrMalformedInput, err)
	}
	if maxDimension > 0 && (cfg.Width > maxDimension || cfg.Height > maxDimension) {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels per side",
			dresscode.ErrMalformedInput, cfg.Width, cfg.Height, maxDimension)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dresscode.ErrMalformedInput, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: image has no pixels", dresscode.ErrMalformedInput)
	}
	hash := sha1.Sum(data)
	return &Photo{
		Image:       img,
		ContentType: contentType,
		Format:      format,
		SHA1:        hex.EncodeToString(hash[:]),
		Size:        len(data),
	}, nil
}

// Fit scales img down so that neither side exceeds maxSide, keeping its aspect
// ratio. Images already within bounds are returned as-is.
func Fit(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSide <= 0 || (w <= maxSide && h <= maxSide) {
		return img
	}
	if w >= h {
		h = max(1, h*maxSide/w)
		w = maxSide
	} else {
		w = max(1, w*maxSide/h)
		h = maxSide
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// EncodePNG encodes a region losslessly for the inference service.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
