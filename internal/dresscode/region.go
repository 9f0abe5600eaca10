package dresscode

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
)

// ErrMalformedInput reports a photograph from which regions cannot be derived.
var ErrMalformedInput = errors.New("dresscode: malformed input image")

// Region is a sub-rectangle of the source photograph.
type Region string

const (
	RegionFull  Region = "full"
	RegionUpper Region = "upper"
	RegionLower Region = "lower"
)

func (r Region) valid() bool {
	switch r {
	case RegionFull, RegionUpper, RegionLower:
		return true
	}
	return false
}

// Bounds computes the rectangle of r inside src. The upper half takes
// floor(h/2) rows and the lower half the remaining rows; width is unchanged.
func (r Region) Bounds(src image.Rectangle) (image.Rectangle, error) {
	if src.Empty() {
		return image.Rectangle{}, fmt.Errorf("%w: image has no pixels (%dx%d)", ErrMalformedInput, src.Dx(), src.Dy())
	}
	upperHeight := src.Dy() / 2
	var out image.Rectangle
	switch r {
	case RegionFull:
		return src, nil
	case RegionUpper:
		out = image.Rect(src.Min.X, src.Min.Y, src.Max.X, src.Min.Y+upperHeight)
	case RegionLower:
		out = image.Rect(src.Min.X, src.Min.Y+upperHeight, src.Max.X, src.Max.Y)
	default:
		return image.Rectangle{}, fmt.Errorf("unknown region %q", r)
	}
	if out.Empty() {
		return image.Rectangle{}, fmt.Errorf("%w: %s region of a %dx%d image is empty", ErrMalformedInput, r, src.Dx(), src.Dy())
	}
	return out, nil
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Extract returns the r region of img. Sub-images share pixels with img.
func Extract(img image.Image, r Region) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: no image", ErrMalformedInput)
	}
	rect, err := r.Bounds(img.Bounds())
	if err != nil {
		return nil, err
	}
	if r == RegionFull {
		return img, nil
	}
	if s, ok := img.(subImager); ok {
		return s.SubImage(rect), nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)
	return dst, nil
}

// regionSet lazily derives and memoizes the regions of one photograph.
type regionSet struct {
	img     image.Image
	regions map[Region]image.Image
}

func newRegionSet(img image.Image) *regionSet {
	return &regionSet{img: img, regions: make(map[Region]image.Image, 3)}
}

func (s *regionSet) get(r Region) (image.Image, error) {
	if out, ok := s.regions[r]; ok {
		return out, nil
	}
	out, err := Extract(s.img, r)
	if err != nil {
		return nil, err
	}
	s.regions[r] = out
	return out, nil
}
