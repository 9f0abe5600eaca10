package dresscode

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegionBounds(t *testing.T) {
	src := image.Rect(0, 0, 40, 101)

	full, err := RegionFull.Bounds(src)
	require.NoError(t, err)
	assert.Equal(t, src, full)

	upper, err := RegionUpper.Bounds(src)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 50), upper)

	lower, err := RegionLower.Bounds(src)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 50, 40, 101), lower)
	assert.Equal(t, src.Dy(), upper.Dy()+lower.Dy())
}

func TestRegionBoundsHonoursOrigin(t *testing.T) {
	src := image.Rect(10, 20, 30, 60)

	upper, err := RegionUpper.Bounds(src)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(10, 20, 30, 40), upper)

	lower, err := RegionLower.Bounds(src)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(10, 40, 30, 60), lower)
}

func TestRegionBoundsMalformed(t *testing.T) {
	_, err := RegionFull.Bounds(image.Rect(0, 0, 10, 0))
	assert.ErrorIs(t, err, ErrMalformedInput)

	// a single row has no upper half
	_, err = RegionUpper.Bounds(image.Rect(0, 0, 10, 1))
	assert.ErrorIs(t, err, ErrMalformedInput)

	lower, err := RegionLower.Bounds(image.Rect(0, 0, 10, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, lower.Dy())

	_, err = Region("left").Bounds(image.Rect(0, 0, 10, 10))
	assert.Error(t, err)
}

func TestExtractSharesPixels(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(0, 3, color.RGBA{R: 255, A: 255})

	lower, err := Extract(img, RegionLower)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 2, 4, 4), lower.Bounds())
	assert.Equal(t, color.RGBA{R: 255, A: 255}, lower.At(0, 3))

	full, err := Extract(img, RegionFull)
	require.NoError(t, err)
	assert.Same(t, img, full)

	_, err = Extract(nil, RegionFull)
	assert.ErrorIs(t, err, ErrMalformedInput)
}

type plainImage struct{ image.Image }

func TestExtractCopiesWhenNotSubImager(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 2, 4))
	src.SetGray(1, 0, color.Gray{Y: 200})

	upper, err := Extract(plainImage{src}, RegionUpper)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2, 2), upper.Bounds())
	r, _, _, _ := upper.At(1, 0).RGBA()
	assert.Equal(t, uint32(200*0x101), r)
}
