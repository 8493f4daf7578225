package media

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func testImage(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestScaleShrinksWideImages(t *testing.T) {
	require := require.New(t)

	scaled, err := Scale(testImage(t, 100, 50), 40)
	require.NoError(err)

	img, format, err := image.Decode(bytes.NewReader(scaled))
	require.NoError(err)
	require.Equal("jpeg", format)
	require.Equal(40, img.Bounds().Dx())
	require.Equal(20, img.Bounds().Dy())
}

func TestScaleLeavesNarrowImagesAlone(t *testing.T) {
	require := require.New(t)

	scaled, err := Scale(testImage(t, 30, 30), 40)
	require.NoError(err)

	img, _, err := image.Decode(bytes.NewReader(scaled))
	require.NoError(err)
	require.Equal(30, img.Bounds().Dx())
}

func TestScaleRejectsGarbage(t *testing.T) {
	_, err := Scale([]byte("not an image"), 40)
	require.Error(t, err)
}
