package pages

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage(t *testing.T, encode func(*bytes.Buffer, image.Image) error) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		img.Set(x, x, color.White)
	}
	var buf bytes.Buffer
	require.NoError(t, encode(&buf, img))
	return buf.Bytes()
}

func TestRenderPNGPassesThrough(t *testing.T) {
	data := testImage(t, func(b *bytes.Buffer, img image.Image) error { return png.Encode(b, img) })

	pages, err := Render(data, "image/png")
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, 1, pages[0].Number)
	assert.Equal(t, data, pages[0].PNG)
}

func TestRenderJPEGConverts(t *testing.T) {
	data := testImage(t, func(b *bytes.Buffer, img image.Image) error {
		return jpeg.Encode(b, img, nil)
	})

	pages, err := Render(data, "image/jpeg")
	require.NoError(t, err)
	require.Len(t, pages, 1)

	decoded, err := png.Decode(bytes.NewReader(pages[0].PNG))
	require.NoError(t, err)
	assert.Equal(t, 8, decoded.Bounds().Dx())
}

func TestRenderDefaultsContentType(t *testing.T) {
	data := testImage(t, func(b *bytes.Buffer, img image.Image) error {
		return jpeg.Encode(b, img, nil)
	})

	pages, err := Render(data, "")
	require.NoError(t, err)
	assert.Len(t, pages, 1)
}

func TestRenderRejectsGarbage(t *testing.T) {
	_, err := Render([]byte("definitely not an image"), "image/jpeg")
	assert.Error(t, err)
}

func TestRenderRejectsBrokenPDF(t *testing.T) {
	_, err := Render([]byte("%PDF-1.4 truncated"), "application/pdf")
	assert.Error(t, err)
}

func TestIsHEICFormat(t *testing.T) {
	heicHeader := append([]byte{0, 0, 0, 24}, []byte("ftypheic")...)
	heicHeader = append(heicHeader, make([]byte, 8)...)
	assert.True(t, isHEICFormat(heicHeader))
	assert.False(t, isHEICFormat([]byte("short")))
	assert.False(t, isHEICFormat(testImage(t, func(b *bytes.Buffer, img image.Image) error { return png.Encode(b, img) })))
}
