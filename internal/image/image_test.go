package image

import (
	"bytes"
	"errors"
	stdimage "image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(t *testing.T, format string) []byte {
	t.Helper()
	img := stdimage.NewRGBA(stdimage.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	var err error
	switch format {
	case "png":
		err = png.Encode(&buf, img)
	case "jpeg":
		err = jpeg.Encode(&buf, img, nil)
	case "gif":
		err = gif.Encode(&buf, img, nil)
	}
	require.NoError(t, err)
	return buf.Bytes()
}

func TestValidateAvatar(t *testing.T) {
	tests := []struct {
		format, contentType, ext string
	}{
		{"png", "image/png", "png"},
		{"jpeg", "image/jpeg", "jpg"},
		{"gif", "IMAGE/GIF", "gif"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			a, err := ValidateAvatar(sample(t, tt.format), tt.contentType, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.ext, a.Ext)
			assert.Equal(t, 4, a.Width)
			assert.Equal(t, 3, a.Height)
		})
	}
}

func TestValidateAvatar_Rejects(t *testing.T) {
	pngData := sample(t, "png")
	tests := []struct {
		name        string
		data        []byte
		contentType string
		max         int64
		status      int
	}{
		{"svg", []byte("<svg/>"), "image/svg+xml", 0, http.StatusUnsupportedMediaType},
		{"missing type", pngData, "", 0, http.StatusUnsupportedMediaType},
		{"empty", nil, "image/png", 0, http.StatusRequestEntityTooLarge},
		{"too large", pngData, "image/png", 10, http.StatusRequestEntityTooLarge},
		{"corrupt", []byte("not an image at all"), "image/png", 0, http.StatusBadRequest},
		{"corrupt webp", []byte("RIFF\x00\x00\x00\x00WEBPjunk"), "image/webp", 0, http.StatusBadRequest},
		{"mislabelled", pngData, "image/gif", 0, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateAvatar(tt.data, tt.contentType, tt.max)
			require.Error(t, err)
			assert.Equal(t, tt.status, Status(err))
		})
	}
}

func TestStatus_Unknown(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, Status(errors.New("x")))
}
