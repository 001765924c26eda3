// Package image validates uploaded avatar images.
package image

import (
	"bytes"
	"errors"
	"fmt"
	stdimage "image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"

	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxAvatarBytes = 2 << 20
	AvatarCacheControl    = "public, max-age=31536000, immutable"
)

// allowed maps accepted content types to the file extension used in keys
// and the format name reported by image.DecodeConfig.
var allowed = map[string]struct{ ext, format string }{
	"image/png":  {"png", "png"},
	"image/jpeg": {"jpg", "jpeg"},
	"image/webp": {"webp", "webp"},
	"image/gif":  {"gif", "gif"},
}

// Error carries the HTTP status an upload failure maps to.
type Error struct {
	Status int
	Msg    string
}

func (e *Error) Error() string { return e.Msg }

// Status returns the HTTP status for err, or 500 when it is not an *Error.
func Status(err error) int {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Status
	}
	return http.StatusInternalServerError
}

type Avatar struct {
	ContentType string
	Ext         string
	Width       int
	Height      int
	Size        int64
}

// ValidateAvatar checks the declared type, the size and that the header
// decodes as the declared format.
func ValidateAvatar(data []byte, contentType string, maxBytes int64) (Avatar, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxAvatarBytes
	}
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	kind, ok := allowed[ct]
	if !ok {
		return Avatar{}, &Error{Status: http.StatusUnsupportedMediaType, Msg: "Unsupported image type"}
	}

	size := int64(len(data))
	if size <= 0 || size > maxBytes {
		return Avatar{}, &Error{Status: http.StatusRequestEntityTooLarge, Msg: "File too large"}
	}

	cfg, format, err := stdimage.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Avatar{}, &Error{Status: http.StatusBadRequest, Msg: "Corrupt or unreadable image"}
	}
	if format != kind.format {
		return Avatar{}, &Error{
			Status: http.StatusBadRequest,
			Msg:    fmt.Sprintf("File content is %s, not %s", format, ct),
		}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Avatar{}, &Error{Status: http.StatusBadRequest, Msg: "Image has no pixels"}
	}

	return Avatar{
		ContentType: ct,
		Ext:         kind.ext,
		Width:       cfg.Width,
		Height:      cfg.Height,
		Size:        size,
	}, nil
}
