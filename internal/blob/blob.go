// Package blob stores uploaded PDFs and avatars on the local filesystem
// under slash-separated keys.
package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const metaSuffix = ".meta.json"

var (
	ErrNotFound   = errors.New("object not found")
	ErrInvalidKey = errors.New("invalid object key")
)

// Meta is stored next to each object.
type Meta struct {
	ContentType        string `json:"contentType,omitempty"`
	ContentDisposition string `json:"contentDisposition,omitempty"`
	CacheControl       string `json:"cacheControl,omitempty"`
	Size               int64  `json:"size"`
}

type FS struct {
	root string
}

func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FS{root: abs}, nil
}

// ProjectKey is the key of a project's PDF.
func ProjectKey(userID, projectID string) string {
	return "projects/" + userID + "/" + projectID + ".pdf"
}

// AvatarKey is the key of an uploaded avatar.
func AvatarKey(userID string, unixMilli int64, ext string) string {
	return fmt.Sprintf("avatars/%s/%d.%s", userID, unixMilli, strings.TrimPrefix(ext, "."))
}

// ValidateKey rejects keys that could escape the storage root.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) ||
		strings.HasSuffix(key, metaSuffix) {
		return ErrInvalidKey
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return ErrInvalidKey
		}
	}
	return nil
}

// Path returns the local file path for key.
func (f *FS) Path(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(f.root, filepath.FromSlash(key)), nil
}

// Put writes the object and its metadata, replacing any previous version.
func (f *FS) Put(ctx context.Context, key string, r io.Reader, m Meta) (int64, error) {
	p, err := f.Path(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: r})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", key, err)
	}

	m.Size = n
	b, err := json.Marshal(m)
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(p+metaSuffix, b, 0o644); err != nil {
		return 0, fmt.Errorf("write meta %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return 0, fmt.Errorf("commit %s: %w", key, err)
	}
	return n, nil
}

// Get opens the object. The caller closes the reader.
func (f *FS) Get(ctx context.Context, key string) (io.ReadCloser, Meta, error) {
	p, err := f.Path(key)
	if err != nil {
		return nil, Meta{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, Meta{}, err
	}
	file, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, Meta{}, ErrNotFound
	}
	if err != nil {
		return nil, Meta{}, err
	}

	var m Meta
	if b, err := os.ReadFile(p + metaSuffix); err == nil {
		_ = json.Unmarshal(b, &m)
	}
	if m.Size == 0 {
		if st, err := file.Stat(); err == nil {
			m.Size = st.Size()
		}
	}
	return file, m, nil
}

// Exists reports whether key holds an object.
func (f *FS) Exists(ctx context.Context, key string) (bool, error) {
	p, err := f.Path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (f *FS) Delete(ctx context.Context, key string) error {
	p, err := f.Path(key)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	_ = os.Remove(p + metaSuffix)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
