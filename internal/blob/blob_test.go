package blob

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateKey(t *testing.T) {
	for _, key := range []string{
		"projects/u1/p1.pdf",
		"avatars/u1/1700000000000.png",
	} {
		assert.NoError(t, ValidateKey(key), key)
	}
	for _, key := range []string{
		"",
		"/etc/passwd",
		"projects/../../etc/passwd",
		"projects//p.pdf",
		"projects/./p.pdf",
		`projects\p.pdf`,
		"projects/p.pdf.meta.json",
		"projects/",
	} {
		assert.ErrorIs(t, ValidateKey(key), ErrInvalidKey, key)
	}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "projects/u1/p1.pdf", ProjectKey("u1", "p1"))
	assert.Equal(t, "avatars/u1/42.webp", AvatarKey("u1", 42, ".webp"))
	assert.Equal(t, "avatars/u1/42.png", AvatarKey("u1", 42, "png"))
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewFS(t.TempDir())
	require.NoError(t, err)

	key := ProjectKey("u1", "p1")
	n, err := store.Put(ctx, key, strings.NewReader("%PDF-1.7 body"), Meta{
		ContentType:        "application/pdf",
		ContentDisposition: `inline; filename="chart.pdf"`,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(13), n)

	ok, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	rc, meta, err := store.Get(ctx, key)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 body", string(body))
	assert.Equal(t, "application/pdf", meta.ContentType)
	assert.Equal(t, int64(13), meta.Size)

	// overwrite
	_, err = store.Put(ctx, key, strings.NewReader("v2"), Meta{ContentType: "application/pdf"})
	require.NoError(t, err)
	rc, meta, err = store.Get(ctx, key)
	require.NoError(t, err)
	body, _ = io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "v2", string(body))
	assert.Equal(t, "", meta.ContentDisposition)

	require.NoError(t, store.Delete(ctx, key))
	assert.ErrorIs(t, store.Delete(ctx, key), ErrNotFound)
	_, _, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
	ok, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPut_Canceled(t *testing.T) {
	store, err := NewFS(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.Put(ctx, "projects/u/p.pdf", strings.NewReader("data"), Meta{})
	assert.ErrorIs(t, err, context.Canceled)

	ok, err := store.Exists(context.Background(), "projects/u/p.pdf")
	require.NoError(t, err)
	assert.False(t, ok)
}
