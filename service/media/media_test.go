package media_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/KAsare1/strings-server/cmd/utils"
	"github.com/KAsare1/strings-server/service/media"
	"github.com/KAsare1/strings-server/service/media/mediatest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newUploader(t *testing.T, store media.Store, tmpDir string) *media.Uploader {
	t.Helper()
	u, err := media.NewUploader(store, media.UploaderConfig{
		TmpDir:      tmpDir,
		Timeout:     time.Second,
		Concurrency: 3,
		MaxBytes:    1 << 10,
	}, zap.NewNop())
	require.NoError(t, err)
	return u
}

func dirEntries(t *testing.T, dir string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return entries
}

func TestValidate(t *testing.T) {
	require.NoError(t, media.Validate("media", mediatest.Images(10), 10, 1<<20))

	err := media.Validate("media", mediatest.Images(11), 10, 1<<20)
	require.Error(t, err)
	assert.True(t, utils.IsValidationError(err))

	err = media.Validate("media", []media.File{mediatest.File("notes.pdf", []byte("x"))}, 10, 1<<20)
	assert.True(t, utils.IsValidationError(err))

	big := mediatest.File("big.jpg", bytes.Repeat([]byte("x"), 2048))
	err = media.Validate("media", []media.File{big}, 10, 1024)
	assert.True(t, utils.IsValidationError(err))

	for _, name := range []string{"a.PNG", "b.jpg", "c.jpeg", "d.webp", "e.gif"} {
		assert.True(t, media.IsValidImageType(name), name)
	}
}

func TestUploadAll_PartialFailure(t *testing.T) {
	tmpDir := t.TempDir()
	store := mediatest.NewMemoryStore("img1.png")
	u := newUploader(t, store, tmpDir)

	result := u.UploadAll(context.Background(), mediatest.Images(4))

	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.URLs, 3)
	// request order survives concurrent upload
	assert.True(t, strings.HasSuffix(result.URLs[0], "img0.png"))
	assert.True(t, strings.HasSuffix(result.URLs[1], "img2.png"))
	assert.True(t, strings.HasSuffix(result.URLs[2], "img3.png"))
	assert.Empty(t, dirEntries(t, tmpDir), "staged files must be removed")
}

func TestUpload_TooLarge(t *testing.T) {
	tmpDir := t.TempDir()
	store := mediatest.NewMemoryStore()
	u := newUploader(t, store, tmpDir)

	// declared size lies; the staged copy still enforces the limit
	f := mediatest.File("liar.png", bytes.Repeat([]byte("x"), 4096))
	f.Size = 10

	_, err := u.Upload(context.Background(), f)
	assert.Error(t, err)
	assert.Zero(t, store.Len())
	assert.Empty(t, dirEntries(t, tmpDir))
}

type slowStore struct{}

func (slowStore) Upload(ctx context.Context, name string, r io.Reader) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (slowStore) Delete(ctx context.Context, url string) error { return nil }

func TestUpload_Timeout(t *testing.T) {
	tmpDir := t.TempDir()
	u, err := media.NewUploader(slowStore{}, media.UploaderConfig{
		TmpDir:  tmpDir,
		Timeout: 20 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)

	result := u.UploadAll(context.Background(), mediatest.Images(2))
	assert.Equal(t, 2, result.Failed)
	assert.Empty(t, result.URLs)
	assert.Empty(t, dirEntries(t, tmpDir))
}

func TestLocalStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "images")
	store, err := media.NewLocalStore(dir, "/images/")
	require.NoError(t, err)

	url, err := store.Upload(context.Background(), "Photo.JPG", strings.NewReader("jpeg bytes"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "/images/"))
	assert.True(t, strings.HasSuffix(url, ".jpg"))

	data, err := os.ReadFile(filepath.Join(dir, filepath.Base(url)))
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(data))

	require.NoError(t, store.Delete(context.Background(), url))
	assert.Empty(t, dirEntries(t, dir))
	// deleting twice is fine
	require.NoError(t, store.Delete(context.Background(), url))
}

func TestLocalStore_AbsoluteBaseURL(t *testing.T) {
	dir := t.TempDir()
	store, err := media.NewLocalStore(dir, "https://cdn.example.com/images/")
	require.NoError(t, err)

	url, err := store.Upload(context.Background(), "a.png", strings.NewReader("png bytes"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "https://cdn.example.com/images/"), url)
	assert.NotContains(t, strings.TrimPrefix(url, "https://"), "//")

	require.NoError(t, store.Delete(context.Background(), url))
	assert.Empty(t, dirEntries(t, dir))
}

func TestLocalStore_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	store, err := media.NewLocalStore(dir, "/images")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.Upload(ctx, "a.png", strings.NewReader("x"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, dirEntries(t, dir))
}
