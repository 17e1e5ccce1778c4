package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var errTooLarge = errors.New("file exceeds maximum upload size")

// Uploader pushes client files to a Store. Every file is first staged to a
// temporary file which is removed after the attempt whatever its outcome.
type Uploader struct {
	store       Store
	tmpDir      string
	timeout     time.Duration
	concurrency int
	maxBytes    int64
	logger      *zap.Logger
}

type UploaderConfig struct {
	TmpDir      string
	Timeout     time.Duration
	Concurrency int
	MaxBytes    int64
}

func NewUploader(store Store, cfg UploaderConfig, logger *zap.Logger) (*Uploader, error) {
	if cfg.TmpDir != "" {
		if err := os.MkdirAll(cfg.TmpDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create upload tmp directory: %w", err)
		}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	return &Uploader{
		store:       store,
		tmpDir:      cfg.TmpDir,
		timeout:     cfg.Timeout,
		concurrency: cfg.Concurrency,
		maxBytes:    cfg.MaxBytes,
		logger:      logger,
	}, nil
}

func (u *Uploader) MaxBytes() int64 {
	return u.maxBytes
}

// BatchResult lists the URLs of the files that made it, in request order,
// and how many did not.
type BatchResult struct {
	URLs   []string
	Failed int
}

// UploadAll uploads files concurrently. A failing file is logged and
// dropped; it never fails the batch.
func (u *Uploader) UploadAll(ctx context.Context, files []File) BatchResult {
	urls := make([]string, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			url, err := u.Upload(gctx, f)
			if err != nil {
				u.logger.Warn("media upload failed",
					zap.String("file", f.Filename),
					zap.Error(err),
				)
				return nil
			}
			urls[i] = url
			return nil
		})
	}
	g.Wait()

	result := BatchResult{}
	for _, url := range urls {
		if url == "" {
			result.Failed++
			continue
		}
		result.URLs = append(result.URLs, url)
	}
	return result
}

// Upload stages and uploads a single file under the per-file timeout.
func (u *Uploader) Upload(ctx context.Context, f File) (string, error) {
	staged, err := u.stage(f)
	if err != nil {
		return "", err
	}
	defer func() {
		staged.Close()
		os.Remove(staged.Name())
	}()

	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	url, err := u.store.Upload(ctx, f.Filename, staged)
	if err != nil {
		return "", err
	}
	return url, nil
}

// DeleteAll removes objects best-effort, logging failures.
func (u *Uploader) DeleteAll(ctx context.Context, urls []string) {
	for _, url := range urls {
		if err := u.store.Delete(ctx, url); err != nil {
			u.logger.Warn("media delete failed", zap.String("url", url), zap.Error(err))
		}
	}
}

func (u *Uploader) stage(f File) (*os.File, error) {
	src, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(u.tmpDir, "upload-*"+strings.ToLower(filepath.Ext(f.Filename)))
	if err != nil {
		return nil, fmt.Errorf("failed to stage upload: %w", err)
	}

	n, err := io.Copy(tmp, io.LimitReader(src, u.maxBytes+1))
	if err == nil && n > u.maxBytes {
		err = errTooLarge
	}
	if err == nil {
		_, err = tmp.Seek(0, io.SeekStart)
	}
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, err
	}
	return tmp, nil
}
