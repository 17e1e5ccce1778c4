// Package mediatest provides an in-memory media store for tests.
package mediatest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/KAsare1/strings-server/service/media"
)

var ErrUploadRejected = errors.New("upload rejected")

// MemoryStore keeps uploaded objects in memory. Uploads of file names listed
// in Fail are rejected.
type MemoryStore struct {
	mu      sync.Mutex
	next    int
	Objects map[string][]byte
	Deleted []string
	Fail    map[string]bool
}

func NewMemoryStore(fail ...string) *MemoryStore {
	s := &MemoryStore{
		Objects: make(map[string][]byte),
		Fail:    make(map[string]bool),
	}
	for _, name := range fail {
		s.Fail[name] = true
	}
	return s
}

func (s *MemoryStore) Upload(ctx context.Context, name string, r io.Reader) (string, error) {
	if s.Fail[name] {
		return "", fmt.Errorf("%s: %w", name, ErrUploadRejected)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	url := fmt.Sprintf("https://media.test/%d/%s", s.next, name)
	s.Objects[url] = data
	return url, nil
}

func (s *MemoryStore) Delete(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Objects, url)
	s.Deleted = append(s.Deleted, url)
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Objects)
}

// File builds an in-memory upload.
func File(name string, content []byte) media.File {
	return media.File{
		Filename: name,
		Size:     int64(len(content)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(content)), nil
		},
	}
}

// Images builds n small png uploads named img0.png, img1.png, ...
func Images(n int) []media.File {
	files := make([]media.File, n)
	for i := range files {
		files[i] = File(fmt.Sprintf("img%d.png", i), []byte("\x89PNG fake image"))
	}
	return files
}
