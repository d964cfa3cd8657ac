// Package capture provides frame sources that do not depend on the inference
// sidecar's camera.
package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/vision"
)

var imageTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// DirSource replays the still images of a directory in lexical order, one
// frame per call. It returns io.EOF once every file has been served.
type DirSource struct {
	mu    sync.Mutex
	files []string
	next  int
	seq   uint64
}

// NewDirSource lists dir once; files added later are not picked up.
func NewDirSource(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frames dir: %w", err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := imageTypes[strings.ToLower(filepath.Ext(entry.Name()))]; !ok {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)

	return &DirSource{files: files}, nil
}

// Len returns the number of frames the source will replay.
func (s *DirSource) Len() int {
	return len(s.files)
}

// Next returns the next frame in the directory.
func (s *DirSource) Next(ctx context.Context) (vision.Frame, error) {
	if err := ctx.Err(); err != nil {
		return vision.Frame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.files) {
		return vision.Frame{}, ErrEndOfStream
	}
	path := s.files[s.next]
	s.next++

	data, err := os.ReadFile(path)
	if err != nil {
		return vision.Frame{}, fmt.Errorf("read frame %s: %w", filepath.Base(path), err)
	}
	s.seq++

	return vision.Frame{
		Seq:        s.seq,
		Image:      data,
		MIMEType:   imageTypes[strings.ToLower(filepath.Ext(path))],
		CapturedAt: time.Now().UTC(),
	}, nil
}

// ErrEndOfStream is returned by frame sources once no frame will follow.
var ErrEndOfStream = io.EOF
