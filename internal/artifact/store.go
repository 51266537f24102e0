// Package artifact lists and downloads test artifacts from a tank into a
// local directory. Writers of the same directory are serialized with an
// advisory file lock so two controllers never interleave downloads.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const (
	lockFileName   = ".tankpilot.lock"
	lockRetryDelay = 100 * time.Millisecond
)

var (
	// ErrLocked is returned when the directory lock could not be taken
	// before the context ended.
	ErrLocked = errors.New("artifact directory is locked by another process")
	// ErrInvalidName is returned for artifact names that would escape the
	// target directory.
	ErrInvalidName = errors.New("invalid artifact name")
)

// Fetcher is the part of the tank API the store needs.
type Fetcher interface {
	Artifacts(ctx context.Context, testID string) ([]string, error)
	Artifact(ctx context.Context, testID, filename string, w io.Writer) (int64, error)
}

// Store downloads artifacts of one tank into Dir.
type Store struct {
	dir     string
	pattern string
	fetcher Fetcher
	lock    *flock.Flock
}

// File is one downloaded artifact.
type File struct {
	Name  string `json:"name" yaml:"name"`
	Path  string `json:"path" yaml:"path"`
	Bytes int64  `json:"bytes" yaml:"bytes"`
}

// NewStore creates dir if needed. pattern is a path.Match glob applied by
// List; an empty pattern matches everything.
func NewStore(dir, pattern string, fetcher Fetcher) (*Store, error) {
	if fetcher == nil {
		return nil, errors.New("artifact fetcher is required")
	}
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	if pattern != "" {
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("artifact pattern %q: %w", pattern, err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Store{
		dir:     dir,
		pattern: pattern,
		fetcher: fetcher,
		lock:    flock.New(filepath.Join(dir, lockFileName)),
	}, nil
}

// Dir returns the download directory.
func (s *Store) Dir() string {
	return s.dir
}

// List returns the sorted artifact names of testID that match the pattern.
func (s *Store) List(ctx context.Context, testID string) ([]string, error) {
	names, err := s.fetcher.Artifacts(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts of %s: %w", testID, err)
	}
	return Filter(names, s.pattern), nil
}

// Download fetches each named artifact into the store directory while
// holding the directory lock. Files are written under a temporary name and
// renamed once complete.
func (s *Store) Download(ctx context.Context, testID string, names ...string) ([]File, error) {
	for _, name := range names {
		if err := validName(name); err != nil {
			return nil, err
		}
	}

	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s", ErrLocked, s.dir)
		}
		return nil, fmt.Errorf("lock artifact dir: %w", err)
	}
	defer s.lock.Unlock()

	files := make([]File, 0, len(names))
	for _, name := range names {
		f, err := s.fetch(ctx, testID, name)
		if err != nil {
			return files, err
		}
		files = append(files, f)
	}
	return files, nil
}

// DownloadMatching downloads every artifact of testID that matches the
// pattern.
func (s *Store) DownloadMatching(ctx context.Context, testID string) ([]File, error) {
	names, err := s.List(ctx, testID)
	if err != nil {
		return nil, err
	}
	return s.Download(ctx, testID, names...)
}

func (s *Store) fetch(ctx context.Context, testID, name string) (File, error) {
	dst := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, "."+name+".*.part")
	if err != nil {
		return File{}, fmt.Errorf("create %s: %w", name, err)
	}
	n, err := s.fetcher.Artifact(ctx, testID, name, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return File{}, fmt.Errorf("download %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return File{}, fmt.Errorf("store %s: %w", name, err)
	}
	return File{Name: name, Path: dst, Bytes: n}, nil
}

// Filter returns the sorted names matching the glob pattern.
func Filter(names []string, pattern string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if pattern == "" {
			out = append(out, name)
			continue
		}
		if ok, _ := path.Match(pattern, name); ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
