package sink

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/mattjoyce/diagdump/internal/log"
)

// DefaultFilenamePattern allows plain file names without path separators.
const DefaultFilenamePattern = `^[A-Za-z0-9][A-Za-z0-9._-]{0,254}$`

// File writes sections to a report file created exclusively for one session.
type File struct {
	mu     sync.Mutex
	f      *os.File
	path   string
	closed bool
}

// ValidateFilename checks name against pattern (DefaultFilenamePattern when
// empty).
func ValidateFilename(name, pattern string) error {
	if pattern == "" {
		pattern = DefaultFilenamePattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("filename pattern %q: %w", pattern, err)
	}
	if name == "." || name == ".." || !re.MatchString(name) || filepath.Base(name) != name {
		return fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	return nil
}

// OpenFile creates name inside dir for writing. The name must match pattern
// and the file must not exist yet. dir is created when missing; a regular
// file occupying its path is replaced by the directory.
func OpenFile(dir, name, pattern string) (*File, error) {
	if err := ValidateFilename(name, pattern); err != nil {
		return nil, err
	}
	if err := EnsureDir(dir); err != nil {
		return nil, err
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, &IOError{Path: dir, Op: "open", Err: err}
	}
	defer root.Close()

	path := filepath.Join(dir, name)
	f, err := root.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrExists, path)
		}
		return nil, &IOError{Path: path, Op: "create", Err: err}
	}
	log.WithComponent("sink").Debug("report file created", "path", path)
	return &File{f: f, path: path}, nil
}

// EnsureDir makes sure dir exists as a directory. A symlink to a directory
// is accepted as is. Anything else occupying the path is removed, dangling
// symlinks included.
func EnsureDir(dir string) error {
	info, err := os.Stat(dir)
	switch {
	case err == nil && info.IsDir():
		return nil
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return &IOError{Path: dir, Op: "stat", Err: err}
	}

	if occupant, lerr := os.Lstat(dir); lerr == nil {
		log.WithComponent("sink").Warn("replacing non-directory with dump directory",
			"path", dir, "type", occupant.Mode().Type().String())
		if err := os.Remove(dir); err != nil {
			return &IOError{Path: dir, Op: "remove", Err: err}
		}
	}

	if err := os.MkdirAll(dir, 0o777); err != nil {
		return &IOError{Path: dir, Op: "create directory", Err: err}
	}
	// MkdirAll is subject to the umask.
	if err := os.Chmod(dir, 0o777); err != nil {
		return &IOError{Path: dir, Op: "chmod", Err: err}
	}
	return nil
}

// WriteSection appends one section and fails on any short write.
func (s *File) WriteSection(kind Kind, name, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &IOError{Path: s.path, Op: "write", Err: os.ErrClosed}
	}
	buf := Render(kind, name, text)
	n, err := io.WriteString(s.f, buf)
	if err == nil && n < len(buf) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return &IOError{Path: s.path, Op: "write", Err: err}
	}
	return nil
}

// Path returns the report file path.
func (s *File) Path() string { return s.path }

// Close closes the file; later calls are no-ops.
func (s *File) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.f.Close(); err != nil {
		return &IOError{Path: s.path, Op: "close", Err: err}
	}
	return nil
}
