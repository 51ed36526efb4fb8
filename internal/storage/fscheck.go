package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type filesystemClass int

const (
	filesystemLocal filesystemClass = iota
	filesystemNetwork
	filesystemVolatile
)

var filesystemClasses = map[string]filesystemClass{
	"afpfs":  filesystemNetwork,
	"cifs":   filesystemNetwork,
	"nfs":    filesystemNetwork,
	"smbfs":  filesystemNetwork,
	"smb2":   filesystemNetwork,
	"webdav": filesystemNetwork,
	"tmpfs":  filesystemVolatile,
	"ramfs":  filesystemVolatile,
}

func classify(fsType string) filesystemClass {
	return filesystemClasses[strings.ToLower(strings.TrimSpace(fsType))]
}

func isNetworkFilesystem(fsType string) bool {
	return classify(fsType) == filesystemNetwork
}

// IsVolatileFilesystem reports whether fsType is memory backed and loses
// its contents on reboot.
func IsVolatileFilesystem(fsType string) bool {
	return classify(fsType) == filesystemVolatile
}

// FilesystemType names the filesystem that holds path, probing its nearest
// existing ancestor when path has not been created yet.
func FilesystemType(path string) (string, error) {
	return probeFilesystem(path, detectFilesystemType)
}

func probeFilesystem(path string, detector func(string) (string, error)) (string, error) {
	if path == "" {
		return "", errors.New("sqlite path is empty")
	}
	existing, err := nearestExistingPath(path)
	if err != nil {
		return "", fmt.Errorf("resolve database path %q: %w", path, err)
	}
	fsType, err := detector(existing)
	if err != nil {
		return "", fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	return fsType, nil
}

// validateSQLiteFilesystem refuses database paths on network mounts.
func validateSQLiteFilesystem(path string) error {
	return validateSQLiteFilesystemWithDetector(path, detectFilesystemType)
}

func validateSQLiteFilesystemWithDetector(path string, detector func(string) (string, error)) error {
	fsType, err := probeFilesystem(path, detector)
	if err != nil {
		return err
	}
	if isNetworkFilesystem(fsType) {
		return fmt.Errorf(
			"history database %q is on network filesystem %q; SQLite requires a local filesystem for reliable locking. Point state.path (or DIAGDUMP_STATE_PATH) at local disk",
			path, fsType)
	}
	return nil
}

func nearestExistingPath(path string) (string, error) {
	candidate, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}
	for {
		_, err := os.Stat(candidate)
		switch {
		case err == nil:
			return candidate, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", path)
		}
		candidate = parent
	}
}
