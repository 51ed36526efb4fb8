package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumFile is the manifest name written next to the protected files.
const ChecksumFile = ".checksums"

// ErrNoChecksums is returned when no manifest exists for a directory.
var ErrNoChecksums = errors.New("checksums file not found (run 'diagdump config lock')")

// ChecksumManifest maps file base names to BLAKE3 hashes.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// HashUpdateFileResult captures checksum generation outcome for one file.
type HashUpdateFileResult struct {
	Filename string
	Path     string
	Exists   bool
	Hash     string
}

// HashUpdateReport captures checksum generation details for a directory.
type HashUpdateReport struct {
	Dir          string
	ChecksumPath string
	Written      bool
	Files        []HashUpdateFileResult
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}

	if actualHash != expectedHash {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s",
			filepath.Base(filePath), expectedHash, actualHash)
	}

	return nil
}

// GenerateChecksumsWithReport hashes the given files (all in the same
// directory) and, unless dryRun, atomically writes the .checksums manifest.
func GenerateChecksumsWithReport(paths []string, dryRun bool) (*HashUpdateReport, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files to hash")
	}

	dir := filepath.Dir(paths[0])
	manifest := ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      make(map[string]string),
	}
	report := &HashUpdateReport{
		Dir:          dir,
		ChecksumPath: filepath.Join(dir, ChecksumFile),
		Files:        make([]HashUpdateFileResult, 0, len(paths)),
	}

	for _, path := range paths {
		if filepath.Dir(path) != dir {
			return nil, fmt.Errorf("%s is not in %s", path, dir)
		}
		name := filepath.Base(path)

		if _, err := os.Stat(path); os.IsNotExist(err) {
			report.Files = append(report.Files, HashUpdateFileResult{Filename: name, Path: path})
			continue
		}

		hash, err := ComputeBlake3Hash(path)
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s: %w", name, err)
		}
		manifest.Hashes[name] = hash
		report.Files = append(report.Files, HashUpdateFileResult{
			Filename: name,
			Path:     path,
			Exists:   true,
			Hash:     hash,
		})
	}

	if dryRun {
		return report, nil
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checksums: %w", err)
	}
	if err := renameio.WriteFile(report.ChecksumPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write checksums: %w", err)
	}
	report.Written = true

	return report, nil
}

// LoadChecksums reads the .checksums manifest from dir.
func LoadChecksums(dir string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ChecksumFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoChecksums
		}
		return nil, fmt.Errorf("failed to read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}
	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}

	return &manifest, nil
}

// VerifyIntegrity checks path against the manifest in its directory.
// With VerifyAuto a missing manifest passes; VerifyAlways requires one.
func VerifyIntegrity(path, mode string) error {
	if mode == VerifyNever {
		return nil
	}

	manifest, err := LoadChecksums(filepath.Dir(path))
	if err != nil {
		if errors.Is(err, ErrNoChecksums) && mode != VerifyAlways {
			return nil
		}
		return err
	}

	name := filepath.Base(path)
	expected, ok := manifest.Hashes[name]
	if !ok {
		return fmt.Errorf("%s has no hash in checksums (run 'diagdump config lock')", name)
	}
	if err := VerifyFileHash(path, expected); err != nil {
		return fmt.Errorf("integrity check failed: %w; if the edit was intentional run 'diagdump config lock'", err)
	}
	return nil
}
