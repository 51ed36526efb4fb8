package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeMapping(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "ops_featuremapping.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestGenerateChecksumsWithReportDryRun(t *testing.T) {
	tmpDir := t.TempDir()
	present := writeMapping(t, tmpDir, "---\n")
	missing := filepath.Join(tmpDir, "extra.yaml")

	report, err := GenerateChecksumsWithReport([]string{present, missing}, true)
	if err != nil {
		t.Fatalf("GenerateChecksumsWithReport() failed: %v", err)
	}

	if report.Written {
		t.Fatal("report.Written = true, want false in dry-run")
	}
	if len(report.Files) != 2 {
		t.Fatalf("len(report.Files) = %d, want 2", len(report.Files))
	}
	if !report.Files[0].Exists || report.Files[0].Hash == "" {
		t.Fatal("mapping file should exist with computed hash")
	}
	if report.Files[1].Exists || report.Files[1].Hash != "" {
		t.Fatal("extra.yaml should be reported as missing without hash")
	}
	if _, err := os.Stat(filepath.Join(tmpDir, ChecksumFile)); !os.IsNotExist(err) {
		t.Fatal(".checksums should not be written in dry-run mode")
	}
}

func TestGenerateChecksumsWritesManifest(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeMapping(t, tmpDir, "---\n")

	report, err := GenerateChecksumsWithReport([]string{path}, false)
	if err != nil {
		t.Fatalf("GenerateChecksumsWithReport() failed: %v", err)
	}
	if !report.Written {
		t.Fatal("report.Written = false, want true")
	}

	manifest, err := LoadChecksums(tmpDir)
	if err != nil {
		t.Fatalf("LoadChecksums() failed: %v", err)
	}
	if manifest.Hashes["ops_featuremapping.yaml"] != report.Files[0].Hash {
		t.Fatalf("manifest hash mismatch: %v", manifest.Hashes)
	}
}

func TestGenerateChecksumsRejectsMixedDirectories(t *testing.T) {
	a := writeMapping(t, t.TempDir(), "a")
	b := writeMapping(t, t.TempDir(), "b")
	if _, err := GenerateChecksumsWithReport([]string{a, b}, true); err == nil {
		t.Fatal("expected error for files in different directories")
	}
}

func TestVerifyIntegrity(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeMapping(t, tmpDir, "---\n")

	if err := VerifyIntegrity(path, VerifyAuto); err != nil {
		t.Fatalf("auto without manifest should pass: %v", err)
	}
	if err := VerifyIntegrity(path, VerifyAlways); !errors.Is(err, ErrNoChecksums) {
		t.Fatalf("always without manifest: got %v, want ErrNoChecksums", err)
	}

	if _, err := GenerateChecksumsWithReport([]string{path}, false); err != nil {
		t.Fatal(err)
	}
	if err := VerifyIntegrity(path, VerifyAlways); err != nil {
		t.Fatalf("verify after lock: %v", err)
	}

	if err := os.WriteFile(path, []byte("---\n- tampered\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := VerifyIntegrity(path, VerifyAuto); err == nil {
		t.Fatal("expected hash mismatch after modification")
	}
	if err := VerifyIntegrity(path, VerifyNever); err != nil {
		t.Fatalf("never should skip verification: %v", err)
	}
}
