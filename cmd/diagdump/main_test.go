package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/diagdump/internal/history"
	"github.com/mattjoyce/diagdump/internal/log"
	"github.com/mattjoyce/diagdump/internal/transport/transporttest"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

const testMapping = `---
  -
    feature_name: 'lldp'
    feature_desc: 'Link Layer Discovery Protocol'
    daemon:
     - [name: 'ops-lldpd', 'diag_dump':'y']
     - [name: 'ops-portd', 'diag_dump':'y']
  -
    feature_name: 'fan'
    feature_desc: 'Fan'
    daemon:
     - [name: 'ops-fand', 'diag_dump':'n']
`

type testEnv struct {
	config  string
	mapping string
	dumpDir string
	runDir  string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	env := testEnv{
		config:  filepath.Join(dir, "diagdump.yaml"),
		mapping: filepath.Join(dir, "mapping", "ops_featuremapping.yaml"),
		dumpDir: filepath.Join(dir, "ops-diag"),
		runDir:  transporttest.RunDir(t),
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(env.mapping), 0o755))
	require.NoError(t, os.WriteFile(env.mapping, []byte(testMapping), 0o644))

	cfg := "feature_mapping:\n  path: " + env.mapping + "\n" +
		"transport:\n  run_dir: " + env.runDir + "\n" +
		"dump:\n  dir: " + env.dumpDir + "\n  timeout: 2s\n  grace: 1s\n  interrupt_grace: 1s\n" +
		"state:\n  path: " + filepath.Join(dir, "state", "history.db") + "\n  lock_path: " + filepath.Join(dir, "diagdump.lock") + "\n"
	require.NoError(t, os.WriteFile(env.config, []byte(cfg), 0o600))
	return env
}

func (e testEnv) run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(append([]string{"--config", e.config}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestListShowsDiagnosableFeatures(t *testing.T) {
	env := newTestEnv(t)

	code, out, _ := env.run(t, "list")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "Diagnostic Dump Supported Features List")
	assert.Contains(t, out, "lldp")
	assert.Contains(t, out, "Link Layer Discovery Protocol")
	assert.NotContains(t, out, "Fan")

	code, out, _ = env.run(t, "list", "--all")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "(disabled)")
}

func TestListMappingFailure(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.Remove(env.mapping))

	code, out, _ := env.run(t, "list")
	assert.Equal(t, exitWarning, code)
	assert.Contains(t, out, "Failed to load feature mapping")
}

func TestDumpToConsole(t *testing.T) {
	env := newTestEnv(t)
	transporttest.Start(t, env.runDir, "ops-lldpd", transporttest.Echo())
	transporttest.Start(t, env.runDir, "ops-portd", transporttest.Reply("port state"))

	code, out, stderr := env.run(t, "dump", "lldp", "basic")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, out, "[Start] Feature lldp")
	assert.Contains(t, out, "[Start] Daemon ops-lldpd")
	assert.Contains(t, out, "dumpdiagbasic basic lldp")
	assert.Contains(t, out, "port state")
	assert.Contains(t, out, "[End] Feature lldp")
	assert.Contains(t, out, "Diagnostic dump captured for feature lldp")
}

func TestDumpToFileThenHistoryAndInspect(t *testing.T) {
	env := newTestEnv(t)
	transporttest.Start(t, env.runDir, "ops-lldpd", transporttest.Reply("OK"))
	transporttest.Start(t, env.runDir, "ops-portd", transporttest.Reply("OK"))

	code, out, stderr := env.run(t, "dump", "lldp", "basic", "report.txt")
	require.Equal(t, exitOK, code, stderr)
	path := filepath.Join(env.dumpDir, "report.txt")
	assert.Contains(t, out, "lldp diagnostic-dump is collected at "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "[End] Daemon"))

	// Same name again: the file is never overwritten.
	code, out, _ = env.run(t, "dump", "lldp", "report.txt")
	assert.Equal(t, exitWarning, code)
	assert.Contains(t, out, "failed to open file error")

	code, out, _ = env.run(t, "history", "--json")
	require.Equal(t, exitOK, code)
	var sessions []history.Session
	require.NoError(t, json.Unmarshal([]byte(out), &sessions))
	require.Len(t, sessions, 2)
	assert.Equal(t, "failed", sessions[0].State)
	assert.Equal(t, "completed", sessions[1].State)
	assert.Equal(t, path, sessions[1].Destination)

	code, out, _ = env.run(t, "history")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "SESSION")
	assert.Contains(t, out, "2/2")

	code, out, _ = env.run(t, "inspect", sessions[1].ID[:8])
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "ops-portd")

	code, _, stderr = env.run(t, "inspect", "ffffffff-nope")
	assert.Equal(t, exitWarning, code)
	assert.Contains(t, stderr, "not found")
}

func TestDumpPartialFailure(t *testing.T) {
	env := newTestEnv(t)
	transporttest.Start(t, env.runDir, "ops-lldpd", transporttest.Reply("OK"))
	// ops-portd is not running.

	code, out, _ := env.run(t, "dump", "lldp")
	assert.Equal(t, exitWarning, code)
	assert.Contains(t, out, "Failed to capture diagnostic dump from daemon ops-portd")
	assert.Contains(t, out, "Diagnostic dump lldp feature failed for 1 daemon")
}

func TestDumpUnknownFeature(t *testing.T) {
	env := newTestEnv(t)

	code, out, _ := env.run(t, "dump", "bogus")
	assert.Equal(t, exitWarning, code)
	assert.Equal(t, "bogus feature is not present\n", out)
}

func TestDumpUsageErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		args []string
	}{
		{"no feature", []string{"dump"}},
		{"unknown level", []string{"dump", "lldp", "advanced", "x.txt"}},
		{"watch without file", []string{"dump", "lldp", "--watch"}},
		{"negative timeout", []string{"dump", "lldp", "--timeout", "-1s"}},
		{"bad flag", []string{"dump", "lldp", "--bogus"}},
		{"unknown command", []string{"frobnicate"}},
		{"list with args", []string{"list", "extra"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := env.run(t, tt.args...)
			assert.Equal(t, exitUsage, code)
			assert.Contains(t, stderr, "Error:")
		})
	}
}

func TestParseDumpArgs(t *testing.T) {
	tests := []struct {
		args     []string
		feature  string
		filename string
		wantErr  bool
	}{
		{[]string{"lldp"}, "lldp", "", false},
		{[]string{"lldp", "basic"}, "lldp", "", false},
		{[]string{"lldp", "basic", "out.txt"}, "lldp", "out.txt", false},
		{[]string{"lldp", "out.txt"}, "lldp", "out.txt", false},
		{[]string{"lldp", "advanced", "out.txt"}, "", "", true},
		{[]string{strings.Repeat("f", 31)}, "", "", true},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			feature, filename, err := parseDumpArgs(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.feature, feature)
			assert.Equal(t, tt.filename, filename)
		})
	}
}

func TestDoctor(t *testing.T) {
	env := newTestEnv(t)
	transporttest.Start(t, env.runDir, "ops-lldpd", transporttest.Reply("OK"))

	code, out, _ := env.run(t, "doctor", "--json")
	require.Equal(t, exitOK, code)
	var result struct {
		Valid    bool `json:"valid"`
		Features int  `json:"features"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Valid)
	assert.Equal(t, 2, result.Features)
}

func TestConfigLockAndVerify(t *testing.T) {
	env := newTestEnv(t)

	code, _, _ := env.run(t, "config", "verify")
	assert.Equal(t, exitWarning, code, "no manifest yet")

	code, out, _ := env.run(t, "config", "lock")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "ops_featuremapping.yaml")

	code, out, _ = env.run(t, "config", "verify")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "OK")

	require.NoError(t, os.WriteFile(env.mapping, []byte(testMapping+"\n# edited\n"), 0o644))
	code, _, stderr := env.run(t, "config", "verify")
	assert.Equal(t, exitWarning, code)
	assert.Contains(t, stderr, "integrity check failed")

	// A tampered mapping is refused by dump as well.
	code, out, _ = env.run(t, "dump", "lldp")
	assert.Equal(t, exitWarning, code)
	assert.Contains(t, out, "Failed to load feature mapping")
}

func TestVersionJSON(t *testing.T) {
	origVersion, origCommit, origDate := version, gitCommit, buildDate
	t.Cleanup(func() { version, gitCommit, buildDate = origVersion, origCommit, origDate })
	version, gitCommit, buildDate = "1.2.3", "0123456789abcdef", "2026-01-02T03:04:05+02:00"

	var stdout, stderr bytes.Buffer
	code := execute([]string{"version", "--json", "--config", "/nonexistent/diagdump.yaml"}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())

	var info versionInfo
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &info))
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "0123456789ab", info.Commit)
	assert.Equal(t, "2026-01-02T01:04:05Z", info.BuildTime)
}

func TestInvalidConfigIsWarning(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.WriteFile(env.config, []byte("dump:\n  timeout: -5s\n"), 0o600))

	code, _, stderr := env.run(t, "list")
	assert.Equal(t, exitWarning, code)
	assert.Contains(t, stderr, "dump.timeout must be positive")
}
