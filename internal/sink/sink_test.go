package sink

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/diagdump/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

func TestRenderSections(t *testing.T) {
	eq := strings.Repeat("=", 80)
	dash := strings.Repeat("-", 80)

	tests := []struct {
		name string
		kind Kind
		feat string
		text string
		want string
	}{
		{
			name: "feature start",
			kind: KindFeatureStart, feat: "lldp", text: "Time : Sun Oct 18 10:00:00 2026",
			want: eq + "\n[Start] Feature lldp Time : Sun Oct 18 10:00:00 2026\n" + eq + "\n",
		},
		{
			name: "daemon",
			kind: KindDaemon, feat: "ops-lldpd", text: "OK",
			want: dash + "\n[Start] Daemon ops-lldpd\n" + dash + "\nOK\n" + dash + "\n[End] Daemon ops-lldpd\n" + dash + "\n",
		},
		{
			name: "feature end",
			kind: KindFeatureEnd, feat: "lldp",
			want: eq + "\n[End] Feature lldp\n" + eq + "\n",
		},
		{
			name: "interrupted",
			kind: KindInterrupted, feat: "lldp",
			want: eq + "\nUSER INTERRUPT:Diag dump terminated\n" + eq + "\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.kind, tt.feat, tt.text))
		})
	}
}

func TestTimestamp(t *testing.T) {
	ts := time.Date(2026, time.October, 8, 9, 5, 3, 0, time.UTC)
	assert.Equal(t, "Time : Thu Oct  8 09:05:03 2026", Timestamp(ts))
}

func TestConsoleWritesToBuffer(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	require.NoError(t, c.WriteSection(KindDaemon, "ops-lldpd", "raw\x1b[2J"))
	assert.Contains(t, buf.String(), "raw\x1b[2J", "non-terminal output is not escaped")
	assert.Empty(t, c.Path())
	assert.NoError(t, c.Close())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestConsoleNeverFails(t *testing.T) {
	c := NewConsole(failingWriter{})
	assert.NoError(t, c.WriteSection(KindFeatureStart, "lldp", ""))
}

func TestSanitizeTerminal(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain text", "plain text"},
		{"a\tb\nc", "a\tb\nc"},
		{"hi\x1b[31mred", `hi\x1b[31mred`},
		{"nul:\x00", `nul:\x00`},
		{"bad:\xff", `bad:\xff`},
		{"ls x", "ls x"},
		{"c1:\u009b", `c1:\x9b`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeTerminal(tt.in), "input %q", tt.in)
	}
}

func TestValidateFilename(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"report.txt", true},
		{"lldp-2026_10_18.log", true},
		{"", false},
		{".hidden", false},
		{"..", false},
		{"../etc/passwd", false},
		{"dir/report", false},
		{"bad name", false},
		{strings.Repeat("a", 256), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilename(tt.name, "")
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidFilename)
			}
		})
	}
}

func TestValidateFilenameBadPattern(t *testing.T) {
	err := ValidateFilename("x", "[")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidFilename)
}

func TestOpenFileWritesSectionsAndRefusesOverwrite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ops-diag")

	f, err := OpenFile(dir, "report.txt", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "report.txt"), f.Path())

	require.NoError(t, f.WriteSection(KindFeatureStart, "lldp", ""))
	require.NoError(t, f.WriteSection(KindDaemon, "d1", "OK"))
	require.NoError(t, f.WriteSection(KindDaemon, "d2", "OK"))
	require.NoError(t, f.WriteSection(KindFeatureEnd, "lldp", ""))
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	data, err := os.ReadFile(f.Path())
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "[Start] Daemon"))
	assert.Equal(t, 1, strings.Count(string(data), "[End] Feature lldp"))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = OpenFile(dir, "report.txt", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExists)
	assert.ErrorIs(t, err, fs.ErrExist)
}

func TestWriteAfterCloseIsIOError(t *testing.T) {
	f, err := OpenFile(t.TempDir(), "closed.txt", "")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	err = f.WriteSection(KindFeatureEnd, "lldp", "")
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "write", ioErr.Op)
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestEnsureDirReplacesRegularFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ops-diag")
	require.NoError(t, os.WriteFile(dir, []byte("stale"), 0o644))

	require.NoError(t, EnsureDir(dir))
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestEnsureDirReplacesNonDirectories(t *testing.T) {
	tests := []struct {
		name  string
		place func(t *testing.T, base, dir string)
	}{
		{
			name: "dangling symlink",
			place: func(t *testing.T, base, dir string) {
				require.NoError(t, os.Symlink(filepath.Join(base, "elsewhere"), dir))
			},
		},
		{
			name: "symlink to file",
			place: func(t *testing.T, base, dir string) {
				target := filepath.Join(base, "target.txt")
				require.NoError(t, os.WriteFile(target, []byte("keep"), 0o644))
				require.NoError(t, os.Symlink(target, dir))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := t.TempDir()
			dir := filepath.Join(base, "ops-diag")
			tt.place(t, base, dir)

			require.NoError(t, EnsureDir(dir))
			info, err := os.Lstat(dir)
			require.NoError(t, err)
			assert.True(t, info.IsDir())
		})
	}
}

func TestEnsureDirFollowsSymlinkToDirectory(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "real")
	require.NoError(t, os.Mkdir(target, 0o755))
	dir := filepath.Join(base, "ops-diag")
	require.NoError(t, os.Symlink(target, dir))

	require.NoError(t, EnsureDir(dir))
	info, err := os.Lstat(dir)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink, "the link is left in place")
}

func TestOpenFileInvalidNameCreatesNothing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ops-diag")
	_, err := OpenFile(dir, "../escape", "")
	assert.ErrorIs(t, err, ErrInvalidFilename)
	_, statErr := os.Stat(dir)
	assert.True(t, errors.Is(statErr, fs.ErrNotExist))
}
