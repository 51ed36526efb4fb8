// Package doctor checks a diagdump installation: configuration, the feature
// mapping and the daemons it names.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/mattjoyce/diagdump/internal/auth"
	"github.com/mattjoyce/diagdump/internal/config"
	"github.com/mattjoyce/diagdump/internal/featuremap"
	"github.com/mattjoyce/diagdump/internal/storage"
	"github.com/mattjoyce/diagdump/internal/transport"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Features int     `json:"features"`
	Daemons  int     `json:"daemons"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration and the host it runs on.
type Doctor struct {
	cfg      *config.Config
	pidAlive func(pid int32) (bool, error)
	fsType   func(path string) (string, error)
}

// New creates a Doctor for cfg.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, pidAlive: process.PidExists, fsType: storage.FilesystemType}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateDumpConfig(r)
	d.validateAPIConfig(r)
	d.warnDumpDir(r)
	d.warnStatePath(r)
	if reg := d.validateMapping(r); reg != nil {
		d.warnFeatures(r, reg)
		d.warnDaemons(r, reg)
	}

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateDumpConfig checks the settings a dump session depends on.
func (d *Doctor) validateDumpConfig(r *Result) {
	dc := d.cfg.Dump
	if dc.Dir == "" {
		d.addError(r, "dump", "dump.dir", "dump.dir is required")
	}
	if dc.Timeout <= 0 {
		d.addError(r, "dump", "dump.timeout", "timeout must be positive")
	}
	if dc.Grace <= 0 {
		d.addError(r, "dump", "dump.grace", "grace must be positive")
	}
	if _, err := regexp.Compile(dc.FilenamePattern); err != nil {
		d.addError(r, "dump", "dump.filename_pattern", fmt.Sprintf("invalid pattern: %v", err))
	}
	if d.cfg.State.Path == "" {
		d.addError(r, "state", "state.path", "state.path is required")
	}
}

// validateAPIConfig checks API listen settings and token scopes.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "api", "api.auth", "API enabled but no tokens configured; every request will be rejected")
	}
	for i, tok := range d.cfg.API.Auth.Tokens {
		if tok.Token == "" {
			d.addWarning(r, "api", fmt.Sprintf("api.auth.tokens[%d].token", i),
				"token value is empty (possibly unresolved environment variable)")
		}
		for j, scope := range tok.Scopes {
			if !auth.ValidScope(scope) {
				d.addError(r, "api", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q (expected features:ro, dumps:ro, dumps:rw or *)", scope))
			}
		}
	}
}

// warnDumpDir flags a dump directory path held by something else.
func (d *Doctor) warnDumpDir(r *Result) {
	if d.cfg.Dump.Dir == "" {
		return
	}
	info, err := os.Stat(d.cfg.Dump.Dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		d.addWarning(r, "dump", "dump.dir", fmt.Sprintf("cannot stat %s: %v", d.cfg.Dump.Dir, err))
	case info.Mode().IsRegular():
		d.addWarning(r, "dump", "dump.dir", fmt.Sprintf("%s is a regular file; it will be replaced by a directory on the next dump", d.cfg.Dump.Dir))
	case !info.IsDir():
		d.addWarning(r, "dump", "dump.dir", fmt.Sprintf("%s is %s, not a directory; it will be replaced on the next dump", d.cfg.Dump.Dir, info.Mode().Type()))
	}
}

// warnStatePath flags a history database that will not survive a reboot.
func (d *Doctor) warnStatePath(r *Result) {
	if d.cfg.State.Path == "" {
		return
	}
	fsType, err := d.fsType(d.cfg.State.Path)
	if err != nil {
		d.addWarning(r, "state", "state.path", err.Error())
		return
	}
	if storage.IsVolatileFilesystem(fsType) {
		d.addWarning(r, "state", "state.path",
			fmt.Sprintf("%s is on %s; dump history is lost on reboot", d.cfg.State.Path, fsType))
	}
}

// validateMapping checks integrity and parses the feature mapping.
func (d *Doctor) validateMapping(r *Result) *featuremap.Registry {
	path := d.cfg.FeatureMapping.Path
	if err := config.VerifyIntegrity(path, d.cfg.FeatureMapping.Verify); err != nil {
		d.addError(r, "integrity", "feature_mapping.path", err.Error())
	}

	reg, err := featuremap.Load(path)
	if err != nil {
		var cfgErr *featuremap.ConfigError
		if errors.As(err, &cfgErr) && len(cfgErr.Problems) > 0 {
			for _, p := range cfgErr.Problems {
				d.addError(r, "mapping", "feature_mapping.path", p)
			}
		} else {
			d.addError(r, "mapping", "feature_mapping.path", err.Error())
		}
		return nil
	}
	r.Features = reg.Len()
	return reg
}

// warnFeatures flags features that can never produce a dump and names that
// were likely cut to the maximum length.
func (d *Doctor) warnFeatures(r *Result, reg *featuremap.Registry) {
	for _, f := range reg.Features() {
		field := "feature " + f.Name
		switch {
		case len(f.Daemons) == 0:
			d.addWarning(r, "features", field, "feature has no daemons")
		case !f.DiagEnabled:
			d.addWarning(r, "features", field, "no daemon of this feature has diag_dump enabled")
		}
		if utf8.RuneCountInString(f.Name) == featuremap.MaxNameLen {
			d.addWarning(r, "features", field,
				fmt.Sprintf("name is %d characters and may have been truncated", featuremap.MaxNameLen))
		}
		if utf8.RuneCountInString(f.Description) == featuremap.MaxDescLen {
			d.addWarning(r, "features", field,
				fmt.Sprintf("description is %d characters and may have been truncated", featuremap.MaxDescLen))
		}
	}
}

// warnDaemons checks that every diagnosable daemon has a pidfile, a live
// process and a control socket.
func (d *Doctor) warnDaemons(r *Result, reg *featuremap.Registry) {
	seen := make(map[string]struct{})
	for _, f := range reg.Enabled() {
		for _, dm := range f.EnabledDaemons() {
			seen[dm.Name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	r.Daemons = len(names)

	runDir := d.cfg.Transport.RunDir
	for _, name := range names {
		field := "daemon " + name
		pid, err := transport.ReadPID(runDir, name)
		if err != nil {
			d.addWarning(r, "daemons", field, err.Error())
			continue
		}
		if alive, err := d.pidAlive(int32(pid)); err == nil && !alive {
			d.addWarning(r, "daemons", field, fmt.Sprintf("pid %d from pidfile is not running", pid))
			continue
		}
		sock := transport.SocketPath(runDir, name, pid)
		info, err := os.Stat(sock)
		switch {
		case err != nil:
			d.addWarning(r, "daemons", field, fmt.Sprintf("control socket %s: %v", sock, err))
		case info.Mode()&fs.ModeSocket == 0:
			d.addWarning(r, "daemons", field, fmt.Sprintf("%s is not a socket", sock))
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		fmt.Fprintf(&b, "Configuration valid (%d features, %d diagnosable daemons).\n", r.Features, r.Daemons)
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
