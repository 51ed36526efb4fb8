package featuremap

import (
	"sync"
	"sync/atomic"

	"github.com/mattjoyce/diagdump/internal/config"
	"github.com/mattjoyce/diagdump/internal/log"
)

// Resolver is the process-wide handle to the mapping file. The file is
// verified and parsed at most once; later calls return the cached table
// (or the cached error).
type Resolver struct {
	path   string
	verify string

	once   sync.Once
	reg    *Registry
	err    error
	parses atomic.Int32
}

// NewResolver creates a resolver for the mapping at path. verify is one of
// the config.Verify* modes.
func NewResolver(path, verify string) *Resolver {
	if verify == "" {
		verify = config.VerifyAuto
	}
	return &Resolver{path: path, verify: verify}
}

// Path returns the mapping file location.
func (r *Resolver) Path() string { return r.path }

// Resolve returns the feature table, loading it on first use.
func (r *Resolver) Resolve() (*Registry, error) {
	r.once.Do(func() {
		logger := log.WithComponent("featuremap")
		r.parses.Add(1)

		if err := config.VerifyIntegrity(r.path, r.verify); err != nil {
			r.err = &ConfigError{Path: r.path, Err: err}
			logger.Error("feature mapping failed integrity check", "path", r.path, "error", err)
			return
		}

		r.reg, r.err = Load(r.path)
		if r.err != nil {
			logger.Error("failed to load feature mapping", "path", r.path, "error", r.err)
			return
		}
		logger.Debug("feature mapping loaded", "path", r.path, "features", r.reg.Len(), "enabled", len(r.reg.Enabled()))
	})
	return r.reg, r.err
}

// Parses reports how many times the file has been parsed.
func (r *Resolver) Parses() int { return int(r.parses.Load()) }
