package featuremap

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// MaxNameLen bounds feature and daemon names.
	MaxNameLen = 30
	// MaxDescLen bounds feature descriptions.
	MaxDescLen = 100
)

// ErrUnknownFeature is returned by Lookup for names not in the mapping.
var ErrUnknownFeature = errors.New("unknown feature")

// Daemon is one daemon participating in a feature.
type Daemon struct {
	Name        string `json:"name"`
	DiagEnabled bool   `json:"diag_enabled"`
}

// Feature is a named group of daemons.
type Feature struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Daemons     []Daemon `json:"daemons"`
	DiagEnabled bool     `json:"diag_enabled"`
}

// EnabledDaemons returns the diagnosable daemons in configuration order.
func (f *Feature) EnabledDaemons() []Daemon {
	out := make([]Daemon, 0, len(f.Daemons))
	for _, d := range f.Daemons {
		if d.DiagEnabled {
			out = append(out, d)
		}
	}
	return out
}

// Registry is an immutable, ordered feature table.
type Registry struct {
	features []*Feature
	byName   map[string]*Feature
}

// NewRegistry builds a registry from already parsed features. Duplicate
// names are rejected and each feature's flag is recomputed from its daemons.
func NewRegistry(features ...Feature) (*Registry, error) {
	r := &Registry{
		features: make([]*Feature, 0, len(features)),
		byName:   make(map[string]*Feature, len(features)),
	}
	for i := range features {
		f := features[i]
		if f.Name == "" {
			return nil, fmt.Errorf("feature %d has no name", i)
		}
		if _, dup := r.byName[f.Name]; dup {
			return nil, fmt.Errorf("duplicate feature %q", f.Name)
		}
		f.Daemons = append([]Daemon(nil), f.Daemons...)
		// The parsed flag is kept; daemon flags can only add to it.
		for _, d := range f.Daemons {
			f.DiagEnabled = f.DiagEnabled || d.DiagEnabled
		}
		r.features = append(r.features, &f)
		r.byName[f.Name] = &f
	}
	return r, nil
}

// Lookup returns the feature with the given name.
func (r *Registry) Lookup(name string) (*Feature, error) {
	if f, ok := r.byName[strings.TrimSpace(name)]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFeature, name)
}

// Features returns every feature in file order.
func (r *Registry) Features() []*Feature {
	return append([]*Feature(nil), r.features...)
}

// Enabled returns the features whose diag_dump flag was set on any daemon
// entry.
func (r *Registry) Enabled() []*Feature {
	out := make([]*Feature, 0, len(r.features))
	for _, f := range r.features {
		if f.DiagEnabled {
			out = append(out, f)
		}
	}
	return out
}

// Len returns the number of features.
func (r *Registry) Len() int { return len(r.features) }
