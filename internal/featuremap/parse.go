package featuremap

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigError reports a mapping file that could not be resolved.
type ConfigError struct {
	Path     string
	Problems []string
	Err      error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("feature mapping")
	if e.Path != "" {
		fmt.Fprintf(&b, " %s", e.Path)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if len(e.Problems) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Problems, "; "))
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

type parseState int

const (
	stateNone parseState = iota
	stateFeatureName
	stateFeatureDesc
	stateDaemon
	stateDaemonName
	stateDiagFlag
)

var keyStates = map[string]parseState{
	"feature_name": stateFeatureName,
	"feature_desc": stateFeatureDesc,
	"daemon":       stateDaemon,
	"name":         stateDaemonName,
	"diag_dump":    stateDiagFlag,
}

// Load reads and parses the mapping file at path.
func Load(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	defer f.Close()

	reg, err := Parse(f)
	if err != nil {
		var cerr *ConfigError
		if errors.As(err, &cerr) {
			cerr.Path = path
		}
		return nil, err
	}
	return reg, nil
}

// Parse reads a mapping document from r.
func Parse(r io.Reader) (*Registry, error) {
	var root yaml.Node
	if err := yaml.NewDecoder(r).Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ConfigError{Problems: []string{"no features defined"}}
		}
		return nil, &ConfigError{Err: fmt.Errorf("yaml: %w", err)}
	}

	p := &parser{seen: make(map[string]bool)}
	p.walk(&root)

	if len(p.problems) == 0 && len(p.features) == 0 {
		p.problems = append(p.problems, "no features defined")
	}
	if len(p.problems) > 0 {
		return nil, &ConfigError{Problems: p.problems}
	}

	reg, err := NewRegistry(p.features...)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	return reg, nil
}

type parser struct {
	state    parseState
	features []Feature
	seen     map[string]bool
	problems []string
}

// walk visits scalars in document order, the same order a streaming
// parser would emit them.
func (p *parser) walk(n *yaml.Node) {
	switch n.Kind {
	case yaml.DocumentNode, yaml.SequenceNode, yaml.MappingNode:
		for _, c := range n.Content {
			p.walk(c)
		}
	case yaml.AliasNode:
		if n.Alias != nil {
			p.walk(n.Alias)
		}
	case yaml.ScalarNode:
		p.scalar(n)
	}
}

func (p *parser) scalar(n *yaml.Node) {
	if st, ok := keyStates[n.Value]; ok {
		p.state = st
		return
	}

	switch p.state {
	case stateFeatureName:
		name := truncate(strings.TrimSpace(n.Value), MaxNameLen)
		if name == "" {
			p.problemf(n, "empty feature_name")
			return
		}
		if p.seen[name] {
			p.problemf(n, "duplicate feature %q", name)
		}
		p.seen[name] = true
		p.features = append(p.features, Feature{Name: name})

	case stateFeatureDesc:
		f := p.current()
		if f == nil {
			p.problemf(n, "feature_desc before any feature_name")
			return
		}
		f.Description = truncate(n.Value, MaxDescLen)

	case stateDaemonName:
		f := p.current()
		if f == nil {
			p.problemf(n, "daemon %q before any feature_name", n.Value)
			return
		}
		name := truncate(strings.TrimSpace(n.Value), MaxNameLen)
		if name == "" {
			p.problemf(n, "empty daemon name in feature %q", f.Name)
			return
		}
		f.Daemons = append(f.Daemons, Daemon{Name: name})

	case stateDiagFlag:
		f := p.current()
		if f == nil || len(f.Daemons) == 0 {
			p.problemf(n, "diag_dump before any daemon name")
			return
		}
		enabled := isEnabled(n.Value)
		f.Daemons[len(f.Daemons)-1].DiagEnabled = enabled
		// A later disabled daemon never clears the feature flag.
		f.DiagEnabled = f.DiagEnabled || enabled
	}
}

func (p *parser) current() *Feature {
	if len(p.features) == 0 {
		return nil
	}
	return &p.features[len(p.features)-1]
}

func (p *parser) problemf(n *yaml.Node, format string, args ...any) {
	p.problems = append(p.problems, fmt.Sprintf("line %d: %s", n.Line, fmt.Sprintf(format, args...)))
}

func isEnabled(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "y", "yes", "true":
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
