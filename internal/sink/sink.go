// Package sink writes the sections of a diagnostic dump report to the
// console or to a file in the dump directory.
package sink

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
)

// Rule widths match the report banners operators already grep for.
const ruleWidth = 80

var (
	featureRule = strings.Repeat("=", ruleWidth)
	daemonRule  = strings.Repeat("-", ruleWidth)
)

var (
	// ErrInvalidFilename is returned for names outside the allowed pattern.
	ErrInvalidFilename = errors.New("invalid dump filename")
	// ErrExists is returned when the report file is already present.
	ErrExists = fmt.Errorf("dump file already exists: %w", fs.ErrExist)
)

// Kind selects which section of the report is written.
type Kind int

const (
	// KindFeatureStart opens the report; text is the timestamp line.
	KindFeatureStart Kind = iota
	// KindDaemon is one daemon's reply between its start and end banners.
	KindDaemon
	// KindFeatureEnd closes a report that ran to completion.
	KindFeatureEnd
	// KindInterrupted closes a report cut short by the user.
	KindInterrupted
)

func (k Kind) String() string {
	switch k {
	case KindFeatureStart:
		return "feature_start"
	case KindDaemon:
		return "daemon"
	case KindFeatureEnd:
		return "feature_end"
	case KindInterrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sink receives report sections in order.
type Sink interface {
	// WriteSection renders one section. name is the feature or daemon name.
	WriteSection(kind Kind, name, text string) error
	// Path is the report file, or "" for the console.
	Path() string
	Close() error
}

// IOError is a failed write or close of a report file.
type IOError struct {
	Path string
	Op   string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("failed to %s diagnostic dump file %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Timestamp formats t the way the feature banner shows it.
func Timestamp(t time.Time) string {
	return "Time : " + t.Format(time.ANSIC)
}

// Render returns the text of one section, newline terminated.
func Render(kind Kind, name, text string) string {
	var b strings.Builder
	switch kind {
	case KindFeatureStart:
		line := "[Start] Feature " + name
		if text != "" {
			line += " " + text
		}
		banner(&b, featureRule, line)
	case KindDaemon:
		banner(&b, daemonRule, "[Start] Daemon "+name)
		b.WriteString(text)
		b.WriteString("\n")
		banner(&b, daemonRule, "[End] Daemon "+name)
	case KindFeatureEnd:
		banner(&b, featureRule, "[End] Feature "+name)
	case KindInterrupted:
		banner(&b, featureRule, "USER INTERRUPT:Diag dump terminated")
	}
	return b.String()
}

func banner(b *strings.Builder, rule, line string) {
	b.WriteString(rule)
	b.WriteString("\n")
	b.WriteString(line)
	b.WriteString("\n")
	b.WriteString(rule)
	b.WriteString("\n")
}
