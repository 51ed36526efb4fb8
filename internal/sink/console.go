package sink

import (
	"io"
	"sync"

	"github.com/mattjoyce/diagdump/internal/log"
)

// Console writes sections to a terminal or any other writer. Write errors
// are logged, never returned: losing console output must not fail a dump.
type Console struct {
	mu       sync.Mutex
	w        io.Writer
	sanitize bool
}

// NewConsole wraps w. Daemon text is escaped when w is a terminal.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w, sanitize: log.IsTerminal(w)}
}

// WriteSection renders one section onto the console.
func (c *Console) WriteSection(kind Kind, name, text string) error {
	if c.sanitize {
		name = SanitizeTerminal(name)
		text = SanitizeTerminal(text)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := io.WriteString(c.w, Render(kind, name, text)); err != nil {
		log.WithComponent("sink").Warn("console write failed", "kind", kind.String(), "error", err)
	}
	return nil
}

// Path is empty for the console.
func (c *Console) Path() string { return "" }

// Close is a no-op; the console writer is not owned.
func (c *Console) Close() error { return nil }
