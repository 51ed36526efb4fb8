package tui

import (
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/diagdump/internal/events"
	"github.com/mattjoyce/diagdump/internal/log"
)

// --- Message types ---

type eventMsg events.Event

type hubClosedMsg struct{}

type doneMsg struct{ err error }

// receiveNextEvent waits for the next event from the hub subscription.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return hubClosedMsg{}
		}
		return eventMsg(ev)
	}
}

// Options configures Run.
type Options struct {
	Feature string
	Hub     *events.Hub
	Token   Interrupter
	// Grace is shown in the soft interrupt notice.
	Grace time.Duration
	In    io.Reader
	Out   io.Writer
}

// Run shows the progress view while run executes and returns run's error.
// Signals stay with the caller; keys are translated into interrupt
// requests on the token. If the view cannot start, run still completes.
func Run(opts Options, run func() error) error {
	ch, cancel := opts.Hub.Subscribe()
	defer cancel()

	progOpts := []tea.ProgramOption{tea.WithoutSignalHandler()}
	if opts.In != nil {
		progOpts = append(progOpts, tea.WithInput(opts.In))
	}
	if opts.Out != nil {
		progOpts = append(progOpts, tea.WithOutput(opts.Out))
	}
	p := tea.NewProgram(New(opts.Feature, ch, opts.Token, opts.Grace), progOpts...)

	result := make(chan error, 1)
	go func() {
		err := run()
		result <- err
		p.Send(doneMsg{err: err})
	}()

	if _, err := p.Run(); err != nil {
		log.WithComponent("tui").Warn("progress view failed", "error", err)
	}
	return <-result
}
