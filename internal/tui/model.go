package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/diagdump/internal/events"
)

// Interrupter is the part of an interrupt token the view drives.
type Interrupter interface {
	Interrupt() bool
	Abort() bool
}

// Model is the BubbleTea model for the dump progress view.
type Model struct {
	feature string
	grace   time.Duration
	tok     Interrupter

	width int

	// Session state, filled from hub events.
	sessionID   string
	destination string
	started     time.Time
	rows        []*DaemonRow
	result      *events.SessionResult
	done        bool
	runErr      error

	// UI state
	spinner    spinner.Model
	theme      Theme
	interrupts int
	notice     string

	// Communication
	hubEvents <-chan events.Event
}

// New creates a progress model for one session of feature. ch is a hub
// subscription taken before the session starts.
func New(feature string, ch <-chan events.Event, tok Interrupter, grace time.Duration) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	theme := NewDefaultTheme()
	sp.Style = theme.Spinner

	return Model{
		feature:   feature,
		grace:     grace,
		tok:       tok,
		started:   time.Now(),
		spinner:   sp,
		theme:     theme,
		hubEvents: ch,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		receiveNextEvent(m.hubEvents),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.interrupt()
		case "ctrl+z":
			m.abort()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		m.apply(events.Event(msg))
		return m, receiveNextEvent(m.hubEvents)

	case hubClosedMsg:
		return m, nil

	case doneMsg:
		// Events published just before the session returned may still be
		// queued behind this message.
		m.drain()
		m.done = true
		m.runErr = msg.err
		return m, tea.Quit
	}

	return m, nil
}

// interrupt escalates: the first request is soft, any further one aborts.
func (m *Model) interrupt() {
	if m.tok == nil || m.done {
		return
	}
	m.interrupts++
	if m.interrupts > 1 {
		m.abort()
		return
	}
	m.tok.Interrupt()
	m.notice = fmt.Sprintf("USER INTERRUPT:Diag dump will be terminated in %d secs", int(m.grace.Seconds()))
}

func (m *Model) abort() {
	if m.tok == nil || m.done {
		return
	}
	m.tok.Abort()
	m.notice = "USER INTERRUPT:Diag dump terminating now"
}

func (m *Model) drain() {
	for {
		select {
		case ev, ok := <-m.hubEvents:
			if !ok {
				return
			}
			m.apply(ev)
		default:
			return
		}
	}
}

// apply folds one hub event into the session state. Events of other
// sessions are ignored once the session id is known.
func (m *Model) apply(ev events.Event) {
	switch ev.Type {
	case events.SessionStarted:
		info, err := events.Decode[events.SessionInfo](ev)
		if err != nil || info.Feature != m.feature || m.sessionID != "" {
			return
		}
		m.sessionID = info.SessionID
		m.destination = info.Destination
		m.started = ev.At
		m.rows = make([]*DaemonRow, len(info.Daemons))
		for i, name := range info.Daemons {
			m.rows[i] = &DaemonRow{Index: i + 1, Name: name}
		}

	case events.DaemonStarted, events.DaemonFinished:
		info, err := events.Decode[events.DaemonInfo](ev)
		if err != nil || info.SessionID != m.sessionID {
			return
		}
		row := m.row(info)
		if ev.Type == events.DaemonStarted {
			row.State = RowRunning
			row.StartedAt = ev.At
			return
		}
		row.State = rowStateFor(info.Outcome)
		row.Outcome = info.Outcome
		row.Elapsed = time.Duration(info.ElapsedMS) * time.Millisecond
		row.Error = info.Error

	case events.SessionFinished:
		res, err := events.Decode[events.SessionResult](ev)
		if err != nil || res.SessionID != m.sessionID {
			return
		}
		m.result = &res
	}
}

// row returns the row for a daemon event, growing the table if the start
// event was missed.
func (m *Model) row(info events.DaemonInfo) *DaemonRow {
	for len(m.rows) < info.Index {
		m.rows = append(m.rows, &DaemonRow{Index: len(m.rows) + 1})
	}
	row := m.rows[info.Index-1]
	if row.Name == "" {
		row.Name = info.Daemon
	}
	return row
}

// Result returns the final session event, or nil if none was seen.
func (m Model) Result() *events.SessionResult { return m.result }

// Err returns the error the session ended with.
func (m Model) Err() error { return m.runErr }

func (m Model) View() string {
	width := m.width
	if width == 0 {
		width = 80
	}

	parts := []string{
		renderHeader(m, width),
		renderDaemons(m.rows, m.spinner.View(), m.theme, width),
	}
	if m.notice != "" {
		parts = append(parts, m.theme.StatusWarn.Render(" ⚠ "+m.notice))
	}
	if !m.done {
		parts = append(parts, m.theme.Dim.Render(" [ctrl+c] Interrupt • [ctrl+z] Abort"))
	}

	return lipgloss.NewStyle().Margin(0, 1).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	) + "\n"
}
