package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// RowState is the progress of one daemon in the table.
type RowState int

const (
	RowPending RowState = iota
	RowRunning
	RowOK
	RowTimeout
	RowCancelled
	RowFailed
)

// DaemonRow is one line of the daemon table.
type DaemonRow struct {
	Index     int
	Name      string
	State     RowState
	Outcome   string
	StartedAt time.Time
	Elapsed   time.Duration
	Error     string
}

func rowStateFor(outcome string) RowState {
	switch outcome {
	case "success":
		return RowOK
	case "timeout":
		return RowTimeout
	case "cancelled":
		return RowCancelled
	default:
		return RowFailed
	}
}

func renderHeader(m Model, width int) string {
	innerWidth := width - 4
	theme := m.theme

	status := theme.StatusRunning.Render("RUNNING")
	switch {
	case m.result != nil && m.result.Interrupted:
		status = theme.StatusWarn.Render("INTERRUPTED")
	case m.result != nil && m.result.State == "completed" && m.result.Attempted == m.result.Responded:
		status = theme.StatusOK.Render("CAPTURED")
	case m.result != nil:
		status = theme.StatusFailed.Render(strings.ToUpper(m.result.State))
	case m.done && m.runErr != nil:
		status = theme.StatusFailed.Render("FAILED")
	}

	indicator := m.spinner.View()
	if m.done {
		indicator = " "
	}
	elapsed := theme.Dim.Render(formatDuration(time.Since(m.started)))
	titleText := fmt.Sprintf(" DIAG DUMP %s %s", theme.Highlight.Render(m.feature), indicator)

	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(elapsed) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + elapsed + " "

	dest := m.destination
	if dest == "" {
		dest = "console"
	}
	finished := 0
	for _, r := range m.rows {
		if r.State >= RowOK {
			finished++
		}
	}
	statsLine := fmt.Sprintf(" %s  Daemons: %d/%d  Output: %s", status, finished, len(m.rows), dest)

	return theme.Border.Width(innerWidth).Render(
		lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine),
	)
}

func renderDaemons(rows []*DaemonRow, spin string, theme Theme, width int) string {
	innerWidth := width - 4

	if len(rows) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("DAEMONS"),
			theme.Dim.Render("  Resolving feature..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	nameWidth := 0
	for _, r := range rows {
		nameWidth = max(nameWidth, len(r.Name))
	}

	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, formatRow(r, len(rows), nameWidth, spin, theme))
	}

	body := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	return theme.Border.Width(innerWidth).Render(
		lipgloss.JoinVertical(lipgloss.Left, theme.Title.Render("DAEMONS"), body),
	)
}

func formatRow(r *DaemonRow, total, nameWidth int, spin string, theme Theme) string {
	var icon, status string
	switch r.State {
	case RowPending:
		icon, status = theme.StatusPending.Render("○"), theme.Dim.Render("pending")
	case RowRunning:
		icon = spin
		status = theme.StatusRunning.Render("running " + formatDuration(time.Since(r.StartedAt)))
	case RowOK:
		icon, status = theme.StatusOK.Render("✔"), theme.StatusOK.Render("captured")
	case RowTimeout:
		icon, status = theme.StatusFailed.Render("⏱"), theme.StatusFailed.Render("timed out")
	case RowCancelled:
		icon, status = theme.StatusWarn.Render("⊘"), theme.StatusWarn.Render("interrupted")
	default:
		icon, status = theme.StatusFailed.Render("✘"), theme.StatusFailed.Render("failed")
	}

	line := fmt.Sprintf("%s [%d/%d] %-*s  %s", icon, r.Index, total, nameWidth, r.Name, status)
	if r.State >= RowOK {
		line += theme.Dim.Render(" " + formatDuration(r.Elapsed))
	}
	if r.Error != "" && r.State == RowFailed {
		line += theme.Dim.Render("  " + truncate(r.Error, 60))
	}
	return line
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
