// Package inspect renders a recorded dump session for operators.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/mattjoyce/diagdump/internal/history"
)

// Getter loads one session by id or id prefix.
type Getter interface {
	Get(ctx context.Context, id string) (*history.Session, error)
}

// Report is the structured JSON representation of a session report.
type Report struct {
	SessionID   string       `json:"session_id"`
	Feature     string       `json:"feature"`
	State       string       `json:"state"`
	Attempted   int          `json:"attempted"`
	Responded   int          `json:"responded"`
	Interrupted bool         `json:"interrupted"`
	Error       string       `json:"error,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	DurationMS  int64        `json:"duration_ms"`
	Report      *ReportFile  `json:"report_file,omitempty"`
	Daemons     []DaemonLine `json:"daemons"`
}

// ReportFile describes the report written by the session, if any.
type ReportFile struct {
	Path    string `json:"path"`
	Present bool   `json:"present"`
	Size    int64  `json:"size,omitempty"`
}

// DaemonLine is one daemon of the session.
type DaemonLine struct {
	Seq         int    `json:"seq"`
	Daemon      string `json:"daemon"`
	Outcome     string `json:"outcome"`
	ElapsedMS   int64  `json:"elapsed_ms"`
	OutputBytes int    `json:"output_bytes"`
	Error       string `json:"error,omitempty"`
}

// BuildReport renders a terminal-friendly report for a session.
func BuildReport(ctx context.Context, store Getter, sessionID string) (string, error) {
	report, err := gatherReportData(ctx, store, sessionID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Diagnostic Dump Session\n")
	fmt.Fprintf(&out, "Session ID  : %s\n", report.SessionID)
	fmt.Fprintf(&out, "Feature     : %s\n", report.Feature)
	fmt.Fprintf(&out, "State       : %s\n", report.State)
	fmt.Fprintf(&out, "Started     : %s\n", report.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(&out, "Duration    : %s\n", (time.Duration(report.DurationMS) * time.Millisecond).String())
	fmt.Fprintf(&out, "Responded   : %d/%d\n", report.Responded, report.Attempted)
	if report.Interrupted {
		fmt.Fprintf(&out, "Interrupted : yes\n")
	}
	if report.Error != "" {
		fmt.Fprintf(&out, "Error       : %s\n", report.Error)
	}
	switch {
	case report.Report == nil:
		fmt.Fprintf(&out, "Report      : <console>\n")
	case report.Report.Present:
		fmt.Fprintf(&out, "Report      : %s (%d bytes)\n", report.Report.Path, report.Report.Size)
	default:
		fmt.Fprintf(&out, "Report      : %s (missing)\n", report.Report.Path)
	}
	fmt.Fprintf(&out, "\n")

	if len(report.Daemons) == 0 {
		fmt.Fprintf(&out, "No daemons were contacted.\n")
	}
	for _, d := range report.Daemons {
		fmt.Fprintf(&out, "[%d] %s\n", d.Seq, d.Daemon)
		fmt.Fprintf(&out, "    outcome : %s\n", d.Outcome)
		fmt.Fprintf(&out, "    elapsed : %dms\n", d.ElapsedMS)
		if d.OutputBytes > 0 {
			fmt.Fprintf(&out, "    output  : %d bytes\n", d.OutputBytes)
		}
		if d.Error != "" {
			fmt.Fprintf(&out, "    error   : %s\n", d.Error)
		}
		fmt.Fprintf(&out, "\n")
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable session report.
func BuildJSONReport(ctx context.Context, store Getter, sessionID string) (string, error) {
	report, err := gatherReportData(ctx, store, sessionID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, store Getter, sessionID string) (*Report, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}

	sess, err := store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		SessionID:   sess.ID,
		Feature:     sess.Feature,
		State:       sess.State,
		Attempted:   sess.Attempted,
		Responded:   sess.Responded,
		Interrupted: sess.Interrupted,
		Error:       sess.Error,
		StartedAt:   sess.StartedAt,
		DurationMS:  sess.Duration().Milliseconds(),
		Daemons:     make([]DaemonLine, 0, len(sess.Daemons)),
	}
	if sess.Destination != "" {
		report.Report = statReport(sess.Destination)
	}
	for _, d := range sess.Daemons {
		report.Daemons = append(report.Daemons, DaemonLine{
			Seq:         d.Seq,
			Daemon:      d.Name,
			Outcome:     d.Outcome,
			ElapsedMS:   d.Elapsed.Milliseconds(),
			OutputBytes: d.OutputLen,
			Error:       d.Error,
		})
	}
	return report, nil
}

func statReport(path string) *ReportFile {
	rf := &ReportFile{Path: path}
	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			rf.Present = true
		}
		return rf
	}
	rf.Present = info.Mode().IsRegular()
	rf.Size = info.Size()
	return rf
}
