package dump

import (
	"time"

	"github.com/mattjoyce/diagdump/internal/dispatch"
	"github.com/mattjoyce/diagdump/internal/history"
)

// State is the lifecycle stage of a session.
type State string

const (
	StateInit        State = "init"
	StateResolving   State = "resolving"
	StateDispatching State = "dispatching"
	StateCompleted   State = "completed"
	StateInterrupted State = "interrupted"
	StateFailed      State = "failed"
)

// DaemonResult is the outcome of one dispatched daemon.
type DaemonResult struct {
	Daemon    string        `json:"daemon"`
	Kind      dispatch.Kind `json:"-"`
	Outcome   string        `json:"outcome"`
	OutputLen int           `json:"output_bytes"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	Abandoned bool          `json:"abandoned,omitempty"`
	Err       error         `json:"-"`
	Error     string        `json:"error,omitempty"`
}

// Summary describes a finished session.
type Summary struct {
	SessionID   string         `json:"session_id"`
	Feature     string         `json:"feature"`
	Destination string         `json:"destination,omitempty"`
	Attempted   int            `json:"attempted"`
	Responded   int            `json:"responded"`
	Interrupted bool           `json:"interrupted"`
	State       State          `json:"state"`
	Results     []DaemonResult `json:"results"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
}

// Success reports whether every dispatched daemon answered and the session
// was not interrupted.
func (s *Summary) Success() bool {
	return s.Attempted == s.Responded && !s.Interrupted
}

// Failed is the number of dispatched daemons that did not answer.
func (s *Summary) Failed() int { return s.Attempted - s.Responded }

// record converts the summary into its history row. sessErr is the error
// that ended the session, if any.
func (s *Summary) record(sessErr error) history.Session {
	h := history.Session{
		ID:          s.SessionID,
		Feature:     s.Feature,
		Destination: s.Destination,
		State:       string(s.State),
		Attempted:   s.Attempted,
		Responded:   s.Responded,
		Interrupted: s.Interrupted,
		StartedAt:   s.StartedAt,
		FinishedAt:  s.FinishedAt,
		Daemons:     make([]history.Daemon, 0, len(s.Results)),
	}
	if sessErr != nil {
		h.Error = sessErr.Error()
	}
	for i, r := range s.Results {
		h.Daemons = append(h.Daemons, history.Daemon{
			Seq:       i + 1,
			Name:      r.Daemon,
			Outcome:   r.Outcome,
			Elapsed:   r.Elapsed,
			OutputLen: r.OutputLen,
			Error:     r.Error,
		})
	}
	return h
}
