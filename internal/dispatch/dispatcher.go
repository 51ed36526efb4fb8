package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/diagdump/internal/log"
	"github.com/mattjoyce/diagdump/internal/transport"
)

const (
	// DefaultTimeout bounds a daemon reply when neither request nor unit set one.
	DefaultTimeout = 60 * time.Second

	// DefaultGrace is how long we wait for a worker after tearing down its connection.
	DefaultGrace = 5 * time.Second
)

var (
	// ErrTimeout is the outcome error when the deadline fires first.
	ErrTimeout = errors.New("daemon did not respond before the deadline")
	// ErrCancelled is the outcome error when the caller's context ends first.
	ErrCancelled = errors.New("dispatch cancelled")
)

// Kind classifies a dispatch outcome.
type Kind int

const (
	KindSuccess Kind = iota
	KindTimeout
	KindCancelled
	KindTransportError
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	case KindTransportError:
		return "transport_error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Request is one command for one daemon.
type Request struct {
	Daemon   string
	Command  string
	Args     []string
	Deadline time.Duration
	// Abandon, once done, ends the wait for a torn-down worker before the
	// grace period runs out.
	Abandon  context.Context
}

// Outcome is the result of a dispatch.
type Outcome struct {
	Daemon  string
	Kind    Kind
	Output  string
	Err     error
	Elapsed time.Duration
	// Abandoned is set when the worker did not exit within the grace period.
	Abandoned bool
}

// Unit runs bounded dispatches through a connector.
type Unit struct {
	connector transport.Connector
	timeout   time.Duration
	grace     time.Duration
	logger    *slog.Logger
}

// New creates a Unit. Non-positive durations fall back to the defaults.
func New(connector transport.Connector, timeout, grace time.Duration) *Unit {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Unit{
		connector: connector,
		timeout:   timeout,
		grace:     grace,
		logger:    log.WithComponent("dispatch"),
	}
}

type workResult struct {
	output string
	err    error
}

// Dispatch runs req and returns once the outcome is known. Cancelling ctx
// cancels the dispatch.
func (u *Unit) Dispatch(ctx context.Context, req Request) Outcome {
	start := time.Now()
	deadline := req.Deadline
	if deadline <= 0 {
		deadline = u.timeout
	}
	logger := u.logger.With("daemon", req.Daemon, "command", req.Command)

	out := Outcome{Daemon: req.Daemon}
	if err := ctx.Err(); err != nil {
		out.Kind, out.Err = KindCancelled, ErrCancelled
		return out
	}

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	slot := &connSlot{}
	done := make(chan workResult, 1)
	go u.work(workerCtx, slot, req, done)

	deadlineTimer := time.NewTimer(deadline)
	defer deadlineTimer.Stop()

	logger.Debug("dispatching", "deadline", deadline)

	select {
	case r := <-done:
		out.Elapsed = time.Since(start)
		u.classify(ctx, &out, r)
		return out

	case <-deadlineTimer.C:
		out.Kind, out.Err = KindTimeout, fmt.Errorf("%w (%v)", ErrTimeout, deadline)
		logger.Warn("daemon timed out, closing connection", "deadline", deadline)

	case <-ctx.Done():
		out.Kind, out.Err = KindCancelled, ErrCancelled
		logger.Warn("dispatch cancelled, closing connection")
	}

	// A reply that raced the deadline still counts.
	select {
	case r := <-done:
		out.Elapsed = time.Since(start)
		u.classify(ctx, &out, r)
		return out
	default:
	}

	slot.close()
	cancelWorker()

	grace := time.NewTimer(u.grace)
	defer grace.Stop()

	var abandon <-chan struct{}
	if req.Abandon != nil {
		abandon = req.Abandon.Done()
	}

	select {
	case <-done:
		logger.Debug("worker exited after teardown")
	case <-grace.C:
		logger.Error("worker did not exit within grace period, abandoning it", "grace", u.grace)
		out.Abandoned = true
	case <-abandon:
		logger.Warn("session aborted, abandoning worker")
		out.Abandoned = true
	}

	out.Elapsed = time.Since(start)
	return out
}

func (u *Unit) classify(ctx context.Context, out *Outcome, r workResult) {
	switch {
	case r.err == nil:
		out.Kind = KindSuccess
		out.Output = r.output
	case ctx.Err() != nil:
		out.Kind = KindCancelled
		out.Err = fmt.Errorf("%w: %v", ErrCancelled, r.err)
	default:
		out.Kind = KindTransportError
		out.Err = r.err
	}
}

// work runs connect, call and close on the worker goroutine.
func (u *Unit) work(ctx context.Context, slot *connSlot, req Request, done chan<- workResult) {
	var res workResult
	defer func() {
		if p := recover(); p != nil {
			res = workResult{err: fmt.Errorf("worker panic: %v", p)}
			slot.close()
		}
		done <- res
	}()

	conn, err := u.connector.Connect(ctx, req.Daemon)
	if err != nil {
		res.err = fmt.Errorf("connect: %w", err)
		return
	}
	if !slot.set(conn) {
		_ = conn.Close()
		res.err = transport.ErrClosed
		return
	}

	res.output, res.err = conn.Call(req.Command, req.Args)
	slot.close()
}

// connSlot owns the live connection of one dispatch. Whoever takes the
// connection out of the slot closes it, so it is closed exactly once.
type connSlot struct {
	mu      sync.Mutex
	conn    transport.Conn
	aborted bool
}

// set stores conn unless the slot was already closed.
func (s *connSlot) set(conn transport.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted {
		return false
	}
	s.conn = conn
	return true
}

func (s *connSlot) close() {
	s.mu.Lock()
	s.aborted = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}
