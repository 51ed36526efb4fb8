package dump

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/diagdump/internal/dispatch"
	"github.com/mattjoyce/diagdump/internal/events"
	"github.com/mattjoyce/diagdump/internal/featuremap"
	"github.com/mattjoyce/diagdump/internal/history"
	"github.com/mattjoyce/diagdump/internal/interrupt"
	"github.com/mattjoyce/diagdump/internal/lock"
	"github.com/mattjoyce/diagdump/internal/log"
	"github.com/mattjoyce/diagdump/internal/sink"
)

const (
	DefaultCommand = "dumpdiagbasic"
	DefaultLevel   = "basic"
)

var (
	// ErrInterrupted is returned, together with the summary, when the user
	// interrupted the session.
	ErrInterrupted = errors.New("diagnostic dump interrupted by user")
	// ErrSessionActive is returned when another session is running.
	ErrSessionActive = errors.New("a diagnostic dump session is already active")
)

// Source provides the feature table.
type Source interface {
	Resolve() (*featuremap.Registry, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func() (*featuremap.Registry, error)

func (f SourceFunc) Resolve() (*featuremap.Registry, error) { return f() }

// Dispatcher sends one command to one daemon.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) dispatch.Outcome
}

// Recorder stores finished sessions.
type Recorder interface {
	Record(ctx context.Context, sess history.Session) error
}

// Options configures an Orchestrator. Zero values select defaults.
type Options struct {
	// Dir is where report files are created.
	Dir             string
	FilenamePattern string
	Command         string
	Level           string
	// Timeout is the per-daemon deadline; zero uses the dispatcher default.
	Timeout time.Duration
	// InterruptGrace is used for sessions started without a token.
	InterruptGrace time.Duration
	// LockPath enables the host-wide session lock.
	LockPath string
	// Console receives notices, and the report when no file is requested.
	Console  io.Writer
	Recorder Recorder
	Events   events.Publisher
	// OpenSink opens the report file; nil uses sink.OpenFile.
	OpenSink func(dir, name, pattern string) (sink.Sink, error)
}

// Request asks for one dump session.
type Request struct {
	Feature string
	// Filename selects a report file inside Options.Dir; empty writes to the console.
	Filename string
	// Interrupt lets the caller stop the session; nil means only ctx can.
	Interrupt *interrupt.Token
	// Console overrides Options.Console for this session.
	Console io.Writer
	// Timeout overrides Options.Timeout for this session.
	Timeout time.Duration
}

// Orchestrator runs dump sessions one at a time.
type Orchestrator struct {
	source     Source
	dispatcher Dispatcher
	opts       Options
	active     sync.Mutex
	logger     *slog.Logger
}

// New creates an orchestrator.
func New(source Source, dispatcher Dispatcher, opts Options) *Orchestrator {
	if opts.Command == "" {
		opts.Command = DefaultCommand
	}
	if opts.Level == "" {
		opts.Level = DefaultLevel
	}
	if opts.Console == nil {
		opts.Console = io.Discard
	}
	if opts.Events == nil {
		opts.Events = nopPublisher{}
	}
	if opts.OpenSink == nil {
		opts.OpenSink = openFileSink
	}
	return &Orchestrator{
		source:     source,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     log.WithComponent("dump"),
	}
}

// Features resolves the feature table.
func (o *Orchestrator) Features() (*featuremap.Registry, error) {
	return o.source.Resolve()
}

// Busy reports whether a session is running in this process.
func (o *Orchestrator) Busy() bool {
	if o.active.TryLock() {
		o.active.Unlock()
		return false
	}
	return true
}

type session struct {
	id       string
	feature  *featuremap.Feature
	out      sink.Sink
	console  io.Writer
	tok      *interrupt.Token
	summary  *Summary
	logger   *slog.Logger
	deadline time.Duration
}

// Run executes one session. Errors that prevent the session from starting
// (busy, configuration, unknown feature) return a nil summary. Otherwise the
// summary is always returned, with ErrInterrupted when the user stopped the
// session or a *sink.IOError when the report could not be written.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Summary, error) {
	if !o.active.TryLock() {
		return nil, ErrSessionActive
	}
	defer o.active.Unlock()

	if o.opts.LockPath != "" {
		hostLock, err := lock.Acquire(o.opts.LockPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSessionActive, err)
		}
		defer func() { _ = hostLock.Release() }()
	}

	s := &session{
		id:       uuid.NewString(),
		console:  req.Console,
		tok:      req.Interrupt,
		deadline: req.Timeout,
	}
	if s.console == nil {
		s.console = o.opts.Console
	}
	if s.deadline <= 0 {
		s.deadline = o.opts.Timeout
	}
	if s.tok == nil {
		s.tok = interrupt.New(ctx, o.opts.InterruptGrace)
		defer s.tok.Release()
	}
	// Cancelling the caller's context stops the session like an abort.
	stop := context.AfterFunc(ctx, func() { s.tok.Abort() })
	defer stop()

	s.logger = log.WithSession(s.id).With("component", "dump", "feature", req.Feature)
	s.logger.Debug("session state", "state", StateResolving)

	reg, err := o.source.Resolve()
	if err != nil {
		return nil, err
	}
	s.feature, err = reg.Lookup(req.Feature)
	if err != nil {
		s.logger.Warn("feature is not present")
		return nil, err
	}

	s.summary = &Summary{
		SessionID: s.id,
		Feature:   s.feature.Name,
		State:     StateDispatching,
		StartedAt: time.Now(),
		Results:   []DaemonResult{},
	}

	runErr := o.dispatchAll(s, req.Filename)
	o.finish(ctx, s, runErr)

	if runErr == nil && s.summary.Interrupted {
		runErr = ErrInterrupted
	}
	return s.summary, runErr
}

func (o *Orchestrator) dispatchAll(s *session, filename string) (err error) {
	if filename != "" {
		f, err := o.opts.OpenSink(o.opts.Dir, filename, o.opts.FilenamePattern)
		if err != nil {
			o.notice(s, "failed to open file error:%v", err)
			return err
		}
		s.out = f
		s.summary.Destination = f.Path()
	} else {
		s.out = sink.NewConsole(s.console)
	}
	defer func() {
		if cerr := s.out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	daemons := s.feature.EnabledDaemons()
	names := make([]string, len(daemons))
	for i, d := range daemons {
		names[i] = d.Name
	}
	o.opts.Events.Publish(events.SessionStarted, events.SessionInfo{
		SessionID:   s.id,
		Feature:     s.feature.Name,
		Destination: s.summary.Destination,
		Daemons:     names,
	})
	s.logger.Info("diagnostic dump started", "daemons", len(daemons), "destination", s.summary.Destination)

	if err := s.out.WriteSection(sink.KindFeatureStart, s.feature.Name, sink.Timestamp(s.summary.StartedAt)); err != nil {
		return err
	}

	for i, d := range daemons {
		if s.tok.Requested() {
			s.summary.Interrupted = true
			break
		}
		if err := o.dispatchOne(s, d.Name, i+1, len(daemons)); err != nil {
			return err
		}
		if s.summary.Interrupted || s.tok.Requested() {
			s.summary.Interrupted = true
			break
		}
	}

	if s.summary.Interrupted {
		if s.summary.Destination != "" {
			if err := s.out.WriteSection(sink.KindInterrupted, s.feature.Name, ""); err != nil {
				return err
			}
		}
		return nil
	}
	return s.out.WriteSection(sink.KindFeatureEnd, s.feature.Name, "")
}

func (o *Orchestrator) dispatchOne(s *session, daemon string, index, total int) error {
	logger := s.logger.With("daemon", daemon)
	o.opts.Events.Publish(events.DaemonStarted, events.DaemonInfo{
		SessionID: s.id, Daemon: daemon, Index: index, Total: total,
	})

	out := o.dispatcher.Dispatch(s.tok.Context(), dispatch.Request{
		Daemon:   daemon,
		Command:  o.opts.Command,
		Args:     []string{o.opts.Level, s.feature.Name},
		Deadline: s.deadline,
		Abandon:  s.tok.HardContext(),
	})
	s.summary.Attempted++
	if s.tok.Requested() && out.Kind != dispatch.KindCancelled {
		// An interrupt during this daemon voids whatever it returned.
		out.Kind, out.Output, out.Err = dispatch.KindCancelled, "", dispatch.ErrCancelled
	}

	res := DaemonResult{
		Daemon:    daemon,
		Kind:      out.Kind,
		Outcome:   out.Kind.String(),
		OutputLen: len(out.Output),
		Elapsed:   out.Elapsed,
		Abandoned: out.Abandoned,
		Err:       out.Err,
	}
	if out.Err != nil {
		res.Error = out.Err.Error()
	}

	var writeErr error
	switch out.Kind {
	case dispatch.KindSuccess:
		writeErr = s.out.WriteSection(sink.KindDaemon, daemon, out.Output)
		if writeErr == nil {
			s.summary.Responded++
			logger.Debug("daemon captured diagnostic dump", "elapsed", out.Elapsed)
		}
	case dispatch.KindTimeout:
		logger.Error("daemon timed out", "error", out.Err)
		o.notice(s, "Daemon %s timed out", daemon)
	case dispatch.KindCancelled:
		s.summary.Interrupted = true
		logger.Warn("daemon request cancelled by user interrupt")
		o.notice(s, "Daemon %s terminated due to user interrupt", daemon)
	default:
		logger.Error("daemon failed to capture diagnostic dump", "error", out.Err)
		o.notice(s, "Failed to capture diagnostic dump from daemon %s", daemon)
	}
	if writeErr != nil {
		res.Outcome = "write_error"
		res.Error = writeErr.Error()
	}
	s.summary.Results = append(s.summary.Results, res)

	o.opts.Events.Publish(events.DaemonFinished, events.DaemonInfo{
		SessionID: s.id,
		Daemon:    daemon,
		Index:     index,
		Total:     total,
		Outcome:   res.Outcome,
		ElapsedMS: out.Elapsed.Milliseconds(),
		Error:     res.Error,
	})
	return writeErr
}

// finish prints the closing notices, records the session and publishes the
// final event.
func (o *Orchestrator) finish(ctx context.Context, s *session, runErr error) {
	sum := s.summary
	sum.FinishedAt = time.Now()

	switch {
	case runErr != nil:
		sum.State = StateFailed
	case sum.Interrupted:
		sum.State = StateInterrupted
	default:
		sum.State = StateCompleted
	}

	var ioErr *sink.IOError
	switch {
	case errors.As(runErr, &ioErr):
		o.notice(s, "Failed to write diagnostic dump into file due to reason : %v", ioErr.Err)
	case runErr != nil:
	case sum.Interrupted:
		o.notice(s, "USER INTERRUPT:Diag dump terminated")
	case sum.Success():
		o.notice(s, "Diagnostic dump captured for feature %s", sum.Feature)
	default:
		o.notice(s, "Diagnostic dump %s feature failed for %d %s", sum.Feature, sum.Failed(), plural(sum.Failed()))
	}
	if runErr == nil && sum.Destination != "" {
		o.notice(s, "%s diagnostic-dump is collected at %s", sum.Feature, sum.Destination)
	}

	s.logger.Info("diagnostic dump finished",
		"state", sum.State,
		"attempted", sum.Attempted,
		"responded", sum.Responded,
		"interrupted", sum.Interrupted,
		"duration", sum.FinishedAt.Sub(sum.StartedAt))

	if o.opts.Recorder != nil {
		// The session may have been aborted through ctx; the record still lands.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := o.opts.Recorder.Record(rctx, sum.record(runErr)); err != nil {
			s.logger.Warn("failed to record session history", "error", err)
		}
		cancel()
	}

	o.opts.Events.Publish(events.SessionFinished, events.SessionResult{
		SessionID:   s.id,
		Feature:     sum.Feature,
		State:       string(sum.State),
		Attempted:   sum.Attempted,
		Responded:   sum.Responded,
		Interrupted: sum.Interrupted,
		Destination: sum.Destination,
	})
}

func (o *Orchestrator) notice(s *session, format string, args ...any) {
	_, _ = fmt.Fprintf(s.console, format+"\n", args...)
}

func plural(n int) string {
	if n > 1 {
		return "daemons"
	}
	return "daemon"
}

func openFileSink(dir, name, pattern string) (sink.Sink, error) {
	f, err := sink.OpenFile(dir, name, pattern)
	if err != nil {
		return nil, err
	}
	return f, nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}
