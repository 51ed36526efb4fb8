// Package interrupt models the two-stage user interrupt of a dump session.
//
// Any interrupt cancels the daemon request in flight and stops further
// daemons from being contacted. A soft interrupt (Ctrl-C) leaves the session
// a grace period to tear the request down and write its closing block. When
// the grace period runs out, or on an immediate abort (Ctrl-Z), the hard
// context is cancelled and nothing is waited for any more.
package interrupt

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// State is the interrupt stage of a token.
type State int32

const (
	StateRunning State = iota
	StateInterrupting
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateInterrupting:
		return "interrupting"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

var (
	// ErrRequested is the cancel cause of Context after a soft interrupt.
	ErrRequested = errors.New("interrupt requested by user")
	// ErrAborted is the cancel cause after Abort.
	ErrAborted = errors.New("aborted by user")
	// ErrGraceExpired is the cancel cause when the soft grace period ran out.
	ErrGraceExpired = errors.New("interrupt grace period expired")
)

// Token carries the interrupt state of one session. The zero value is not
// usable; create tokens with New.
type Token struct {
	grace time.Duration

	state     atomic.Int32
	requested chan struct{}
	reqOnce   sync.Once

	ctx    context.Context
	cancel context.CancelCauseFunc

	// stop derives from ctx and ends on the first request.
	stop       context.Context
	cancelStop context.CancelCauseFunc

	mu    sync.Mutex
	timer *time.Timer
}

// New creates a token whose hard context derives from parent. grace is the
// time between a soft interrupt and the hard cancel; zero makes Interrupt
// behave like Abort.
func New(parent context.Context, grace time.Duration) *Token {
	ctx, cancel := context.WithCancelCause(parent)
	stop, cancelStop := context.WithCancelCause(ctx)
	return &Token{
		grace:      grace,
		requested:  make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		stop:       stop,
		cancelStop: cancelStop,
	}
}

// Interrupt requests a soft stop. It reports whether this call started the
// interrupt; repeated calls are no-ops.
func (t *Token) Interrupt() bool {
	if !t.state.CompareAndSwap(int32(StateRunning), int32(StateInterrupting)) {
		return false
	}
	t.markRequested(ErrRequested)

	if t.grace <= 0 {
		t.hardCancel(ErrGraceExpired)
		return true
	}

	t.mu.Lock()
	t.timer = time.AfterFunc(t.grace, func() { t.hardCancel(ErrGraceExpired) })
	t.mu.Unlock()
	return true
}

// Abort cancels immediately. It reports whether this call changed state.
func (t *Token) Abort() bool {
	if t.State() == StateAborted {
		return false
	}
	t.markRequested(ErrAborted)
	return t.hardCancel(ErrAborted)
}

func (t *Token) hardCancel(cause error) bool {
	for {
		cur := t.state.Load()
		if State(cur) == StateAborted {
			return false
		}
		if t.state.CompareAndSwap(cur, int32(StateAborted)) {
			break
		}
	}
	t.cancel(cause)
	t.stopTimer()
	return true
}

func (t *Token) markRequested(cause error) {
	t.reqOnce.Do(func() {
		close(t.requested)
		t.cancelStop(cause)
	})
}

func (t *Token) stopTimer() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.mu.Unlock()
}

// Requested reports whether any interrupt was requested.
func (t *Token) Requested() bool {
	select {
	case <-t.requested:
		return true
	default:
		return false
	}
}

// RequestedCh is closed on the first interrupt request.
func (t *Token) RequestedCh() <-chan struct{} { return t.requested }

// State returns the current stage.
func (t *Token) State() State { return State(t.state.Load()) }

// Context is cancelled on the first interrupt request, or when the parent
// ends. Daemon requests run under it.
func (t *Token) Context() context.Context { return t.stop }

// HardContext is cancelled on the hard stage.
func (t *Token) HardContext() context.Context { return t.ctx }

// Cause returns why the hard context was cancelled, or nil.
func (t *Token) Cause() error { return context.Cause(t.ctx) }

// Release stops the grace timer and frees the hard context. Call it when
// the session ends.
func (t *Token) Release() {
	t.stopTimer()
	t.cancelStop(context.Canceled)
	t.cancel(context.Canceled)
}
