package interrupt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterruptIsSoftThenHard(t *testing.T) {
	tok := New(context.Background(), 50*time.Millisecond)
	defer tok.Release()

	assert.False(t, tok.Requested())
	assert.Equal(t, StateRunning, tok.State())

	require.True(t, tok.Interrupt())
	assert.True(t, tok.Requested())
	assert.Equal(t, StateInterrupting, tok.State())
	assert.ErrorIs(t, context.Cause(tok.Context()), ErrRequested, "requests are cancelled at once")
	assert.NoError(t, tok.HardContext().Err(), "hard context stays alive during grace")

	select {
	case <-tok.HardContext().Done():
	case <-time.After(time.Second):
		t.Fatal("hard context not cancelled after grace")
	}
	assert.Equal(t, StateAborted, tok.State())
	assert.True(t, errors.Is(tok.Cause(), ErrGraceExpired))
}

func TestInterruptIsIdempotent(t *testing.T) {
	tok := New(context.Background(), time.Hour)
	defer tok.Release()

	assert.True(t, tok.Interrupt())
	assert.False(t, tok.Interrupt())
	assert.False(t, tok.Interrupt())
	assert.Equal(t, StateInterrupting, tok.State())
}

func TestAbortCancelsImmediately(t *testing.T) {
	tok := New(context.Background(), time.Hour)
	defer tok.Release()

	require.True(t, tok.Abort())
	assert.True(t, tok.Requested())
	assert.ErrorIs(t, context.Cause(tok.Context()), ErrAborted)
	assert.Error(t, tok.HardContext().Err())
	assert.ErrorIs(t, tok.Cause(), ErrAborted)
	assert.False(t, tok.Abort())
}

func TestAbortDuringGrace(t *testing.T) {
	tok := New(context.Background(), time.Hour)
	defer tok.Release()

	tok.Interrupt()
	require.True(t, tok.Abort())
	assert.ErrorIs(t, tok.Cause(), ErrAborted)
	assert.False(t, tok.Interrupt(), "no soft stage after abort")
}

func TestZeroGraceInterruptIsAbort(t *testing.T) {
	tok := New(context.Background(), 0)
	defer tok.Release()

	tok.Interrupt()
	assert.Error(t, tok.HardContext().Err())
	assert.Equal(t, StateAborted, tok.State())
}

func TestRequestedChannel(t *testing.T) {
	tok := New(context.Background(), time.Hour)
	defer tok.Release()

	go tok.Interrupt()
	select {
	case <-tok.RequestedCh():
	case <-time.After(time.Second):
		t.Fatal("RequestedCh not closed")
	}
}

func TestParentCancellationPropagates(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	tok := New(parent, time.Hour)
	defer tok.Release()

	cancel()
	assert.Error(t, tok.Context().Err())
	assert.Error(t, tok.HardContext().Err())
	assert.False(t, tok.Requested(), "parent cancellation is not a user interrupt")
}
