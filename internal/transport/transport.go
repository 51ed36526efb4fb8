// Package transport reaches daemon control sockets.
//
// The orchestrator only needs three operations per daemon: connect, issue one
// command and close. Close must be safe to call from a goroutine other than
// the one blocked in Call, and must make that Call return.
package transport

import (
	"context"
	"errors"
	"fmt"
)

//go:generate mockgen -destination=mocks/mock_transport.go -package=mocks github.com/mattjoyce/diagdump/internal/transport Connector,Conn

// Connector opens a control connection to a named daemon.
type Connector interface {
	Connect(ctx context.Context, daemon string) (Conn, error)
}

// Conn is an open control connection.
type Conn interface {
	// Call issues command with args and returns the daemon's text reply.
	Call(command string, args []string) (string, error)
	// Close releases the connection. It may be called concurrently with Call
	// and more than once.
	Close() error
}

var (
	// ErrDaemonNotRunning means the daemon's pidfile is missing.
	ErrDaemonNotRunning = errors.New("daemon is not running")
	// ErrClosed is returned by Call after Close.
	ErrClosed = errors.New("connection closed")
)

// RemoteError is an error reply sent by the daemon itself.
type RemoteError struct {
	Daemon  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("daemon %s replied with error: %s", e.Daemon, e.Message)
}
