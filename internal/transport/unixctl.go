package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	// MaxPID is the largest pid accepted from a pidfile.
	MaxPID = 65536

	defaultMaxResponseBytes = 16 << 20
)

var pidPattern = regexp.MustCompile(`^[0-9]{1,5}$`)

// UnixctlConnector connects to daemons through their unixctl sockets:
// <RunDir>/<daemon>.pid names the pid and <RunDir>/<daemon>.<pid>.ctl is the
// socket.
type UnixctlConnector struct {
	RunDir           string
	MaxResponseBytes int64
	dialer           net.Dialer
}

// NewUnixctlConnector creates a connector rooted at runDir.
func NewUnixctlConnector(runDir string, maxResponseBytes int64) *UnixctlConnector {
	if maxResponseBytes <= 0 {
		maxResponseBytes = defaultMaxResponseBytes
	}
	return &UnixctlConnector{RunDir: runDir, MaxResponseBytes: maxResponseBytes}
}

// PIDFilePath returns the pidfile location for daemon.
func PIDFilePath(runDir, daemon string) string {
	return filepath.Join(runDir, daemon+".pid")
}

// SocketPath returns the control socket location for daemon at pid.
func SocketPath(runDir, daemon string, pid int) string {
	return filepath.Join(runDir, fmt.Sprintf("%s.%d.ctl", daemon, pid))
}

// ReadPID reads and validates the daemon's pidfile.
func ReadPID(runDir, daemon string) (int, error) {
	if daemon == "" || strings.ContainsAny(daemon, `/\`) {
		return 0, fmt.Errorf("invalid daemon name %q", daemon)
	}

	data, err := os.ReadFile(PIDFilePath(runDir, daemon))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrDaemonNotRunning, daemon)
		}
		return 0, fmt.Errorf("read pidfile: %w", err)
	}

	raw := strings.TrimSpace(string(data))
	if !pidPattern.MatchString(raw) {
		return 0, fmt.Errorf("pidfile for %s holds %q, not a pid", daemon, raw)
	}
	pid, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse pid: %w", err)
	}
	if pid < 1 || pid > MaxPID {
		return 0, fmt.Errorf("pid %d for %s out of range", pid, daemon)
	}
	return pid, nil
}

// Connect resolves the daemon's socket and dials it.
func (c *UnixctlConnector) Connect(ctx context.Context, daemon string) (Conn, error) {
	pid, err := ReadPID(c.RunDir, daemon)
	if err != nil {
		return nil, err
	}

	path := SocketPath(c.RunDir, daemon, pid)
	nc, err := c.dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", path, err)
	}

	return &unixctlConn{
		daemon: daemon,
		nc:     nc,
		dec:    json.NewDecoder(io.LimitReader(nc, c.MaxResponseBytes)),
	}, nil
}

type unixctlConn struct {
	daemon string
	nc     net.Conn
	dec    *json.Decoder

	mu        sync.Mutex // serialises Call
	nextID    atomic.Int64
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (c *unixctlConn) Call(command string, args []string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return "", ErrClosed
	}

	id := c.nextID.Add(1) - 1
	req := &Request{Method: command, Params: args, ID: id}
	if err := EncodeRequest(c.nc, req); err != nil {
		return "", c.wrap(err)
	}

	resp, err := DecodeResponse(c.dec, id)
	if err != nil {
		return "", c.wrap(err)
	}
	if resp.Error != nil {
		return "", &RemoteError{Daemon: c.daemon, Message: *resp.Error}
	}
	if resp.Result == nil {
		return "", nil
	}
	return *resp.Result, nil
}

// wrap reports I/O failures caused by a concurrent Close as ErrClosed.
func (c *unixctlConn) wrap(err error) error {
	if c.closed.Load() {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return fmt.Errorf("%s: %w", c.daemon, err)
}

func (c *unixctlConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.nc.Close()
	})
	return c.closeErr
}
