// Package transporttest runs fake unixctl daemons for tests.
package transporttest

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mattjoyce/diagdump/internal/transport"
)

// Behavior produces the reply to one request. A non-empty errMsg is sent as
// the JSON-RPC error. ctx ends when the daemon stops.
type Behavior func(ctx context.Context, method string, params []string) (result, errMsg string)

// Reply always answers with text.
func Reply(text string) Behavior {
	return func(context.Context, string, []string) (string, string) { return text, "" }
}

// Echo answers with the method and params joined by spaces.
func Echo() Behavior {
	return func(_ context.Context, method string, params []string) (string, string) {
		out := method
		for _, p := range params {
			out += " " + p
		}
		return out, ""
	}
}

// Fail always answers with an error reply.
func Fail(msg string) Behavior {
	return func(context.Context, string, []string) (string, string) { return "", msg }
}

// Slow answers with text after d.
func Slow(d time.Duration, text string) Behavior {
	return func(ctx context.Context, _ string, _ []string) (string, string) {
		select {
		case <-time.After(d):
		case <-ctx.Done():
		}
		return text, ""
	}
}

// Hang never answers while the daemon runs.
func Hang() Behavior {
	return func(ctx context.Context, _ string, _ []string) (string, string) {
		<-ctx.Done()
		return "", ""
	}
}

// Call is a request the fake daemon received.
type Call struct {
	Method string
	Params []string
}

// Daemon is a fake daemon listening on a unixctl socket.
type Daemon struct {
	Name string
	PID  int

	behavior Behavior
	ln       net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu    sync.Mutex
	calls []Call
	conns atomic.Int32
}

// RunDir returns a fresh directory short enough for unix socket paths.
func RunDir(t testing.TB) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "dd")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

// Start writes the daemon's pidfile and serves its socket until the test ends.
func Start(t testing.TB, runDir, name string, b Behavior) *Daemon {
	t.Helper()

	pid := os.Getpid()
	if err := os.WriteFile(transport.PIDFilePath(runDir, name), []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		t.Fatalf("write pidfile: %v", err)
	}

	ln, err := net.Listen("unix", transport.SocketPath(runDir, name, pid))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{Name: name, PID: pid, behavior: b, ln: ln, ctx: ctx, cancel: cancel}

	d.wg.Add(1)
	go d.serve()
	t.Cleanup(d.Stop)
	return d
}

// Stop closes the listener and releases hung handlers.
func (d *Daemon) Stop() {
	d.cancel()
	_ = d.ln.Close()
	d.wg.Wait()
}

// Calls returns the requests received so far.
func (d *Daemon) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// Connections returns how many connections were accepted.
func (d *Daemon) Connections() int { return int(d.conns.Load()) }

func (d *Daemon) serve() {
	defer d.wg.Done()
	for {
		c, err := d.ln.Accept()
		if err != nil {
			return
		}
		d.conns.Add(1)
		d.wg.Add(1)
		go d.handle(c)
	}
}

func (d *Daemon) handle(c net.Conn) {
	defer d.wg.Done()
	defer c.Close()

	go func() {
		<-d.ctx.Done()
		_ = c.Close()
	}()

	dec := json.NewDecoder(c)
	enc := json.NewEncoder(c)
	for {
		var req transport.Request
		if err := dec.Decode(&req); err != nil {
			return
		}

		d.mu.Lock()
		d.calls = append(d.calls, Call{Method: req.Method, Params: req.Params})
		d.mu.Unlock()

		result, errMsg := d.behavior(d.ctx, req.Method, req.Params)
		resp := transport.Response{ID: req.ID}
		if errMsg != "" {
			resp.Error = &errMsg
		} else {
			resp.Result = &result
		}
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}
