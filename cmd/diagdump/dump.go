package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/diagdump/internal/dump"
	"github.com/mattjoyce/diagdump/internal/events"
	"github.com/mattjoyce/diagdump/internal/featuremap"
	"github.com/mattjoyce/diagdump/internal/interrupt"
	"github.com/mattjoyce/diagdump/internal/log"
	"github.com/mattjoyce/diagdump/internal/tui"
)

type dumpFlags struct {
	timeout time.Duration
	watch   bool
}

func newDumpCmd(c *cli) *cobra.Command {
	var f dumpFlags
	cmd := &cobra.Command{
		Use:   "dump FEATURE [basic] [FILENAME]",
		Short: "Collect the basic diagnostic dump of a feature",
		Long: `Collect the basic diagnostic dump of FEATURE from each of its diagnosable
daemons in turn. Without FILENAME the report is printed; with it the report
is written to a new file in the dump directory.

Ctrl-C stops after the daemon in flight (which gets the interrupt grace
period to answer); a second Ctrl-C, Ctrl-Z or SIGTERM stops immediately.`,
		Args: cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			feature, filename, err := parseDumpArgs(args)
			if err != nil {
				return err
			}
			return c.runDump(cmd.Context(), feature, filename, f)
		},
	}
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "per-daemon reply deadline (default from dump.timeout)")
	cmd.Flags().BoolVar(&f.watch, "watch", false, "show live progress (requires FILENAME and a terminal)")
	return cmd
}

// parseDumpArgs splits FEATURE [basic] [FILENAME].
func parseDumpArgs(args []string) (feature, filename string, err error) {
	if len(args) == 0 || len(args) > 3 {
		return "", "", usageErrorf("usage: dump FEATURE [basic] [FILENAME]")
	}
	feature, rest := args[0], args[1:]
	if len(rest) > 0 && rest[0] == dump.DefaultLevel {
		rest = rest[1:]
	}
	switch len(rest) {
	case 0:
	case 1:
		filename = rest[0]
	default:
		return "", "", usageErrorf("unsupported dump level %q (only %q)", rest[0], dump.DefaultLevel)
	}
	if len(feature) > featuremap.MaxNameLen {
		return "", "", usageErrorf("feature name longer than %d characters", featuremap.MaxNameLen)
	}
	return feature, filename, nil
}

func (c *cli) runDump(ctx context.Context, feature, filename string, f dumpFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if f.timeout < 0 {
		return usageErrorf("--timeout must not be negative")
	}
	watch := f.watch
	if watch && filename == "" {
		return usageErrorf("--watch requires FILENAME")
	}
	if watch && !log.IsTerminal(c.stdout) {
		log.Warn("stdout is not a terminal, ignoring --watch")
		watch = false
	}

	var hub *events.Hub
	if watch {
		hub = events.NewHub(64)
	}
	store, closeStore, err := c.openHistory(ctx)
	if err != nil {
		log.Warn("session history unavailable", "error", err)
	} else {
		defer closeStore()
	}
	orch := c.newOrchestrator(store, hub)

	tok := interrupt.New(ctx, c.cfg.Dump.InterruptGrace)
	defer tok.Release()

	var console io.Writer = c.stdout
	notices := &lockedBuffer{}
	if watch {
		// The view owns the terminal until the session ends.
		console = notices
	}
	stopSignals := c.watchSignals(tok, console)
	defer stopSignals()

	req := dump.Request{
		Feature:   feature,
		Filename:  filename,
		Interrupt: tok,
		Console:   console,
		Timeout:   f.timeout,
	}

	var summary *dump.Summary
	run := func() error {
		var runErr error
		summary, runErr = orch.Run(ctx, req)
		return runErr
	}
	if watch {
		err = tui.Run(tui.Options{
			Feature: feature,
			Hub:     hub,
			Token:   tok,
			Grace:   c.cfg.Dump.InterruptGrace,
			Out:     c.stdout,
		}, run)
		_, _ = io.WriteString(c.stdout, notices.String())
	} else {
		err = run()
	}

	return c.dumpResult(feature, summary, err)
}

// dumpResult maps a session outcome to an exit status. The orchestrator has
// already printed notices for sessions that started.
func (c *cli) dumpResult(feature string, summary *dump.Summary, err error) error {
	var cfgErr *featuremap.ConfigError
	switch {
	case summary != nil && err == nil && summary.Success():
		return nil
	case summary != nil:
		return reported
	case errors.Is(err, featuremap.ErrUnknownFeature):
		fmt.Fprintf(c.stdout, "%s feature is not present\n", feature)
		return reported
	case errors.As(err, &cfgErr):
		fmt.Fprintf(c.stdout, "Failed to load feature mapping: %v\n", err)
		return reported
	default:
		return warning(err)
	}
}

// watchSignals turns SIGINT into a soft interrupt (a repeated SIGINT
// aborts) and SIGTSTP or SIGTERM into an immediate abort.
func (c *cli) watchSignals(tok *interrupt.Token, console io.Writer) func() {
	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTSTP, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-sigs:
				if sig == syscall.SIGINT && tok.Interrupt() {
					fmt.Fprintf(console, "USER INTERRUPT:Diag dump will be terminated in %d secs\n",
						int(c.cfg.Dump.InterruptGrace.Seconds()))
					continue
				}
				if tok.Abort() {
					log.Warn("diagnostic dump aborted", "signal", sig.String())
				}
			}
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

// lockedBuffer collects notices written by the session and the signal
// watcher while the progress view is up.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
