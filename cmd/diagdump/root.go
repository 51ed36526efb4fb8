package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mattjoyce/diagdump/internal/config"
	"github.com/mattjoyce/diagdump/internal/dispatch"
	"github.com/mattjoyce/diagdump/internal/dump"
	"github.com/mattjoyce/diagdump/internal/events"
	"github.com/mattjoyce/diagdump/internal/featuremap"
	"github.com/mattjoyce/diagdump/internal/history"
	"github.com/mattjoyce/diagdump/internal/log"
	"github.com/mattjoyce/diagdump/internal/storage"
	"github.com/mattjoyce/diagdump/internal/transport"
)

const (
	exitOK      = 0
	exitWarning = 1
	exitUsage   = 2
)

// exitError carries the exit code of a failed command. A nil err means the
// failure was already reported.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return &exitError{code: exitUsage, err: fmt.Errorf(format, args...)}
}

func warning(err error) error {
	return &exitError{code: exitWarning, err: err}
}

// reported is a warning whose message was already printed.
var reported = &exitError{code: exitWarning}

func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", ee.err)
		}
		return ee.code
	}
	// Anything not wrapped by a command comes from argument parsing.
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return exitUsage
}

// cli holds state shared by all commands of one invocation.
type cli struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	stdout  io.Writer
	stderr  io.Writer
}

func newCLI(stdout, stderr io.Writer) *cli {
	return &cli{v: viper.New(), stdout: stdout, stderr: stderr}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "diagdump",
		Short: "Collect diagnostic dumps from switch daemons",
		Long: `diagdump asks every diagnosable daemon of a feature for its basic
diagnostic dump and writes the replies, delimited per daemon, to the
console or to a report file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.loadConfig()
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &exitError{code: exitUsage, err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgFile, "config", "", "config file (default: ./diagdump.yaml, ~/.config/diagdump, /etc/diagdump)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "auto", "log format (auto, text, json)")

	// Bind flags to viper (errors are nil when flag exists)
	_ = c.v.BindPFlag("service.log_level", pf.Lookup("log-level"))
	_ = c.v.BindPFlag("service.log_format", pf.Lookup("log-format"))

	root.AddCommand(
		newListCmd(c),
		newDumpCmd(c),
		newHistoryCmd(c),
		newInspectCmd(c),
		newDoctorCmd(c),
		newConfigCmd(c),
		newServeCmd(c),
		newVersionCmd(c),
	)
	return root
}

func (c *cli) loadConfig() error {
	cfg, err := config.NewLoaderWithViper(c.v).WithConfigFile(c.cfgFile).Load()
	if err != nil {
		return warning(err)
	}
	c.cfg = cfg
	log.SetupWriter(c.stderr, cfg.Service.LogLevel, cfg.Service.LogFormat)
	if cfg.SourceFile != "" {
		log.Debug("configuration loaded", "file", cfg.SourceFile)
	}
	return nil
}

// exactArgs is cobra.ExactArgs reporting a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageErrorf("%v\nUsage: %s", err, cmd.UseLine())
		}
		return nil
	}
}

func (c *cli) resolver() *featuremap.Resolver {
	return featuremap.NewResolver(c.cfg.FeatureMapping.Path, c.cfg.FeatureMapping.Verify)
}

// openHistory opens the session history database.
func (c *cli) openHistory(ctx context.Context) (*history.Store, func(), error) {
	db, err := storage.OpenSQLite(ctx, c.cfg.State.Path)
	if err != nil {
		return nil, nil, err
	}
	if err := storage.BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return history.New(db), func() { _ = db.Close() }, nil
}

// newOrchestrator wires the dump pipeline from configuration. store and hub
// are optional.
func (c *cli) newOrchestrator(store *history.Store, hub *events.Hub) *dump.Orchestrator {
	cfg := c.cfg
	connector := transport.NewUnixctlConnector(cfg.Transport.RunDir, cfg.Transport.MaxResponseBytes)
	opts := dump.Options{
		Dir:             cfg.Dump.Dir,
		FilenamePattern: cfg.Dump.FilenamePattern,
		Command:         cfg.Dump.Command,
		Level:           cfg.Dump.Level,
		Timeout:         cfg.Dump.Timeout,
		InterruptGrace:  cfg.Dump.InterruptGrace,
		LockPath:        cfg.State.LockPath,
		Console:         c.stdout,
	}
	if store != nil {
		opts.Recorder = store
	}
	if hub != nil {
		opts.Events = hub
	}
	return dump.New(c.resolver(), dispatch.New(connector, cfg.Dump.Timeout, cfg.Dump.Grace), opts)
}
