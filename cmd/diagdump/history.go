package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/diagdump/internal/history"
	"github.com/mattjoyce/diagdump/internal/inspect"
)

func newHistoryCmd(c *cli) *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent dump sessions",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 0 {
				return usageErrorf("--limit must not be negative")
			}
			store, closeStore, err := c.openHistory(cmd.Context())
			if err != nil {
				return warning(err)
			}
			defer closeStore()

			sessions, err := store.List(cmd.Context(), limit)
			if err != nil {
				return warning(err)
			}
			if jsonOut {
				if sessions == nil {
					sessions = []history.Session{}
				}
				data, err := json.MarshalIndent(sessions, "", "  ")
				if err != nil {
					return warning(err)
				}
				fmt.Fprintln(c.stdout, string(data))
				return nil
			}
			fmt.Fprint(c.stdout, formatHistory(sessions))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", history.DefaultLimit, "maximum number of sessions")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}

func formatHistory(sessions []history.Session) string {
	if len(sessions) == 0 {
		return "No dump sessions recorded.\n"
	}
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tFEATURE\tSTATE\tDAEMONS\tSTARTED\tDURATION\tOUTPUT")
	for _, s := range sessions {
		dest := s.Destination
		if dest == "" {
			dest = "console"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\t%s\n",
			shortID(s.ID), s.Feature, s.State, s.Responded, s.Attempted,
			s.StartedAt.Local().Format(time.DateTime), s.Duration().Round(time.Millisecond), dest)
	}
	_ = tw.Flush()
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func newInspectCmd(c *cli) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "inspect SESSION_ID",
		Short: "Show one recorded dump session",
		Long:  "Show one recorded dump session. SESSION_ID may be any unique prefix.",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := c.openHistory(cmd.Context())
			if err != nil {
				return warning(err)
			}
			defer closeStore()

			build := inspect.BuildReport
			if jsonOut {
				build = inspect.BuildJSONReport
			}
			out, err := build(cmd.Context(), store, args[0])
			switch {
			case errors.Is(err, history.ErrNotFound):
				return warning(fmt.Errorf("session %q not found", args[0]))
			case err != nil:
				return warning(err)
			}
			fmt.Fprint(c.stdout, out)
			if !strings.HasSuffix(out, "\n") {
				fmt.Fprintln(c.stdout)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}
