package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/diagdump/internal/api"
	"github.com/mattjoyce/diagdump/internal/auth"
	"github.com/mattjoyce/diagdump/internal/events"
	"github.com/mattjoyce/diagdump/internal/log"
)

func newServeCmd(c *cli) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve features, dump sessions and live events over HTTP",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" {
				c.cfg.API.Listen = listen
			}
			if err := c.serve(cmd.Context()); err != nil {
				return warning(err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from api.listen)")
	return cmd
}

func (c *cli) serve(parent context.Context) error {
	logger := log.WithComponent("serve")
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sessions api.SessionStore
	store, closeStore, err := c.openHistory(ctx)
	if err != nil {
		logger.Warn("session history unavailable", "error", err)
	} else {
		defer closeStore()
		sessions = store
	}

	if len(c.cfg.API.Auth.Tokens) == 0 {
		logger.Warn("no API tokens configured; every authenticated route will answer 401")
	}
	tokens := make([]auth.TokenConfig, 0, len(c.cfg.API.Auth.Tokens))
	for _, t := range c.cfg.API.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}

	hub := events.NewHub(256)
	orch := c.newOrchestrator(store, hub)
	if _, err := orch.Features(); err != nil {
		// Served as a degraded /healthz; dumps fail until the mapping is fixed.
		logger.Error("feature mapping unavailable", "error", err)
	}

	server := api.New(api.Config{
		Listen:         c.cfg.API.Listen,
		Tokens:         tokens,
		InterruptGrace: c.cfg.Dump.InterruptGrace,
	}, orch, sessions, hub, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return nil
	})
	return g.Wait()
}
