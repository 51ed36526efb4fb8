package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/diagdump/internal/config"
)

func newConfigCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage feature mapping integrity",
	}

	var dryRun bool
	lock := &cobra.Command{
		Use:   "lock",
		Short: "Record the BLAKE3 hash of the feature mapping",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := config.GenerateChecksumsWithReport([]string{c.cfg.FeatureMapping.Path}, dryRun)
			if err != nil {
				return warning(err)
			}
			for _, f := range report.Files {
				if !f.Exists {
					return warning(fmt.Errorf("%s does not exist", f.Path))
				}
				fmt.Fprintf(c.stdout, "%s  %s\n", f.Hash, f.Filename)
			}
			if report.Written {
				fmt.Fprintf(c.stdout, "Wrote %s\n", report.ChecksumPath)
			}
			return nil
		},
	}
	lock.Flags().BoolVar(&dryRun, "dry-run", false, "print hashes without writing the manifest")

	verify := &cobra.Command{
		Use:   "verify",
		Short: "Check the feature mapping against its recorded hash",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := c.cfg.FeatureMapping.Path
			if err := config.VerifyIntegrity(path, config.VerifyAlways); err != nil {
				return warning(err)
			}
			fmt.Fprintf(c.stdout, "%s: OK\n", path)
			return nil
		},
	}

	cmd.AddCommand(lock, verify)
	return cmd
}
