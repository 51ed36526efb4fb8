package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/diagdump/internal/doctor"
)

func newDoctorCmd(c *cli) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration, feature mapping and daemon reachability",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			result := doctor.New(c.cfg).Validate()
			if jsonOut {
				out, err := doctor.FormatJSON(result)
				if err != nil {
					return warning(err)
				}
				fmt.Fprintln(c.stdout, out)
			} else {
				fmt.Fprint(c.stdout, doctor.FormatHuman(result))
			}
			if !result.Valid {
				return reported
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}
