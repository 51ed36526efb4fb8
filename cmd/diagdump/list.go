package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/diagdump/internal/featuremap"
)

const listRuleWidth = 80

func newListCmd(c *cli) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List features that support diagnostic dumps",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := c.resolver().Resolve()
			if err != nil {
				fmt.Fprintf(c.stdout, "Failed to load feature mapping: %v\n", err)
				return reported
			}
			features := reg.Enabled()
			if all {
				features = reg.Features()
			}
			fmt.Fprint(c.stdout, formatFeatureList(features, all))
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include features without diagnosable daemons")
	return cmd
}

// formatFeatureList renders the feature table with the name and description
// columns cut to their maximum widths.
func formatFeatureList(features []*featuremap.Feature, showFlag bool) string {
	rule := strings.Repeat("-", listRuleWidth)
	var b strings.Builder
	b.WriteString("Diagnostic Dump Supported Features List\n")
	b.WriteString(rule + "\n")
	b.WriteString(featureLine("Feature", "Description", ""))
	b.WriteString(rule + "\n")
	for _, f := range features {
		mark := ""
		if showFlag && !f.DiagEnabled {
			mark = "(disabled)"
		}
		b.WriteString(featureLine(f.Name, f.Description, mark))
	}
	return b.String()
}

func featureLine(name, desc, mark string) string {
	line := fmt.Sprintf("%-40.40s %.100s", name, desc)
	if mark != "" {
		line += " " + mark
	}
	return strings.TrimRight(line, " ") + "\n"
}
