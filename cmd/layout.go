package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/smazurov/compositor/internal/layout"
)

// CreateLayoutCmd creates the layout command with its check subcommand.
func CreateLayoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Inspect layout files",
	}
	cmd.AddCommand(createLayoutCheckCmd())
	return cmd
}

func createLayoutCheckCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "check [layout-file]",
		Short: "Validate a layout file",
		Long: `Parses the layout file and checks every scene, source, output and overlay ` +
			`without starting the engine. Every problem found is printed, not only the first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("layout file %s: %w", path, err)
			}
			l, err := layout.Load(path)
			if err != nil {
				return err
			}

			out := c.OutOrStdout()
			if err := l.Validate(); err != nil {
				var merr *multierror.Error
				if errors.As(err, &merr) {
					for _, e := range merr.Errors {
						fmt.Fprintf(out, "  - %v\n", e)
					}
					return fmt.Errorf("%s: %d problem(s)", path, len(merr.Errors))
				}
				return err
			}

			if !quiet {
				sources := 0
				for _, sc := range l.Scenes {
					sources += len(sc.Sources)
				}
				fmt.Fprintf(out, "%s: %d scene(s), %d source(s), %d output(s), %d overlay(s)\n",
					path, len(l.Scenes), sources, len(l.Outputs), len(l.Overlays))
				if l.Active != "" {
					fmt.Fprintf(out, "active scene: %s\n", l.Active)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Print nothing when the file is valid")
	return cmd
}
