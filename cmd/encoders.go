package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/compositor/internal/encoders"
)

// CreateEncodersCmd creates the encoders command.
func CreateEncodersCmd() *cobra.Command {
	var hwOnly bool
	var search string

	cmd := &cobra.Command{
		Use:   "encoders",
		Short: "List ffmpeg video encoders",
		Long:  `Probes ffmpeg for its video encoders and shows which H.264 encoder outputs with hardware encoding enabled would use.`,
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			if !encoders.IsFFmpegInstalled() {
				return fmt.Errorf("ffmpeg not found in PATH")
			}
			ctx, cancel := context.WithTimeout(c.Context(), 10*time.Second)
			defer cancel()

			detector := encoders.NewDetector()
			list, err := detector.Encoders(ctx)
			if err != nil {
				return fmt.Errorf("probe ffmpeg encoders: %w", err)
			}
			video := encoders.FilterEncoders(list, encoders.EncoderFilter{
				Type:    string(encoders.VideoEncoder),
				Search:  search,
				Hwaccel: hwOnly,
			})

			out := c.OutOrStdout()
			for _, e := range video.VideoEncoders {
				hw := ""
				if e.HWAccel {
					hw = " [hw]"
				}
				fmt.Fprintf(out, "%-24s %s%s\n", e.Name, e.Description, hw)
			}

			pick := detector.Select(ctx, true)
			fmt.Fprintf(out, "\nsoftware: %s\n", encoders.Software.Encoder)
			if pick.Hardware {
				fmt.Fprintf(out, "hardware: %s\n", pick.Encoder)
			} else {
				fmt.Fprintln(out, "hardware: none available, outputs fall back to software")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&hwOnly, "hwaccel", false, "Only list hardware accelerated encoders")
	cmd.Flags().StringVarP(&search, "search", "s", "", "Filter by name or description")
	return cmd
}
