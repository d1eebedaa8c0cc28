package report

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sipeed/picoswarm/cmd/picoswarm/internal"
	"github.com/sipeed/picoswarm/pkg/config"
	"github.com/sipeed/picoswarm/pkg/health"
	"github.com/sipeed/picoswarm/pkg/swarm"
)

func NewReportCommand() *cobra.Command {
	var (
		swarmID string
		format  string
		window  time.Duration
	)

	cmd := &cobra.Command{
		Use:     "report",
		Aliases: []string{"r"},
		Short:   "Show the health report of a swarm",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := health.ParseFormat(format)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			return internal.WithRuntime(ctx, func(_ *config.Config, rt *swarm.Runtime) error {
				n, err := rt.RestoreHeartbeats(ctx, swarmID, time.Now().Add(-window))
				if err != nil {
					return fmt.Errorf("loading heartbeats: %w", err)
				}
				if n == 0 {
					return fmt.Errorf("no heartbeats recorded for swarm %q in the last %s", swarmID, window)
				}

				out, err := rt.Report(ctx, swarmID, f)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(out)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&swarmID, "swarm", "s", "", "Swarm id")
	cmd.Flags().StringVarP(&format, "format", "f", string(health.FormatMarkdown), "Output format (markdown|json)")
	cmd.Flags().DurationVar(&window, "window", 24*time.Hour, "How far back to look for heartbeats")
	_ = cmd.MarkFlagRequired("swarm")

	return cmd
}
