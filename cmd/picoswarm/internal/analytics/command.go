package analytics

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sipeed/picoswarm/cmd/picoswarm/internal"
	"github.com/sipeed/picoswarm/pkg/config"
	"github.com/sipeed/picoswarm/pkg/healing"
	"github.com/sipeed/picoswarm/pkg/metrics"
	"github.com/sipeed/picoswarm/pkg/swarm"
)

func NewAnalyticsCommand() *cobra.Command {
	var (
		format   string
		since    time.Duration
		timeline bool
	)

	cmd := &cobra.Command{
		Use:     "analytics",
		Aliases: []string{"a"},
		Short:   "Analyze healing history",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := healing.ParseFormat(format)
			if err != nil {
				return err
			}
			from := time.Now().Add(-since)

			ctx := cmd.Context()
			return internal.WithRuntime(ctx, func(_ *config.Config, rt *swarm.Runtime) error {
				if timeline {
					events, err := rt.Store.GetHealingEvents(ctx, metrics.Filter{Since: from})
					if err != nil {
						return err
					}
					return healing.ExportTimeline(cmd.OutOrStdout(), events, f)
				}

				rep, err := rt.Analytics(ctx, from)
				if err != nil {
					return fmt.Errorf("healing analytics: %w", err)
				}
				return healing.ExportReport(cmd.OutOrStdout(), rep, f)
			})
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", string(healing.FormatMarkdown), "Output format (json|yaml|markdown)")
	cmd.Flags().DurationVar(&since, "since", 7*24*time.Hour, "Analyze events newer than this")
	cmd.Flags().BoolVar(&timeline, "timeline", false, "Export the event timeline instead of the report")

	return cmd
}
