package cleanup

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sipeed/picoswarm/cmd/picoswarm/internal"
	"github.com/sipeed/picoswarm/pkg/config"
	"github.com/sipeed/picoswarm/pkg/metrics"
	"github.com/sipeed/picoswarm/pkg/swarm"
)

func NewCleanupCommand() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete metrics older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return internal.WithRuntime(ctx, func(cfg *config.Config, rt *swarm.Runtime) error {
				retention := cfg.Metrics.RetentionDays
				if cmd.Flags().Changed("days") {
					retention = days
				}

				deleted, err := rt.Store.CleanupOldMetrics(ctx, retention)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				var total int64
				for _, table := range metrics.Tables {
					fmt.Fprintf(out, "  %-16s %d\n", table, deleted[table])
					total += deleted[table]
				}
				fmt.Fprintf(out, "Removed %d records older than %d days\n", total, retention)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "Retention in days (defaults to metrics.retention_days)")

	return cmd
}
