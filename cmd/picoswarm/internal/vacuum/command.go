package vacuum

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sipeed/picoswarm/cmd/picoswarm/internal"
	"github.com/sipeed/picoswarm/pkg/config"
	"github.com/sipeed/picoswarm/pkg/swarm"
)

func NewVacuumCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vacuum",
		Short: "Compact the metrics database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return internal.WithRuntime(ctx, func(_ *config.Config, rt *swarm.Runtime) error {
				if err := rt.Store.Vacuum(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Vacuumed %s\n", rt.Store.Path())
				return nil
			})
		},
	}

	return cmd
}
