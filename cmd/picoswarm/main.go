// PicoClaw - Ultra-lightweight personal AI agent
// Swarm mode support for multi-agent coordination
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sipeed/picoswarm/cmd/picoswarm/internal"
	"github.com/sipeed/picoswarm/cmd/picoswarm/internal/analytics"
	"github.com/sipeed/picoswarm/cmd/picoswarm/internal/cleanup"
	"github.com/sipeed/picoswarm/cmd/picoswarm/internal/configcmd"
	"github.com/sipeed/picoswarm/cmd/picoswarm/internal/report"
	"github.com/sipeed/picoswarm/cmd/picoswarm/internal/vacuum"
	"github.com/sipeed/picoswarm/cmd/picoswarm/internal/version"
)

func NewPicoswarmCommand() *cobra.Command {
	short := fmt.Sprintf("%s picoswarm - swarm health and resilience toolkit v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:           "picoswarm",
		Short:         short,
		Example:       "picoswarm report --swarm alpha",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		report.NewReportCommand(),
		analytics.NewAnalyticsCommand(),
		cleanup.NewCleanupCommand(),
		vacuum.NewVacuumCommand(),
		configcmd.NewConfigCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewPicoswarmCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
