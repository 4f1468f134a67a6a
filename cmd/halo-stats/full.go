package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/conan-hawkins/halo-stats-for-discord/internal/report"
)

var fullCmd = &cobra.Command{
	Use:   "full <gamertag>",
	Short: "Aggregate one player's entire match history",
	Args:  cobra.ExactArgs(1),
	RunE:  runFull,
}

func runFull(cmd *cobra.Command, args []string) error {
	ctx, cancel := runContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.shutdown()

	entry, err := a.engine.Full(ctx, args[0])
	if err != nil {
		return fmt.Errorf("aggregate %q: %w", args[0], err)
	}

	report.PrintPlayer(os.Stdout, entry)
	return nil
}
