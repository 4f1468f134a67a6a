package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var populateCmd = &cobra.Command{
	Use:   "populate <gamertag>",
	Short: "Warm the identity cache from a player's match history",
	Long: "Walk the player's match history and resolve every opponent seen " +
		"across those matches, so later aggregations start with a warm " +
		"identity cache. No statistics are computed.",
	Args: cobra.ExactArgs(1),
	RunE: runPopulate,
}

func runPopulate(cmd *cobra.Command, args []string) error {
	ctx, cancel := runContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.shutdown()

	result, err := a.engine.Populate(ctx, args[0])
	if err != nil {
		return fmt.Errorf("populate from %q: %w", args[0], err)
	}

	fmt.Fprintf(os.Stdout, "Scanned %d matches, cached %d new identities.\n",
		result.MatchesScanned, result.NewIdentities)
	return nil
}
