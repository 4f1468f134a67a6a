package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conan-hawkins/halo-stats-for-discord/internal/report"
)

var (
	flagMembersFile string
	flagSort        string
)

var serverCmd = &cobra.Command{
	Use:   "server <gamertag> [<gamertag>...]",
	Short: "Aggregate a whole membership and print the leaderboard",
	Long: "Aggregate every listed member's match history concurrently. Members " +
		"that cannot be processed are reported and excluded; the rest still " +
		"make the leaderboard.",
	Args: cobra.ArbitraryArgs,
	RunE: runServer,
}

func init() {
	serverCmd.Flags().StringVar(&flagMembersFile, "members-file", "", "file with one gamertag per line, merged with args")
	serverCmd.Flags().StringVar(&flagSort, "sort", "kd", "leaderboard ranking metric (kd, kda, winrate, kills)")
}

func runServer(cmd *cobra.Command, args []string) error {
	sortKey, err := report.ParseSortKey(flagSort)
	if err != nil {
		return err
	}

	members, err := collectMembers(args)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return fmt.Errorf("no members given; pass gamertags or --members-file")
	}

	ctx, cancel := runContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.shutdown()

	result, err := a.engine.Server(ctx, members)
	if err != nil {
		return fmt.Errorf("aggregate server: %w", err)
	}

	report.PrintLeaderboard(os.Stdout, result.Entries, sortKey)
	report.PrintFailures(os.Stdout, result.Failures)
	return nil
}

// collectMembers merges command-line gamertags with the optional members
// file, dropping blank lines and duplicates.
func collectMembers(args []string) ([]string, error) {
	members := append([]string(nil), args...)

	if flagMembersFile != "" {
		f, err := os.Open(flagMembersFile)
		if err != nil {
			return nil, fmt.Errorf("open members file: %w", err)
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if tag := strings.TrimSpace(scanner.Text()); tag != "" {
				members = append(members, tag)
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read members file: %w", err)
		}
	}

	seen := make(map[string]struct{}, len(members))
	unique := members[:0]
	for _, tag := range members {
		key := strings.ToLower(tag)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, tag)
	}

	return unique, nil
}
