package app

import (
	"fmt"

	"github.com/gookit/color"
	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search all backends at once",
	Long: `Search the official repositories, chaotic-aur, the AUR, flatpak and
configured taps in parallel and print a deduplicated result list.
Backends that are unreachable are reported but do not fail the search.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	RootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	session, err := newSession()
	if err != nil {
		return err
	}
	defer session.Close()

	records, statuses := session.Resolver.UnifiedSearch(ctx, args[0])
	for _, st := range statuses {
		if st.Err != nil {
			color.Warn.Printf("Warning: %s backend unavailable: %v\n", st.Backend, st.Err)
		}
	}
	if len(records) == 0 {
		fmt.Println("No packages found")
		return nil
	}
	for _, rec := range records {
		color.HEX("#1976D2").Printf("%s/%s", rec.Origin.Label(), rec.Name)
		fmt.Printf(" %s\n", rec.Version)
		if rec.Description != "" {
			fmt.Printf("    %s\n", rec.Description)
		}
	}
	return nil
}
