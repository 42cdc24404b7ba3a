package app

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List packages installed through reap",
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := newSession()
		if err != nil {
			return err
		}
		defer session.Close()

		pkgs, err := session.Store.ListInstalled()
		if err != nil {
			return err
		}
		if len(pkgs) == 0 {
			fmt.Println("Nothing installed through reap yet")
			return nil
		}
		for _, pkg := range pkgs {
			marker := " "
			if pkg.Explicit {
				marker = "*"
			}
			fmt.Printf("%s %s/%s %s\n", marker, pkg.Origin.Label(), pkg.Name, pkg.Version)
		}
		return nil
	},
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the transaction journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := newSession()
		if err != nil {
			return err
		}
		defer session.Close()

		recs, err := session.Store.ListTransactions(20)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No transactions recorded")
			return nil
		}
		for _, rec := range recs {
			fmt.Printf("%s  %-11s %s  %s\n",
				rec.ID[:8], rec.State, rec.StartedAt.Format("2006-01-02 15:04:05"), rec.Packages)
			if rec.Failure != "" {
				fmt.Printf("          %s\n", rec.Failure)
			}
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(listCmd)
	RootCmd.AddCommand(logCmd)
}
