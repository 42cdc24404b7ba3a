package app

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"reap/internal/reap"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read and write reap configuration",
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(sessionConfig.Values[args[0]])
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist one configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reap.SetConfigValue(sessionConfig, args[0], args[1])
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		keys := make([]string, 0, len(sessionConfig.Values))
		for k := range sessionConfig.Values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%s=%s\n", k, sessionConfig.Values[k])
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configListCmd)

	RootCmd.AddCommand(configCmd)
}
