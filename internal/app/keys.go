package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"reap/internal/reap"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage signing keys for tap recipes",
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate <id>",
	Short: "Generate a new Ed25519 key pair",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := reap.EnsureStateDirs(); err != nil {
			return err
		}
		if err := reap.GenerateKeyPair(args[0]); err != nil {
			return err
		}
		fmt.Printf("Key pair %s generated\n", args[0])
		return nil
	},
}

var keysImportCmd = &cobra.Command{
	Use:   "import <id> <pubkey-hex>",
	Short: "Trust a publisher's public key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := reap.EnsureStateDirs(); err != nil {
			return err
		}
		return reap.ImportPublicKey(args[0], args[1])
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trusted keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		keyring, err := reap.LoadKeyring()
		if err != nil {
			return err
		}
		for _, entry := range keyring {
			fmt.Printf("%-20s %s\n", entry.ID, entry.Pub)
		}
		return nil
	},
}

var keysSignCmd = &cobra.Command{
	Use:   "sign <file>",
	Short: "Write a detached signature with the active key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := reap.SignFile(args[0], sessionConfig.ActiveKeyID); err != nil {
			return err
		}
		fmt.Printf("Signed %s with key %s\n", args[0], sessionConfig.ActiveKeyID)
		return nil
	},
}

var keysVerifyCmd = &cobra.Command{
	Use:   "verify <file> [key-id]",
	Short: "Verify a detached signature",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		keyID := sessionConfig.ActiveKeyID
		if len(args) == 2 {
			keyID = args[1]
		}
		if err := reap.VerifyFile(args[0], keyID); err != nil {
			return err
		}
		fmt.Println("Signature OK")
		return nil
	},
}

func init() {
	keysCmd.AddCommand(keysGenerateCmd)
	keysCmd.AddCommand(keysImportCmd)
	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysSignCmd)
	keysCmd.AddCommand(keysVerifyCmd)

	RootCmd.AddCommand(keysCmd)
}
