package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iderikon/mediastorage-proxy/pkg/auth"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "API key helpers",
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate an API key",
	Long: `Prints a new random API key and its bcrypt hash. Put the hash into
auth.api_keys and hand the key to the client.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, hash, err := auth.GenerateAPIKey()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "key:  %s\nhash: %s\n", key, hash)
		return nil
	},
}

var keysHashCmd = &cobra.Command{
	Use:   "hash <key>",
	Short: "Hash an existing API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.HashKey(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysGenerateCmd)
	keysCmd.AddCommand(keysHashCmd)
}
