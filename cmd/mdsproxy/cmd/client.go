package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/iderikon/mediastorage-proxy/pkg/client"
)

var (
	serverURL string
	apiKey    string
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Talk to a running proxy",
	Long: `Upload, download and inspect objects on a running proxy. The API key
defaults to the MDSPROXY_API_KEY environment variable.`,
}

var clientUploadCmd = &cobra.Command{
	Use:   "upload <namespace> <key> <file>",
	Short: "Upload a file",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[2])
		if err != nil {
			return err
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return err
		}

		result, err := newClient().Upload(cmd.Context(), args[0], args[1], f, info.Size(), mime.TypeByExtension(filepath.Ext(args[2])))
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), result)
	},
}

var clientDownloadCmd = &cobra.Command{
	Use:   "download <namespace> <key> [file]",
	Short: "Download an object to a file or stdout",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if len(args) == 3 {
			f, err := os.Create(args[2])
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}

		_, err := newClient().Download(cmd.Context(), args[0], args[1], out)
		return err
	},
}

var clientInfoCmd = &cobra.Command{
	Use:   "info <namespace> <key>",
	Short: "Show object metadata",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		obj, err := newClient().Info(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), obj)
	},
}

var clientDeleteCmd = &cobra.Command{
	Use:   "delete <namespace> <key>",
	Short: "Delete an object",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().Delete(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s/%s\n", args[0], args[1])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(clientCmd)
	clientCmd.AddCommand(clientUploadCmd)
	clientCmd.AddCommand(clientDownloadCmd)
	clientCmd.AddCommand(clientInfoCmd)
	clientCmd.AddCommand(clientDeleteCmd)

	clientCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "proxy URL")
	clientCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key (default $MDSPROXY_API_KEY)")
}

func newClient() *client.Client {
	key := apiKey
	if key == "" {
		key = os.Getenv("MDSPROXY_API_KEY")
	}
	return client.NewClient(serverURL, key)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
