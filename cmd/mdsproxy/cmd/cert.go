package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	tlsutil "github.com/iderikon/mediastorage-proxy/pkg/tls"
)

var (
	certOut      string
	keyOut       string
	certCN       string
	certHosts    []string
	certValidFor time.Duration
)

var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "TLS certificate helpers",
}

var certGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a self-signed certificate",
	Long:  `Writes a self-signed server certificate and key for development and testing.`,
	RunE:  runCertGenerate,
}

func init() {
	rootCmd.AddCommand(certCmd)
	certCmd.AddCommand(certGenerateCmd)

	certGenerateCmd.Flags().StringVar(&certOut, "cert", "certs/mdsproxy.crt", "certificate output file")
	certGenerateCmd.Flags().StringVar(&keyOut, "key", "certs/mdsproxy.key", "key output file")
	certGenerateCmd.Flags().StringVar(&certCN, "cn", "mdsproxy", "certificate common name")
	certGenerateCmd.Flags().StringSliceVar(&certHosts, "hosts", nil, "additional IP addresses or hostnames")
	certGenerateCmd.Flags().DurationVar(&certValidFor, "valid-for", 365*24*time.Hour, "certificate lifetime")
}

func runCertGenerate(cmd *cobra.Command, args []string) error {
	for _, path := range []string{certOut, keyOut} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
	}

	if err := tlsutil.GenerateSelfSignedCert(certOut, keyOut, certCN, certValidFor, certHosts...); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Certificate: %s\nKey:         %s\n", certOut, keyOut)
	return nil
}
