package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/iderikon/mediastorage-proxy/pkg/metrics"
	"github.com/iderikon/mediastorage-proxy/pkg/models"
	"github.com/iderikon/mediastorage-proxy/pkg/store"
)

var objectsOutput string

var objectsCmd = &cobra.Command{
	Use:   "objects",
	Short: "Inspect stored objects",
	Long:  `Commands that read object metadata directly from the configured database.`,
}

var objectsListCmd = &cobra.Command{
	Use:   "list <namespace>",
	Short: "List the objects of a namespace",
	Args:  cobra.ExactArgs(1),
	RunE:  runObjectsList,
}

var objectsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show object counts per namespace",
	RunE:  runObjectsStats,
}

func init() {
	rootCmd.AddCommand(objectsCmd)
	objectsCmd.AddCommand(objectsListCmd)
	objectsCmd.AddCommand(objectsStatsCmd)

	objectsCmd.PersistentFlags().StringVarP(&objectsOutput, "output", "o", "table", "output format: table, json or prom (stats only)")
}

func openStore() (store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.NewStore(cfg.Database)
}

func runObjectsList(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	objects, err := s.ListObjects(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if objectsOutput == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(objects)
	}

	if len(objects) == 0 {
		fmt.Fprintf(out, "No objects in namespace %s\n", args[0])
		return nil
	}

	table := tablewriter.NewWriter(out)
	table.Header("Key", "Size", "Type", "Checksum", "Updated")
	for _, obj := range objects {
		table.Append(
			obj.Key,
			formatBytes(obj.Size),
			obj.ContentType,
			shortChecksum(obj),
			obj.UpdatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	table.Render()
	fmt.Fprintf(out, "\nTotal objects: %d\n", len(objects))
	return nil
}

func runObjectsStats(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	stats, err := s.Stats(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch objectsOutput {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	case "prom":
		return metrics.WriteStoreSnapshot(out, s)
	}

	table := tablewriter.NewWriter(out)
	table.Header("Namespace", "Objects", "Bytes")
	for ns, n := range stats.ObjectsByNamespace {
		table.Append(ns, strconv.Itoa(n), formatBytes(stats.BytesByNamespace[ns]))
	}
	table.Render()
	fmt.Fprintf(out, "\nTotal: %d objects, %s\n", stats.TotalObjects, formatBytes(stats.TotalBytes))
	return nil
}

func shortChecksum(obj *models.Object) string {
	if len(obj.Checksum) > 12 {
		return obj.Checksum[:12]
	}
	return obj.Checksum
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
