package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loreguard/loreguard/internal/evidence"
)

var (
	evidenceKind  string
	evidenceLimit int
)

func init() {
	rootCmd.AddCommand(evidenceCmd)
	evidenceCmd.Flags().StringVar(&evidenceKind, "kind", "", "Filter by entry kind")
	evidenceCmd.Flags().IntVar(&evidenceLimit, "limit", 20, "Maximum entries to show")
}

var evidenceCmd = &cobra.Command{
	Use:   "evidence <db-path>",
	Short: "List entries from a workspace evidence ledger",
	Long:  "Reads a workspace's evidence.db and prints its provenance entries,\noldest first.",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvidence,
}

func runEvidence(cmd *cobra.Command, args []string) error {
	ledger, err := evidence.Open(args[0])
	if err != nil {
		return err
	}
	defer ledger.Close()

	entries, err := ledger.Query(evidence.Filter{Kind: evidenceKind, Limit: evidenceLimit})
	if err != nil {
		return err
	}
	for _, e := range entries {
		out, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal entry %s: %w", e.ID, err)
		}
		fmt.Println(string(out))
	}
	fmt.Printf("%d entries\n", len(entries))
	return nil
}
