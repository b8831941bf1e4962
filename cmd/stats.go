package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var iterations int

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Benchmark smart folders and show engine statistics",
	Long: `Evaluate every configured smart folder repeatedly and report operation timings,
result cache effectiveness and index statistics.`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().IntVarP(&iterations, "iterations", "n", 5, "number of evaluation rounds")
}

func runStats(cmd *cobra.Command, args []string) error {
	if iterations <= 0 {
		return fmt.Errorf("--iterations must be positive")
	}

	loaded, err := loadItems()
	if err != nil {
		return err
	}

	names := eng.ListFolders()
	if len(names) == 0 {
		return fmt.Errorf("no smart folders configured")
	}

	ctx := context.Background()
	monitor := eng.Monitor()

	for round := 0; round < iterations; round++ {
		err := monitor.Measure("round", func() error {
			_, err := eng.EvaluateAll(ctx, loaded)
			return err
		})
		if err != nil {
			return err
		}
	}

	fmt.Printf("\n%d folders × %d rounds over %d items\n", len(names), iterations, len(loaded))
	fmt.Print(formatMetrics(eng.Metrics()))
	fmt.Print(formatCacheStats(eng.CacheStats()))
	fmt.Print(formatIndexStats(eng.IndexStats()))

	if registry != nil {
		families, err := registry.Gather()
		if err != nil {
			return fmt.Errorf("failed to gather metrics: %w", err)
		}
		fmt.Println("\nPrometheus:")
		for _, mf := range families {
			for _, m := range mf.GetMetric() {
				labels := ""
				for _, lp := range m.GetLabel() {
					labels += fmt.Sprintf(" %s=%s", lp.GetName(), lp.GetValue())
				}
				fmt.Printf("  %s%s samples=%d\n", mf.GetName(), labels, m.GetHistogram().GetSampleCount())
			}
		}
	}

	fmt.Println()
	return nil
}
