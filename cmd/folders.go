package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/s0up4200/smartfolder/engine"
)

var countItems bool

// foldersCmd represents the folders command
var foldersCmd = &cobra.Command{
	Use:   "folders",
	Short: "List configured smart folders",
	Long:  `List the smart folders defined in the config file, optionally with the number of items each one matches.`,
	Args:  cobra.NoArgs,
	RunE:  runFolders,
}

func init() {
	foldersCmd.Flags().BoolVarP(&countItems, "count", "c", false, "evaluate every folder and show match counts")
}

func runFolders(cmd *cobra.Command, args []string) error {
	names := eng.ListFolders()
	folders := make([]engine.Folder, 0, len(names))
	for _, name := range names {
		if f, ok := eng.GetFolder(name); ok {
			folders = append(folders, f)
		}
	}

	var counts map[string]int
	if countItems && len(folders) > 0 {
		loaded, err := loadItems()
		if err != nil {
			return err
		}

		results, err := eng.EvaluateAll(context.Background(), loaded)
		if err != nil {
			// Partial results are still worth showing
			logger.Error().Err(err).Msg("Some folders failed to evaluate")
		}

		counts = make(map[string]int, len(results))
		for name, matches := range results {
			counts[name] = len(matches)
		}
	}

	fmt.Print(formatFolders(folders, counts))
	fmt.Println()

	return nil
}
