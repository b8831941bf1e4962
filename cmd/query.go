package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spaolacci/murmur3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/s0up4200/smartfolder/rule"
)

var (
	folderName string
	ruleFlags  []string
	showFields []string
	explain    bool
	exportDir  string
)

// queryCmd represents the query command
var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "List items matching a smart folder or ad-hoc rules",
	Long: `Evaluate a configured smart folder, or rules given on the command line, against
the item collection and list the matching items.

Rules are written as field:operator:value, for example:
  smartfolder query -r status:equals:open -r priority:greater_than:2
  smartfolder query -f "open work" --explain`,
	Args: cobra.NoArgs,
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVarP(&folderName, "folder", "f", "", "smart folder to evaluate")
	queryCmd.Flags().StringArrayVarP(&ruleFlags, "rule", "r", nil, "ad-hoc rule field:operator:value (repeatable, combined with AND)")
	queryCmd.Flags().StringSliceVar(&showFields, "show", nil, "fields to display (default: all)")
	queryCmd.Flags().BoolVar(&explain, "explain", false, "print the optimized rule order")
	queryCmd.Flags().StringVar(&exportDir, "export", "", "write each matching item to a YAML file in this directory")
}

func runQuery(cmd *cobra.Command, args []string) error {
	rules, heading, err := queryRules()
	if err != nil {
		return err
	}

	loaded, err := loadItems()
	if err != nil {
		return err
	}

	logger.Info().
		Str("rules", rule.Set(rules).String()).
		Int("items", len(loaded)).
		Msg("Evaluating")

	ctx := context.Background()
	matches, err := eng.Evaluate(ctx, loaded, rules)
	if err != nil {
		return err
	}

	if explain {
		fmt.Print(formatPlan(eng.Explain(rules)))
	}

	fmt.Print(formatItems(heading, matches, showFields))
	fmt.Println()

	if exportDir != "" {
		return exportItems(ctx, matches, exportDir)
	}

	return nil
}

// queryRules resolves the rules to evaluate. Ad-hoc rules narrow a folder
// when both are given.
func queryRules() ([]rule.Rule, string, error) {
	if folderName == "" && len(ruleFlags) == 0 {
		return nil, "", fmt.Errorf("no query specified: use --folder or --rule")
	}

	var rules []rule.Rule
	heading := "Matching items"

	if folderName != "" {
		f, ok := eng.GetFolder(folderName)
		if !ok {
			return nil, "", fmt.Errorf("smart folder '%s' not found in config", folderName)
		}
		rules = append(rules, f.Rules...)
		heading = fmt.Sprintf("Items in '%s'", f.Name)
	}

	if len(ruleFlags) > 0 {
		loc, err := cfg.Location()
		if err != nil {
			return nil, "", err
		}
		adhoc, err := parseRuleFlags(ruleFlags, cfg.Items.DateFields, loc)
		if err != nil {
			return nil, "", err
		}
		rules = append(rules, adhoc...)
	}

	return rules, heading, nil
}

// exportItems writes one YAML file per item through the engine's batch
// post-processing
func exportItems(ctx context.Context, matches []rule.Item, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	idField := cfg.Items.IDField
	err := eng.PostProcess(ctx, matches, func(ctx context.Context, item rule.Item) error {
		doc := make(map[string]any, len(item.Fields)+1)
		for k, v := range item.Fields {
			doc[k] = v
		}
		doc[idField] = item.ID

		data, err := yaml.Marshal(doc)
		if err != nil {
			return fmt.Errorf("item '%s': %w", item.ID, err)
		}

		path := filepath.Join(dir, exportFileName(item.ID))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("item '%s': %w", item.ID, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	logger.Info().
		Str("dir", dir).
		Int("items", len(matches)).
		Msg("Exported items")

	return nil
}

// exportFileName maps an item ID onto a safe file name. IDs that had to
// be rewritten get a hash suffix so distinct IDs never share a file.
func exportFileName(id string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, id)
	if strings.Trim(safe, ".") == "" {
		safe = "_" + safe
	}
	if safe != id {
		safe = fmt.Sprintf("%s-%08x", safe, murmur3.Sum32([]byte(id)))
	}
	return safe + ".yaml"
}
