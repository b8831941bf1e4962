package cmd

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/s0up4200/smartfolder/cache"
	"github.com/s0up4200/smartfolder/engine"
	"github.com/s0up4200/smartfolder/index"
	"github.com/s0up4200/smartfolder/optimizer"
	"github.com/s0up4200/smartfolder/perf"
	"github.com/s0up4200/smartfolder/rule"
)

const (
	branch   = "├"
	lastLeaf = "╰"
	pipe     = "│"
)

// treeLines writes one tree entry per element. detail returns the lines
// shown under an entry's title.
func treeLines(sb *strings.Builder, n int, title func(i int) string, detail func(i int) []string) {
	for i := 0; i < n; i++ {
		isLast := i == n-1
		prefix := branch
		indent := pipe + "   "
		if isLast {
			prefix = lastLeaf
			indent = "    "
		}

		fmt.Fprintf(sb, "%s── %s\n", prefix, title(i))
		for _, line := range detail(i) {
			fmt.Fprintf(sb, "%s%s\n", indent, line)
		}

		if !isLast {
			sb.WriteString(pipe + "\n")
		}
	}
}

// formatItems formats matching items. With fields set only those fields are
// shown, otherwise every top-level field is.
func formatItems(heading string, items []rule.Item, fields []string) string {
	if len(items) == 0 {
		return "No items found"
	}

	var sb strings.Builder
	sb.WriteString("\n" + heading)
	fmt.Fprintf(&sb, " (%d):\n\n", len(items))

	treeLines(&sb, len(items),
		func(i int) string { return items[i].ID },
		func(i int) []string {
			shown := fields
			if len(shown) == 0 {
				shown = slices.Sorted(maps.Keys(items[i].Fields))
			}

			lines := make([]string, 0, len(shown))
			for _, field := range shown {
				v, ok := items[i].Lookup(field)
				if !ok {
					continue
				}
				lines = append(lines, fmt.Sprintf("%s: %s", field, displayValue(v)))
			}
			return lines
		})

	sb.WriteString("\n")
	return sb.String()
}

func displayValue(v rule.Value) string {
	if t, ok := v.AsTime(); ok {
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return t.Format("2006-01-02")
		}
		return t.Format(time.RFC3339)
	}
	return v.Text()
}

// formatFolders formats registered folders with their rules and, when
// counts is non-nil, the number of matching items
func formatFolders(folders []engine.Folder, counts map[string]int) string {
	if len(folders) == 0 {
		return "No smart folders configured"
	}

	var sb strings.Builder
	sb.WriteString("\nSmart folder")
	if len(folders) != 1 {
		sb.WriteString("s")
	}
	fmt.Fprintf(&sb, " (%d):\n\n", len(folders))

	treeLines(&sb, len(folders),
		func(i int) string {
			title := folders[i].Name
			if n, ok := counts[folders[i].Name]; ok {
				title += fmt.Sprintf(" [%d items]", n)
			}
			return title
		},
		func(i int) []string {
			var lines []string
			if folders[i].Description != "" {
				lines = append(lines, folders[i].Description)
			}
			for _, r := range folders[i].Rules {
				lines = append(lines, "• "+r.String())
			}
			return lines
		})

	sb.WriteString("\n")
	return sb.String()
}

// formatPlan formats an optimized rule order
func formatPlan(steps []optimizer.Step) string {
	var sb strings.Builder
	sb.WriteString("\nExecution plan:\n")
	for i, step := range steps {
		fmt.Fprintf(&sb, "  %d. %s (cost %d)\n", i+1, step.Rule, step.Score)
	}
	return sb.String()
}

// formatMetrics formats operation timings, slowest average first
func formatMetrics(metrics map[string]perf.Metric) string {
	if len(metrics) == 0 {
		return "No operations recorded"
	}

	names := slices.Sorted(maps.Keys(metrics))
	slices.SortStableFunc(names, func(a, b string) int {
		return cmp.Compare(metrics[b].Average, metrics[a].Average)
	})

	var sb strings.Builder
	sb.WriteString("\nOperations:\n")
	fmt.Fprintf(&sb, "  %-16s %8s %12s %12s %12s\n", "NAME", "COUNT", "AVG", "MIN", "MAX")
	for _, name := range names {
		m := metrics[name]
		fmt.Fprintf(&sb, "  %-16s %8d %12s %12s %12s\n", name, m.Count,
			m.Average.Round(time.Microsecond),
			m.Min.Round(time.Microsecond),
			m.Max.Round(time.Microsecond))
	}
	return sb.String()
}

// formatCacheStats formats result cache statistics
func formatCacheStats(stats cache.Stats) string {
	var sb strings.Builder
	sb.WriteString("\nCache:\n")
	fmt.Fprintf(&sb, "  Entries:   %d/%d\n", stats.Size, stats.Capacity)
	fmt.Fprintf(&sb, "  Hits:      %d\n", stats.Hits)
	fmt.Fprintf(&sb, "  Misses:    %d\n", stats.Misses)
	fmt.Fprintf(&sb, "  Hit rate:  %.1f%%\n", stats.HitRate*100)
	fmt.Fprintf(&sb, "  Evictions: %d (expired: %d)\n", stats.Evictions, stats.Expired)
	return sb.String()
}

// formatIndexStats formats per-field index statistics
func formatIndexStats(stats []index.Stats) string {
	if len(stats) == 0 {
		return "\nIndexes: none\n"
	}

	var sb strings.Builder
	sb.WriteString("\nIndexes:\n")
	for _, s := range stats {
		fmt.Fprintf(&sb, "  %-16s %6d values %8d items\n", s.Field, s.Cardinality, s.Items)
	}
	return sb.String()
}
