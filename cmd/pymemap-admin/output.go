// ABOUTME: Terminal output for the admin CLI
// ABOUTME: Tab-aligned record tables, metric lines and colored notices

package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/2389/pymemap-console/internal/console"
	"github.com/2389/pymemap-console/internal/grid"
	"github.com/2389/pymemap-console/internal/resource"
)

const cellWidth = 28

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 3 {
		return string([]rune(s)[:n])
	}
	return string([]rune(s)[:n-3]) + "..."
}

// cellText flattens a value for a table cell.
func cellText(v any) string {
	s := strings.Join(strings.Fields(grid.FormatValue(v)), " ")
	if s == "" {
		return "-"
	}
	return truncate(s, cellWidth)
}

func heading(w io.Writer, title string) {
	cyan := color.New(color.FgCyan)
	fmt.Fprintln(w)
	cyan.Fprintf(w, "  %s\n", title)
	cyan.Fprintf(w, "  %s\n", strings.Repeat("-", utf8.RuneCountInString(title)))
}

func printMetrics(w io.Writer, metrics []resource.Metric) {
	if len(metrics) == 0 {
		return
	}
	parts := make([]string, len(metrics))
	for i, m := range metrics {
		parts[i] = m.Label + ": " + color.New(color.Bold).Sprint(m.Value)
	}
	fmt.Fprintf(w, "  %s\n\n", strings.Join(parts, "   "))
}

// printRecords writes rows under the given columns, the row id first.
func printRecords(w io.Writer, cols []grid.Column, rows []grid.Record) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "  (no records)")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := []string{"ID"}
	rule := []string{"--"}
	for _, c := range cols {
		if c.Key == "_id" || c.Key == "id" {
			continue
		}
		header = append(header, strings.ToUpper(c.Label))
		rule = append(rule, strings.Repeat("-", utf8.RuneCountInString(c.Label)))
	}
	fmt.Fprintln(tw, "  "+strings.Join(header, "\t"))
	fmt.Fprintln(tw, "  "+strings.Join(rule, "\t"))
	for _, r := range rows {
		line := []string{r.ID()}
		for _, c := range cols {
			if c.Key == "_id" || c.Key == "id" {
				continue
			}
			line = append(line, cellText(r[c.Key]))
		}
		fmt.Fprintln(tw, "  "+strings.Join(line, "\t"))
	}
	tw.Flush()
}

func printPageFooter(w io.Writer, st grid.State, total int) {
	pages := 1
	if total > 0 {
		pages = (total + st.PerPage - 1) / st.PerPage
	}
	color.New(color.FgHiBlack).Fprintf(w, "\n  page %d of %d, %d %s\n", st.Page, pages, total, plural(total, "record", "records"))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// printFields writes a record as sorted key/value lines.
func printFields(w io.Writer, rec grid.Record) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, k := range sortedKeys(rec) {
		fmt.Fprintf(tw, "  %s:\t%s\n", k, grid.FormatValue(rec[k]))
	}
	tw.Flush()
}

func printNotices(w io.Writer, notices []console.Notice) {
	for _, n := range notices {
		switch n.Level {
		case console.LevelSuccess:
			color.New(color.FgGreen).Fprintf(w, "  ✓ %s\n", n.Message)
		case console.LevelWarning:
			color.New(color.FgYellow).Fprintf(w, "  ! %s\n", n.Message)
		case console.LevelError:
			color.New(color.FgRed).Fprintf(w, "  ✗ %s\n", n.Message)
		default:
			color.New(color.FgCyan).Fprintf(w, "  • %s\n", n.Message)
		}
	}
}

func sortedKeys(rec grid.Record) []string {
	return slices.Sorted(maps.Keys(rec))
}
