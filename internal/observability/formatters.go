// Package observability provides formatted output utilities for the CLI.
package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jonathan/wallpaper-archiver/internal/pipeline"
	"github.com/jonathan/wallpaper-archiver/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 64
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for the CLI
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// PrintRunSummary outputs the counters of a finished run and its first failures.
func (p *Printer) PrintRunSummary(sum *pipeline.Summary) {
	if sum == nil {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Run:        %s\n", sum.RunID)
	fmt.Fprintf(&sb, "Duration:   %s\n", sum.Duration.Round(time.Millisecond))
	fmt.Fprintf(&sb, "Candidates: %d (%d tasks)\n", sum.Candidates, sum.Tasks)
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Archived:             %d\n", sum.Archived)
	fmt.Fprintf(&sb, "Generated:            %d\n", sum.Generated)
	fmt.Fprintf(&sb, "Skipped (complete):   %d\n", sum.SkippedComplete)
	fmt.Fprintf(&sb, "Skipped (unchanged):  %d\n", sum.SkippedNotModified)
	fmt.Fprintf(&sb, "Duplicates:           %d\n", sum.Duplicates)
	fmt.Fprintf(&sb, "Conflicts:            %d\n", sum.Conflicts)
	fmt.Fprintf(&sb, "Demoted:              %d\n", sum.Demoted)
	fmt.Fprintf(&sb, "Failed:               %d", sum.Failed)

	if len(sum.SourceErrors) > 0 {
		sb.WriteString("\n\nSource errors:\n")
		names := make([]string, 0, len(sum.SourceErrors))
		for name := range sum.SourceErrors {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&sb, "  ⚠ %s: %s\n", name, sum.SourceErrors[name])
		}
	}

	if len(sum.Failures) > 0 {
		sb.WriteString("\n\nFailures:\n")
		count := min(len(sum.Failures), maxItemsToShow)
		for i := 0; i < count; i++ {
			f := sum.Failures[i]
			mark := "retry"
			if f.Terminal {
				mark = "final"
			}
			fmt.Fprintf(&sb, "  ✗ %s [%s]\n", f.Key, mark)
			fmt.Fprintf(&sb, "    %s\n", f.Reason)
		}
		if len(sum.Failures) > maxItemsToShow {
			fmt.Fprintf(&sb, "  ... and %d more\n", len(sum.Failures)-maxItemsToShow)
		}
	}

	title := "RUN SUMMARY"
	if sum.OK() {
		title = "✅ RUN SUMMARY"
	}
	p.printBox(title, strings.TrimSuffix(sb.String(), "\n"))
}

// PrintReconcile outputs the result of a reconcile pass.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintReconcile(demoted int) {
	if demoted == 0 {
		fmt.Fprintln(p.out, "manifest consistent: every complete entry has its file")
		return
	}
	fmt.Fprintf(p.out, "demoted %d entries with missing files to pending\n", demoted)
}

// PrintCandidates lists candidates without fetching anything.
func (p *Printer) PrintCandidates(cands []types.CandidateRecord) {
	if len(cands) == 0 {
		p.printBox("CANDIDATES", "no candidates")
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Listed %d candidates:\n\n", len(cands))
	for i, c := range cands {
		tiers := make([]string, 0, len(c.Direct))
		for _, res := range types.AllResolutions() {
			if len(c.Direct[res]) > 0 {
				tiers = append(tiers, string(res))
			}
		}
		fmt.Fprintf(&sb, "• %s %s\n", c.Provider, c.ExternalID)
		if c.Title != "" {
			fmt.Fprintf(&sb, "  %s\n", c.Title)
		}
		fmt.Fprintf(&sb, "  [%s]\n", strings.Join(tiers, " "))
		if i < len(cands)-1 {
			sb.WriteString("\n")
		}
	}
	p.printBox("CANDIDATES", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintEntries outputs manifest entries as a table.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintEntries(entries []types.ManifestEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(p.out, "no entries")
		return
	}

	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSTATUS\tATTEMPTS\tUPDATED\tDETAIL")
	for _, e := range entries {
		detail := e.FilePath
		switch {
		case e.Status != types.StatusComplete:
			detail = e.LastError
		case e.DuplicateOf != "":
			detail = "duplicate of " + e.DuplicateOf
		}
		updated := "-"
		if !e.UpdatedAt.IsZero() {
			updated = e.UpdatedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", e.Key, e.Status, e.Attempts, updated, truncate(detail, 80))
	}
	tw.Flush()

	counts := map[types.ManifestStatus]int{}
	for _, e := range entries {
		counts[e.Status]++
	}
	fmt.Fprintf(p.out, "\n%d entries: %d complete, %d pending, %d failed\n",
		len(entries), counts[types.StatusComplete], counts[types.StatusPending], counts[types.StatusFailed])
}
