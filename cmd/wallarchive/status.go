package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/wallpaper-archiver/internal/observability"
	"github.com/jonathan/wallpaper-archiver/internal/types"
)

var statusCommand = &cobra.Command{
	Use:   "status",
	Short: "List manifest entries",
	RunE:  runStatus,
}

var (
	statusRoot   string
	statusFilter string
	statusJSON   bool
)

func init() {
	statusCommand.Flags().StringVarP(&statusRoot, "root", "r", "", "Archive root directory")
	statusCommand.Flags().StringVar(&statusFilter, "status", "all", "Entries to list: pending, complete, failed or all")
	statusCommand.Flags().BoolVar(&statusJSON, "json", false, "Print entries as JSON")
	rootCmd.AddCommand(statusCommand)
}

// statusFilters maps the --status flag to the manifest states it lists.
func statusFilters(s string) ([]types.ManifestStatus, error) {
	switch s {
	case "", "all":
		return []types.ManifestStatus{types.StatusComplete, types.StatusPending, types.StatusFailed}, nil
	case string(types.StatusPending), string(types.StatusComplete), string(types.StatusFailed):
		return []types.ManifestStatus{types.ManifestStatus(s)}, nil
	default:
		return nil, fmt.Errorf("invalid --status %q: must be pending, complete, failed or all", s)
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	filters, err := statusFilters(statusFilter)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("root") {
		cfg.Root = statusRoot
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := newLogger(cfg)
	ledger, closeLedger, err := openLedger(cmd.Context(), cfg, uuid.NewString(), log)
	if err != nil {
		return err
	}
	defer closeLedger()

	var entries []types.ManifestEntry
	for _, st := range filters {
		got, err := ledger.Entries(cmd.Context(), st)
		if err != nil {
			return err
		}
		entries = append(entries, got...)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key.String() < entries[j].Key.String()
	})

	if statusJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	observability.NewPrinter(cmd.OutOrStdout()).PrintEntries(entries)
	return nil
}
