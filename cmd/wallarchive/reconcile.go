package main

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/wallpaper-archiver/internal/observability"
)

var reconcileCommand = &cobra.Command{
	Use:   "reconcile",
	Short: "Demote complete manifest entries whose files are missing",
	Long: `Checks every complete manifest entry against the archive root and marks entries
whose file no longer exists as pending, so the next run fetches them again.`,
	RunE: runReconcile,
}

var reconcileRoot string

func init() {
	reconcileCommand.Flags().StringVarP(&reconcileRoot, "root", "r", "", "Archive root directory")
	rootCmd.AddCommand(reconcileCommand)
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("root") {
		cfg.Root = reconcileRoot
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

	demoted, err := ledger.Reconcile(cmd.Context())
	if err != nil {
		return err
	}
	observability.NewPrinter(cmd.OutOrStdout()).PrintReconcile(demoted)
	return nil
}
