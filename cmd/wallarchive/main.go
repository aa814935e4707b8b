// Package main provides the wallarchive command line tool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "wallarchive",
	Short: "Wallpaper acquisition and archiving",
	Long: `wallarchive lists wallpapers from the Bing daily feed, its community archive and
popular image providers, fetches every requested resolution tier, removes duplicates
and files the results into a local archive tracked by a durable manifest.

Re-running is safe: complete keys are skipped and missing files are re-fetched.`,
	SilenceUsage: true,
}

var (
	configPath string
	profile    string
	verbose    bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a .json or .yaml config file (values can be overridden by flags)")
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "", "Config profile to apply on top of the top-level settings")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
