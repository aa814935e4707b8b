package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/wallpaper-archiver/internal/config"
)

var initConfigCommand = &cobra.Command{
	Use:   "init-config",
	Short: "Write an example config file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := config.WriteExample(initConfigOutput, initConfigForce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", initConfigOutput)
		return nil
	},
}

var (
	initConfigOutput string
	initConfigForce  bool
)

func init() {
	initConfigCommand.Flags().StringVarP(&initConfigOutput, "output", "o", "wallarchive.yaml", "Where to write the example config")
	initConfigCommand.Flags().BoolVar(&initConfigForce, "force", false, "Overwrite an existing file")
	rootCmd.AddCommand(initConfigCommand)
}
