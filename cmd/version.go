package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Print the version",
	Annotations: map[string]string{"config": "none"},
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", app, version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
