package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is overridden at build time via -ldflags.
var Version = "1.2.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the vps-setup version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("vps-setup %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
