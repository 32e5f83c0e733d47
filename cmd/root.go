// Package cmd wires up the command-line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"annod/cmd/serve"
)

const (
	Version = "1.2.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "annod",
		Short: "annotation store daemon",
		Long: fmt.Sprintf(`annod (v%s)

A daemon that serves collections of stand-off annotated texts over HTTP,
loading annotation stores on demand and unloading them again when idle.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of annod",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("annod v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
