// Command handoffd is the broker daemon: it wires every component in
// this repository into a single long-running process (spec §5) and
// exposes a "serve" subcommand, mirroring the teacher's cmd/kandev
// unified-binary shape (config load, logger init, component wiring by
// numbered step, signal-driven graceful shutdown).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "handoffd",
		Short: "handoffd mediates between autonomous coding agents and a human operator",
	}

	var configPath string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the broker daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	serve.Flags().StringVar(&configPath, "config", "", "directory to search for config.toml")
	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
