package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "fedprune",
		Short: "Federated dynamic sparse training simulator",
		Long: `fedprune simulates federated learning with dynamic sparse masks.

Clients train sparse local models, readjust their masks by magnitude
pruning and gradient regrowth, and the server aggregates weights with
per-slot mask voting. Every transmission is accounted in bits so runs
can compare communication budgets.`,
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newReportCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fedprune version %s\n", version)
		},
	}
}
