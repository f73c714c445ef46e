// Command optviz evaluates option and perpetual futures strategy payoffs.
package main

import (
	"os"

	"github.com/fatih/color"

	"optviz/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
