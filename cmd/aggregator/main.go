package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:          "aggregator",
		Short:        "DEX price aggregator",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	root.AddCommand(newServeCommand())
	root.AddCommand(newRegistryCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
