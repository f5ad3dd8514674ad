package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dexaggregator/internal/config"
	"dexaggregator/internal/model"
	"dexaggregator/internal/storage"
)

// newRegistryCommand returns the `registry show` diagnostic subcommand
// (spec §4.13): it loads one chain's persisted PoolRegistry and prints the
// same pool/route/dexType breakdown the HTTP API's registry endpoint
// serves, for operators without network access to the running process.
func newRegistryCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "registry",
		Short: "Inspect a chain's persisted pool registry",
	}

	var chainName string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print pool/route counts for one configured chain",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgFile, _ := cmd.Flags().GetString("config")
			return runRegistryShow(cfgFile, cmd, chainName)
		},
	}
	show.Flags().StringVar(&chainName, "chain", "", "configured chain name")
	show.Flags().String("registry-dir", "", "directory pool registries are persisted under")
	root.AddCommand(show)

	return root
}

func runRegistryShow(cfgFile string, cmd *cobra.Command, chainName string) error {
	if chainName == "" {
		return fmt.Errorf("--chain is required")
	}

	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var target *config.ChainConfig
	for i := range cfg.Chains {
		if model.Lower(cfg.Chains[i].Name) == model.Lower(chainName) {
			target = &cfg.Chains[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("chain %q not found in config", chainName)
	}

	store := storage.NewFileStore(cfg.RegistryDir)
	reg, err := store.GetPoolRegistry(target.ChainID)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	byDexType := map[model.DexType]int{}
	for _, pool := range reg.Pools {
		byDexType[pool.DexType]++
	}
	routeCount := 0
	for _, routes := range reg.PricingRoutes {
		routeCount += len(routes)
	}

	fmt.Printf("chain:       %s (chainId %d)\n", target.Name, target.ChainID)
	fmt.Printf("pool count:  %d\n", len(reg.Pools))
	fmt.Printf("route count: %d\n", routeCount)
	for dexType, count := range byDexType {
		fmt.Printf("  %-6s %d\n", dexType, count)
	}
	return nil
}
