package main

import (
	"fmt"

	"github.com/danmuck/xec/internal/inventory"
	"github.com/spf13/cobra"
)

func newTargetsCmd() *cobra.Command {
	var (
		configPath string
		invPath    string
	)
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "List the named targets in the inventory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := invPath
			if path == "" {
				path = loadConfigOrDefaults(configPath).Inventory
			}
			if path == "" {
				return fmt.Errorf("no inventory configured, pass --inventory or set it in %s", configPath)
			}
			inv, err := inventory.Load(path)
			if err != nil {
				return err
			}
			for _, name := range inv.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "xec.toml", "engine config file")
	cmd.Flags().StringVar(&invPath, "inventory", "", "inventory file (overrides config)")
	return cmd
}
