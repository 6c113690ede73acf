package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gobcast/internal/config"
	"github.com/dantte-lp/gobcast/internal/dirbcast"
	"github.com/dantte-lp/gobcast/internal/portmap"
)

func planCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Print the broadcast target of every VLAN",
		Long: "Reads the port map and prints, per IPv4 VLAN, the directed broadcast address, " +
			"the member ports expected to receive the probe and the eligible source ports. " +
			"No packets are sent.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := collectParams()
			if err != nil {
				return err
			}

			// router_mac is not needed to read the port map.
			cfg, err := config.Resolve(configPath, params)
			if err != nil {
				return err
			}

			pm, err := portmap.Load(cfg.PortMap)
			if err != nil {
				return err
			}

			out, err := formatPlan(dirbcast.Plan(pm), outputFormat)
			if err != nil {
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
}
