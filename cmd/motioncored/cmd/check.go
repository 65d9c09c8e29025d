package cmd

import (
	"fmt"

	"github.com/KevinKickass/OpenMotionCore/internal/axes"
	"github.com/KevinKickass/OpenMotionCore/internal/config"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check [machine file]",
	Short: "validate a machine file",
	Long: `The check command validates a machine file against the schema and the
topology rules, then prints the homing cycles it would run. Without an
argument the machine_file setting is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		} else {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			path = cfg.MachineFile
		}

		m, err := config.LoadMachine(path, nil)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		topo := m.Topology
		fmt.Fprintf(out, "%s: %d axes, %d switches\n", path, topo.NumAxes(), len(m.Switches))
		for i := 0; i < topo.NumAxes(); i++ {
			a := topo.Axis(i)
			fmt.Fprintf(out, "  %s travel=%g gangs=%d squared=%t\n", a.Name, a.MaxTravel, len(a.Gangs), a.Squared)
		}
		for n := 0; n <= topo.MaxCycle(); n++ {
			if mask := topo.AxesInCycle(n); mask != 0 {
				fmt.Fprintf(out, "  homing cycle %d: %s\n", n, mask)
			}
		}
		if topo.HomingMask() == axes.AxisMask(0) {
			fmt.Fprintln(out, "  no axis is homed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
