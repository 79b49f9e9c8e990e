// Package cmd holds the gwcore CLI's root cobra command. Subcommand
// packages are not split out here (unlike the teacher's, where each
// subcommand lives in its own package and self-registers via init());
// gwcore's subcommand set is small enough to keep as sibling files in
// this one package instead.
package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// CMD is the root command every subcommand in this package registers
// itself against from its own init().
var CMD = &cobra.Command{
	Use:   "gwcore",
	Short: "telemetry gateway core: connector orchestration and platform sync",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		godotenv.Load()
		return nil
	},
}

func init() {
	CMD.PersistentFlags().String("config", "tb_gateway.json", "path to the gateway's top-level configuration file")
	CMD.PersistentFlags().String("devices", "connected_devices.json", "path to the device registry's persisted snapshot")
}
