package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/telegate/gwcore/gwconfig"
	"github.com/telegate/gwcore/registry"
)

var statusCMD = &cobra.Command{
	Use:   "status",
	Short: "print a summary of the persisted configuration and device snapshot",
	RunE:  runStatus,
}

func init() {
	CMD.AddCommand(statusCMD)
}

func runStatus(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	devicesPath, _ := cmd.Flags().GetString("devices")

	cfg, _, err := gwconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("gwcore: load config: %w", err)
	}

	reg, err := registry.New(devicesPath, nil)
	if err != nil {
		return fmt.Errorf("gwcore: load device snapshot: %w", err)
	}

	devices := reg.AllSaved()

	green := color.New(color.FgGreen)
	bold := color.New(color.Bold)

	_, _ = bold.Println("gwcore status")
	_, _ = green.Print("  storage:    ")
	fmt.Println(cfg.Storage.Type)
	_, _ = green.Print("  connectors: ")
	fmt.Printf("%d configured\n", len(cfg.Connectors))
	for _, ref := range cfg.Connectors {
		fmt.Printf("    - %s (%s)\n", ref.Name, ref.ConfigFile)
	}
	_, _ = green.Print("  grpc:       ")
	fmt.Printf("enabled=%v\n", cfg.GRPC.Enabled)
	_, _ = green.Print("  devices:    ")
	fmt.Printf("%d persisted\n", len(devices))
	return nil
}
