package cmd

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/rodaine/table"
	"github.com/spf13/cobra"

	"github.com/telegate/gwcore/registry"
)

var devicesCMD = &cobra.Command{
	Use:   "devices",
	Short: "list every device in the persisted registry snapshot",
	RunE:  runDevices,
}

var forgetCMD = &cobra.Command{
	Use:   "forget <device-name>",
	Short: "remove a device from the persisted registry snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runForget,
}

func init() {
	devicesCMD.Flags().String("connector", "", "only list devices bound to this connector id")
	forgetCMD.Flags().Bool("yes", false, "skip the confirmation prompt")
	devicesCMD.AddCommand(forgetCMD)
	CMD.AddCommand(devicesCMD)
}

func runDevices(cmd *cobra.Command, args []string) error {
	devicesPath, _ := cmd.Flags().GetString("devices")
	connectorID, _ := cmd.Flags().GetString("connector")

	reg, err := registry.New(devicesPath, nil)
	if err != nil {
		return fmt.Errorf("gwcore: load device snapshot: %w", err)
	}

	devices := reg.AllSaved()
	if connectorID != "" {
		filtered := devices[:0]
		for _, d := range devices {
			if d.ConnectorID == connectorID {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}
	if len(devices) == 0 {
		fmt.Println("no devices found")
		return nil
	}

	tbl := table.New("Name", "Connector", "Type", "State")
	for _, d := range devices {
		state := "connected"
		if d.Disconnected {
			state = "disconnected"
		}
		tbl.AddRow(d.Name, d.ConnectorName, d.Type, state)
	}
	tbl.Print()
	return nil
}

func runForget(cmd *cobra.Command, args []string) error {
	name := args[0]
	devicesPath, _ := cmd.Flags().GetString("devices")
	skipConfirm, _ := cmd.Flags().GetBool("yes")

	if !skipConfirm {
		confirmed := false
		prompt := huh.NewConfirm().
			Title(fmt.Sprintf("Remove %q from the device registry?", name)).
			Affirmative("Yes").
			Negative("No").
			Value(&confirmed)
		if err := huh.NewForm(huh.NewGroup(prompt)).Run(); err != nil {
			return fmt.Errorf("gwcore: confirmation prompt failed: %w", err)
		}
		if !confirmed {
			fmt.Println("aborted")
			return nil
		}
	}

	reg, err := registry.New(devicesPath, nil)
	if err != nil {
		return fmt.Errorf("gwcore: load device snapshot: %w", err)
	}
	reg.DeleteEvent(name)
	fmt.Printf("removed %q\n", name)
	return nil
}
