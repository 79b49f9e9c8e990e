package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/telegate/gwcore/registry"
)

const watchRefreshInterval = time.Second

var watchCMD = &cobra.Command{
	Use:   "watch",
	Short: "live-tail the device registry snapshot in a terminal UI",
	RunE:  runWatch,
}

func init() {
	CMD.AddCommand(watchCMD)
}

// tickMsg requests the next refresh of the registry snapshot.
type tickMsg time.Time

func watchTick() tea.Cmd {
	return tea.Tick(watchRefreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// watchModel re-reads the on-disk device snapshot every tick, the same
// polling shape the Watchdog uses for hot reload, rendered with the
// teacher's bubbletea/lipgloss pairing (cli/play.go) instead of built
// for a video player's frame clock.
type watchModel struct {
	devicesPath string
	tbl         table.Model
	err         error
}

func newWatchModel(devicesPath string) watchModel {
	columns := []table.Column{
		{Title: "Name", Width: 24},
		{Title: "Connector", Width: 16},
		{Title: "Type", Width: 12},
		{Title: "State", Width: 14},
	}
	tbl := table.New(table.WithColumns(columns), table.WithFocused(false), table.WithHeight(15))
	style := table.DefaultStyles()
	style.Header = style.Header.BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("240")).Bold(true)
	tbl.SetStyles(style)
	return watchModel{devicesPath: devicesPath, tbl: tbl}
}

func (m watchModel) Init() tea.Cmd { return watchTick() }

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" || msg.String() == "esc" {
			return m, tea.Quit
		}
	case tickMsg:
		m.tbl.SetRows(m.loadRows())
		return m, watchTick()
	}
	return m, nil
}

func (m *watchModel) loadRows() []table.Row {
	reg, err := registry.New(m.devicesPath, nil)
	if err != nil {
		m.err = err
		return nil
	}
	m.err = nil

	devices := reg.AllSaved()
	rows := make([]table.Row, 0, len(devices))
	for _, d := range devices {
		state := "connected"
		if d.Disconnected {
			state = "disconnected"
		}
		rows = append(rows, table.Row{d.Name, d.ConnectorName, d.Type, state})
	}
	return rows
}

func (m watchModel) View() string {
	header := lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("gwcore devices — %s (q to quit)", m.devicesPath))
	if m.err != nil {
		return header + "\n\n" + lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Render(m.err.Error())
	}
	return header + "\n\n" + m.tbl.View()
}

func runWatch(cmd *cobra.Command, args []string) error {
	devicesPath, _ := cmd.Flags().GetString("devices")
	program := tea.NewProgram(newWatchModel(devicesPath))
	_, err := program.Run()
	return err
}
