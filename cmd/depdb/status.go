package main

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/steveyegge/depdb/internal/driver"
)

var accentStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
	Light: "#399ee6",
	Dark:  "#59c2ff",
})

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Dump the current snapshot's recorded keys",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) error {
	d, err := driver.Open(driver.Options{
		DatabasePath: dbPath,
		RulesPath:    rulesPath,
	})
	if err != nil {
		return fmt.Errorf("depdb: open: %w", err)
	}
	defer func() { _ = d.Close() }()

	entries := d.Entries()
	names := make([]string, 0, len(entries))
	for k := range entries {
		if name, ok := k.(string); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		info := entries[name]
		fmt.Printf("%s  value=%v  time=%d  depends=%d group(s)\n",
			accentStyle.Render(name), info.Value, info.Time, len(info.Depends))
	}
	return nil
}
