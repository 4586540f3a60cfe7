package driver

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Styles for status lines, adaptive to light/dark terminal backgrounds.
var (
	executeStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
		Light: "#399ee6",
		Dark:  "#59c2ff",
	})
	blockStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
		Light: "#f2ae49",
		Dark:  "#ffb454",
	})
	readyStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
		Light: "#86b300",
		Dark:  "#c2d94c",
	})
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
		Light: "#f07171",
		Dark:  "#f07178",
	})
)

// Progress renders Execute/Block/Ready transitions to an io.Writer (the
// CLI points it at os.Stdout; tests can point it at a bytes.Buffer).
type Progress struct {
	w io.Writer
}

// NewProgress returns a Progress writing to w.
func NewProgress(w io.Writer) *Progress {
	return &Progress{w: w}
}

func (p *Progress) Executing(key string) {
	fmt.Fprintln(p.w, executeStyle.Render("execute  ")+key)
}

func (p *Progress) Blocked(key string) {
	fmt.Fprintln(p.w, blockStyle.Render("block    ")+key)
}

func (p *Progress) Ready(key string) {
	fmt.Fprintln(p.w, readyStyle.Render("ready    ")+key)
}

func (p *Progress) Failed(key string, err error) {
	fmt.Fprintln(p.w, failStyle.Render("failed   ")+fmt.Sprintf("%s: %v", key, err))
}
