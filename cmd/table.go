package cmd

import (
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/pterm/pterm"
)

// PrintTableNoPad renders rows without the default left padding.
func PrintTableNoPad(rows pterm.TableData, hasHeader bool) {
	table := pterm.DefaultTable.WithData(rows).WithLeftAlignment()
	if hasHeader {
		table = table.WithHasHeader()
	}
	_ = table.Render()
}

var cardStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("#1FA382")).
	Padding(0, 2)

var (
	cardTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#1FA382"))
	cardLabel = lipgloss.NewStyle().Foreground(lipgloss.Color("#808080"))
)

// card frames a title and label/value lines in a rounded box.
func card(title string, lines [][2]string) string {
	body := cardTitle.Render(title)
	for _, l := range lines {
		body += "\n" + cardLabel.Render(l[0]+":") + " " + l[1]
	}
	return cardStyle.Render(body)
}
