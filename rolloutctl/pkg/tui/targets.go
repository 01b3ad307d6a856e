package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
)

// TargetRow is a single row in the Targets dashboard table.
type TargetRow struct {
	ID          string
	Status      string
	Installed   string
	Assigned    string
	LastContact string // "15:04:05" or "never"
}

func targetStatusColor(status string) lipgloss.Color {
	switch model.TargetUpdateStatus(status) {
	case model.TargetInSync:
		return lipgloss.Color("2")
	case model.TargetPending:
		return lipgloss.Color("3")
	case model.TargetError:
		return lipgloss.Color("1")
	default:
		return lipgloss.Color("8")
	}
}

// renderTargets renders the Targets tab content.
func renderTargets(targets []TargetRow, width int) string {
	if len(targets) == 0 {
		return dimStyle.Render("  No targets registered.")
	}

	colID := colWidth(width, 0.24)
	colStatus := colWidth(width, 0.14)
	colInstalled := colWidth(width, 0.20)
	colAssigned := colWidth(width, 0.20)
	colContact := colWidth(width, 0.14)

	header := strings.Join([]string{
		headerCellStyle.Width(colID).Render("TARGET"),
		headerCellStyle.Width(colStatus).Render("STATUS"),
		headerCellStyle.Width(colInstalled).Render("INSTALLED"),
		headerCellStyle.Width(colAssigned).Render("ASSIGNED"),
		headerCellStyle.Width(colContact).Render("LAST POLL"),
	}, "")

	rows := []string{header}
	for i, t := range targets {
		style := rowStyle
		if i%2 == 0 {
			style = altRowStyle
		}
		statusCell := lipgloss.NewStyle().
			Width(colStatus).
			Foreground(targetStatusColor(t.Status)).
			Render(truncate(t.Status, colStatus-1))

		rows = append(rows, strings.Join([]string{
			style.Width(colID).Render(truncate(t.ID, colID-1)),
			statusCell,
			style.Width(colInstalled).Render(truncate(t.Installed, colInstalled-1)),
			style.Width(colAssigned).Render(truncate(t.Assigned, colAssigned-1)),
			style.Width(colContact).Render(t.LastContact),
		}, ""))
	}
	return strings.Join(rows, "\n")
}
