package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
)

// RolloutRow is a single row in the Rollouts dashboard table.
type RolloutRow struct {
	ID       string
	Name     string
	Status   string
	DistSet  string
	Targets  int
	Progress string // finished/total, e.g. "40/100"
	Errors   int
}

// rolloutStatusColor returns a lipgloss foreground colour for a rollout status.
func rolloutStatusColor(status string) lipgloss.Color {
	switch model.RolloutStatus(status) {
	case model.RolloutRunning, model.RolloutStarting:
		return lipgloss.Color("2") // green
	case model.RolloutPaused, model.RolloutStopping:
		return lipgloss.Color("3") // yellow
	case model.RolloutFinished:
		return lipgloss.Color("4") // blue
	case model.RolloutDeleting, model.RolloutDeleted:
		return lipgloss.Color("1") // red
	default:
		return lipgloss.Color("8") // grey
	}
}

// renderRollouts renders the Rollouts tab content.
func renderRollouts(rollouts []RolloutRow, width int) string {
	if len(rollouts) == 0 {
		return dimStyle.Render("  No rollouts found.")
	}

	colID := colWidth(width, 0.16)
	colName := colWidth(width, 0.22)
	colStatus := colWidth(width, 0.12)
	colDS := colWidth(width, 0.18)
	colTargets := colWidth(width, 0.09)
	colProgress := colWidth(width, 0.12)
	colErrors := colWidth(width, 0.08)

	header := strings.Join([]string{
		headerCellStyle.Width(colID).Render("ID"),
		headerCellStyle.Width(colName).Render("NAME"),
		headerCellStyle.Width(colStatus).Render("STATUS"),
		headerCellStyle.Width(colDS).Render("DIST SET"),
		headerCellStyle.Width(colTargets).Render("TARGETS"),
		headerCellStyle.Width(colProgress).Render("FINISHED"),
		headerCellStyle.Width(colErrors).Render("ERRORS"),
	}, "")

	rows := []string{header}
	for i, r := range rollouts {
		style := rowStyle
		if i%2 == 0 {
			style = altRowStyle
		}
		statusCell := lipgloss.NewStyle().
			Width(colStatus).
			Foreground(rolloutStatusColor(r.Status)).
			Render(truncate(r.Status, colStatus-1))

		rows = append(rows, strings.Join([]string{
			style.Width(colID).Render(truncate(r.ID, colID-1)),
			style.Width(colName).Render(truncate(r.Name, colName-1)),
			statusCell,
			style.Width(colDS).Render(truncate(r.DistSet, colDS-1)),
			style.Width(colTargets).Render(fmt.Sprint(r.Targets)),
			style.Width(colProgress).Render(truncate(r.Progress, colProgress-1)),
			style.Width(colErrors).Render(fmt.Sprint(r.Errors)),
		}, ""))
	}
	return strings.Join(rows, "\n")
}

// colWidth converts a fractional width into an integer column width, leaving a
// small gutter between columns.
func colWidth(totalWidth int, fraction float64) int {
	w := int(float64(totalWidth) * fraction)
	if w < 8 {
		w = 8
	}
	return w
}

// truncate shortens s to maxLen runes, appending "…" if truncation occurred.
func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}
