package tui

import (
	"strings"
)

// EventRow is a single row in the Events dashboard table.
type EventRow struct {
	Time     string
	Type     string
	Resource string
	Message  string
}

// renderEvents renders the Events tab content, newest first.
func renderEvents(events []EventRow, width int) string {
	if len(events) == 0 {
		return dimStyle.Render("  No events yet.")
	}

	colTime := colWidth(width, 0.12)
	colType := colWidth(width, 0.24)
	colResource := colWidth(width, 0.28)
	colMessage := colWidth(width, 0.34)

	header := strings.Join([]string{
		headerCellStyle.Width(colTime).Render("TIME"),
		headerCellStyle.Width(colType).Render("EVENT"),
		headerCellStyle.Width(colResource).Render("RESOURCE"),
		headerCellStyle.Width(colMessage).Render("MESSAGE"),
	}, "")

	rows := []string{header}
	for i, e := range events {
		style := rowStyle
		if i%2 == 0 {
			style = altRowStyle
		}
		rows = append(rows, strings.Join([]string{
			style.Width(colTime).Render(e.Time),
			style.Width(colType).Render(truncate(e.Type, colType-1)),
			style.Width(colResource).Render(truncate(e.Resource, colResource-1)),
			style.Width(colMessage).Render(truncate(e.Message, colMessage-1)),
		}, ""))
	}
	return strings.Join(rows, "\n")
}
