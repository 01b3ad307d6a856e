// Package tui provides the interactive terminal dashboard for rolloutctl.
// It is built on the bubbletea/lipgloss stack and renders three tabs:
// Rollouts, Targets, and Events. Data is refreshed every 2 seconds through
// the rollout API client.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
	"github.com/strand-protocol/strand/rollout-cloud/rolloutctl/pkg/api"
)

// ---------------------------------------------------------------------------
// Shared styles
// ---------------------------------------------------------------------------

var (
	// titleStyle renders the application title bar.
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("57")).
			Padding(0, 1)

	// activeTabStyle renders the currently selected tab label.
	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("57")).
			Padding(0, 2)

	// inactiveTabStyle renders unselected tab labels.
	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240")).
				Padding(0, 2)

	// headerCellStyle is used for table column headers.
	headerCellStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			PaddingRight(1)

	// rowStyle is used for odd-numbered table rows.
	rowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			PaddingRight(1)

	// altRowStyle is used for even-numbered table rows (zebra striping).
	altRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Background(lipgloss.Color("236")).
			PaddingRight(1)

	// dimStyle is used for "no data" messages.
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)

	// statusBarStyle renders the bottom status bar.
	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			PaddingLeft(1)

	// errorStyle renders error messages.
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")).
			Bold(true).
			PaddingLeft(1)
)

// ---------------------------------------------------------------------------
// Tab type
// ---------------------------------------------------------------------------

// tab identifies the currently active dashboard tab.
type tab int

const (
	tabRollouts tab = iota
	tabTargets
	tabEvents
	tabCount // sentinel, must stay last
)

// ---------------------------------------------------------------------------
// Tea messages
// ---------------------------------------------------------------------------

// tickMsg is sent every refreshInterval to trigger a data refresh.
type tickMsg time.Time

// dataMsg carries a freshly fetched dataset.
type dataMsg struct {
	rollouts []RolloutRow
	targets  []TargetRow
	events   []EventRow
}

// errMsg carries a fetch or decode error to display in the status bar.
type errMsg error

// ---------------------------------------------------------------------------
// Model
// ---------------------------------------------------------------------------

const (
	refreshInterval = 2 * time.Second
	fetchTimeout    = 5 * time.Second

	// detailLimit caps the rollouts whose target counts are fetched per
	// refresh.
	detailLimit = 20
	maxTargets  = 200
	maxEvents   = 100
)

// Model is the top-level bubbletea model for the dashboard.
type Model struct {
	tabs      []string
	activeTab tab
	rollouts  []RolloutRow
	targets   []TargetRow
	events    []EventRow
	client    api.APIClient
	serverURL string
	width     int
	height    int
	err       error
	loading   bool
	lastFetch time.Time
}

// New returns a Model that reads through client. serverURL is only shown
// in the status bar.
func New(client api.APIClient, serverURL string) Model {
	return Model{
		tabs:      []string{"Rollouts", "Targets", "Events"},
		client:    client,
		serverURL: serverURL,
		loading:   true,
	}
}

// Init starts the periodic tick and issues the first data fetch.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(), fetchData(m.client))
}

// tick schedules a tickMsg after refreshInterval.
func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update processes messages and returns an updated model plus any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab", "right", "l":
			m.activeTab = (m.activeTab + 1) % tabCount
		case "shift+tab", "left", "h":
			m.activeTab = (m.activeTab - 1 + tabCount) % tabCount
		case "1":
			m.activeTab = tabRollouts
		case "2":
			m.activeTab = tabTargets
		case "3":
			m.activeTab = tabEvents
		case "r":
			// Manual refresh
			m.loading = true
			m.err = nil
			return m, fetchData(m.client)
		}
		return m, nil

	case tickMsg:
		m.loading = true
		return m, tea.Batch(tick(), fetchData(m.client))

	case dataMsg:
		m.loading = false
		m.err = nil
		m.rollouts = msg.rollouts
		m.targets = msg.targets
		m.events = msg.events
		m.lastFetch = time.Now()
		return m, nil

	case errMsg:
		m.loading = false
		m.err = msg
		return m, nil
	}
	return m, nil
}

// View renders the entire dashboard to a string.
func (m Model) View() string {
	if m.width == 0 {
		return "Loading…"
	}

	var sb strings.Builder

	// --- Title bar ---
	sb.WriteString(titleStyle.Render("  Rollout Dashboard  "))
	sb.WriteString("\n")

	// --- Tab bar ---
	var tabParts []string
	for i, name := range m.tabs {
		label := fmt.Sprintf(" %d: %s ", i+1, name)
		if tab(i) == m.activeTab {
			tabParts = append(tabParts, activeTabStyle.Render(label))
		} else {
			tabParts = append(tabParts, inactiveTabStyle.Render(label))
		}
	}
	sb.WriteString(strings.Join(tabParts, ""))
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("─", m.width))
	sb.WriteString("\n")

	// --- Content area ---
	contentHeight := m.height - 5 // title(1) + tabs(1) + divider(1) + status(2)
	if contentHeight < 1 {
		contentHeight = 1
	}
	sb.WriteString(clipLines(m.renderActiveTab(), contentHeight))
	sb.WriteString("\n")

	// --- Status bar ---
	sb.WriteString(strings.Repeat("─", m.width))
	sb.WriteString("\n")
	sb.WriteString(m.renderStatus())

	return sb.String()
}

// renderActiveTab renders the content of the currently selected tab.
func (m Model) renderActiveTab() string {
	w := m.width - 2 // leave a small margin
	switch m.activeTab {
	case tabRollouts:
		return renderRollouts(m.rollouts, w)
	case tabTargets:
		return renderTargets(m.targets, w)
	case tabEvents:
		return renderEvents(m.events, w)
	default:
		return ""
	}
}

// renderStatus renders the bottom status bar line.
func (m Model) renderStatus() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v", m.err))
	}

	parts := []string{
		fmt.Sprintf("server: %s", m.serverURL),
	}
	if !m.lastFetch.IsZero() {
		parts = append(parts, fmt.Sprintf("last refresh: %s", m.lastFetch.Format("15:04:05")))
	}
	if m.loading {
		parts = append(parts, "refreshing…")
	}
	parts = append(parts, "q: quit  tab: next tab  r: refresh")

	return statusBarStyle.Render(strings.Join(parts, "  |  "))
}

// clipLines limits the string s to at most maxLines newline-delimited lines.
func clipLines(s string, maxLines int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= maxLines {
		return s
	}
	return strings.Join(lines[:maxLines], "\n")
}

// ---------------------------------------------------------------------------
// Data fetching
// ---------------------------------------------------------------------------

// fetchData loads all three tabs concurrently and returns a dataMsg, or an
// errMsg if any request fails.
func fetchData(client api.APIClient) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		var msg dataMsg
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			msg.rollouts, err = fetchRollouts(gctx, client)
			return err
		})
		g.Go(func() (err error) {
			msg.targets, err = fetchTargets(gctx, client)
			return err
		})
		g.Go(func() (err error) {
			msg.events, err = fetchEvents(gctx, client)
			return err
		})
		if err := g.Wait(); err != nil {
			return errMsg(err)
		}
		return msg
	}
}

// fetchRollouts lists rollouts and adds target counts for the first
// detailLimit of them.
func fetchRollouts(ctx context.Context, client api.APIClient) ([]RolloutRow, error) {
	rollouts, err := client.ListRollouts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rollouts: %w", err)
	}
	rows := make([]RolloutRow, 0, len(rollouts))
	for i, r := range rollouts {
		row := RolloutRow{
			ID:       r.ID,
			Name:     r.Name,
			Status:   string(r.Status),
			DistSet:  r.DistributionSetID,
			Targets:  r.TotalTargets,
			Progress: "-",
		}
		if i < detailLimit && r.Status != model.RolloutCreating {
			d, err := client.GetRollout(ctx, r.ID)
			if err != nil && !api.IsNotFound(err) {
				return nil, fmt.Errorf("get rollout %s: %w", r.ID, err)
			}
			if d != nil {
				c := d.TotalTargetsPerStatus
				row.Progress = fmt.Sprintf("%d/%d", c.Finished, c.Total)
				row.Errors = c.Error
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func fetchTargets(ctx context.Context, client api.APIClient) ([]TargetRow, error) {
	targets, err := client.ListTargets(ctx, "", model.Page{Limit: maxTargets})
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	rows := make([]TargetRow, 0, len(targets))
	for _, t := range targets {
		contact := "never"
		if t.LastContact != nil {
			contact = t.LastContact.Local().Format("15:04:05")
		}
		rows = append(rows, TargetRow{
			ID:          t.ID,
			Status:      string(t.UpdateStatus),
			Installed:   t.InstalledDS,
			Assigned:    t.AssignedDS,
			LastContact: contact,
		})
	}
	return rows, nil
}

func fetchEvents(ctx context.Context, client api.APIClient) ([]EventRow, error) {
	events, err := client.ListEvents(ctx, maxEvents)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	rows := make([]EventRow, 0, len(events))
	for _, e := range events {
		rows = append(rows, EventRow{
			Time:     e.CreatedAt.Local().Format("15:04:05"),
			Type:     e.Type,
			Resource: e.ResourceType + "/" + e.ResourceID,
			Message:  e.Message,
		})
	}
	return rows, nil
}
