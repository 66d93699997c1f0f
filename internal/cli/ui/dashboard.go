package ui

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/vanities/hytale-server-manager-sub001/internal/app"
	"github.com/vanities/hytale-server-manager-sub001/internal/domain"
)

type serverRow struct {
	server domain.Server
	status domain.Status
	snap   *domain.StatusSnapshot
	sample *domain.Metrics
}

type model struct {
	table     table.Model
	rows      []serverRow
	err       error
	width     int
	height    int
	isLoading bool
	message   string
	container *app.Container
}

type serverDataMsg []serverRow

type errMsg error

// RunDashboard shows the live fleet table and returns the id of the
// server whose logs the operator asked for, or "" on quit.
func RunDashboard(container *app.Container) string {
	columns := []table.Column{
		{Title: "Sts", Width: 3},
		{Title: "ID", Width: 8},
		{Title: "Name", Width: 20},
		{Title: "Port", Width: 6},
		{Title: "Ver", Width: 8},
		{Title: "Players", Width: 8},
		{Title: "CPU", Width: 8},
		{Title: "RAM", Width: 10},
		{Title: "Uptime", Width: 10},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	m := model{
		table:     t,
		isLoading: true,
		container: container,
	}

	program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithInput(os.Stdin), tea.WithOutput(os.Stdout))
	finalModel, err := program.Run()
	if err != nil {
		fmt.Printf("Error running dashboard: %v", err)
		os.Exit(1)
	}

	if m, ok := finalModel.(model); ok && m.message == "navigate_logs" {
		selectedRow := m.table.SelectedRow()
		if len(selectedRow) > 1 {
			return m.fullID(selectedRow[1])
		}
	}
	return ""
}

// fullID maps a truncated table cell back to the server id.
func (m model) fullID(short string) string {
	for _, r := range m.rows {
		if len(r.server.ID) >= len(short) && r.server.ID[:len(short)] == short {
			return r.server.ID
		}
	}
	return short
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		fetchDataCmd(m.container),
		tickCmd(),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "s":
			if id := m.selectedID(); id != "" {
				status := m.statusOf(id)
				if status == domain.StatusRunning || status == domain.StatusStarting {
					m.message = fmt.Sprintf("Server %s is already %s", id, status)
				} else {
					go m.container.Fleet.Start(id)
					m.message = fmt.Sprintf("Starting server %s...", id)
				}
				return m, clearMessageCmd()
			}
		case "x":
			if id := m.selectedID(); id != "" {
				status := m.statusOf(id)
				if status != domain.StatusRunning && status != domain.StatusStarting {
					m.message = fmt.Sprintf("Server %s is not running (status: %s)", id, status)
				} else {
					go m.container.Fleet.Stop(id)
					m.message = fmt.Sprintf("Stopping server %s...", id)
				}
				return m, clearMessageCmd()
			}
		case "enter":
			m.message = "navigate_logs"
			return m, tea.Quit
		}
	case string:
		if msg == "clear_message" {
			m.message = ""
			return m, nil
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(msg.Width - 10)
		m.table.SetHeight(msg.Height - 10)
	case serverDataMsg:
		m.isLoading = false
		m.rows = msg
		m.updateTable()
		return m, nil
	case tickMsg:
		return m, tea.Batch(fetchDataCmd(m.container), tickCmd())
	case errMsg:
		m.err = msg
		return m, nil
	}

	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m model) selectedID() string {
	selectedRow := m.table.SelectedRow()
	if len(selectedRow) > 1 {
		return m.fullID(selectedRow[1])
	}
	return ""
}

func (m model) statusOf(id string) domain.Status {
	for _, r := range m.rows {
		if r.server.ID == id {
			return r.status
		}
	}
	return domain.StatusUnknown
}

func clearMessageCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return "clear_message"
	})
}

func statusIcon(status domain.Status) string {
	switch status {
	case domain.StatusRunning:
		return "🟢"
	case domain.StatusStarting:
		return "🟡"
	case domain.StatusStopping:
		return "🟠"
	case domain.StatusCrashed:
		return "💥"
	case domain.StatusOrphaned:
		return "🔵"
	default:
		return "🔴"
	}
}

func (m *model) updateTable() {
	rows := []table.Row{}
	for _, r := range m.rows {
		players := "-"
		cpu := "-"
		ram := "-"
		uptime := "-"
		if r.snap != nil {
			players = fmt.Sprintf("%d/%d", r.snap.Players, r.server.MaxPlayers)
			if r.snap.Uptime > 0 {
				uptime = r.snap.Uptime.Round(time.Second).String()
			}
		}
		if r.sample != nil && r.status == domain.StatusRunning {
			cpu = fmt.Sprintf("%.1f%%", r.sample.CPUPercent)
			ram = humanize.Bytes(r.sample.MemoryBytes)
		}

		rows = append(rows, table.Row{
			statusIcon(r.status),
			r.server.ID[:8],
			r.server.Name,
			fmt.Sprintf("%d", r.server.Port),
			r.server.Version,
			players,
			cpu,
			ram,
			uptime,
		})
	}
	m.table.SetRows(rows)
}

func (m model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	title := headerStyle.Render("HYTALE SERVER MANAGER")
	clock := subHeaderStyle.Render(time.Now().Format("Mon Jan 2 15:04:05"))

	hostInfo := fmt.Sprintf("Servers: %d", len(m.rows))
	headerBox := baseStyle.
		Width(m.width-4).
		Align(lipgloss.Center).
		Padding(0, 1).
		Render(lipgloss.JoinVertical(lipgloss.Center, title, clock, " ", hostInfo))

	tableContainer := baseStyle.
		Width(m.width - 4).
		Height(m.height - 12).
		Render(m.table.View())

	statusLine := "↑/↓: navigate • s: start • x: stop • enter: logs • q: quit"
	footerText := lipgloss.NewStyle().
		MarginLeft(2).
		Foreground(lipgloss.Color("240")).
		Render(statusLine)

	if m.message != "" && m.message != "navigate_logs" {
		footerText = fmt.Sprintf("%s\n%s",
			lipgloss.NewStyle().MarginLeft(2).Foreground(lipgloss.Color("205")).Bold(true).Render(m.message),
			footerText)
	}

	return lipgloss.JoinVertical(lipgloss.Center,
		headerBox,
		tableContainer,
		footerText,
	)
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchDataCmd(container *app.Container) tea.Cmd {
	return func() tea.Msg {
		servers, err := container.Fleet.ListServers()
		if err != nil {
			return errMsg(err)
		}

		rows := make([]serverRow, 0, len(servers))
		for _, s := range servers {
			row := serverRow{server: s, status: s.Status}
			if snap, serr := container.Fleet.Status(s.ID); serr == nil {
				row.snap = snap
				row.status = snap.Status
			}
			if row.status == domain.StatusRunning {
				// Metrics failures just leave the columns blank.
				if sample, merr := container.Fleet.Metrics(s.ID); merr == nil {
					row.sample = sample
				}
			}
			rows = append(rows, row)
		}
		return serverDataMsg(rows)
	}
}
