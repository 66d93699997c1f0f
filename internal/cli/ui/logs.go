package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vanities/hytale-server-manager-sub001/internal/app"
	"github.com/vanities/hytale-server-manager-sub001/internal/domain"
)

type logLineMsg domain.LogLine

type commandResultMsg struct {
	result *domain.CommandResult
	err    error
}

type logsModel struct {
	container  *app.Container
	serverID   string
	serverName string

	viewport viewport.Model
	input    textinput.Model
	lines    []string
	incoming chan domain.LogLine
	cancel   func()

	width  int
	height int
	ready  bool
	back   bool
	notice string
}

// RunLogs streams a server's console and accepts commands. It returns
// true when the operator wants to go back to the dashboard rather than
// quit outright.
func RunLogs(container *app.Container, serverID string) bool {
	name := serverID
	if srv, err := container.Fleet.GetServer(serverID); err == nil {
		name = srv.Name
	}

	input := textinput.New()
	input.Placeholder = "Type a command and press Enter"
	input.Focus()
	input.CharLimit = 256

	m := &logsModel{
		container:  container,
		serverID:   serverID,
		serverName: name,
		input:      input,
		incoming:   make(chan domain.LogLine, 256),
	}

	history, cancel, err := container.Fleet.SubscribeLogs(serverID, func(line domain.LogLine) {
		select {
		case m.incoming <- line:
		default:
		}
	})
	if err != nil {
		fmt.Printf("Error subscribing to logs: %v\n", err)
		return true
	}
	m.cancel = cancel
	for _, line := range history {
		m.lines = append(m.lines, formatLogLine(line))
	}

	program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithInput(os.Stdin), tea.WithOutput(os.Stdout))
	finalModel, err := program.Run()
	cancel()
	if err != nil {
		fmt.Printf("Error running console view: %v", err)
		os.Exit(1)
	}

	if lm, ok := finalModel.(*logsModel); ok {
		return lm.back
	}
	return false
}

func (m *logsModel) Init() tea.Cmd {
	return m.waitForLine()
}

func (m *logsModel) waitForLine() tea.Cmd {
	return func() tea.Msg {
		return logLineMsg(<-m.incoming)
	}
}

func formatLogLine(line domain.LogLine) string {
	ts := line.Time.Format("15:04:05")
	switch line.Level {
	case domain.LevelError:
		return fmt.Sprintf("%s %s", ts, lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render(line.Text))
	case domain.LevelWarn:
		return fmt.Sprintf("%s %s", ts, lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Render(line.Text))
	default:
		return fmt.Sprintf("%s %s", ts, line.Text)
	}
}

func (m *logsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if !m.input.Focused() || msg.String() == "ctrl+c" {
				return m, tea.Quit
			}
		case "esc":
			m.back = true
			return m, tea.Quit
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text != "" {
				m.input.Reset()
				return m, m.sendCommand(text)
			}
			return m, nil
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		headerHeight := 3
		footerHeight := 4
		if !m.ready {
			m.viewport = viewport.New(msg.Width-4, msg.Height-headerHeight-footerHeight)
			m.viewport.SetContent(strings.Join(m.lines, "\n"))
			m.viewport.GotoBottom()
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 4
			m.viewport.Height = msg.Height - headerHeight - footerHeight
		}
	case logLineMsg:
		m.lines = append(m.lines, formatLogLine(domain.LogLine(msg)))
		if len(m.lines) > 2000 {
			m.lines = m.lines[len(m.lines)-2000:]
		}
		atBottom := m.viewport.AtBottom()
		m.viewport.SetContent(strings.Join(m.lines, "\n"))
		if atBottom {
			m.viewport.GotoBottom()
		}
		cmds = append(cmds, m.waitForLine())
	case commandResultMsg:
		if msg.err != nil {
			m.notice = fmt.Sprintf("command failed: %v", msg.err)
		} else if !msg.result.Success {
			m.notice = msg.result.Message
		} else {
			m.notice = ""
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *logsModel) sendCommand(text string) tea.Cmd {
	return func() tea.Msg {
		res, err := m.container.Fleet.SendCommand(m.serverID, text)
		return commandResultMsg{result: res, err: err}
	}
}

func (m *logsModel) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := headerStyle.Width(m.width - 2).Render(fmt.Sprintf("CONSOLE — %s", m.serverName))

	footer := m.input.View()
	if m.notice != "" {
		footer = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Render(m.notice) + "\n" + footer
	}
	help := descStyle.Render("enter: send • esc: back • ctrl+c: quit")

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		footer,
		help,
	)
}
