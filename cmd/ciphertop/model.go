package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const pollInterval = 2 * time.Second

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			Background(lipgloss.Color("235")).
			Padding(0, 2)

	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	statusOther   = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))

	tableStyle = lipgloss.NewStyle().
			Padding(1, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62"))

	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Padding(0, 2)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Padding(0, 2)
)

type snapshotMsg struct {
	servers listServersResponse
	tools   []catalogEntry
	err     error
}

// model is ciphertop's tea.Model: a read-only dashboard over one cipher
// instance's management surface.
type model struct {
	client  *apiClient
	spinner spinner.Model
	width   int
	height  int

	servers  listServersResponse
	tools    []catalogEntry
	lastErr  error
	lastPoll time.Time
}

func newModel(client *apiClient) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return model{client: client, spinner: s}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(spinner.Tick, m.poll())
}

func (m model) poll() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
		defer cancel()
		servers, tools, err := m.client.fleetSnapshot(ctx)
		return snapshotMsg{servers: servers, tools: tools, err: err}
	}
}

func (m model) pollAfterInterval() tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg {
		return m.poll()()
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			return m, m.poll()
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case snapshotMsg:
		m.lastPoll = time.Now()
		if msg.err != nil {
			m.lastErr = msg.err
		} else {
			m.lastErr = nil
			m.servers = msg.servers
			m.tools = msg.tools
		}
		return m, m.pollAfterInterval()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) View() string {
	var sections []string
	sections = append(sections, headerStyle.Width(max(m.width, 40)).Render("cipher fleet status"))
	sections = append(sections, m.renderServers())
	sections = append(sections, m.renderTools())
	if m.lastErr != nil {
		sections = append(sections, errorStyle.Render(fmt.Sprintf("%s poll failed: %v", m.spinner.View(), m.lastErr)))
	}
	sections = append(sections, footerStyle.Render(fmt.Sprintf("last poll %s · q to quit · r to refresh now", pollAge(m.lastPoll))))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func pollAge(t time.Time) string {
	if t.IsZero() {
		return "pending"
	}
	return time.Since(t).Round(time.Second).String() + " ago"
}

func (m model) renderServers() string {
	var b strings.Builder
	fmt.Fprintf(&b, "connections: %d running, %d failed, %d total\n\n",
		m.servers.TotalConnected, m.servers.TotalFailed, m.servers.TotalServers)

	servers := append([]serverSummary(nil), m.servers.Servers...)
	sort.Slice(servers, func(i, j int) bool { return servers[i].Name < servers[j].Name })

	if len(servers) == 0 {
		b.WriteString("(no connections configured)")
	}
	for _, s := range servers {
		fmt.Fprintf(&b, "%-24s %s\n", s.Name, styleState(s.State))
	}
	return tableStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func (m model) renderTools() string {
	var b strings.Builder
	fmt.Fprintf(&b, "tools: %d available\n\n", len(m.tools))

	tools := append([]catalogEntry(nil), m.tools...)
	sort.Slice(tools, func(i, j int) bool { return tools[i].Descriptor.Name < tools[j].Descriptor.Name })

	for _, t := range tools {
		origin := t.ServerID
		if origin == "" {
			origin = "internal"
		}
		fmt.Fprintf(&b, "%-28s %-12s %s\n", t.Descriptor.Name, origin, t.Descriptor.Description)
	}
	if len(tools) == 0 {
		b.WriteString("(no tools registered)")
	}
	return tableStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func styleState(state string) string {
	switch state {
	case "running":
		return statusRunning.Render(state)
	case "failed":
		return statusFailed.Render(state)
	default:
		return statusOther.Render(state)
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
