package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// connectKeyMap defines key bindings for the connect screen
type connectKeyMap struct {
	Retry key.Binding
	Quit  key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k connectKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Retry, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k connectKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Retry, k.Quit},
	}
}

// ConnectModel represents the gateway connect screen state
type ConnectModel struct {
	IP         string
	Connecting bool
	Err        error
	StartTime  time.Time

	// UI state
	Width   int
	Height  int
	Spinner spinner.Model
	Help    help.Model
	Keys    connectKeyMap
}

// NewConnectModel creates a new connect screen model
func NewConnectModel(ip string) ConnectModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	keys := connectKeyMap{
		Retry: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "retry"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "esc"),
			key.WithHelp("q", "quit"),
		),
	}

	return ConnectModel{
		IP:         ip,
		Connecting: true,
		StartTime:  time.Now(),
		Spinner:    s,
		Help:       help.New(),
		Keys:       keys,
	}
}

// Init initializes the connect model
func (m ConnectModel) Init() tea.Cmd {
	return m.Spinner.Tick
}

// Update handles messages and updates the model
func (m ConnectModel) Update(msg tea.Msg, sess *session) (ConnectModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc":
			return m, tea.Quit

		case "r":
			if m.Err != nil {
				m.Err = nil
				m.Connecting = true
				m.StartTime = time.Now()
				return m, tea.Batch(connectCmd(sess), m.Spinner.Tick)
			}
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the connect screen
func (m ConnectModel) View() string {
	width := m.Width
	if width == 0 {
		width = MinTerminalWidth
	}

	var content string
	if m.Err != nil {
		content = m.renderError()
	} else {
		content = m.renderConnecting(width)
	}

	helpText := m.Help.View(m.Keys)
	return RenderApplicationContainer(content, helpText, m.Width, m.Height)
}

// renderConnecting renders a centered progress display while the gateway
// bootstrap runs
func (m ConnectModel) renderConnecting(width int) string {
	elapsed := int(time.Since(m.StartTime).Seconds())

	title := fmt.Sprintf("%s CONNECTING TO GATEWAY", m.Spinner.View())
	subtitle := fmt.Sprintf("Reading device list from %s...", m.IP)
	elapsedText := fmt.Sprintf("Elapsed: %ds", elapsed)

	content := lipgloss.JoinVertical(lipgloss.Center,
		"",
		TitleStyle.Render(title),
		"",
		SubtitleStyle.Render(subtitle),
		"",
		SubtitleStyle.Render(elapsedText),
		"",
	)

	return lipgloss.Place(width, 0, lipgloss.Center, lipgloss.Top, content)
}

// renderError renders the bootstrap failure with troubleshooting hints
func (m ConnectModel) renderError() string {
	var content string

	content += "\n"
	content += RenderError(fmt.Sprintf("Connection failed: %v", m.Err))
	content += "\n\n"
	content += "  Troubleshooting:\n"
	content += "    • Check the gateway IP address\n"
	content += "    • Verify the 16-character key from the vendor app\n"
	content += "    • Make sure this host is on the gateway's network\n"
	content += "    • Press 'r' to retry\n"

	return content
}
