package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/motionlan/motion"
)

// nudgeStep is how far one arrow press moves a blind, in percent.
const nudgeStep = 5

// devicesKeyMap defines key bindings for the device table screen
type devicesKeyMap struct {
	Up      key.Binding
	Down    key.Binding
	Open    key.Binding
	Close   key.Binding
	Stop    key.Binding
	Nudge   key.Binding
	Refresh key.Binding
	Quit    key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k devicesKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Open, k.Close, k.Stop, k.Nudge, k.Refresh, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k devicesKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Open, k.Close},
		{k.Stop, k.Nudge, k.Refresh, k.Quit},
	}
}

// rowRef ties a table row back to the device (and rail) it renders.
type rowRef struct {
	mac   string
	motor motion.Motor
	tdbu  bool
}

// DevicesModel represents the device table screen state
type DevicesModel struct {
	Table  table.Model
	Bar    progress.Model
	Status string
	IsErr  bool

	sess *session
	refs []rowRef

	// UI state
	Width  int
	Height int
	Help   help.Model
	Keys   devicesKeyMap
}

// NewDevicesModel creates the device table over the session's gateway
func NewDevicesModel(sess *session) DevicesModel {
	columns := []table.Column{
		{Title: "NAME", Width: 20},
		{Title: "TYPE", Width: 16},
		{Title: "STATUS", Width: 12},
		{Title: "POS", Width: 5},
		{Title: "ANGLE", Width: 6},
		{Title: "BATT", Width: 6},
		{Title: "SIGNAL", Width: 7},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	st := table.DefaultStyles()
	st.Header = st.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(BorderColor).
		BorderBottom(true).
		Bold(true)
	st.Selected = st.Selected.
		Foreground(TextColor).
		Background(PrimaryColor).
		Bold(true)
	t.SetStyles(st)

	keys := devicesKeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Open: key.NewBinding(
			key.WithKeys("o"),
			key.WithHelp("o", "open"),
		),
		Close: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "close"),
		),
		Stop: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "stop"),
		),
		Nudge: key.NewBinding(
			key.WithKeys("left", "right"),
			key.WithHelp("←/→", "nudge"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("u"),
			key.WithHelp("u", "refresh"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "esc"),
			key.WithHelp("q", "quit"),
		),
	}

	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 30

	m := DevicesModel{
		Table: t,
		Bar:   bar,
		sess:  sess,
		Help:  help.New(),
		Keys:  keys,
	}
	m.reload()
	return m
}

// Resize adapts the table to the terminal. Header, gateway line,
// position bar, status line and footer take about eleven rows of chrome.
func (m *DevicesModel) Resize() {
	if m.Height == 0 {
		return
	}
	h := m.Height - 11
	if h < 4 {
		h = 4
	}
	m.Table.SetHeight(h)
}

// reload rebuilds the table rows from the gateway's cached state. Dual
// blinds get one row per rail so every motor can be driven directly.
func (m *DevicesModel) reload() {
	devices := m.sess.gw.Devices()

	macs := make([]string, 0, len(devices))
	for mac := range devices {
		macs = append(macs, mac)
	}
	sort.Strings(macs)

	var rows []table.Row
	var refs []rowRef
	for _, mac := range macs {
		switch d := devices[mac].(type) {
		case *motion.TopDownBottomUp:
			for _, r := range []struct {
				motor motion.Motor
				tag   string
			}{
				{motion.MotorTop, "top"},
				{motion.MotorBottom, "bottom"},
			} {
				rows = append(rows, table.Row{
					m.sess.name(mac) + " (" + r.tag + ")",
					d.BlindType().String(),
					statusCell(d, d.Status(r.motor)),
					optCell(d.Position(r.motor)),
					optCell(d.Angle(r.motor)),
					batteryCell(d.BatteryLevel(r.motor)),
					signalCell(d.RSSI()),
				})
				refs = append(refs, rowRef{mac: mac, motor: r.motor, tdbu: true})
			}
		case *motion.Blind:
			rows = append(rows, table.Row{
				m.sess.name(mac),
				d.BlindType().String(),
				statusCell(d, d.Status()),
				optCell(d.Position()),
				optCell(d.Angle()),
				batteryCell(d.BatteryLevel()),
				signalCell(d.RSSI()),
			})
			refs = append(refs, rowRef{mac: mac})
		}
	}

	cursor := m.Table.Cursor()
	m.Table.SetRows(rows)
	if cursor < len(rows) {
		m.Table.SetCursor(cursor)
	}
	m.refs = refs
}

// Update handles messages and updates the model
func (m DevicesModel) Update(msg tea.Msg) (DevicesModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc":
			return m, tea.Quit

		case "o":
			return m.command("open", func(ref rowRef) error {
				return m.operate(ref, motionOpen)
			})

		case "c":
			return m.command("close", func(ref rowRef) error {
				return m.operate(ref, motionClose)
			})

		case "s":
			return m.command("stop", func(ref rowRef) error {
				return m.operate(ref, motionStop)
			})

		case "left":
			return m.nudge(-nudgeStep)

		case "right":
			return m.nudge(nudgeStep)

		case "u":
			m.Status = "refreshing..."
			m.IsErr = false
			return m, refreshCmd(m.sess)
		}

	case statePushMsg:
		m.reload()
		return m, waitForPush(m.sess.pushes)

	case commandDoneMsg:
		m.reload()
		if msg.err != nil {
			m.Status = fmt.Sprintf("%s: %s", msg.label, motion.ShortMessage(msg.err))
			m.IsErr = true
		} else {
			m.Status = msg.label + ": ok"
			m.IsErr = false
		}
		return m, nil
	}

	m.Table, cmd = m.Table.Update(msg)
	return m, cmd
}

// operation selects one of the three basic motor commands.
type operation int

const (
	motionOpen operation = iota
	motionClose
	motionStop
)

// operate runs a basic command against the referenced device or rail.
func (m DevicesModel) operate(ref rowRef, op operation) error {
	dev, ok := m.sess.gw.Device(ref.mac)
	if !ok {
		return fmt.Errorf("device %s no longer known", ref.mac)
	}

	if t, isTDBU := dev.(*motion.TopDownBottomUp); isTDBU && ref.tdbu {
		switch op {
		case motionOpen:
			return t.OpenMotor(ref.motor)
		case motionClose:
			return t.CloseMotor(ref.motor)
		default:
			return t.StopMotor(ref.motor)
		}
	}

	switch op {
	case motionOpen:
		return dev.Open()
	case motionClose:
		return dev.Close()
	default:
		return dev.Stop()
	}
}

// command dispatches fn for the selected row as a background tea.Cmd.
func (m DevicesModel) command(label string, fn func(rowRef) error) (DevicesModel, tea.Cmd) {
	ref, ok := m.selectedRef()
	if !ok {
		return m, nil
	}
	m.Status = label + "..."
	m.IsErr = false
	return m, func() tea.Msg {
		return commandDoneMsg{label: label, err: fn(ref)}
	}
}

// nudge moves the selected blind by delta percent from its cached
// position. Blinds with an unknown position need a refresh first.
func (m DevicesModel) nudge(delta int) (DevicesModel, tea.Cmd) {
	ref, ok := m.selectedRef()
	if !ok {
		return m, nil
	}

	dev, found := m.sess.gw.Device(ref.mac)
	if !found {
		return m, nil
	}

	var current motion.Optional[int]
	switch d := dev.(type) {
	case *motion.TopDownBottomUp:
		current = d.Position(ref.motor)
	case *motion.Blind:
		current = d.Position()
	}

	pos, known := current.Value()
	if !known {
		m.Status = "position unknown, press 'u' to refresh"
		m.IsErr = true
		return m, nil
	}

	target := pos + delta
	if target < 0 {
		target = 0
	}
	if target > 100 {
		target = 100
	}
	if target == pos {
		return m, nil
	}

	label := fmt.Sprintf("position %d", target)
	m.Status = label + "..."
	m.IsErr = false
	return m, func() tea.Msg {
		d, ok := m.sess.gw.Device(ref.mac)
		if !ok {
			return commandDoneMsg{label: label, err: fmt.Errorf("device %s no longer known", ref.mac)}
		}
		var err error
		switch t := d.(type) {
		case *motion.TopDownBottomUp:
			err = t.SetPosition(target, ref.motor)
		case *motion.Blind:
			err = t.SetPosition(target)
		}
		return commandDoneMsg{label: label, err: err}
	}
}

func (m DevicesModel) selectedRef() (rowRef, bool) {
	i := m.Table.Cursor()
	if i < 0 || i >= len(m.refs) {
		return rowRef{}, false
	}
	return m.refs[i], true
}

// refreshCmd re-reads gateway state and every blind from the gateway
// cache.
func refreshCmd(s *session) tea.Cmd {
	return func() tea.Msg {
		if err := s.gw.Update(); err != nil {
			return commandDoneMsg{label: "refresh", err: err}
		}
		for _, dev := range s.gw.Devices() {
			if err := dev.UpdateFromCache(); err != nil {
				return commandDoneMsg{label: "refresh", err: err}
			}
		}
		return commandDoneMsg{label: "refresh"}
	}
}

// View renders the device table screen
func (m DevicesModel) View() string {
	var b strings.Builder

	b.WriteString(m.renderGatewayLine())
	b.WriteString("\n")
	b.WriteString(m.Table.View())
	b.WriteString("\n")
	b.WriteString(m.renderPositionBar())
	b.WriteString("\n")
	b.WriteString(m.renderStatusLine())

	helpText := m.Help.View(m.Keys)
	return RenderApplicationContainer(b.String(), helpText, m.Width, m.Height)
}

// renderGatewayLine summarizes the connected gateway above the table
func (m DevicesModel) renderGatewayLine() string {
	gw := m.sess.gw

	line := fmt.Sprintf("  Gateway %s  •  %s  •  FW %s  •  %d devices",
		gw.MAC(), gw.Status(), gw.FirmwareVersion(), gw.NumberOfDevices())
	if rssi, ok := gw.RSSI().Value(); ok {
		line += fmt.Sprintf("  •  %d dBm", rssi)
	}
	if !m.sess.listening {
		line += "  •  " + StatusWarnStyle.Render("no multicast, updates on demand")
	}

	return SubtitleStyle.Render(line)
}

// renderPositionBar draws the selected blind's position as a bar, 0%
// fully open to 100% fully closed. Hidden while the position is unknown.
func (m DevicesModel) renderPositionBar() string {
	ref, ok := m.selectedRef()
	if !ok {
		return ""
	}
	dev, found := m.sess.gw.Device(ref.mac)
	if !found {
		return ""
	}

	var current motion.Optional[int]
	switch d := dev.(type) {
	case *motion.TopDownBottomUp:
		current = d.Position(ref.motor)
	case *motion.Blind:
		current = d.Position()
	}

	pos, known := current.Value()
	if !known {
		return ""
	}

	return fmt.Sprintf("  %s %d%% closed", m.Bar.ViewAs(float64(pos)/100), pos)
}

// renderStatusLine shows the outcome of the last command
func (m DevicesModel) renderStatusLine() string {
	if m.Status == "" {
		return ""
	}
	if m.IsErr {
		return "  " + StatusErrStyle.Render(m.Status)
	}
	return "  " + StatusOKStyle.Render(m.Status)
}

// Cell formatters. Unknown values render as a dash.

func optCell(v motion.Optional[int]) string {
	if n, ok := v.Value(); ok {
		return fmt.Sprintf("%d", n)
	}
	return "-"
}

func batteryCell(v motion.Optional[float64]) string {
	if pct, ok := v.Value(); ok {
		return fmt.Sprintf("%.0f%%", pct)
	}
	return "-"
}

func signalCell(v motion.Optional[int]) string {
	if rssi, ok := v.Value(); ok {
		return fmt.Sprintf("%d", rssi)
	}
	return "-"
}

func statusCell(dev motion.Device, status motion.BlindStatus) string {
	if !dev.Available() {
		return "offline"
	}
	return StatusSymbol(status)
}
