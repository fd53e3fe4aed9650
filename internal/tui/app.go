package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/muurk/motionlan/internal/logging"
	"github.com/muurk/motionlan/motion"
)

// Screen represents the current active screen in the application
type Screen string

const (
	ScreenConnect Screen = "connect"
	ScreenDevices Screen = "devices"
)

// Options configures a dashboard session.
type Options struct {
	// IP and Key identify the gateway to connect to.
	IP  string
	Key string

	// Interface is the network interface for the multicast listener
	// ("" listens on all interfaces). Listener failures degrade the
	// dashboard to poll-only rather than aborting it.
	Interface string

	// Names maps lowercase device MACs to user-assigned nicknames from
	// the local registry. Unnamed devices display their MAC.
	Names map[string]string

	// GatewayOptions is appended to the gateway constructor call.
	GatewayOptions []motion.GatewayOption
}

// Messages for async operations
type connectedMsg struct {
	err error
}

type statePushMsg struct{}

type commandDoneMsg struct {
	label string
	err   error
}

// session carries the radio-facing state shared by both screens. It lives
// behind a pointer so Update's value-copied models all see the same
// gateway and wiring.
type session struct {
	gw        *motion.Gateway
	listener  *motion.EventListener
	iface     string
	names     map[string]string
	pushes    chan struct{}
	wired     bool
	listening bool
}

// connect bootstraps the gateway and starts the push listener. Run from
// a tea.Cmd; never from Update.
func (s *session) connect() error {
	if _, err := s.gw.QueryDeviceList(); err != nil {
		return err
	}
	if err := s.gw.Update(); err != nil {
		return err
	}
	for _, dev := range s.gw.Devices() {
		if err := dev.UpdateFromCache(); err != nil {
			return err
		}
	}
	s.startListener()
	s.wireCallbacks()
	return nil
}

// startListener is best-effort: multicast may be unavailable on the
// host, and the dashboard still works from command acks and refreshes.
func (s *session) startListener() {
	if s.listening {
		return
	}
	l := motion.NewEventListener(s.iface, logging.GetLogger())
	if err := l.StartListen(); err != nil {
		return
	}
	s.listener = l
	s.gw.AttachListener(l)
	s.listening = true
}

// wireCallbacks subscribes the UI to every state merge. Sends coalesce
// into a one-slot channel; the dashboard redraws from cached state, so
// dropped wakeups cost nothing.
func (s *session) wireCallbacks() {
	if s.wired {
		return
	}
	notify := func() {
		select {
		case s.pushes <- struct{}{}:
		default:
		}
	}
	s.gw.RegisterCallback(uuid.NewString(), notify)
	for _, dev := range s.gw.Devices() {
		dev.RegisterCallback(uuid.NewString(), notify)
	}
	s.wired = true
}

// shutdown detaches the listener and drops all callbacks. Called after
// the program exits, not from Update.
func (s *session) shutdown() {
	s.gw.ClearCallbacks()
	for _, dev := range s.gw.Devices() {
		dev.ClearCallbacks()
	}
	if s.listening {
		s.gw.DetachListener()
		s.listener.StopListen()
		s.listening = false
	}
}

func (s *session) name(mac string) string {
	if n, ok := s.names[mac]; ok && n != "" {
		return n
	}
	return mac
}

// waitForPush blocks until a state merge wakes the UI. Re-issued after
// every statePushMsg.
func waitForPush(ch chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return statePushMsg{}
	}
}

// AppModel is the top-level coordinator model that manages screen transitions
type AppModel struct {
	// Current screen state
	CurrentScreen Screen

	// Screen models
	ConnectModel ConnectModel
	DevicesModel DevicesModel

	sess *session

	// UI state
	Width  int
	Height int
}

// NewAppModel creates a new application model connecting to one gateway.
func NewAppModel(opts Options) (AppModel, error) {
	gwOpts := []motion.GatewayOption{
		motion.WithLogger(logging.GetLogger()),
	}
	gwOpts = append(gwOpts, opts.GatewayOptions...)

	gw, err := motion.NewGateway(opts.IP, opts.Key, gwOpts...)
	if err != nil {
		return AppModel{}, err
	}

	sess := &session{
		gw:     gw,
		iface:  opts.Interface,
		names:  opts.Names,
		pushes: make(chan struct{}, 1),
	}

	return AppModel{
		CurrentScreen: ScreenConnect,
		ConnectModel:  NewConnectModel(opts.IP),
		sess:          sess,
	}, nil
}

// Init initializes the application
func (m AppModel) Init() tea.Cmd {
	return tea.Batch(connectCmd(m.sess), m.ConnectModel.Init())
}

// connectCmd bootstraps the gateway off the UI goroutine.
func connectCmd(s *session) tea.Cmd {
	return func() tea.Msg {
		return connectedMsg{err: s.connect()}
	}
}

// Update handles all messages and routes them to the appropriate screen
func (m AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		// Propagate to all screens
		m.ConnectModel.Width = msg.Width
		m.ConnectModel.Height = msg.Height
		m.DevicesModel.Width = msg.Width
		m.DevicesModel.Height = msg.Height
		m.DevicesModel.Resize()
		return m, nil

	case tea.KeyMsg:
		// Global quit handler
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

	case connectedMsg:
		if msg.err != nil {
			m.ConnectModel.Err = msg.err
			m.ConnectModel.Connecting = false
			return m, nil
		}
		return m.showDevices()
	}

	return m.updateCurrentScreen(msg)
}

// updateCurrentScreen routes updates to the currently active screen
func (m AppModel) updateCurrentScreen(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.CurrentScreen {
	case ScreenConnect:
		updated, c := m.ConnectModel.Update(msg, m.sess)
		m.ConnectModel = updated
		cmd = c

	case ScreenDevices:
		updated, c := m.DevicesModel.Update(msg)
		m.DevicesModel = updated
		cmd = c
	}

	return m, cmd
}

// showDevices transitions from the connect screen to the device table.
func (m AppModel) showDevices() (tea.Model, tea.Cmd) {
	m.CurrentScreen = ScreenDevices
	m.DevicesModel = NewDevicesModel(m.sess)
	m.DevicesModel.Width = m.Width
	m.DevicesModel.Height = m.Height
	m.DevicesModel.Resize()
	return m, waitForPush(m.sess.pushes)
}

// Shutdown releases the session's radio resources. Call once after the
// program returns.
func (m AppModel) Shutdown() {
	m.sess.shutdown()
}

// View renders the current screen
func (m AppModel) View() string {
	switch m.CurrentScreen {
	case ScreenConnect:
		return m.ConnectModel.View()
	case ScreenDevices:
		return m.DevicesModel.View()
	default:
		return "Unknown screen"
	}
}
