package tui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/muurk/motionlan/internal/simulator"
	"github.com/muurk/motionlan/motion"
	"github.com/muurk/motionlan/protocol"
)

const (
	testBlindMAC = "1111aaaa2222"
	testTDBUMAC  = "3333bbbb4444"
)

// redirectTransport sends every exchange to a fixed address, so gateways
// built for the standard command port reach a simulator bound to an
// ephemeral one.
type redirectTransport struct {
	addr string
}

func (r redirectTransport) Exchange(_ string, request []byte, timeout time.Duration) ([]byte, error) {
	return motion.UDPTransport{}.Exchange(r.addr, request, timeout)
}

func startSim(t *testing.T) *simulator.Simulator {
	t.Helper()

	sim, err := simulator.New(&simulator.Config{
		Listen:   "127.0.0.1",
		Port:     0,
		LogLevel: "error",
		Devices: []simulator.DeviceConfig{
			{MAC: testBlindMAC, DeviceType: protocol.DeviceTypeBlind, BatteryVolts: 12.2},
			{MAC: testTDBUMAC, DeviceType: protocol.DeviceTypeTDBU},
		},
	})
	if err != nil {
		t.Fatalf("simulator.New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := sim.Run(ctx); err != nil {
			t.Errorf("simulator Run() error = %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return sim
}

// connectedApp builds an AppModel against sim and runs the bootstrap
// synchronously, landing on the device table.
func connectedApp(t *testing.T, sim *simulator.Simulator) AppModel {
	t.Helper()

	app, err := NewAppModel(Options{
		IP:    "127.0.0.1",
		Key:   simulator.DefaultKey,
		Names: map[string]string{testBlindMAC: "Kitchen"},
		GatewayOptions: []motion.GatewayOption{
			motion.WithTransport(redirectTransport{addr: sim.Addr()}),
			motion.WithTimeout(2 * time.Second),
		},
	})
	if err != nil {
		t.Fatalf("NewAppModel() error = %v", err)
	}
	t.Cleanup(app.Shutdown)

	if err := app.sess.connect(); err != nil {
		t.Fatalf("connect() error = %v", err)
	}

	app.Width = 100
	app.Height = 30
	next, _ := app.showDevices()
	return next.(AppModel)
}

func keyMsg(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestNewAppModelRejectsBadKey(t *testing.T) {
	_, err := NewAppModel(Options{IP: "127.0.0.1", Key: "not-a-key"})
	if err == nil {
		t.Fatalf("NewAppModel() error = nil, want key validation error")
	}
}

func TestConnectFailureShowsErrorAndRetries(t *testing.T) {
	app, err := NewAppModel(Options{IP: "127.0.0.1", Key: simulator.DefaultKey})
	if err != nil {
		t.Fatalf("NewAppModel() error = %v", err)
	}

	next, _ := app.Update(connectedMsg{err: errors.New("no route")})
	app = next.(AppModel)

	if app.CurrentScreen != ScreenConnect {
		t.Errorf("CurrentScreen = %q, want %q", app.CurrentScreen, ScreenConnect)
	}
	if app.ConnectModel.Err == nil {
		t.Fatalf("ConnectModel.Err = nil, want error")
	}
	if app.ConnectModel.Connecting {
		t.Errorf("Connecting = true, want false after failure")
	}

	next, cmd := app.Update(keyMsg('r'))
	app = next.(AppModel)
	if !app.ConnectModel.Connecting {
		t.Errorf("Connecting = false after retry, want true")
	}
	if cmd == nil {
		t.Errorf("retry produced no command")
	}
}

func TestDeviceTableRowsAndNames(t *testing.T) {
	sim := startSim(t)
	app := connectedApp(t, sim)

	if app.CurrentScreen != ScreenDevices {
		t.Fatalf("CurrentScreen = %q, want %q", app.CurrentScreen, ScreenDevices)
	}

	dm := app.DevicesModel
	rows := dm.Table.Rows()
	if len(rows) != 3 {
		t.Fatalf("len(rows) = %d, want 3 (blind + two rails)", len(rows))
	}
	if len(dm.refs) != len(rows) {
		t.Fatalf("len(refs) = %d, want %d", len(dm.refs), len(rows))
	}

	if got := rows[0][0]; got != "Kitchen" {
		t.Errorf("row 0 name = %q, want %q", got, "Kitchen")
	}
	if got := rows[1][0]; got != testTDBUMAC+" (top)" {
		t.Errorf("row 1 name = %q, want %q", got, testTDBUMAC+" (top)")
	}
	if got := rows[2][0]; got != testTDBUMAC+" (bottom)" {
		t.Errorf("row 2 name = %q, want %q", got, testTDBUMAC+" (bottom)")
	}

	if dm.refs[0].tdbu || dm.refs[0].mac != testBlindMAC {
		t.Errorf("refs[0] = %+v, want blind %s", dm.refs[0], testBlindMAC)
	}
	if !dm.refs[1].tdbu || dm.refs[1].motor != motion.MotorTop {
		t.Errorf("refs[1] = %+v, want tdbu top rail", dm.refs[1])
	}
	if !dm.refs[2].tdbu || dm.refs[2].motor != motion.MotorBottom {
		t.Errorf("refs[2] = %+v, want tdbu bottom rail", dm.refs[2])
	}

	// Fresh bootstrap reports the blind parked open.
	if got := rows[0][3]; got != "0" {
		t.Errorf("row 0 position = %q, want %q", got, "0")
	}
}

func TestCommandUpdatesStatusLine(t *testing.T) {
	sim := startSim(t)
	app := connectedApp(t, sim)
	dm := app.DevicesModel

	dm, cmd := dm.Update(keyMsg('c'))
	if cmd == nil {
		t.Fatalf("close produced no command")
	}
	if dm.Status != "close..." {
		t.Errorf("Status = %q, want %q", dm.Status, "close...")
	}

	msg := cmd()
	done, ok := msg.(commandDoneMsg)
	if !ok {
		t.Fatalf("command msg = %T, want commandDoneMsg", msg)
	}
	if done.err != nil {
		t.Fatalf("close command error = %v", done.err)
	}

	dm, _ = dm.Update(done)
	if dm.Status != "close: ok" {
		t.Errorf("Status = %q, want %q", dm.Status, "close: ok")
	}
	if dm.IsErr {
		t.Errorf("IsErr = true, want false")
	}
}

func TestNudgeClampsAndMoves(t *testing.T) {
	sim := startSim(t)
	app := connectedApp(t, sim)
	dm := app.DevicesModel

	// Already fully open; nudging further open is a no-op.
	dm, cmd := dm.Update(tea.KeyMsg{Type: tea.KeyLeft})
	if cmd != nil {
		t.Fatalf("nudge below 0 produced a command")
	}

	dm, cmd = dm.Update(tea.KeyMsg{Type: tea.KeyRight})
	if cmd == nil {
		t.Fatalf("nudge produced no command")
	}
	if dm.Status != "position 5..." {
		t.Errorf("Status = %q, want %q", dm.Status, "position 5...")
	}

	msg := cmd()
	done, ok := msg.(commandDoneMsg)
	if !ok {
		t.Fatalf("nudge msg = %T, want commandDoneMsg", msg)
	}
	if done.err != nil {
		t.Fatalf("nudge command error = %v", done.err)
	}

	// The motor runs on simulator ticks; poll the cache until it lands.
	dev, _ := app.sess.gw.Device(testBlindMAC)
	blind := dev.(*motion.Blind)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if err := blind.UpdateFromCache(); err == nil {
			if pos, known := blind.Position().Value(); known && pos == 5 {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("blind position never reached 5, got %v", blind.Position())
}

func TestQuitKeysLeaveTheTable(t *testing.T) {
	sim := startSim(t)
	app := connectedApp(t, sim)

	_, cmd := app.DevicesModel.Update(keyMsg('q'))
	if cmd == nil {
		t.Fatalf("quit produced no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Errorf("quit command msg = %T, want tea.QuitMsg", cmd())
	}
}

func TestStatusSymbol(t *testing.T) {
	tests := []struct {
		status motion.BlindStatus
		want   string
	}{
		{motion.BlindStatusOpening, "↑ Opening"},
		{motion.BlindStatusClosing, "↓ Closing"},
		{motion.BlindStatusStopped, "■ Stopped"},
		{motion.BlindStatusUnknown, "Unknown"},
	}
	for _, tt := range tests {
		if got := StatusSymbol(tt.status); got != tt.want {
			t.Errorf("StatusSymbol(%v) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestPushRearmsWait(t *testing.T) {
	sim := startSim(t)
	app := connectedApp(t, sim)

	dm, cmd := app.DevicesModel.Update(statePushMsg{})
	if cmd == nil {
		t.Fatalf("statePushMsg did not re-arm the push wait")
	}
	if len(dm.refs) != 3 {
		t.Errorf("reload after push lost rows: %d", len(dm.refs))
	}
}
