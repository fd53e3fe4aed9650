package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/muurk/motionlan/internal/config"
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
		Tick:     config.Duration(10 * time.Millisecond),
		Step:     50,
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

// startBridge connects a bridge to sim and serves its router from an
// httptest server. Both external surfaces stay disabled; the router is
// exercised directly.
func startBridge(t *testing.T, sim *simulator.Simulator) (*Bridge, *httptest.Server) {
	t.Helper()

	b, err := New(&Config{
		LogLevel: "error",
		MQTT:     MQTTConfig{Broker: ""},
		HTTP:     HTTPConfig{Bind: ":0"},
		Gateways: []GatewayConfig{{IP: "127.0.0.1", Key: simulator.DefaultKey}},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	b.gwOpts = []motion.GatewayOption{
		motion.WithTransport(redirectTransport{addr: sim.Addr()}),
		motion.WithTimeout(2 * time.Second),
	}
	if err := b.connectGateways(); err != nil {
		t.Fatalf("connectGateways() error = %v", err)
	}

	srv := httptest.NewServer(b.router())
	t.Cleanup(srv.Close)
	return b, srv
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("GET %s: decode error = %v", url, err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url, body string, out any) int {
	t.Helper()

	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("POST %s: decode error = %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestBridgeRESTRoundTrip(t *testing.T) {
	sim := startSim(t)
	b, srv := startBridge(t, sim)

	var health map[string]string
	if code := getJSON(t, srv.URL+"/healthz", &health); code != http.StatusOK {
		t.Fatalf("GET /healthz = %d, want 200", code)
	}
	if health["status"] != "ok" {
		t.Errorf("health status = %q, want ok", health["status"])
	}

	var gateways []GatewayState
	if code := getJSON(t, srv.URL+"/api/gateways", &gateways); code != http.StatusOK {
		t.Fatalf("GET /api/gateways = %d, want 200", code)
	}
	if len(gateways) != 1 {
		t.Fatalf("gateways = %d, want 1", len(gateways))
	}
	if gateways[0].MAC != simulator.DefaultMAC {
		t.Errorf("gateway MAC = %q, want %q", gateways[0].MAC, simulator.DefaultMAC)
	}
	if !gateways[0].Available {
		t.Error("gateway not available after connect")
	}
	if gateways[0].Devices != 2 {
		t.Errorf("gateway device count = %d, want 2", gateways[0].Devices)
	}

	var detail GatewayDetail
	if code := getJSON(t, srv.URL+"/api/gateways/"+simulator.DefaultMAC, &detail); code != http.StatusOK {
		t.Fatalf("GET /api/gateways/{mac} = %d, want 200", code)
	}
	if len(detail.DeviceList) != 2 {
		t.Errorf("gateway detail devices = %d, want 2", len(detail.DeviceList))
	}
	if code := getJSON(t, srv.URL+"/api/gateways/ffffffffffff", nil); code != http.StatusNotFound {
		t.Errorf("GET unknown gateway = %d, want 404", code)
	}

	var devices []DeviceState
	if code := getJSON(t, srv.URL+"/api/devices", &devices); code != http.StatusOK {
		t.Fatalf("GET /api/devices = %d, want 200", code)
	}
	if len(devices) != 2 {
		t.Fatalf("devices = %d, want 2", len(devices))
	}
	if devices[0].MAC != testBlindMAC || devices[1].MAC != testTDBUMAC {
		t.Errorf("device order = %q, %q, want %q, %q",
			devices[0].MAC, devices[1].MAC, testBlindMAC, testTDBUMAC)
	}
	for _, d := range devices {
		if d.Gateway != simulator.DefaultMAC {
			t.Errorf("device %s gateway = %q, want %q", d.MAC, d.Gateway, simulator.DefaultMAC)
		}
	}

	// Commands return the post-dispatch snapshot straight away; the ack
	// carries the state from before the motor arrives.
	var after DeviceState
	code := postJSON(t, srv.URL+"/api/devices/"+testBlindMAC+"/command",
		`{"command":"position","value":40}`, &after)
	if code != http.StatusOK {
		t.Fatalf("POST command = %d, want 200", code)
	}
	if after.MAC != testBlindMAC {
		t.Errorf("command snapshot MAC = %q, want %q", after.MAC, testBlindMAC)
	}
	if after.Position == nil {
		t.Error("command snapshot has no position")
	}

	waitFor(t, "blind to reach position 40", func() bool {
		b.poll()
		var st DeviceState
		if getJSON(t, srv.URL+"/api/devices/"+testBlindMAC, &st) != http.StatusOK {
			return false
		}
		return st.Position != nil && *st.Position == 40 && st.Status == "Stopped"
	})

	// Combined position on the dual-motor device centers the covered span.
	code = postJSON(t, srv.URL+"/api/devices/"+testTDBUMAC+"/command",
		`{"command":"position","value":60}`, nil)
	if code != http.StatusOK {
		t.Fatalf("POST combined position = %d, want 200", code)
	}
	waitFor(t, "rails to reach 20/80", func() bool {
		b.poll()
		var st DeviceState
		if getJSON(t, srv.URL+"/api/devices/"+testTDBUMAC, &st) != http.StatusOK {
			return false
		}
		if st.Top == nil || st.Bottom == nil || st.Top.Position == nil || st.Bottom.Position == nil {
			return false
		}
		return *st.Top.Position == 20 && *st.Bottom.Position == 80
	})
}

func TestBridgeRESTErrors(t *testing.T) {
	sim := startSim(t)
	_, srv := startBridge(t, sim)

	tests := []struct {
		name string
		mac  string
		body string
		want int
	}{
		{"unknown device", "deadbeef0000", `{"command":"open"}`, http.StatusNotFound},
		{"malformed body", testBlindMAC, `{not json`, http.StatusBadRequest},
		{"unknown command", testBlindMAC, `{"command":"explode"}`, http.StatusBadRequest},
		{"position without value", testBlindMAC, `{"command":"position"}`, http.StatusBadRequest},
		{"position out of range", testBlindMAC, `{"command":"position","value":150}`, http.StatusBadRequest},
		{"unknown motor", testTDBUMAC, `{"command":"open","motor":"sideways"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := postJSON(t, srv.URL+"/api/devices/"+tt.mac+"/command", tt.body, nil)
			if code != tt.want {
				t.Errorf("POST = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestBridgeEmitsEventsOnMerge(t *testing.T) {
	sim := startSim(t)
	b, srv := startBridge(t, sim)

	code := postJSON(t, srv.URL+"/api/devices/"+testBlindMAC+"/command",
		`{"command":"close"}`, nil)
	if code != http.StatusOK {
		t.Fatalf("POST command = %d, want 200", code)
	}

	var deviceEvent *Event
	waitFor(t, "a device event", func() bool {
		for {
			select {
			case ev := <-b.events:
				if ev.Device == testBlindMAC {
					deviceEvent = &ev
					return true
				}
			default:
				return false
			}
		}
	})

	if _, err := uuid.Parse(deviceEvent.ID); err != nil {
		t.Errorf("event ID %q is not a UUID: %v", deviceEvent.ID, err)
	}
	if deviceEvent.Gateway != simulator.DefaultMAC {
		t.Errorf("event gateway = %q, want %q", deviceEvent.Gateway, simulator.DefaultMAC)
	}
	st, ok := deviceEvent.State.(DeviceState)
	if !ok {
		t.Fatalf("event state is %T, want DeviceState", deviceEvent.State)
	}
	if st.MAC != testBlindMAC {
		t.Errorf("event state MAC = %q, want %q", st.MAC, testBlindMAC)
	}
}

func TestWebSocketStreamsBroadcasts(t *testing.T) {
	b, err := New(&Config{
		LogLevel: "error",
		MQTT:     MQTTConfig{Broker: ""},
		HTTP:     HTTPConfig{Bind: ":0"},
		Gateways: []GatewayConfig{{IP: "127.0.0.1", Key: simulator.DefaultKey}},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	srv := httptest.NewServer(b.router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial(%s) error = %v", wsURL, err)
	}
	defer conn.Close()

	waitFor(t, "client registration", func() bool {
		b.hub.mu.Lock()
		defer b.hub.mu.Unlock()
		return len(b.hub.clients) == 1
	})

	want := `{"id":"evt-1","gateway":"a1b2c3d4e5f6","state":{}}`
	b.hub.broadcast([]byte(want))

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline() error = %v", err)
	}
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if string(payload) != want {
		t.Errorf("payload = %s, want %s", payload, want)
	}

	b.hub.closeAll()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline() error = %v", err)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("ReadMessage() after closeAll succeeded, want close error")
	}
}

func TestParseSetTopic(t *testing.T) {
	tests := []struct {
		topic  string
		wantGW string
		wantOK bool
	}{
		{"motionlan/a1b2c3d4e5f6/0001d1b2c3d4/set", "a1b2c3d4e5f6", true},
		{"other/a1b2c3d4e5f6/0001d1b2c3d4/set", "", false},
		{"motionlan/a1b2c3d4e5f6/0001d1b2c3d4/state", "", false},
		{"motionlan/a1b2c3d4e5f6/set", "", false},
		{"motionlan/a1b2c3d4e5f6/0001d1b2c3d4/extra/set", "", false},
		{"motionlan//0001d1b2c3d4/set", "", false},
		{"motionlan/a1b2c3d4e5f6//set", "", false},
	}
	for _, tt := range tests {
		gw, dev, ok := parseSetTopic("motionlan", tt.topic)
		if ok != tt.wantOK {
			t.Errorf("parseSetTopic(%q) ok = %v, want %v", tt.topic, ok, tt.wantOK)
			continue
		}
		if ok && gw != tt.wantGW {
			t.Errorf("parseSetTopic(%q) gateway = %q, want %q", tt.topic, gw, tt.wantGW)
		}
		if ok && dev == "" {
			t.Errorf("parseSetTopic(%q) returned empty device", tt.topic)
		}
	}
}

func TestStateTopic(t *testing.T) {
	got := stateTopic("motionlan", "A1B2C3D4E5F6", "0001D1B2C3D4")
	want := "motionlan/a1b2c3d4e5f6/0001d1b2c3d4/state"
	if got != want {
		t.Errorf("device topic = %q, want %q", got, want)
	}

	got = stateTopic("motionlan", "A1B2C3D4E5F6", "")
	want = "motionlan/a1b2c3d4e5f6/state"
	if got != want {
		t.Errorf("gateway topic = %q, want %q", got, want)
	}
}

func TestParseMotor(t *testing.T) {
	tests := []struct {
		in      string
		want    motion.Motor
		wantErr bool
	}{
		{"", motion.MotorCombined, false},
		{"combined", motion.MotorCombined, false},
		{"Top", motion.MotorTop, false},
		{"bottom", motion.MotorBottom, false},
		{"sideways", 0, true},
	}
	for _, tt := range tests {
		got, err := parseMotor(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseMotor(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("parseMotor(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCommandStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown device", ErrUnknownDevice, http.StatusNotFound},
		{"bad command", ErrBadCommand, http.StatusBadRequest},
		{"invalid argument", motion.ErrInvalidArgument, http.StatusBadRequest},
		{"timeout", motion.ErrTimeout, http.StatusGatewayTimeout},
		{"rejected", motion.ErrRejected, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("dispatch: %w", tt.err)
			if got := commandStatus(wrapped); got != tt.want {
				t.Errorf("commandStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDispatchUnknownDevice(t *testing.T) {
	b, err := New(&Config{
		LogLevel: "error",
		HTTP:     HTTPConfig{Bind: ":0"},
		Gateways: []GatewayConfig{{IP: "127.0.0.1", Key: simulator.DefaultKey}},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := b.Dispatch("deadbeef0000", CommandRequest{Command: "open"}); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Dispatch() error = %v, want ErrUnknownDevice", err)
	}
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	data := []byte(`
http:
  bind: ":9000"
mqtt:
  broker: ""
poll_interval: 30s
gateways:
  - ip: 192.168.1.50
    key: 74ae10c3-5bf0-2d
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.MQTT.Broker != "" {
		t.Errorf("explicit empty broker = %q, want disabled", cfg.MQTT.Broker)
	}
	if cfg.MQTT.Prefix != DefaultPrefix {
		t.Errorf("prefix = %q, want default %q", cfg.MQTT.Prefix, DefaultPrefix)
	}
	if cfg.HTTP.Bind != ":9000" {
		t.Errorf("bind = %q, want :9000", cfg.HTTP.Bind)
	}
	if cfg.PollInterval.Std() != 30*time.Second {
		t.Errorf("poll interval = %v, want 30s", cfg.PollInterval.Std())
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log level = %q, want default info", cfg.LogLevel)
	}
	if err := cfg.normalize(); err != nil {
		t.Errorf("normalize() error = %v", err)
	}
}

func TestConfigNormalizeRejectsBadInput(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Gateways = []GatewayConfig{{IP: "192.168.1.50", Key: "74ae10c3-5bf0-2d"}}
		return cfg
	}
	if err := valid().normalize(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no gateways", func(c *Config) { c.Gateways = nil }},
		{"missing ip", func(c *Config) { c.Gateways[0].IP = "" }},
		{"malformed key", func(c *Config) { c.Gateways[0].Key = "not-a-key" }},
		{"both surfaces disabled", func(c *Config) { c.MQTT.Broker = ""; c.HTTP.Bind = "" }},
		{"advertise without port", func(c *Config) { c.HTTP.Advertise = true; c.HTTP.Bind = "nonsense" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.normalize(); err == nil {
				t.Error("normalize() accepted bad config")
			}
		})
	}
}
