package motion

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/motionlan/protocol"
)

// Gateway represents one Motion gateway on the local network together with
// the blinds it bridges. Observed state is refreshed by the explicit query
// operations and, when a listener is attached, by multicast pushes.
//
// Commands are synchronous and should be issued one at a time per gateway;
// observed state may be read from any goroutine.
type Gateway struct {
	transport Transport
	timeout   time.Duration
	logger    *zap.Logger

	mu              sync.Mutex
	ip              string
	key             string
	mac             string
	deviceType      string
	token           string
	sessionKey      []byte
	protocolVersion string
	firmwareVersion string
	status          GatewayStatus
	nDevices        int
	rssi            Optional[int]
	available       bool
	lastSeen        time.Time
	devices         map[string]Device
	listener        Listener

	callbacks callbackRegistry
}

// GatewayOption customizes a Gateway at construction.
type GatewayOption func(*Gateway)

// WithTransport replaces the UDP transport, mainly for tests.
func WithTransport(t Transport) GatewayOption {
	return func(g *Gateway) { g.transport = t }
}

// WithTimeout sets the per-exchange timeout. The default is DefaultTimeout.
func WithTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.timeout = d }
}

// WithLogger attaches a logger for diagnostic events. The default discards
// everything, so the library stays quiet inside other programs.
func WithLogger(l *zap.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = l }
}

// NewGateway creates a gateway client for the given IP address and account
// key. The key is the 16-character value shown in the vendor app
// (e.g. "12ab345c-d67e-8f"); a malformed key is rejected here, not at
// first use.
func NewGateway(ip, key string, opts ...GatewayOption) (*Gateway, error) {
	if ip == "" {
		return nil, fmt.Errorf("%w: gateway IP is required", ErrInvalidArgument)
	}
	if err := protocol.ValidateKey(key); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidArgument, err)
	}

	g := &Gateway{
		transport: UDPTransport{},
		timeout:   DefaultTimeout,
		logger:    zap.NewNop(),
		ip:        ip,
		key:       key,
		status:    GatewayStatusUnknown,
		devices:   make(map[string]Device),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// QueryDeviceList asks the gateway for its roster. On success it adopts the
// gateway identity fields and token, derives the session key, and creates a
// Device for every roster entry not already present (selecting the single
// or dual motor variant by device type). Existing entries are kept, so the
// call is safe to repeat.
//
// This must run before any operation that needs the token; device commands
// fail with ErrNoToken until it has succeeded once.
func (g *Gateway) QueryDeviceList() (map[string]Device, error) {
	req := &protocol.Envelope{
		MsgType: protocol.TypeGetDeviceList,
		MsgID:   protocol.NewMsgID(time.Now()),
	}
	resp, err := g.roundTrip(req)
	if err != nil {
		g.markAllUnavailable()
		return nil, err
	}

	if err := g.mergeDeviceList(resp); err != nil {
		return nil, g.commandError(req, err)
	}
	return g.Devices(), nil
}

// Update reads the gateway's own status and merges it. When the gateway
// identity is not known yet it runs QueryDeviceList first. Registered
// gateway callbacks fire exactly once per successful merge.
func (g *Gateway) Update() error {
	g.mu.Lock()
	bootstrap := g.mac == "" || g.deviceType == "" || g.sessionKey == nil
	g.mu.Unlock()
	if bootstrap {
		g.logger.Debug("gateway identity not yet known, querying device list first",
			zap.String("ip", g.IP()))
		if _, err := g.QueryDeviceList(); err != nil {
			return err
		}
	}

	req := &protocol.Envelope{
		MsgType:    protocol.TypeReadDevice,
		MAC:        g.MAC(),
		DeviceType: g.DeviceType(),
		MsgID:      protocol.NewMsgID(time.Now()),
	}
	resp, err := g.roundTrip(req)
	if err != nil {
		g.markAllUnavailable()
		return err
	}

	if err := g.mergeState(resp); err != nil {
		return g.commandError(req, err)
	}
	g.callbacks.fire()
	return nil
}

// CheckMulticast reports whether multicast pushes from the network reach
// this process, by delegating to the attached listener's CheckReachable.
// It returns false when no listener is attached.
func (g *Gateway) CheckMulticast(timeout time.Duration) bool {
	g.mu.Lock()
	l := g.listener
	g.mu.Unlock()
	if l == nil {
		g.logger.Warn("CheckMulticast requires an attached listener")
		return false
	}
	return l.CheckReachable(timeout)
}

// AttachListener subscribes this gateway to a running listener so pushes
// for its MAC or its devices' MACs are merged as they arrive. The gateway
// never owns the multicast socket; it only holds this registration.
func (g *Gateway) AttachListener(l Listener) {
	g.mu.Lock()
	prev := g.listener
	g.listener = l
	g.mu.Unlock()

	if prev != nil {
		prev.Unsubscribe(g)
	}
	if l != nil {
		l.Subscribe(g)
	}
}

// DetachListener removes the listener registration, if any.
func (g *Gateway) DetachListener() {
	g.mu.Lock()
	prev := g.listener
	g.listener = nil
	g.mu.Unlock()

	if prev != nil {
		prev.Unsubscribe(g)
	}
}

// RegisterCallback stores cb under id; it fires after every successful
// gateway status merge. An existing handler under the same id is replaced.
func (g *Gateway) RegisterCallback(id string, cb func()) {
	g.callbacks.register(id, cb)
}

// RemoveCallback removes the handler stored under id.
func (g *Gateway) RemoveCallback(id string) {
	g.callbacks.remove(id)
}

// ClearCallbacks removes every registered handler.
func (g *Gateway) ClearCallbacks() {
	g.callbacks.clear()
}

// Devices returns a snapshot of the known roster keyed by MAC. Populated by
// QueryDeviceList; pushes never create entries.
func (g *Gateway) Devices() map[string]Device {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]Device, len(g.devices))
	for mac, d := range g.devices {
		out[mac] = d
	}
	return out
}

// Device returns the roster entry for mac, if known.
func (g *Gateway) Device(mac string) (Device, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.devices[mac]
	return d, ok
}

// IP returns the gateway address commands are sent to.
func (g *Gateway) IP() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ip
}

// SetIP points the client at a new address, after a DHCP move.
func (g *Gateway) SetIP(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ip = ip
}

// MAC returns the gateway MAC, empty until the first successful response.
func (g *Gateway) MAC() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mac
}

// DeviceType returns the gateway's device type code.
func (g *Gateway) DeviceType() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.deviceType
}

// Token returns the current gateway-issued token, empty before the first
// device list response.
func (g *Gateway) Token() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.token
}

// ProtocolVersion returns the protocol version the gateway reported.
func (g *Gateway) ProtocolVersion() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.protocolVersion
}

// FirmwareVersion returns the firmware version the gateway reported.
func (g *Gateway) FirmwareVersion() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.firmwareVersion
}

// Status returns the gateway operating state.
func (g *Gateway) Status() GatewayStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// NumberOfDevices returns the device count the gateway reported.
func (g *Gateway) NumberOfDevices() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nDevices
}

// RSSI returns the gateway's Wi-Fi signal strength in dBm.
func (g *Gateway) RSSI() Optional[int] {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rssi
}

// Available reports the outcome of the most recent exchange: false after a
// timeout, unreachable or decrypt failure, true again after any success.
func (g *Gateway) Available() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.available
}

// LastSeen returns when the gateway last answered or pushed.
func (g *Gateway) LastSeen() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastSeen
}

// String renders a one-line summary for logs and prompts. The token is
// never included.
func (g *Gateway) String() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fmt.Sprintf("<Gateway ip: %s, mac: %s, protocol: %s, firmware: %s, devices: %d, status: %s, RSSI: %s dBm>",
		g.ip, g.mac, g.protocolVersion, g.firmwareVersion, g.nDevices, g.status, g.rssi)
}

// roundTrip performs one command exchange: marshal, send, parse, ack-match.
// Transport failures mark the gateway unavailable. A reply carrying
// actionResult is a command-level failure; a rotated token on the same
// envelope is adopted before the error is returned.
func (g *Gateway) roundTrip(req *protocol.Envelope) (*protocol.Envelope, error) {
	datagram, err := req.Marshal()
	if err != nil {
		return nil, g.commandError(req, err)
	}

	addr := net.JoinHostPort(g.IP(), strconv.Itoa(protocol.PortCommand))
	reply, err := g.transport.Exchange(addr, datagram, g.timeout)
	if err != nil {
		g.setAvailable(false)
		g.logger.Debug("command exchange failed",
			zap.String("gateway", addr),
			zap.String("msgType", req.MsgType),
			zap.Error(err))
		return nil, g.commandError(req, err)
	}

	resp, err := protocol.ParseEnvelope(reply)
	if err != nil {
		return nil, g.commandError(req, err)
	}
	if err := protocol.MatchAck(req.MsgType, resp.MsgType); err != nil {
		return nil, g.commandError(req, err)
	}

	if resp.ActionResult != "" {
		g.adoptToken(resp.Token)
		g.logger.Warn("gateway rejected command",
			zap.String("msgType", req.MsgType),
			zap.String("mac", req.MAC),
			zap.String("actionResult", resp.ActionResult))
		return nil, g.commandError(req, fmt.Errorf("%w: %s", ErrRejected, resp.ActionResult))
	}

	g.logger.Debug("command exchange",
		zap.String("gateway", addr),
		zap.String("msgType", req.MsgType),
		zap.String("reply", resp.String()))
	return resp, nil
}

// readDevice reads the gateway-cached status of one device. Needs the
// session key to decrypt the ack, so it fails fast with ErrNoToken before
// any I/O when the device list has not been queried yet.
func (g *Gateway) readDevice(mac, deviceType string) (*protocol.Envelope, error) {
	if _, err := g.session(); err != nil {
		return nil, &CommandError{GatewayIP: g.IP(), DeviceMAC: mac, MsgType: protocol.TypeReadDevice, Err: err}
	}
	req := &protocol.Envelope{
		MsgType:    protocol.TypeReadDevice,
		MAC:        mac,
		DeviceType: deviceType,
		MsgID:      protocol.NewMsgID(time.Now()),
	}
	return g.roundTrip(req)
}

// writeDevice sends one motor command or live status query to a device.
// The body is encrypted with the session key, so it fails fast with
// ErrNoToken before any I/O when the device list has not been queried yet.
func (g *Gateway) writeDevice(mac, deviceType string, cmd *protocol.Command) (*protocol.Envelope, error) {
	key, err := g.session()
	if err != nil {
		return nil, &CommandError{GatewayIP: g.IP(), DeviceMAC: mac, MsgType: protocol.TypeWriteDevice, Err: err}
	}
	req := &protocol.Envelope{
		MsgType:    protocol.TypeWriteDevice,
		MAC:        mac,
		DeviceType: deviceType,
		MsgID:      protocol.NewMsgID(time.Now()),
	}
	if err := req.EncryptFrom(key, cmd); err != nil {
		return nil, &CommandError{GatewayIP: g.IP(), DeviceMAC: mac, MsgType: protocol.TypeWriteDevice, Err: err}
	}
	return g.roundTrip(req)
}

// session returns the current session key, or ErrNoToken before the first
// device list response.
func (g *Gateway) session() ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sessionKey == nil {
		return nil, ErrNoToken
	}
	return g.sessionKey, nil
}

// adoptToken switches to a rotated token and re-derives the session key.
// Empty and unchanged tokens are ignored.
func (g *Gateway) adoptToken(token string) {
	if token == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if token == g.token {
		return
	}
	key, err := protocol.DeriveSessionKey(g.key, token)
	if err != nil {
		g.logger.Error("cannot derive session key from rotated token", zap.Error(err))
		return
	}
	if g.token != "" {
		g.logger.Warn("gateway token has changed", zap.String("mac", g.mac))
	}
	g.token = token
	g.sessionKey = key
}

// mergeDeviceList applies a GetDeviceListAck: identity fields, token and
// roster. New roster entries get a Device; existing ones are kept.
func (g *Gateway) mergeDeviceList(resp *protocol.Envelope) error {
	refs, err := resp.ParseDeviceList()
	if err != nil {
		return err
	}

	if !protocol.IsControllerType(resp.DeviceType) {
		g.logger.Warn("device list response from a non-gateway device type",
			zap.String("deviceType", resp.DeviceType))
	}

	g.adoptToken(resp.Token)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.mac = resp.MAC
	if resp.DeviceType != "" {
		g.deviceType = resp.DeviceType
	}
	g.protocolVersion = resp.ProtocolVersion
	if resp.FirmwareVersion != "" {
		g.firmwareVersion = resp.FirmwareVersion
	}
	g.available = true
	g.lastSeen = time.Now()

	for _, ref := range refs {
		if protocol.IsGatewayType(ref.DeviceType) {
			continue
		}
		if _, ok := g.devices[ref.MAC]; ok {
			continue
		}
		switch ref.DeviceType {
		case protocol.DeviceTypeBlind, protocol.DeviceTypeDoubleRoller,
			protocol.DeviceTypeWiFiBlind, protocol.DeviceTypeWiFiCurtain,
			protocol.DeviceTypeTDBU:
			g.devices[ref.MAC] = newDevice(g, ref)
		default:
			g.logger.Warn("roster entry with unknown device type",
				zap.String("mac", ref.MAC),
				zap.String("deviceType", ref.DeviceType))
		}
	}
	return nil
}

// mergeState applies a gateway status payload from a ReadDeviceAck,
// Heartbeat or gateway-addressed Report.
func (g *Gateway) mergeState(resp *protocol.Envelope) error {
	key, err := g.session()
	if err != nil {
		return err
	}
	var state protocol.GatewayState
	if err := resp.DecryptInto(key, &state); err != nil {
		g.setAvailable(false)
		return err
	}

	g.mu.Lock()
	if resp.MAC != "" {
		g.mac = resp.MAC
	}
	if resp.DeviceType != "" {
		if !protocol.IsControllerType(resp.DeviceType) {
			g.logger.Warn("gateway status from a non-gateway device type",
				zap.String("deviceType", resp.DeviceType))
		}
		g.deviceType = resp.DeviceType
	}
	if state.CurrentState != nil {
		g.status = gatewayStatusFromWire(*state.CurrentState)
	} else {
		g.status = GatewayStatusUnknown
	}
	if state.NumberOfDevices != nil {
		g.nDevices = *state.NumberOfDevices
	} else {
		g.nDevices = 0
	}
	if state.RSSI != nil {
		g.rssi = Known(*state.RSSI)
	} else {
		g.rssi = Unknown[int]()
	}
	g.available = true
	g.lastSeen = time.Now()
	g.mu.Unlock()
	return nil
}

// wantsMAC reports whether a push for mac should be routed here: either
// the gateway's own MAC or a roster MAC.
func (g *Gateway) wantsMAC(mac string) bool {
	if mac == "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if mac == g.mac {
		return true
	}
	_, ok := g.devices[mac]
	return ok
}

// handlePush merges one multicast push routed to this gateway. Runs on the
// listener goroutine; decode failures are logged and swallowed because no
// caller is waiting.
func (g *Gateway) handlePush(env *protocol.Envelope) {
	if env.ActionResult != "" {
		g.adoptToken(env.Token)
		g.logger.Warn("multicast push carries actionResult",
			zap.String("mac", env.MAC),
			zap.String("actionResult", env.ActionResult))
		return
	}

	switch env.MsgType {
	case protocol.TypeReport:
		if env.MAC == g.MAC() {
			if err := g.mergeState(env); err != nil {
				g.logger.Warn("cannot merge gateway report", zap.Error(err))
				return
			}
			g.callbacks.fire()
			return
		}
		d, ok := g.Device(env.MAC)
		if !ok {
			g.logger.Debug("report for a device not in the roster", zap.String("mac", env.MAC))
			return
		}
		d.handlePush(env)

	case protocol.TypeHeartbeat:
		if mac := g.MAC(); mac != "" && env.MAC != mac {
			g.logger.Debug("heartbeat from a different gateway", zap.String("mac", env.MAC))
			return
		}
		if err := g.mergeState(env); err != nil {
			g.logger.Warn("cannot merge heartbeat", zap.Error(err))
			return
		}
		g.callbacks.fire()

	case protocol.TypeGetDeviceListAck:
		if mac := g.MAC(); mac != "" && env.MAC != mac {
			g.logger.Debug("device list push from a different gateway", zap.String("mac", env.MAC))
			return
		}
		if err := g.mergeDeviceList(env); err != nil {
			g.logger.Warn("cannot merge device list push", zap.Error(err))
			return
		}
		g.callbacks.fire()

	default:
		g.logger.Debug("push with unexpected message type", zap.String("msgType", env.MsgType))
	}
}

// commandError wraps err with the identity of this exchange. The device
// MAC is left empty for gateway-level commands.
func (g *Gateway) commandError(req *protocol.Envelope, err error) error {
	mac := req.MAC
	if mac == g.MAC() {
		mac = ""
	}
	return &CommandError{GatewayIP: g.IP(), DeviceMAC: mac, MsgType: req.MsgType, Err: err}
}

func (g *Gateway) setAvailable(v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.available = v
	if v {
		g.lastSeen = time.Now()
	}
}

// markAllUnavailable flags the gateway and every roster device after a
// gateway-level command failed: none of them can be reached through a
// gateway that does not answer.
func (g *Gateway) markAllUnavailable() {
	g.mu.Lock()
	devices := make([]Device, 0, len(g.devices))
	for _, d := range g.devices {
		devices = append(devices, d)
	}
	g.available = false
	g.mu.Unlock()

	for _, d := range devices {
		d.setAvailable(false)
	}
}
