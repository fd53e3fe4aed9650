package simulator

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"

	"github.com/muurk/motionlan/internal/logging"
	"github.com/muurk/motionlan/protocol"
)

// How often the serve loop wakes to check for cancellation.
const readPollInterval = 500 * time.Millisecond

// ProtocolVersion reported on device-list acks.
const ProtocolVersion = "0.9"

// Simulator is an in-process fake gateway speaking the real wire protocol.
// It answers device-list, read and write requests on its command socket,
// moves motors toward their targets on a ticker, and multicasts Report and
// Heartbeat pushes the way hardware gateways do.
type Simulator struct {
	cfg     *Config
	session []byte

	conn *net.UDPConn // command socket (unicast requests + multicast probes)
	push *net.UDPConn // push socket, nil when reporting is disabled

	mu      sync.Mutex
	devices []*simDevice
	byMAC   map[string]*simDevice

	wg sync.WaitGroup
}

// New builds a simulator from cfg and binds its command socket. A nil cfg
// runs the DefaultConfig roster. Run starts serving; Close releases the
// sockets without having run.
func New(cfg *Config) (*Simulator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := logging.Initialize(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	session, err := protocol.DeriveSessionKey(cfg.Key, cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}

	s := &Simulator{
		cfg:     cfg,
		session: session,
		byMAC:   make(map[string]*simDevice),
	}
	for _, dc := range cfg.Devices {
		dev := newSimDevice(dc)
		s.devices = append(s.devices, dev)
		s.byMAC[dev.mac] = dev
	}

	laddr := &net.UDPAddr{Port: cfg.Port}
	if cfg.Listen != "" {
		laddr.IP = net.ParseIP(cfg.Listen)
		if laddr.IP == nil {
			return nil, fmt.Errorf("invalid listen address %q", cfg.Listen)
		}
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("bind command socket: %w", err)
	}
	s.conn = conn

	// Real gateways hear discovery probes on the multicast group as well as
	// unicast commands. Join on the command socket when it binds the
	// wildcard address; a failed join only loses discovery, not commands.
	if group := net.ParseIP(cfg.Report.Group); group != nil && group.IsMulticast() && laddr.IP == nil {
		if err := ipv4.NewPacketConn(conn).JoinGroup(nil, &net.UDPAddr{IP: group}); err != nil {
			logging.Warn("Multicast join failed; discovery probes will not be heard",
				zap.String("group", cfg.Report.Group),
				zap.Error(err),
			)
		}
	}

	if cfg.Report.Group != "" {
		raddr := &net.UDPAddr{IP: net.ParseIP(cfg.Report.Group), Port: cfg.Report.Port}
		if raddr.IP == nil {
			conn.Close()
			return nil, fmt.Errorf("invalid report group %q", cfg.Report.Group)
		}
		push, err := net.DialUDP("udp4", nil, raddr)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("open push socket: %w", err)
		}
		s.push = push
	}

	return s, nil
}

// Addr returns the bound command socket address. Configs with port 0 read
// the assigned port from here.
func (s *Simulator) Addr() string {
	return s.conn.LocalAddr().String()
}

// Close releases the sockets. Run calls it on the way out; it only needs
// calling directly when a built simulator is never run.
func (s *Simulator) Close() {
	s.conn.Close()
	if s.push != nil {
		s.push.Close()
	}
}

// Run serves requests and drives motor movement until ctx is cancelled.
// Cancellation is the normal way to stop; it returns nil.
func (s *Simulator) Run(ctx context.Context) error {
	logging.Info("Gateway simulator running",
		zap.String("addr", s.Addr()),
		zap.String("mac", s.cfg.MAC),
		zap.Int("devices", len(s.devices)),
	)

	s.wg.Add(1)
	go s.tickLoop(ctx)

	err := s.serve(ctx)
	s.wg.Wait()
	s.Close()
	logging.Info("Gateway simulator stopped")
	logging.Sync()
	return err
}

// serve reads request datagrams until ctx is cancelled. Short read
// deadlines keep cancellation prompt without a second goroutine.
func (s *Simulator) serve(ctx context.Context) error {
	buf := make([]byte, protocol.MaxDatagramSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.conn.SetReadDeadline(time.Now().Add(readPollInterval)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		n, src, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read command socket: %w", err)
		}
		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		s.handleDatagram(datagram, src)
	}
}

func (s *Simulator) handleDatagram(datagram []byte, src *net.UDPAddr) {
	env, err := protocol.ParseEnvelope(datagram)
	if err != nil {
		logging.Warn("Dropping malformed datagram",
			zap.String("src", src.String()),
			zap.Error(err),
		)
		return
	}

	var reply *protocol.Envelope
	switch env.MsgType {
	case protocol.TypeGetDeviceList:
		reply = s.deviceListAck(env)
	case protocol.TypeReadDevice:
		reply = s.readAck(env)
	case protocol.TypeWriteDevice:
		reply = s.writeAck(env)
	default:
		// Pushes and unknown types get no answer, like the hardware.
		logging.Debug("Ignoring datagram",
			zap.String("src", src.String()),
			zap.String("msg_type", env.MsgType),
		)
		return
	}

	raw, err := reply.Marshal()
	if err != nil {
		logging.Error("Failed to marshal reply", zap.Error(err))
		return
	}
	if _, err := s.conn.WriteToUDP(raw, src); err != nil {
		logging.Error("Failed to send reply",
			zap.String("src", src.String()),
			zap.Error(err),
		)
		return
	}
	logging.LogExchange(src.String(), env.MsgType, "answered")
}

// deviceListAck answers the roster query that both clients and discovery
// probes send: plaintext roster with the gateway first, plus the token that
// unlocks every encrypted exchange.
func (s *Simulator) deviceListAck(req *protocol.Envelope) *protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()

	refs := make([]protocol.DeviceRef, 0, len(s.devices)+1)
	refs = append(refs, protocol.DeviceRef{MAC: s.cfg.MAC, DeviceType: s.cfg.DeviceType})
	for _, dev := range s.devices {
		refs = append(refs, protocol.DeviceRef{MAC: dev.mac, DeviceType: dev.deviceType})
	}

	ack := &protocol.Envelope{
		MsgType:         protocol.TypeGetDeviceListAck,
		MAC:             s.cfg.MAC,
		DeviceType:      s.cfg.DeviceType,
		MsgID:           s.echoMsgID(req),
		Token:           s.cfg.Token,
		ProtocolVersion: ProtocolVersion,
		FirmwareVersion: s.cfg.Firmware,
	}
	if err := ack.SetDeviceList(refs); err != nil {
		logging.Error("Failed to build roster", zap.Error(err))
		return s.errorAck(protocol.TypeGetDeviceListAck, req, "internal error")
	}
	return ack
}

func (s *Simulator) readAck(req *protocol.Envelope) *protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.MAC == "" || strings.EqualFold(req.MAC, s.cfg.MAC) {
		return s.gatewayStateAck(req)
	}
	dev, ok := s.byMAC[strings.ToLower(req.MAC)]
	if !ok {
		return s.errorAck(protocol.TypeReadDeviceAck, req, "no such device")
	}
	return s.statusAck(protocol.TypeReadDeviceAck, req, dev)
}

func (s *Simulator) writeAck(req *protocol.Envelope) *protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()

	dev, ok := s.byMAC[strings.ToLower(req.MAC)]
	if !ok {
		return s.errorAck(protocol.TypeWriteDeviceAck, req, "no such device")
	}

	var cmd protocol.Command
	if err := req.DecryptInto(s.session, &cmd); err != nil {
		logging.Warn("Rejecting command with bad ciphertext",
			zap.String("mac", req.MAC),
			zap.Error(err),
		)
		ack := s.errorAck(protocol.TypeWriteDeviceAck, req, "AccessToken error")
		ack.Token = s.cfg.Token // clients re-derive their session key from this
		return ack
	}

	dev.apply(&cmd)
	return s.statusAck(protocol.TypeWriteDeviceAck, req, dev)
}

func (s *Simulator) gatewayStateAck(req *protocol.Envelope) *protocol.Envelope {
	ack := &protocol.Envelope{
		MsgType:    protocol.TypeReadDeviceAck,
		MAC:        s.cfg.MAC,
		DeviceType: s.cfg.DeviceType,
		MsgID:      s.echoMsgID(req),
	}
	state := protocol.GatewayState{
		CurrentState:    protocol.Int(gatewayWorking),
		NumberOfDevices: protocol.Int(len(s.devices)),
		RSSI:            protocol.Int(s.cfg.RSSI),
	}
	if err := ack.EncryptFrom(s.session, &state); err != nil {
		logging.Error("Failed to encrypt gateway state", zap.Error(err))
		return s.errorAck(protocol.TypeReadDeviceAck, req, "internal error")
	}
	return ack
}

func (s *Simulator) statusAck(msgType string, req *protocol.Envelope, dev *simDevice) *protocol.Envelope {
	ack := &protocol.Envelope{
		MsgType:    msgType,
		MAC:        dev.mac,
		DeviceType: dev.deviceType,
		MsgID:      s.echoMsgID(req),
	}
	if err := ack.EncryptFrom(s.session, dev.statusBody()); err != nil {
		logging.Error("Failed to encrypt device status",
			zap.String("mac", dev.mac),
			zap.Error(err),
		)
		return s.errorAck(msgType, req, "internal error")
	}
	return ack
}

func (s *Simulator) errorAck(msgType string, req *protocol.Envelope, result string) *protocol.Envelope {
	return &protocol.Envelope{
		MsgType:      msgType,
		MAC:          req.MAC,
		DeviceType:   req.DeviceType,
		MsgID:        s.echoMsgID(req),
		ActionResult: result,
	}
}

// echoMsgID mirrors the request's correlation stamp the way hardware does,
// minting a fresh one for stampless requests.
func (s *Simulator) echoMsgID(req *protocol.Envelope) string {
	if req.MsgID != "" {
		return req.MsgID
	}
	return protocol.NewMsgID(time.Now())
}

// tickLoop drives motor movement and the periodic heartbeat.
func (s *Simulator) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	motors := time.NewTicker(s.cfg.Tick.Std())
	defer motors.Stop()
	heartbeat := time.NewTicker(s.cfg.Report.Heartbeat.Std())
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-motors.C:
			s.advanceMotors()
		case <-heartbeat.C:
			s.sendHeartbeat()
		}
	}
}

// advanceMotors steps every moving motor and reports the ones that arrive
// at their targets, mirroring how hardware pushes a Report at end of travel.
func (s *Simulator) advanceMotors() {
	s.mu.Lock()
	var datagrams [][]byte
	for _, dev := range s.devices {
		if !dev.advance(s.cfg.Step) {
			continue
		}
		raw, err := s.reportDatagram(dev)
		if err != nil {
			logging.Error("Failed to build report",
				zap.String("mac", dev.mac),
				zap.Error(err),
			)
			continue
		}
		datagrams = append(datagrams, raw)
	}
	s.mu.Unlock()

	for _, raw := range datagrams {
		s.sendPush(raw)
	}
}

func (s *Simulator) reportDatagram(dev *simDevice) ([]byte, error) {
	env := &protocol.Envelope{
		MsgType:    protocol.TypeReport,
		MAC:        dev.mac,
		DeviceType: dev.deviceType,
		MsgID:      protocol.NewMsgID(time.Now()),
	}
	if err := env.EncryptFrom(s.session, dev.statusBody()); err != nil {
		return nil, err
	}
	return env.Marshal()
}

func (s *Simulator) sendHeartbeat() {
	s.mu.Lock()
	env := &protocol.Envelope{
		MsgType:    protocol.TypeHeartbeat,
		MAC:        s.cfg.MAC,
		DeviceType: s.cfg.DeviceType,
		MsgID:      protocol.NewMsgID(time.Now()),
	}
	state := protocol.GatewayState{
		CurrentState:    protocol.Int(gatewayWorking),
		NumberOfDevices: protocol.Int(len(s.devices)),
		RSSI:            protocol.Int(s.cfg.RSSI),
	}
	err := env.EncryptFrom(s.session, &state)
	s.mu.Unlock()

	if err != nil {
		logging.Error("Failed to encrypt heartbeat", zap.Error(err))
		return
	}
	raw, err := env.Marshal()
	if err != nil {
		logging.Error("Failed to marshal heartbeat", zap.Error(err))
		return
	}
	s.sendPush(raw)
}

func (s *Simulator) sendPush(raw []byte) {
	if s.push == nil {
		return
	}
	if _, err := s.push.Write(raw); err != nil {
		logging.Debug("Push send failed", zap.Error(err))
	}
}
