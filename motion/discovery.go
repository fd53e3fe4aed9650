package motion

import (
	"context"
	"net"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/motionlan/protocol"
)

// DefaultDiscoveryTimeout is how long Discover collects responses when no
// explicit window is given.
const DefaultDiscoveryTimeout = 10 * time.Second

// discoveryPollInterval chunks the receive wait so context cancellation
// is noticed between datagrams.
const discoveryPollInterval = 250 * time.Millisecond

// DiscoveredGateway summarizes one gateway that answered a discovery
// probe. Discovery is keyless, so everything here comes from the
// plaintext parts of the answer, including the roster.
type DiscoveredGateway struct {
	IP              string
	MAC             string
	DeviceType      string
	ProtocolVersion string
	FirmwareVersion string
	Token           string
	Devices         []protocol.DeviceRef
}

// Discovery finds Motion gateways by multicasting a device-list query and
// collecting the answers. The zero value works; fields override the
// interface, group and ports, which is how tests run it over loopback.
type Discovery struct {
	// Interface is the network interface to probe on. Empty or "any"
	// selects the system default.
	Interface string
	// Group is the destination address for the probe.
	Group string
	// SendPort is the destination port for the probe.
	SendPort int
	// ReceivePort is the local port answers arrive on.
	ReceivePort int
	// Logger receives diagnostics. Nil disables logging.
	Logger *zap.Logger
}

// Discover probes the default interface and collects answers for timeout
// (DefaultDiscoveryTimeout when zero). The result maps gateway IP to its
// latest answer; no answers is an empty map, not an error.
func Discover(timeout time.Duration) (map[string]DiscoveredGateway, error) {
	return DiscoverContext(context.Background(), "", timeout)
}

// DiscoverContext is Discover on a chosen interface, stoppable through
// ctx. Cancellation returns the gateways found so far along with the
// context's error.
func DiscoverContext(ctx context.Context, iface string, timeout time.Duration) (map[string]DiscoveredGateway, error) {
	d := &Discovery{Interface: iface}
	return d.Run(ctx, timeout)
}

// Run sends one probe and collects answers until timeout elapses or ctx
// is cancelled. Answers are keyed by source IP; a gateway answering more
// than once contributes only its latest answer. Only a probe send failure
// is a hard error.
func (d *Discovery) Run(ctx context.Context, timeout time.Duration) (map[string]DiscoveredGateway, error) {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultDiscoveryTimeout
	}
	group := d.Group
	if group == "" {
		group = protocol.MulticastGroup
	}
	sendPort := d.SendPort
	if sendPort == 0 {
		sendPort = protocol.PortCommand
	}
	recvPort := d.ReceivePort
	if recvPort == 0 {
		recvPort = protocol.PortReport
	}

	ifi, err := resolveInterface(d.Interface)
	if err != nil {
		return nil, err
	}
	sock, err := openMulticast(group, recvPort, ifi)
	if err != nil {
		return nil, err
	}
	defer sock.close()

	probe, err := reachabilityProbe()
	if err != nil {
		return nil, err
	}
	dest := &net.UDPAddr{IP: net.ParseIP(group), Port: sendPort}
	if err := sock.sendTo(dest, probe); err != nil {
		return nil, classifyNetError("send discovery probe", err)
	}
	logger.Debug("discovery probe sent",
		zap.String("group", group), zap.Int("port", sendPort))

	found := make(map[string]DiscoveredGateway)
	buf := make([]byte, protocol.MaxDatagramSize)
	deadline := time.Now().Add(timeout)

	for {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		chunk := remaining
		if chunk > discoveryPollInterval {
			chunk = discoveryPollInterval
		}

		sock.setReadDeadline(time.Now().Add(chunk))
		n, src, err := sock.read(buf)
		if err != nil {
			if os.IsTimeout(err) {
				continue
			}
			logger.Warn("discovery read failed", zap.Error(err))
			continue
		}

		gw, ok := parseDiscoveryAnswer(buf[:n], src.IP.String(), logger)
		if !ok {
			continue
		}
		found[gw.IP] = gw
	}

	if len(found) == 0 {
		logger.Warn("no gateways discovered", zap.Duration("window", timeout))
	}
	return found, nil
}

// parseDiscoveryAnswer screens one datagram received during the discovery
// window. Heartbeats from gateways are expected background noise and are
// skipped quietly; anything else that is not a device-list answer from a
// controller-type device is logged and skipped.
func parseDiscoveryAnswer(datagram []byte, srcIP string, logger *zap.Logger) (DiscoveredGateway, bool) {
	env, err := protocol.ParseEnvelope(datagram)
	if err != nil {
		logger.Warn("discovery received a malformed datagram",
			zap.String("source", srcIP), zap.Error(err))
		return DiscoveredGateway{}, false
	}

	if env.MsgType != protocol.TypeGetDeviceListAck {
		if env.MsgType != protocol.TypeHeartbeat {
			logger.Error("discovery answer is not a GetDeviceListAck",
				zap.String("source", srcIP), zap.String("msgType", env.MsgType))
		}
		return DiscoveredGateway{}, false
	}
	if !protocol.IsControllerType(env.DeviceType) {
		logger.Error("discovery answer is not from a gateway or WiFi blind",
			zap.String("source", srcIP), zap.String("deviceType", env.DeviceType))
		return DiscoveredGateway{}, false
	}

	refs, err := env.ParseDeviceList()
	if err != nil {
		logger.Warn("discovery answer carries an unreadable device list",
			zap.String("source", srcIP), zap.Error(err))
		return DiscoveredGateway{}, false
	}

	return DiscoveredGateway{
		IP:              srcIP,
		MAC:             env.MAC,
		DeviceType:      env.DeviceType,
		ProtocolVersion: env.ProtocolVersion,
		FirmwareVersion: env.FirmwareVersion,
		Token:           env.Token,
		Devices:         refs,
	}, true
}
