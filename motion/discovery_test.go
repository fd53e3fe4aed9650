package motion

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/muurk/motionlan/protocol"
)

func discoveryAnswer(t *testing.T, fwVersion string) []byte {
	t.Helper()
	env := &protocol.Envelope{
		MsgType:         protocol.TypeGetDeviceListAck,
		MAC:             testGatewayMAC,
		DeviceType:      protocol.DeviceTypeGateway,
		Token:           testToken,
		ProtocolVersion: "0.9",
		FirmwareVersion: fwVersion,
	}
	refs := []protocol.DeviceRef{
		{MAC: testGatewayMAC, DeviceType: protocol.DeviceTypeGateway},
		{MAC: testBlindMAC, DeviceType: protocol.DeviceTypeBlind},
	}
	if err := env.SetDeviceList(refs); err != nil {
		t.Fatalf("SetDeviceList() error = %v", err)
	}
	b, err := env.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return b
}

func TestDiscoveryCollectsAnswers(t *testing.T) {
	gwConn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket() error = %v", err)
	}
	defer gwConn.Close()
	gwPort := gwConn.LocalAddr().(*net.UDPAddr).Port

	heartbeat, err := (&protocol.Envelope{
		MsgType:    protocol.TypeHeartbeat,
		MAC:        testGatewayMAC,
		DeviceType: protocol.DeviceTypeGateway,
	}).Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	notController, err := (&protocol.Envelope{
		MsgType:    protocol.TypeGetDeviceListAck,
		MAC:        testBlindMAC,
		DeviceType: protocol.DeviceTypeBlind,
	}).Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	// The fake gateway answers the probe with a mix of datagrams: a first
	// roster, background noise to screen out, and a fresher roster that
	// must win.
	answers := [][]byte{
		discoveryAnswer(t, "1.0.0"),
		heartbeat,
		notController,
		[]byte("{not json"),
		discoveryAnswer(t, "1.1.1"),
	}
	go func() {
		buf := make([]byte, protocol.MaxDatagramSize)
		n, src, err := gwConn.ReadFrom(buf)
		if err != nil {
			return
		}
		probe, err := protocol.ParseEnvelope(buf[:n])
		if err != nil || probe.MsgType != protocol.TypeGetDeviceList {
			return
		}
		for _, datagram := range answers {
			gwConn.WriteTo(datagram, src)
		}
	}()

	d := &Discovery{Group: "127.0.0.1", SendPort: gwPort, ReceivePort: freePort(t)}
	found, err := d.Run(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(found) != 1 {
		t.Fatalf("found %d gateways, want 1", len(found))
	}
	gw, ok := found["127.0.0.1"]
	if !ok {
		t.Fatalf("answers are keyed by source IP, got %v", found)
	}
	if gw.FirmwareVersion != "1.1.1" {
		t.Errorf("FirmwareVersion = %q, want the latest answer 1.1.1", gw.FirmwareVersion)
	}
	if gw.MAC != testGatewayMAC {
		t.Errorf("MAC = %q, want %q", gw.MAC, testGatewayMAC)
	}
	if gw.Token != testToken {
		t.Errorf("Token = %q, want %q", gw.Token, testToken)
	}
	if len(gw.Devices) != 2 {
		t.Errorf("roster size = %d, want 2", len(gw.Devices))
	}
}

func TestDiscoveryNoAnswersIsNotAnError(t *testing.T) {
	d := &Discovery{Group: "127.0.0.1", SendPort: freePort(t), ReceivePort: freePort(t)}
	found, err := d.Run(context.Background(), 300*time.Millisecond)
	if err != nil {
		t.Fatalf("Run() error = %v, want nil on a silent network", err)
	}
	if len(found) != 0 {
		t.Errorf("found %d gateways on a silent network, want 0", len(found))
	}
}

func TestDiscoveryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := &Discovery{Group: "127.0.0.1", SendPort: freePort(t), ReceivePort: freePort(t)}
	start := time.Now()
	found, err := d.Run(ctx, 10*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if found == nil {
		t.Error("Run() = nil map on cancellation, want the results so far")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Run() took %v after cancellation, want a prompt return", elapsed)
	}
}

func TestDiscoverContextBadInterface(t *testing.T) {
	_, err := DiscoverContext(context.Background(), "definitely-not-an-interface-0", time.Millisecond)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("DiscoverContext() error = %v, want ErrInvalidArgument", err)
	}
}
