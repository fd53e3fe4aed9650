package motion

import (
	"errors"
	"fmt"
	"testing"

	"github.com/muurk/motionlan/protocol"
)

// newTestBlind wires a blind to a gateway whose session key is already
// derived, so tests exercise device traffic without replaying the device
// list bootstrap.
func newTestBlind(t *testing.T, handler func(req *protocol.Envelope) (*protocol.Envelope, error)) (*Blind, *stubTransport) {
	t.Helper()
	gw, st := newTestGateway(t, handler)
	gw.adoptToken(testToken)
	return newBlind(gw, testBlindMAC, protocol.DeviceTypeBlind), st
}

// blindAck wraps a status body in a ReadDeviceAck for the test blind.
func blindAck(t *testing.T, st *protocol.DeviceStatus) *protocol.Envelope {
	t.Helper()
	return encryptedReply(t, protocol.TypeReadDeviceAck, testBlindMAC, protocol.DeviceTypeBlind, st)
}

func TestBlindMergeByWirelessMode(t *testing.T) {
	full := func() *protocol.DeviceStatus {
		return &protocol.DeviceStatus{
			Type:            protocol.Int(1),
			Operation:       protocol.Int(2),
			CurrentPosition: protocol.Int(40),
			CurrentAngle:    protocol.Int(90),
			CurrentState:    protocol.Int(3),
			VoltageMode:     protocol.Int(1),
			BatteryLevel:    protocol.Int(1200),
			WirelessMode:    protocol.Int(1),
			RSSI:            protocol.Int(-70),
			ChargingState:   protocol.Int(1),
		}
	}

	tests := []struct {
		name   string
		status func() *protocol.DeviceStatus
		verify func(t *testing.T, b *Blind)
	}{
		{
			name:   "bidirection reports everything",
			status: full,
			verify: func(t *testing.T, b *Blind) {
				if b.BlindType() != BlindTypeRollerBlind {
					t.Errorf("BlindType() = %v, want RollerBlind", b.BlindType())
				}
				if b.Status() != BlindStatusStopped {
					t.Errorf("Status() = %v, want Stopped", b.Status())
				}
				if pos, _ := b.Position().Value(); pos != 40 {
					t.Errorf("Position() = %v, want 40", b.Position())
				}
				if angle, _ := b.Angle().Value(); angle != 90 {
					t.Errorf("Angle() = %v, want 90", b.Angle())
				}
				if b.LimitStatus() != LimitStatusLimits {
					t.Errorf("LimitStatus() = %v, want Limits", b.LimitStatus())
				}
				if b.VoltageMode() != VoltageModeDC {
					t.Errorf("VoltageMode() = %v, want DC", b.VoltageMode())
				}
				if v, _ := b.BatteryVoltage().Value(); v != 12.0 {
					t.Errorf("BatteryVoltage() = %v, want 12.0", b.BatteryVoltage())
				}
				if lvl, _ := b.BatteryLevel().Value(); lvl != 73 {
					t.Errorf("BatteryLevel() = %v, want 73", b.BatteryLevel())
				}
				if rssi, _ := b.RSSI().Value(); rssi != -70 {
					t.Errorf("RSSI() = %v, want -70", b.RSSI())
				}
				if charging, ok := b.Charging().Value(); !ok || !charging {
					t.Errorf("Charging() = %v, want true", b.Charging())
				}
				if !b.Available() {
					t.Error("Available() = false after a successful merge")
				}
			},
		},
		{
			name: "unidirection stops after motor state",
			status: func() *protocol.DeviceStatus {
				st := full()
				st.WirelessMode = protocol.Int(0)
				return st
			},
			verify: func(t *testing.T, b *Blind) {
				if b.WirelessMode() != WirelessModeUniDirection {
					t.Fatalf("WirelessMode() = %v, want UniDirection", b.WirelessMode())
				}
				if b.Status() != BlindStatusStopped {
					t.Errorf("Status() = %v, want Stopped: motor state is always parsed", b.Status())
				}
				if b.Position().IsKnown() {
					t.Errorf("Position() = %v, want unknown on unidirection hardware", b.Position())
				}
				if b.LimitStatus() != LimitStatusUnknown {
					t.Errorf("LimitStatus() = %v, want Unknown", b.LimitStatus())
				}
				if b.BatteryVoltage().IsKnown() {
					t.Errorf("BatteryVoltage() = %v, want unknown", b.BatteryVoltage())
				}
				if b.RSSI().IsKnown() {
					t.Errorf("RSSI() = %v, want unknown: unidirection blinds cannot report it", b.RSSI())
				}
			},
		},
		{
			name: "bidirection with limits skips position and angle",
			status: func() *protocol.DeviceStatus {
				st := full()
				st.WirelessMode = protocol.Int(2)
				return st
			},
			verify: func(t *testing.T, b *Blind) {
				if b.WirelessMode() != WirelessModeBiDirectionLimits {
					t.Fatalf("WirelessMode() = %v, want BiDirectionLimits", b.WirelessMode())
				}
				if b.LimitStatus() != LimitStatusLimits {
					t.Errorf("LimitStatus() = %v, want Limits", b.LimitStatus())
				}
				if v, _ := b.BatteryVoltage().Value(); v != 12.0 {
					t.Errorf("BatteryVoltage() = %v, want 12.0", b.BatteryVoltage())
				}
				if b.Position().IsKnown() {
					t.Errorf("Position() = %v, want unknown", b.Position())
				}
				if b.Angle().IsKnown() {
					t.Errorf("Angle() = %v, want unknown", b.Angle())
				}
			},
		},
		{
			name: "missing position and angle default to zero",
			status: func() *protocol.DeviceStatus {
				st := full()
				st.CurrentPosition = nil
				st.CurrentAngle = nil
				return st
			},
			verify: func(t *testing.T, b *Blind) {
				if pos, ok := b.Position().Value(); !ok || pos != 0 {
					t.Errorf("Position() = %v, want known 0", b.Position())
				}
				if angle, ok := b.Angle().Value(); !ok || angle != 0 {
					t.Errorf("Angle() = %v, want known 0", b.Angle())
				}
			},
		},
		{
			name: "missing battery resets both readings",
			status: func() *protocol.DeviceStatus {
				st := full()
				st.BatteryLevel = nil
				return st
			},
			verify: func(t *testing.T, b *Blind) {
				if b.BatteryVoltage().IsKnown() || b.BatteryLevel().IsKnown() {
					t.Errorf("battery = %v / %v, want both unknown when the report omits it",
						b.BatteryVoltage(), b.BatteryLevel())
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newTestBlind(t, func(req *protocol.Envelope) (*protocol.Envelope, error) {
				return blindAck(t, tt.status()), nil
			})
			if err := b.UpdateFromCache(); err != nil {
				t.Fatalf("UpdateFromCache() error = %v", err)
			}
			tt.verify(t, b)
		})
	}
}

func TestBlindTypeHandling(t *testing.T) {
	var status *protocol.DeviceStatus
	b, _ := newTestBlind(t, func(req *protocol.Envelope) (*protocol.Envelope, error) {
		return blindAck(t, status), nil
	})
	refresh := func(st *protocol.DeviceStatus) {
		t.Helper()
		status = st
		if err := b.UpdateFromCache(); err != nil {
			t.Fatalf("UpdateFromCache() error = %v", err)
		}
	}

	// First status without a type: the common single-motor roller.
	refresh(&protocol.DeviceStatus{Operation: protocol.Int(2), WirelessMode: protocol.Int(1)})
	if b.BlindType() != BlindTypeRollerBlind {
		t.Fatalf("BlindType() = %v, want RollerBlind assumed for a typeless report", b.BlindType())
	}

	// A recognized type replaces the assumption.
	refresh(&protocol.DeviceStatus{Type: protocol.Int(5), Operation: protocol.Int(2), WirelessMode: protocol.Int(1)})
	if b.BlindType() != BlindTypeShangriLaBlind {
		t.Fatalf("BlindType() = %v, want ShangriLaBlind", b.BlindType())
	}

	// Once a type has been seen, a typeless report keeps it.
	refresh(&protocol.DeviceStatus{Operation: protocol.Int(2), WirelessMode: protocol.Int(1)})
	if b.BlindType() != BlindTypeShangriLaBlind {
		t.Errorf("BlindType() = %v after typeless report, want ShangriLaBlind kept", b.BlindType())
	}

	// An unrecognized wire value maps to Unknown, not to the assumption.
	refresh(&protocol.DeviceStatus{Type: protocol.Int(99), Operation: protocol.Int(2), WirelessMode: protocol.Int(1)})
	if b.BlindType() != BlindTypeUnknown {
		t.Errorf("BlindType() = %v for wire type 99, want Unknown", b.BlindType())
	}
}

func TestBlindCommandOpcodes(t *testing.T) {
	tests := []struct {
		name   string
		invoke func(b *Blind) error
		wantOp int
	}{
		{name: "Open", invoke: (*Blind).Open, wantOp: protocol.OpOpen},
		{name: "Close", invoke: (*Blind).Close, wantOp: protocol.OpClose},
		{name: "Stop", invoke: (*Blind).Stop, wantOp: protocol.OpStop},
		{name: "JogUp", invoke: (*Blind).JogUp, wantOp: protocol.OpJogUp},
		{name: "JogDown", invoke: (*Blind).JogDown, wantOp: protocol.OpJogDown},
		{name: "Update", invoke: (*Blind).Update, wantOp: protocol.OpStatusQuery},
		{name: "UpdateTrigger", invoke: (*Blind).UpdateTrigger, wantOp: protocol.OpStatusQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, st := newTestBlind(t, func(req *protocol.Envelope) (*protocol.Envelope, error) {
				return encryptedReply(t, protocol.TypeWriteDeviceAck, testBlindMAC, protocol.DeviceTypeBlind,
					&protocol.DeviceStatus{Operation: protocol.Int(2), WirelessMode: protocol.Int(1)}), nil
			})
			if err := tt.invoke(b); err != nil {
				t.Fatalf("%s() error = %v", tt.name, err)
			}
			if st.count() != 1 {
				t.Fatalf("exchange count = %d, want 1", st.count())
			}
			req := st.request(0)
			if req.MsgType != protocol.TypeWriteDevice || req.MAC != testBlindMAC {
				t.Errorf("request = %q for %q, want WriteDevice for the blind", req.MsgType, req.MAC)
			}
			cmd := decryptCommand(t, req)
			if cmd.Operation == nil || *cmd.Operation != tt.wantOp {
				t.Errorf("operation = %v, want %d", cmd.Operation, tt.wantOp)
			}
			if cmd.TargetPosition != nil || cmd.TargetAngle != nil {
				t.Errorf("command carries targets %v/%v, want none", cmd.TargetPosition, cmd.TargetAngle)
			}
		})
	}
}

func TestBlindSetPositionValidation(t *testing.T) {
	tests := []struct {
		name     string
		position int
		opts     []PositionOption
		wantErr  bool
	}{
		{name: "fully open", position: 0},
		{name: "fully closed", position: 100},
		{name: "with angle", position: 50, opts: []PositionOption{WithAngle(90)}},
		{name: "below range", position: -1, wantErr: true},
		{name: "above range", position: 101, wantErr: true},
		{name: "angle below range", position: 50, opts: []PositionOption{WithAngle(-1)}, wantErr: true},
		{name: "angle above range", position: 50, opts: []PositionOption{WithAngle(181)}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, st := newTestBlind(t, func(req *protocol.Envelope) (*protocol.Envelope, error) {
				return encryptedReply(t, protocol.TypeWriteDeviceAck, testBlindMAC, protocol.DeviceTypeBlind,
					&protocol.DeviceStatus{Operation: protocol.Int(1), WirelessMode: protocol.Int(1)}), nil
			})
			err := b.SetPosition(tt.position, tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SetPosition() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidArgument) {
					t.Errorf("error = %v, want ErrInvalidArgument", err)
				}
				if st.count() != 0 {
					t.Errorf("exchange count = %d, want 0: validation must precede I/O", st.count())
				}
				return
			}
			cmd := decryptCommand(t, st.request(0))
			if cmd.TargetPosition == nil || *cmd.TargetPosition != tt.position {
				t.Errorf("targetPosition = %v, want %d", cmd.TargetPosition, tt.position)
			}
		})
	}
}

func TestBlindRestoreAngle(t *testing.T) {
	// Every ack reports angle 60 so the remembered restore angle is stable
	// across the sequence.
	ack := func() *protocol.Envelope {
		return blindAck(t, &protocol.DeviceStatus{
			Operation:    protocol.Int(2),
			CurrentAngle: protocol.Int(60),
			WirelessMode: protocol.Int(1),
		})
	}
	b, st := newTestBlind(t, func(req *protocol.Envelope) (*protocol.Envelope, error) {
		return ack(), nil
	})
	if err := b.UpdateFromCache(); err != nil {
		t.Fatalf("UpdateFromCache() error = %v", err)
	}

	if err := b.SetPosition(50, WithRestoreAngle()); err != nil {
		t.Fatalf("SetPosition() error = %v", err)
	}
	cmd := decryptCommand(t, st.request(1))
	if cmd.TargetAngle == nil || *cmd.TargetAngle != 60 {
		t.Errorf("targetAngle = %v, want the remembered 60", cmd.TargetAngle)
	}

	// Position 0 drops the blind fully open: re-tilting the slats there is
	// pointless, so the restore is skipped.
	if err := b.SetPosition(0, WithRestoreAngle()); err != nil {
		t.Fatalf("SetPosition() error = %v", err)
	}
	if cmd := decryptCommand(t, st.request(2)); cmd.TargetAngle != nil {
		t.Errorf("targetAngle = %v for position 0, want none", *cmd.TargetAngle)
	}

	// An explicit angle wins over the remembered one.
	if err := b.SetPosition(40, WithAngle(90), WithRestoreAngle()); err != nil {
		t.Fatalf("SetPosition() error = %v", err)
	}
	if cmd := decryptCommand(t, st.request(3)); cmd.TargetAngle == nil || *cmd.TargetAngle != 90 {
		t.Errorf("targetAngle = %v, want the explicit 90", cmd.TargetAngle)
	}

	// With no angle ever observed there is nothing to restore.
	fresh, stFresh := newTestBlind(t, func(req *protocol.Envelope) (*protocol.Envelope, error) {
		return ack(), nil
	})
	if err := fresh.SetPosition(50, WithRestoreAngle()); err != nil {
		t.Fatalf("SetPosition() error = %v", err)
	}
	if cmd := decryptCommand(t, stFresh.request(0)); cmd.TargetAngle != nil {
		t.Errorf("targetAngle = %v with no observed angle, want none", *cmd.TargetAngle)
	}
}

func TestBlindAngleScaling(t *testing.T) {
	// A ShangriLa blind rotates over 90 degrees; the API presents 0-180.
	b, st := newTestBlind(t, func(req *protocol.Envelope) (*protocol.Envelope, error) {
		return blindAck(t, &protocol.DeviceStatus{
			Type:         protocol.Int(5),
			Operation:    protocol.Int(2),
			CurrentAngle: protocol.Int(45),
			WirelessMode: protocol.Int(1),
		}), nil
	})
	if err := b.UpdateFromCache(); err != nil {
		t.Fatalf("UpdateFromCache() error = %v", err)
	}
	if angle, _ := b.Angle().Value(); angle != 90 {
		t.Errorf("Angle() = %v, want hardware 45 of 90 presented as 90 of 180", b.Angle())
	}

	tests := []struct {
		angle    int
		wantWire int
	}{
		{angle: 180, wantWire: 90},
		{angle: 90, wantWire: 45},
		{angle: 0, wantWire: 0},
	}
	for _, tt := range tests {
		if err := b.SetAngle(tt.angle); err != nil {
			t.Fatalf("SetAngle(%d) error = %v", tt.angle, err)
		}
		cmd := decryptCommand(t, st.request(st.count()-1))
		if cmd.TargetAngle == nil || *cmd.TargetAngle != tt.wantWire {
			t.Errorf("SetAngle(%d) sent wire angle %v, want %d", tt.angle, cmd.TargetAngle, tt.wantWire)
		}
	}
}

func TestBlindCommandFailureMarksUnavailable(t *testing.T) {
	healthy := true
	b, _ := newTestBlind(t, func(req *protocol.Envelope) (*protocol.Envelope, error) {
		if !healthy {
			return nil, ErrTimeout
		}
		return blindAck(t, &protocol.DeviceStatus{Operation: protocol.Int(2), WirelessMode: protocol.Int(1)}), nil
	})

	if err := b.UpdateFromCache(); err != nil {
		t.Fatalf("UpdateFromCache() error = %v", err)
	}
	if !b.Available() {
		t.Fatal("Available() = false after a successful merge")
	}

	healthy = false
	err := b.Open()
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Open() error = %v, want ErrTimeout", err)
	}
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("error = %T, want *CommandError", err)
	}
	if cmdErr.DeviceMAC != testBlindMAC {
		t.Errorf("CommandError.DeviceMAC = %q, want %q", cmdErr.DeviceMAC, testBlindMAC)
	}
	if b.Available() {
		t.Error("Available() = true after a failed exchange")
	}

	healthy = true
	if err := b.UpdateFromCache(); err != nil {
		t.Fatalf("UpdateFromCache() error = %v", err)
	}
	if !b.Available() {
		t.Error("Available() = false after recovery")
	}
}

func TestBlindPushMergesAndFiresCallback(t *testing.T) {
	b, _ := newTestBlind(t, func(req *protocol.Envelope) (*protocol.Envelope, error) {
		return nil, fmt.Errorf("pushes need no transport")
	})
	fired := 0
	b.RegisterCallback("test", func() { fired++ })

	b.handlePush(encryptedReply(t, protocol.TypeReport, testBlindMAC, protocol.DeviceTypeBlind,
		&protocol.DeviceStatus{
			Operation:       protocol.Int(1),
			CurrentPosition: protocol.Int(15),
			WirelessMode:    protocol.Int(1),
		}))
	if fired != 1 {
		t.Fatalf("callback fired %d times, want 1", fired)
	}
	if b.Status() != BlindStatusOpening {
		t.Errorf("Status() = %v, want Opening", b.Status())
	}
	if pos, _ := b.Position().Value(); pos != 15 {
		t.Errorf("Position() = %v, want 15", b.Position())
	}

	// A push that does not decrypt is dropped without touching state.
	garbage := &protocol.Envelope{MsgType: protocol.TypeReport, MAC: testBlindMAC}
	garbage.SetEncryptedData("00FF00FF")
	b.handlePush(garbage)
	if fired != 1 {
		t.Errorf("callback fired %d times after a bad push, want still 1", fired)
	}
	if pos, _ := b.Position().Value(); pos != 15 {
		t.Errorf("Position() = %v after a bad push, want unchanged 15", b.Position())
	}
}
