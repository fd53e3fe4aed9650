package simulator

import (
	"math"
	"strings"

	"github.com/muurk/motionlan/protocol"
)

// Operation codes reported in status payloads. Position 100 is fully
// closed, so travel up the scale is closing.
const (
	statusClosing = 0
	statusOpening = 1
	statusStopped = 2
)

// currentState of a gateway that is serving requests.
const gatewayWorking = 1

// Limit state reported for every simulated motor: both limits programmed.
const limitsProgrammed = 3

// Jog commands nudge a motor this many percent.
const jogStep = 5

// Wireless mode codes, mirroring what attached blinds report.
const (
	wirelessUni    = 0
	wirelessBi     = 1
	wirelessLimits = 2
)

// simMotor is one motor moved toward its target by the tick loop.
type simMotor struct {
	position int
	target   int
	angle    int
}

func (m *simMotor) status() int {
	switch {
	case m.target > m.position:
		return statusClosing
	case m.target < m.position:
		return statusOpening
	default:
		return statusStopped
	}
}

// advance moves the motor one step toward its target. Reports true when
// this step reaches the target.
func (m *simMotor) advance(step int) bool {
	if m.position == m.target {
		return false
	}
	if diff := m.target - m.position; diff > 0 {
		if diff < step {
			step = diff
		}
		m.position += step
	} else {
		if -diff < step {
			step = -diff
		}
		m.position -= step
	}
	return m.position == m.target
}

// apply updates one motor from command fields. Nil fields leave state alone.
func (m *simMotor) apply(op, targetPos, targetAngle *int) {
	if op != nil {
		switch *op {
		case protocol.OpClose:
			m.target = 100
		case protocol.OpOpen:
			m.target = 0
		case protocol.OpStop:
			m.target = m.position
		case protocol.OpStatusQuery:
			// radio refresh request; simulated state is always current
		case protocol.OpJogUp:
			m.target = clampPosition(m.position - jogStep)
		case protocol.OpJogDown:
			m.target = clampPosition(m.position + jogStep)
		}
	}
	if targetPos != nil {
		m.target = clampPosition(*targetPos)
	}
	if targetAngle != nil {
		m.angle = *targetAngle
	}
}

func clampPosition(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// simDevice is one roster entry with its motor state.
type simDevice struct {
	mac          string
	deviceType   string
	blindType    int
	wirelessMode int
	voltageMode  int
	battery      int // centivolts, the wire encoding
	rssi         int
	dual         bool
	motor        simMotor // single-motor devices
	top, bottom  simMotor // TDBU rails
	width        int
}

func newSimDevice(dc DeviceConfig) *simDevice {
	wireless := wirelessBi
	if dc.WirelessMode != nil {
		wireless = *dc.WirelessMode
	}

	dev := &simDevice{
		mac:          strings.ToLower(dc.MAC),
		deviceType:   dc.DeviceType,
		blindType:    dc.BlindType,
		wirelessMode: wireless,
		voltageMode:  dc.VoltageMode,
		battery:      int(math.Round(dc.BatteryVolts * 100)),
		rssi:         dc.RSSI,
		dual:         protocol.IsTDBUType(dc.DeviceType),
		width:        dc.Width,
	}

	if dev.dual {
		dev.bottom = simMotor{position: dc.Position, target: dc.Position}
	} else {
		dev.motor = simMotor{position: dc.Position, target: dc.Position, angle: dc.Angle}
	}

	return dev
}

// advance steps the device's motors. Reports true when any motor arrived at
// its target on this tick.
func (d *simDevice) advance(step int) bool {
	if d.dual {
		arrivedTop := d.top.advance(step)
		arrivedBottom := d.bottom.advance(step)
		return arrivedTop || arrivedBottom
	}
	return d.motor.advance(step)
}

// apply executes a decrypted command against the device state.
func (d *simDevice) apply(cmd *protocol.Command) {
	if d.dual {
		d.top.apply(cmd.OperationT, cmd.TargetPositionT, cmd.TargetAngleT)
		d.bottom.apply(cmd.OperationB, cmd.TargetPositionB, cmd.TargetAngleB)
		return
	}
	d.motor.apply(cmd.Operation, cmd.TargetPosition, cmd.TargetAngle)
}

// statusBody builds the payload this device reports on acks and pushes.
// Field presence follows the wireless mode the way real blinds behave:
// unidirectional devices report no telemetry beyond the operation, and
// limit-only devices hold back live position and angle.
func (d *simDevice) statusBody() any {
	if d.dual {
		return &protocol.TDBUStatus{
			Type:             protocol.Int(d.blindType),
			OperationT:       protocol.Int(d.top.status()),
			OperationB:       protocol.Int(d.bottom.status()),
			CurrentPositionT: protocol.Int(d.top.position),
			CurrentPositionB: protocol.Int(d.bottom.position),
			CurrentAngleT:    protocol.Int(d.top.angle),
			CurrentAngleB:    protocol.Int(d.bottom.angle),
			CurrentStateT:    protocol.Int(limitsProgrammed),
			CurrentStateB:    protocol.Int(limitsProgrammed),
			BatteryLevelT:    protocol.Int(d.battery),
			BatteryLevelB:    protocol.Int(d.battery),
			VoltageMode:      protocol.Int(d.voltageMode),
			WirelessMode:     protocol.Int(d.wirelessMode),
			RSSI:             protocol.Int(d.rssi),
			Width:            protocol.Int(d.width),
		}
	}

	st := &protocol.DeviceStatus{
		Type:         protocol.Int(d.blindType),
		Operation:    protocol.Int(d.motor.status()),
		VoltageMode:  protocol.Int(d.voltageMode),
		WirelessMode: protocol.Int(d.wirelessMode),
		RSSI:         protocol.Int(d.rssi),
	}
	if d.wirelessMode != wirelessUni {
		st.CurrentState = protocol.Int(limitsProgrammed)
		st.BatteryLevel = protocol.Int(d.battery)
	}
	if d.wirelessMode == wirelessBi {
		st.CurrentPosition = protocol.Int(d.motor.position)
		st.CurrentAngle = protocol.Int(d.motor.angle)
	}
	return st
}
