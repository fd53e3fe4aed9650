package bridge

import (
	"time"

	"github.com/muurk/motionlan/motion"
)

// GatewayState is the JSON snapshot of one gateway, served over REST and
// published as the state of the gateway's own MQTT topic.
type GatewayState struct {
	MAC       string     `json:"mac"`
	IP        string     `json:"ip"`
	Status    string     `json:"status"`
	Firmware  string     `json:"firmware,omitempty"`
	Devices   int        `json:"devices"`
	RSSI      *int       `json:"rssi,omitempty"`
	Available bool       `json:"available"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
}

// MotorState is the per-rail slice of a dual-motor device snapshot.
type MotorState struct {
	Status         string   `json:"status"`
	Position       *int     `json:"position,omitempty"`
	ScaledPosition *int     `json:"scaledPosition,omitempty"`
	Angle          *int     `json:"angle,omitempty"`
	BatteryVolts   *float64 `json:"batteryVolts,omitempty"`
	BatteryPercent *float64 `json:"batteryPercent,omitempty"`
}

// DeviceState is the JSON snapshot of one device. Single-motor devices fill
// the flat fields; dual-motor devices carry one MotorState per rail plus
// the combined view and leave the flat motor fields empty.
type DeviceState struct {
	MAC        string `json:"mac"`
	Gateway    string `json:"gateway"`
	DeviceType string `json:"deviceType"`
	BlindType  string `json:"blindType"`
	Wireless   string `json:"wireless,omitempty"`
	Power      string `json:"power,omitempty"`
	RSSI       *int   `json:"rssi,omitempty"`
	Available  bool   `json:"available"`

	Status         string   `json:"status,omitempty"`
	Position       *int     `json:"position,omitempty"`
	Angle          *int     `json:"angle,omitempty"`
	BatteryVolts   *float64 `json:"batteryVolts,omitempty"`
	BatteryPercent *float64 `json:"batteryPercent,omitempty"`
	Charging       *bool    `json:"charging,omitempty"`

	Top      *MotorState `json:"top,omitempty"`
	Bottom   *MotorState `json:"bottom,omitempty"`
	Combined *MotorState `json:"combined,omitempty"`
	Width    *int        `json:"width,omitempty"`
}

// GatewayDetail is the single-gateway REST answer: the gateway snapshot
// plus the snapshots of every device it carries.
type GatewayDetail struct {
	GatewayState
	DeviceList []DeviceState `json:"deviceList"`
}

// Event is one state change streamed over the WebSocket endpoint. Device
// is empty for gateway-level changes; State holds the matching snapshot.
type Event struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Gateway string    `json:"gateway"`
	Device  string    `json:"device,omitempty"`
	State   any       `json:"state"`
}

func snapshotGateway(gw *motion.Gateway) GatewayState {
	st := GatewayState{
		MAC:       gw.MAC(),
		IP:        gw.IP(),
		Status:    gw.Status().String(),
		Firmware:  gw.FirmwareVersion(),
		Devices:   gw.NumberOfDevices(),
		RSSI:      optInt(gw.RSSI()),
		Available: gw.Available(),
	}
	if seen := gw.LastSeen(); !seen.IsZero() {
		utc := seen.UTC()
		st.LastSeen = &utc
	}
	return st
}

func snapshotDevice(gw *motion.Gateway, d motion.Device) DeviceState {
	st := DeviceState{
		MAC:        d.MAC(),
		Gateway:    gw.MAC(),
		DeviceType: d.DeviceType(),
		BlindType:  d.BlindType().String(),
		Available:  d.Available(),
	}

	switch dev := d.(type) {
	case *motion.Blind:
		st.Wireless = dev.WirelessMode().String()
		st.Power = dev.VoltageMode().String()
		st.RSSI = optInt(dev.RSSI())
		st.Status = dev.Status().String()
		st.Position = optInt(dev.Position())
		st.Angle = optInt(dev.Angle())
		st.BatteryVolts = optFloat(dev.BatteryVoltage())
		st.BatteryPercent = optFloat(dev.BatteryLevel())
		st.Charging = optBool(dev.Charging())
	case *motion.TopDownBottomUp:
		st.Wireless = dev.WirelessMode().String()
		st.Power = dev.VoltageMode().String()
		st.RSSI = optInt(dev.RSSI())
		st.Top = snapshotMotor(dev, motion.MotorTop)
		st.Bottom = snapshotMotor(dev, motion.MotorBottom)
		st.Combined = snapshotMotor(dev, motion.MotorCombined)
		width := dev.Width()
		st.Width = &width
	}
	return st
}

func snapshotMotor(dev *motion.TopDownBottomUp, motor motion.Motor) *MotorState {
	return &MotorState{
		Status:         dev.Status(motor).String(),
		Position:       optInt(dev.Position(motor)),
		ScaledPosition: optInt(dev.ScaledPosition(motor)),
		Angle:          optInt(dev.Angle(motor)),
		BatteryVolts:   optFloat(dev.BatteryVoltage(motor)),
		BatteryPercent: optFloat(dev.BatteryLevel(motor)),
	}
}

// optInt and friends turn never-reported Optional fields into absent JSON
// keys instead of misleading zeros.
func optInt(o motion.Optional[int]) *int {
	if v, ok := o.Value(); ok {
		return &v
	}
	return nil
}

func optFloat(o motion.Optional[float64]) *float64 {
	if v, ok := o.Value(); ok {
		return &v
	}
	return nil
}

func optBool(o motion.Optional[bool]) *bool {
	if v, ok := o.Value(); ok {
		return &v
	}
	return nil
}
