package motion

import (
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/muurk/motionlan/protocol"
)

// Device is the capability set shared by every blind variant. The concrete
// type is *Blind or *TopDownBottomUp, selected by device type when the
// roster entry is created; assert on it to reach the variant-specific
// operations (motor-qualified commands, scaled positions).
type Device interface {
	// MAC returns the device MAC address.
	MAC() string
	// DeviceType returns the wire device type code.
	DeviceType() string
	// BlindType returns the mechanical kind, Unknown until first reported.
	BlindType() BlindType
	// Available reports the outcome of the most recent exchange involving
	// this device.
	Available() bool

	// Update asks the gateway to refresh the device over radio and blocks
	// for the resulting status.
	Update() error
	// UpdateFromCache reads the gateway-cached status without a radio
	// round trip. Low latency, possibly stale.
	UpdateFromCache() error
	// UpdateTrigger schedules a radio refresh and merges the cached
	// status immediately; the fresh value arrives via a later push or
	// poll.
	UpdateTrigger() error

	// Stop halts the motor. On a dual-motor blind this addresses the
	// bottom rail; use the motor-qualified variant for the rest.
	Stop() error
	// Open moves the blind up / open.
	Open() error
	// Close moves the blind down / closed.
	Close() error

	// RegisterCallback stores cb under id; it fires after every
	// successful status merge, from commands and pushes alike.
	RegisterCallback(id string, cb func())
	// RemoveCallback removes the handler stored under id.
	RemoveCallback(id string)
	// ClearCallbacks removes every registered handler.
	ClearCallbacks()

	// handlePush merges a routed Report addressed to this device.
	handlePush(env *protocol.Envelope)
	// setAvailable records the outcome of a gateway-level exchange.
	setAvailable(v bool)
}

// newDevice selects the variant for one roster entry. TDBU codes get the
// dual-motor variant; every other blind code is modelled as single-motor,
// including the WiFi-direct devices.
func newDevice(gw *Gateway, ref protocol.DeviceRef) Device {
	if protocol.IsTDBUType(ref.DeviceType) {
		return newTopDownBottomUp(gw, ref.MAC, ref.DeviceType)
	}
	return newBlind(gw, ref.MAC, ref.DeviceType)
}

// deviceCommon holds the identity and radio fields every blind variant
// shares, plus the mutex that serializes merges for the whole device.
// Variant structs embed it and guard their own fields with the same mutex.
type deviceCommon struct {
	gw *Gateway

	mu           sync.Mutex
	mac          string
	deviceType   string
	blindType    BlindType
	wirelessMode WirelessMode
	voltageMode  VoltageMode
	rssi         Optional[int]
	available    bool
	maxAngle     int
	typeSeen     bool

	callbacks callbackRegistry
}

func newDeviceCommon(gw *Gateway, mac, deviceType string) deviceCommon {
	return deviceCommon{
		gw:           gw,
		mac:          mac,
		deviceType:   deviceType,
		blindType:    BlindTypeUnknown,
		wirelessMode: WirelessModeUnknown,
		voltageMode:  VoltageModeUnknown,
		maxAngle:     maxAngleFor(deviceType, BlindTypeUnknown),
	}
}

// MAC returns the device MAC address.
func (c *deviceCommon) MAC() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mac
}

// DeviceType returns the wire device type code.
func (c *deviceCommon) DeviceType() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceType
}

// BlindType returns the mechanical kind of the blind.
func (c *deviceCommon) BlindType() BlindType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blindType
}

// WirelessMode returns the radio capability class of the blind.
func (c *deviceCommon) WirelessMode() WirelessMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wirelessMode
}

// VoltageMode returns how the blind is powered.
func (c *deviceCommon) VoltageMode() VoltageMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.voltageMode
}

// RSSI returns the radio signal strength between blind and gateway in dBm.
func (c *deviceCommon) RSSI() Optional[int] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rssi
}

// Available reports the outcome of the most recent exchange involving
// this device.
func (c *deviceCommon) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.available
}

// RegisterCallback stores cb under id; it fires after every successful
// status merge, from commands and pushes alike.
func (c *deviceCommon) RegisterCallback(id string, cb func()) {
	c.callbacks.register(id, cb)
}

// RemoveCallback removes the handler stored under id.
func (c *deviceCommon) RemoveCallback(id string) {
	c.callbacks.remove(id)
}

// ClearCallbacks removes every registered handler.
func (c *deviceCommon) ClearCallbacks() {
	c.callbacks.clear()
}

func (c *deviceCommon) setAvailable(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.available = v
}

// mergeCommonLocked applies the identity and radio fields of one status
// payload. Caller holds c.mu. A missing type on the first ever status
// defaults to RollerBlind; an unrecognized type becomes Unknown and is
// logged once per transition. RSSI is only reported by blinds that can
// talk back, so it is skipped for UniDirection hardware.
func (c *deviceCommon) mergeCommonLocked(resp *protocol.Envelope, typ, wireless, voltage, rssi *int) {
	logger := c.gw.logger

	if resp.DeviceType != "" {
		c.deviceType = resp.DeviceType
	}

	if typ != nil {
		bt := blindTypeFromWire(*typ)
		if bt == BlindTypeUnknown && (!c.typeSeen || c.blindType != BlindTypeUnknown) {
			logger.Error("blind reports a type that is not yet known",
				zap.String("mac", c.mac), zap.Int("type", *typ))
		}
		c.blindType = bt
		c.typeSeen = true
	} else if !c.typeSeen {
		logger.Info("blind status carries no type, assuming RollerBlind",
			zap.String("mac", c.mac))
		c.blindType = BlindTypeRollerBlind
		c.typeSeen = true
	}

	if wireless != nil {
		c.wirelessMode = wirelessModeFromWire(*wireless)
	}
	if voltage != nil {
		c.voltageMode = voltageModeFromWire(*voltage)
	}
	c.maxAngle = maxAngleFor(c.deviceType, c.blindType)
	c.available = true

	if c.wirelessMode == WirelessModeUniDirection {
		return
	}
	if rssi != nil {
		c.rssi = Known(*rssi)
	}
}

// wireAngle converts a 0-180 degree angle to the device's own range.
func (c *deviceCommon) wireAngle(angle int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(math.Round(float64(angle) * float64(c.maxAngle) / 180.0))
}

// maxAngleFor returns the hardware rotation range in degrees. Most blinds
// rotate over 180; ShangriLa blinds and double rollers stop at 90.
func maxAngleFor(deviceType string, bt BlindType) int {
	if deviceType == protocol.DeviceTypeDoubleRoller || bt == BlindTypeShangriLaBlind {
		return 90
	}
	return 180
}

// batteryLevelFromVoltage converts a reported battery voltage to a charge
// percentage. The pack's cell count is inferred from the voltage range:
// two cells up to 9.4V, three up to 13.6V, four up to 19.0V. A voltage
// outside every range returns 200 so a bad reading stays recognizable
// instead of clipping into a plausible one.
func batteryLevelFromVoltage(v float64) float64 {
	switch {
	case v <= 0.0:
		return 0
	case v <= 9.4:
		// 2 cell pack, 8.4V full
		return math.Round((v - 6.2) * 100 / (8.4 - 6.2))
	case v <= 13.6:
		// 3 cell pack, 12.6V full
		return math.Round((v - 10.4) * 100 / (12.6 - 10.4))
	case v <= 19.0:
		// 4 cell pack, 16.8V full
		return math.Round((v - 14.6) * 100 / (16.8 - 14.6))
	default:
		return 200
	}
}

// clampPercent clips v into the 0-100 range used by positions.
func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
