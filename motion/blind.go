package motion

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/muurk/motionlan/protocol"
)

// Blind is a single-motor device bridged by a Gateway. All observed fields
// start unknown and fill in as status payloads are merged; how much a
// blind reports depends on its wireless mode, so some fields may stay
// unknown forever on simpler hardware.
type Blind struct {
	deviceCommon

	status         BlindStatus
	limitStatus    LimitStatus
	position       Optional[int]
	angle          Optional[int]
	restoreAngle   Optional[int]
	batteryVoltage Optional[float64]
	batteryLevel   Optional[float64]
	charging       Optional[bool]
}

func newBlind(gw *Gateway, mac, deviceType string) *Blind {
	return &Blind{
		deviceCommon: newDeviceCommon(gw, mac, deviceType),
		status:       BlindStatusUnknown,
		limitStatus:  LimitStatusUnknown,
	}
}

// Status returns the last reported motor state.
func (b *Blind) Status() BlindStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// LimitStatus returns the travel limit calibration state.
func (b *Blind) LimitStatus() LimitStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limitStatus
}

// Position returns the position in percent, 0 open to 100 closed. Unknown
// for blinds that do not report position.
func (b *Blind) Position() Optional[int] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.position
}

// Angle returns the slat angle in degrees, 0-180 regardless of the
// hardware's own range.
func (b *Blind) Angle() Optional[int] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.angle
}

// BatteryVoltage returns the last reported battery voltage in volts.
func (b *Blind) BatteryVoltage() Optional[float64] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.batteryVoltage
}

// BatteryLevel returns the battery charge in percent, derived from the
// voltage. A value of 200 flags a reading outside every known pack range.
func (b *Blind) BatteryLevel() Optional[float64] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.batteryLevel
}

// Charging reports whether the blind says it is charging. Only some
// firmware revisions include this.
func (b *Blind) Charging() Optional[bool] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.charging
}

// String renders a one-line summary for logs and prompts.
func (b *Blind) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fmt.Sprintf("<Blind mac: %s, type: %s, status: %s, position: %s %%, angle: %s, limit: %s, battery: %s, %s %%, %s V, RSSI: %s dBm, com: %s>",
		b.mac, b.blindType, b.status, b.position, b.angle, b.limitStatus,
		b.voltageMode, b.batteryLevel, b.batteryVoltage, b.rssi, b.wirelessMode)
}

// UpdateFromCache reads the gateway-cached status. No radio communication
// with the blind takes place, so the result is fast but possibly stale.
func (b *Blind) UpdateFromCache() error {
	resp, err := b.gw.readDevice(b.MAC(), b.DeviceType())
	if err != nil {
		b.setAvailable(false)
		return err
	}
	return b.merge(resp)
}

// UpdateTrigger asks the gateway to refresh the blind over radio and
// merges the cached status from the ack immediately, without waiting for
// the refresh. The refreshed value arrives through a later push (attach a
// listener) or through the caller's next Update or UpdateFromCache poll.
func (b *Blind) UpdateTrigger() error {
	return b.command(&protocol.Command{Operation: protocol.Int(protocol.OpStatusQuery)})
}

// Update requests fresh status through the gateway's radio link and blocks
// until the ack arrives or the exchange times out.
func (b *Blind) Update() error {
	return b.command(&protocol.Command{Operation: protocol.Int(protocol.OpStatusQuery)})
}

// Stop halts the motor.
func (b *Blind) Stop() error {
	return b.command(&protocol.Command{Operation: protocol.Int(protocol.OpStop)})
}

// Open moves the blind up / open.
func (b *Blind) Open() error {
	return b.command(&protocol.Command{Operation: protocol.Int(protocol.OpOpen)})
}

// Close moves the blind down / closed.
func (b *Blind) Close() error {
	return b.command(&protocol.Command{Operation: protocol.Int(protocol.OpClose)})
}

// JogUp moves the blind one step up.
func (b *Blind) JogUp() error {
	return b.command(&protocol.Command{Operation: protocol.Int(protocol.OpJogUp)})
}

// JogDown moves the blind one step down.
func (b *Blind) JogDown() error {
	return b.command(&protocol.Command{Operation: protocol.Int(protocol.OpJogDown)})
}

// PositionOption modifies a SetPosition command.
type PositionOption func(*positionRequest)

type positionRequest struct {
	angle   *int
	restore bool
}

// WithAngle adds a target slat angle (0-180 degrees) to the position
// command, so both move in one exchange.
func WithAngle(angle int) PositionOption {
	return func(r *positionRequest) {
		a := angle
		r.angle = &a
	}
}

// WithRestoreAngle re-sends the last observed slat angle alongside the new
// position. A no-op when no nonzero angle has ever been observed, or when
// the target position is 0.
func WithRestoreAngle() PositionOption {
	return func(r *positionRequest) {
		r.restore = true
	}
}

// SetPosition moves the blind to a position in percent, 0 open to 100
// closed. An out-of-range position or angle fails with ErrInvalidArgument
// before any network I/O.
func (b *Blind) SetPosition(position int, opts ...PositionOption) error {
	if position < 0 || position > 100 {
		return fmt.Errorf("%w: position %d outside 0-100", ErrInvalidArgument, position)
	}
	var req positionRequest
	for _, opt := range opts {
		opt(&req)
	}
	if req.angle != nil && (*req.angle < 0 || *req.angle > 180) {
		return fmt.Errorf("%w: angle %d outside 0-180", ErrInvalidArgument, *req.angle)
	}

	cmd := &protocol.Command{TargetPosition: protocol.Int(position)}
	if req.restore && position != 0 {
		if angle, ok := b.lastAngle(); ok {
			cmd.TargetAngle = protocol.Int(b.wireAngle(angle))
		}
	}
	if req.angle != nil {
		cmd.TargetAngle = protocol.Int(b.wireAngle(*req.angle))
	}
	return b.command(cmd)
}

// SetAngle rotates the slats to an angle in degrees, 0-180. Out of range
// fails with ErrInvalidArgument before any network I/O.
func (b *Blind) SetAngle(angle int) error {
	if angle < 0 || angle > 180 {
		return fmt.Errorf("%w: angle %d outside 0-180", ErrInvalidArgument, angle)
	}
	return b.command(&protocol.Command{TargetAngle: protocol.Int(b.wireAngle(angle))})
}

// command sends one WriteDevice exchange and merges the ack status.
func (b *Blind) command(cmd *protocol.Command) error {
	resp, err := b.gw.writeDevice(b.MAC(), b.DeviceType(), cmd)
	if err != nil {
		b.setAvailable(false)
		return err
	}
	return b.merge(resp)
}

// merge decodes a status payload and applies it. On decode failure no
// field changes and the device is flagged unavailable.
func (b *Blind) merge(resp *protocol.Envelope) error {
	key, err := b.gw.session()
	if err != nil {
		b.setAvailable(false)
		return &CommandError{GatewayIP: b.gw.IP(), DeviceMAC: b.MAC(), MsgType: resp.MsgType, Err: err}
	}
	var st protocol.DeviceStatus
	if err := resp.DecryptInto(key, &st); err != nil {
		b.setAvailable(false)
		return &CommandError{GatewayIP: b.gw.IP(), DeviceMAC: b.MAC(), MsgType: resp.MsgType, Err: err}
	}
	b.mergeStatus(resp, &st)
	b.callbacks.fire()
	return nil
}

// mergeStatus applies one decoded status. The wireless mode gates how far
// parsing goes: UniDirection blinds report nothing beyond their motor
// state, BiDirectionLimits blinds report everything except position and
// angle.
func (b *Blind) mergeStatus(resp *protocol.Envelope, st *protocol.DeviceStatus) {
	logger := b.gw.logger

	b.mu.Lock()
	defer b.mu.Unlock()

	b.mergeCommonLocked(resp, st.Type, st.WirelessMode, st.VoltageMode, st.RSSI)

	if st.Operation != nil {
		b.status = blindStatusFromWire(*st.Operation)
	} else {
		b.status = BlindStatusUnknown
	}

	if b.wirelessMode == WirelessModeUniDirection {
		return
	}

	if st.CurrentState != nil {
		b.limitStatus = limitStatusFromWire(*st.CurrentState)
	} else {
		b.limitStatus = LimitStatusUnknown
	}

	if st.BatteryLevel != nil {
		voltage := float64(*st.BatteryLevel) / 100.0
		level := batteryLevelFromVoltage(voltage)
		b.batteryVoltage = Known(voltage)
		b.batteryLevel = Known(level)
		if level <= 0.0 || level >= 200.0 {
			logger.Warn("blind reports a battery voltage outside expected limits",
				zap.String("mac", b.mac), zap.Float64("voltage", voltage))
		}
	} else {
		b.batteryVoltage = Unknown[float64]()
		b.batteryLevel = Unknown[float64]()
	}
	if st.ChargingState != nil {
		b.charging = Known(*st.ChargingState != 0)
	}

	if b.wirelessMode == WirelessModeBiDirectionLimits {
		return
	}

	position := 0
	if st.CurrentPosition != nil {
		position = *st.CurrentPosition
	}
	b.position = Known(position)

	rawAngle := 0
	if st.CurrentAngle != nil {
		rawAngle = *st.CurrentAngle
	}
	angle := int(math.Round(float64(rawAngle) * 180.0 / float64(b.maxAngle)))
	b.angle = Known(angle)
	if angle != 0 {
		b.restoreAngle = Known(angle)
	}
}

// handlePush merges a routed Report. Decode failures are logged and
// swallowed; no caller is waiting on a push.
func (b *Blind) handlePush(env *protocol.Envelope) {
	key, err := b.gw.session()
	if err != nil {
		b.gw.logger.Debug("push before any token, dropping", zap.String("mac", b.MAC()))
		return
	}
	var st protocol.DeviceStatus
	if err := env.DecryptInto(key, &st); err != nil {
		b.gw.logger.Warn("cannot decode push for blind",
			zap.String("mac", b.MAC()), zap.Error(err))
		return
	}
	b.mergeStatus(env, &st)
	b.callbacks.fire()
}

// lastAngle returns the remembered nonzero angle for WithRestoreAngle.
func (b *Blind) lastAngle() (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.restoreAngle.Value()
}
