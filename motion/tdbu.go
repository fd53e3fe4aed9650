package motion

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/muurk/motionlan/protocol"
)

// motorState is the observed state of one physical rail.
type motorState struct {
	status         BlindStatus
	limitStatus    LimitStatus
	position       Optional[int]
	angle          Optional[int]
	batteryVoltage Optional[float64]
	batteryLevel   Optional[float64]
}

func newMotorState() motorState {
	return motorState{status: BlindStatusUnknown, limitStatus: LimitStatusUnknown}
}

// TopDownBottomUp is a dual-motor blind: two independently driven rails
// with the fabric hanging between them. Positions run 0 at the top of the
// window to 100 at the bottom, so the bottom rail always sits at or below
// the top rail. MotorCombined addresses both rails at once; it is a
// command target only, never stored state.
type TopDownBottomUp struct {
	deviceCommon

	width  int
	top    motorState
	bottom motorState
}

func newTopDownBottomUp(gw *Gateway, mac, deviceType string) *TopDownBottomUp {
	return &TopDownBottomUp{
		deviceCommon: newDeviceCommon(gw, mac, deviceType),
		top:          newMotorState(),
		bottom:       newMotorState(),
	}
}

// Status returns the last reported state of one rail. For MotorCombined
// it returns the shared state when both rails agree, Unknown otherwise.
func (t *TopDownBottomUp) Status(motor Motor) BlindStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch motor {
	case MotorTop:
		return t.top.status
	case MotorBottom:
		return t.bottom.status
	case MotorCombined:
		if t.top.status == t.bottom.status {
			return t.top.status
		}
	}
	return BlindStatusUnknown
}

// LimitStatus returns the travel limit calibration of one rail. For
// MotorCombined it returns the shared state when both rails agree,
// Unknown otherwise.
func (t *TopDownBottomUp) LimitStatus(motor Motor) LimitStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch motor {
	case MotorTop:
		return t.top.limitStatus
	case MotorBottom:
		return t.bottom.limitStatus
	case MotorCombined:
		if t.top.limitStatus == t.bottom.limitStatus {
			return t.top.limitStatus
		}
	}
	return LimitStatusUnknown
}

// Position returns the raw rail position in percent, 0 at the top of the
// window to 100 at the bottom. MotorCombined derives the covered span
// between the rails, known only once both rails have reported.
func (t *TopDownBottomUp) Position(motor Motor) Optional[int] {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch motor {
	case MotorTop:
		return t.top.position
	case MotorBottom:
		return t.bottom.position
	case MotorCombined:
		rawT, okT := t.top.position.Value()
		rawB, okB := t.bottom.position.Value()
		if okT && okB {
			return Known(clampPercent(rawB - rawT))
		}
	}
	return Unknown[int]()
}

// ScaledPosition maps the raw position onto the travel actually reachable
// given the fabric width, 0 fully open to 100 fully closed for every
// motor. With width 0 the scaled and raw positions coincide.
func (t *TopDownBottomUp) ScaledPosition(motor Motor) Optional[int] {
	t.mu.Lock()
	defer t.mu.Unlock()
	span := 100 - t.width
	switch motor {
	case MotorTop:
		if raw, ok := t.top.position.Value(); ok {
			return Known(scaleToSpan(raw, 0, span))
		}
	case MotorBottom:
		if raw, ok := t.bottom.position.Value(); ok {
			return Known(scaleToSpan(raw, t.width, span))
		}
	case MotorCombined:
		rawT, okT := t.top.position.Value()
		rawB, okB := t.bottom.position.Value()
		if okT && okB {
			return Known(scaleToSpan(clampPercent(rawB-rawT), t.width, span))
		}
	}
	return Unknown[int]()
}

// Angle returns the slat angle of one rail in degrees 0-180. Unknown for
// MotorCombined and for hardware that does not report angles.
func (t *TopDownBottomUp) Angle(motor Motor) Optional[int] {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch motor {
	case MotorTop:
		return t.top.angle
	case MotorBottom:
		return t.bottom.angle
	}
	return Unknown[int]()
}

// BatteryVoltage returns the battery voltage of one rail's motor in volts.
// Unknown for MotorCombined.
func (t *TopDownBottomUp) BatteryVoltage(motor Motor) Optional[float64] {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch motor {
	case MotorTop:
		return t.top.batteryVoltage
	case MotorBottom:
		return t.bottom.batteryVoltage
	}
	return Unknown[float64]()
}

// BatteryLevel returns the battery charge of one rail's motor in percent.
// Unknown for MotorCombined.
func (t *TopDownBottomUp) BatteryLevel(motor Motor) Optional[float64] {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch motor {
	case MotorTop:
		return t.top.batteryLevel
	case MotorBottom:
		return t.bottom.batteryLevel
	}
	return Unknown[float64]()
}

// Width returns the stored covered-width of the fabric in percent.
func (t *TopDownBottomUp) Width() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.width
}

// SetWidth stores the covered-width used by the scaled position mapping.
// Out of range fails with ErrInvalidArgument.
func (t *TopDownBottomUp) SetWidth(width int) error {
	if width < 0 || width > 100 {
		return fmt.Errorf("%w: width %d outside 0-100", ErrInvalidArgument, width)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.width = width
	return nil
}

// String renders a one-line summary for logs and prompts.
func (t *TopDownBottomUp) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fmt.Sprintf("<TopDownBottomUp mac: %s, type: %s, status: T %s B %s, position: T %s B %s %%, width: %d %%, limit: T %s B %s, battery: %s, T %s B %s V, RSSI: %s dBm, com: %s>",
		t.mac, t.blindType, t.top.status, t.bottom.status,
		t.top.position, t.bottom.position, t.width,
		t.top.limitStatus, t.bottom.limitStatus,
		t.voltageMode, t.top.batteryVoltage, t.bottom.batteryVoltage,
		t.rssi, t.wirelessMode)
}

// UpdateFromCache reads the gateway-cached status for both rails. No radio
// communication with the blind takes place.
func (t *TopDownBottomUp) UpdateFromCache() error {
	resp, err := t.gw.readDevice(t.MAC(), t.DeviceType())
	if err != nil {
		t.setAvailable(false)
		return err
	}
	return t.merge(resp)
}

// UpdateTrigger asks the gateway to refresh both rails over radio and
// merges the cached status from the ack immediately, without waiting for
// the refresh.
func (t *TopDownBottomUp) UpdateTrigger() error {
	return t.exchange(statusQueryBoth())
}

// Update requests fresh status for both rails through the gateway's radio
// link and blocks until the ack arrives or the exchange times out. Both
// rails answer in a single exchange, so there is no per-motor variant.
func (t *TopDownBottomUp) Update() error {
	return t.exchange(statusQueryBoth())
}

func statusQueryBoth() *protocol.Command {
	return &protocol.Command{
		OperationT: protocol.Int(protocol.OpStatusQuery),
		OperationB: protocol.Int(protocol.OpStatusQuery),
	}
}

// Stop halts the bottom rail. Use StopMotor to address the rest.
func (t *TopDownBottomUp) Stop() error {
	return t.StopMotor(MotorBottom)
}

// Open moves the bottom rail up. Use OpenMotor to address the rest.
func (t *TopDownBottomUp) Open() error {
	return t.OpenMotor(MotorBottom)
}

// Close moves the bottom rail down. Use CloseMotor to address the rest.
func (t *TopDownBottomUp) Close() error {
	return t.CloseMotor(MotorBottom)
}

// StopMotor halts one rail, or both for MotorCombined.
func (t *TopDownBottomUp) StopMotor(motor Motor) error {
	return t.operate(motor, protocol.OpStop)
}

// OpenMotor moves one rail up, or both for MotorCombined.
func (t *TopDownBottomUp) OpenMotor(motor Motor) error {
	return t.operate(motor, protocol.OpOpen)
}

// CloseMotor moves one rail down. For MotorCombined the top rail parks up
// while the bottom rail drives down, covering the full window.
func (t *TopDownBottomUp) CloseMotor(motor Motor) error {
	if motor == MotorCombined {
		errT := t.exchange(&protocol.Command{OperationT: protocol.Int(protocol.OpOpen)})
		errB := t.exchange(&protocol.Command{OperationB: protocol.Int(protocol.OpClose)})
		return joinMotorErrors(errT, errB)
	}
	return t.operate(motor, protocol.OpClose)
}

// JogUp moves one rail one step up, or both for MotorCombined.
func (t *TopDownBottomUp) JogUp(motor Motor) error {
	return t.operate(motor, protocol.OpJogUp)
}

// JogDown moves one rail one step down, or both for MotorCombined.
func (t *TopDownBottomUp) JogDown(motor Motor) error {
	return t.operate(motor, protocol.OpJogDown)
}

// MotorPositionOption modifies a dual-motor SetPosition command.
type MotorPositionOption func(*motorPositionRequest)

type motorPositionRequest struct {
	width *int
}

// WithWidth stores a new covered-width before the position is computed,
// in the same call.
func WithWidth(width int) MotorPositionOption {
	return func(r *motorPositionRequest) {
		w := width
		r.width = &w
	}
}

// SetPosition moves one rail to a raw position in percent. For
// MotorCombined the value is the covered span between the rails, placed
// centered in the window. A move that would put the bottom rail above the
// top rail, or any out-of-range value, fails with ErrInvalidArgument
// before network I/O.
func (t *TopDownBottomUp) SetPosition(position int, motor Motor, opts ...MotorPositionOption) error {
	if position < 0 || position > 100 {
		return fmt.Errorf("%w: position %d outside 0-100", ErrInvalidArgument, position)
	}
	var req motorPositionRequest
	for _, opt := range opts {
		opt(&req)
	}
	if req.width != nil {
		if err := t.SetWidth(*req.width); err != nil {
			return err
		}
	}

	switch motor {
	case MotorTop:
		if err := t.guardTopTarget(position); err != nil {
			return err
		}
		return t.exchange(&protocol.Command{TargetPositionT: protocol.Int(position)})
	case MotorBottom:
		if err := t.guardBottomTarget(position); err != nil {
			return err
		}
		return t.exchange(&protocol.Command{TargetPositionB: protocol.Int(position)})
	case MotorCombined:
		rawT := int(math.Round(float64(100-position) / 2.0))
		rawB := rawT + position
		errT := t.exchange(&protocol.Command{TargetPositionT: protocol.Int(rawT)})
		errB := t.exchange(&protocol.Command{TargetPositionB: protocol.Int(rawB)})
		return joinMotorErrors(errT, errB)
	}
	return fmt.Errorf("%w: motor %s", ErrInvalidArgument, motor)
}

// SetScaledPosition moves one rail to a scaled position in percent,
// mapped onto the travel reachable given the stored width, then issues
// the same command as SetPosition.
func (t *TopDownBottomUp) SetScaledPosition(scaled int, motor Motor) error {
	if scaled < 0 || scaled > 100 {
		return fmt.Errorf("%w: scaled position %d outside 0-100", ErrInvalidArgument, scaled)
	}
	width := t.Width()
	span := 100 - width

	switch motor {
	case MotorTop:
		raw := int(math.Round(float64(scaled) * float64(span) / 100.0))
		if err := t.guardTopTarget(raw); err != nil {
			return err
		}
		return t.exchange(&protocol.Command{TargetPositionT: protocol.Int(raw)})
	case MotorBottom:
		raw := int(math.Round(float64(scaled)*float64(span)/100.0)) + width
		if err := t.guardBottomTarget(raw); err != nil {
			return err
		}
		return t.exchange(&protocol.Command{TargetPositionB: protocol.Int(raw)})
	case MotorCombined:
		rawC := float64(scaled)*float64(span)/100.0 + float64(width)
		rawT := int(math.Round((100.0 - rawC) / 2.0))
		rawB := rawT + int(math.Round(rawC))
		errT := t.exchange(&protocol.Command{TargetPositionT: protocol.Int(rawT)})
		errB := t.exchange(&protocol.Command{TargetPositionB: protocol.Int(rawB)})
		return joinMotorErrors(errT, errB)
	}
	return fmt.Errorf("%w: motor %s", ErrInvalidArgument, motor)
}

// SetAngle rotates the slats of one rail to an angle in degrees 0-180, or
// both rails for MotorCombined. Out of range fails with
// ErrInvalidArgument before network I/O.
func (t *TopDownBottomUp) SetAngle(angle int, motor Motor) error {
	if angle < 0 || angle > 180 {
		return fmt.Errorf("%w: angle %d outside 0-180", ErrInvalidArgument, angle)
	}
	wire := t.wireAngle(angle)

	switch motor {
	case MotorTop:
		return t.exchange(&protocol.Command{TargetAngleT: protocol.Int(wire)})
	case MotorBottom:
		return t.exchange(&protocol.Command{TargetAngleB: protocol.Int(wire)})
	case MotorCombined:
		errT := t.exchange(&protocol.Command{TargetAngleT: protocol.Int(wire)})
		errB := t.exchange(&protocol.Command{TargetAngleB: protocol.Int(wire)})
		return joinMotorErrors(errT, errB)
	}
	return fmt.Errorf("%w: motor %s", ErrInvalidArgument, motor)
}

// operate sends op to one rail, or to both as two exchanges for
// MotorCombined so a failing rail does not mask the other.
func (t *TopDownBottomUp) operate(motor Motor, op int) error {
	switch motor {
	case MotorTop:
		return t.exchange(&protocol.Command{OperationT: protocol.Int(op)})
	case MotorBottom:
		return t.exchange(&protocol.Command{OperationB: protocol.Int(op)})
	case MotorCombined:
		errT := t.exchange(&protocol.Command{OperationT: protocol.Int(op)})
		errB := t.exchange(&protocol.Command{OperationB: protocol.Int(op)})
		return joinMotorErrors(errT, errB)
	}
	return fmt.Errorf("%w: motor %s", ErrInvalidArgument, motor)
}

// guardTopTarget rejects a top rail move below the bottom rail. Only
// enforced once the bottom rail position is known.
func (t *TopDownBottomUp) guardTopTarget(position int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if posB, ok := t.bottom.position.Value(); ok && position > posB {
		return fmt.Errorf("%w: top rail target %d below bottom rail at %d", ErrInvalidArgument, position, posB)
	}
	return nil
}

// guardBottomTarget rejects a bottom rail move above the top rail. Only
// enforced once the top rail position is known.
func (t *TopDownBottomUp) guardBottomTarget(position int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if posT, ok := t.top.position.Value(); ok && position < posT {
		return fmt.Errorf("%w: bottom rail target %d above top rail at %d", ErrInvalidArgument, position, posT)
	}
	return nil
}

// exchange sends one WriteDevice exchange and merges the ack status.
func (t *TopDownBottomUp) exchange(cmd *protocol.Command) error {
	resp, err := t.gw.writeDevice(t.MAC(), t.DeviceType(), cmd)
	if err != nil {
		t.setAvailable(false)
		return err
	}
	return t.merge(resp)
}

// merge decodes a status payload and applies it. On decode failure no
// field changes and the device is flagged unavailable.
func (t *TopDownBottomUp) merge(resp *protocol.Envelope) error {
	key, err := t.gw.session()
	if err != nil {
		t.setAvailable(false)
		return &CommandError{GatewayIP: t.gw.IP(), DeviceMAC: t.MAC(), MsgType: resp.MsgType, Err: err}
	}
	var st protocol.TDBUStatus
	if err := resp.DecryptInto(key, &st); err != nil {
		t.setAvailable(false)
		return &CommandError{GatewayIP: t.gw.IP(), DeviceMAC: t.MAC(), MsgType: resp.MsgType, Err: err}
	}
	t.mergeStatus(resp, &st)
	t.callbacks.fire()
	return nil
}

// mergeStatus applies one decoded status. Paired rail fields are applied
// together or not at all; a status without rail positions keeps the
// previous positions since losing them would break the collision guards.
func (t *TopDownBottomUp) mergeStatus(resp *protocol.Envelope, st *protocol.TDBUStatus) {
	logger := t.gw.logger

	t.mu.Lock()
	defer t.mu.Unlock()

	t.mergeCommonLocked(resp, st.Type, st.WirelessMode, st.VoltageMode, st.RSSI)

	if st.OperationT != nil && st.OperationB != nil {
		t.top.status = blindStatusFromWire(*st.OperationT)
		t.bottom.status = blindStatusFromWire(*st.OperationB)
	} else {
		t.top.status = BlindStatusUnknown
		t.bottom.status = BlindStatusUnknown
	}

	if st.CurrentStateT != nil && st.CurrentStateB != nil {
		t.top.limitStatus = limitStatusFromWire(*st.CurrentStateT)
		t.bottom.limitStatus = limitStatusFromWire(*st.CurrentStateB)
	} else {
		t.top.limitStatus = LimitStatusUnknown
		t.bottom.limitStatus = LimitStatusUnknown
	}

	if st.CurrentPositionT != nil && st.CurrentPositionB != nil {
		t.top.position = Known(*st.CurrentPositionT)
		t.bottom.position = Known(*st.CurrentPositionB)
	} else {
		logger.Error("dual motor status did not include the rail positions",
			zap.String("mac", t.mac))
	}

	if st.CurrentAngleT != nil {
		t.top.angle = Known(int(math.Round(float64(*st.CurrentAngleT) * 180.0 / float64(t.maxAngle))))
	}
	if st.CurrentAngleB != nil {
		t.bottom.angle = Known(int(math.Round(float64(*st.CurrentAngleB) * 180.0 / float64(t.maxAngle))))
	}

	if st.BatteryLevelT != nil && st.BatteryLevelB != nil {
		voltT := float64(*st.BatteryLevelT) / 100.0
		voltB := float64(*st.BatteryLevelB) / 100.0
		levelT := batteryLevelFromVoltage(voltT)
		levelB := batteryLevelFromVoltage(voltB)
		t.top.batteryVoltage = Known(voltT)
		t.top.batteryLevel = Known(levelT)
		t.bottom.batteryVoltage = Known(voltB)
		t.bottom.batteryLevel = Known(levelB)
		if levelT <= 0.0 || levelT >= 200.0 || levelB <= 0.0 || levelB >= 200.0 {
			logger.Warn("blind reports a battery voltage outside expected limits",
				zap.String("mac", t.mac),
				zap.Float64("voltageTop", voltT), zap.Float64("voltageBottom", voltB))
		}
	} else {
		t.top.batteryVoltage = Unknown[float64]()
		t.top.batteryLevel = Unknown[float64]()
		t.bottom.batteryVoltage = Unknown[float64]()
		t.bottom.batteryLevel = Unknown[float64]()
	}

	if st.Width != nil {
		t.width = clampPercent(*st.Width)
	}
}

// handlePush merges a routed Report. Decode failures are logged and
// swallowed; no caller is waiting on a push.
func (t *TopDownBottomUp) handlePush(env *protocol.Envelope) {
	key, err := t.gw.session()
	if err != nil {
		t.gw.logger.Debug("push before any token, dropping", zap.String("mac", t.MAC()))
		return
	}
	var st protocol.TDBUStatus
	if err := env.DecryptInto(key, &st); err != nil {
		t.gw.logger.Warn("cannot decode push for blind",
			zap.String("mac", t.MAC()), zap.Error(err))
		return
	}
	t.mergeStatus(env, &st)
	t.callbacks.fire()
}

// scaleToSpan maps a raw position onto the travel reachable given the
// fabric width. A zero span leaves no travel: everything reads 0 except a
// fully closed 100.
func scaleToSpan(raw, offset, span int) int {
	if span <= 0 {
		if raw >= 100 {
			return 100
		}
		return 0
	}
	return clampPercent(int(math.Round(float64(raw-offset) * 100.0 / float64(span))))
}

// joinMotorErrors wraps per-rail failures of a fanned-out combined
// command so the caller can see which rail failed. Both nil yields nil.
func joinMotorErrors(errT, errB error) error {
	var errs []error
	if errT != nil {
		errs = append(errs, &MotorError{Motor: MotorTop, Err: errT})
	}
	if errB != nil {
		errs = append(errs, &MotorError{Motor: MotorBottom, Err: errB})
	}
	return errors.Join(errs...)
}
