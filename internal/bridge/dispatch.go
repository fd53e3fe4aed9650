package bridge

import (
	"fmt"
	"strings"

	"github.com/muurk/motionlan/motion"
)

// CommandRequest is the command body accepted by the REST command endpoint
// and the MQTT set topics. Value is required for position and angle,
// ignored otherwise. Motor selects a rail on dual-motor devices and is
// ignored on single-motor ones; empty means the whole blind.
type CommandRequest struct {
	Command string `json:"command"`
	Value   *int   `json:"value,omitempty"`
	Motor   string `json:"motor,omitempty"`
}

// Dispatch routes one command to the device that carries devMAC and
// returns the post-command snapshot. Routing failures wrap
// ErrUnknownDevice or ErrBadCommand; everything else is the device
// command's own error.
func (b *Bridge) Dispatch(devMAC string, req CommandRequest) (DeviceState, error) {
	gw, dev, ok := b.deviceByMAC(devMAC)
	if !ok {
		return DeviceState{}, fmt.Errorf("%w: %s", ErrUnknownDevice, devMAC)
	}
	if err := applyCommand(dev, req); err != nil {
		return DeviceState{}, err
	}
	return snapshotDevice(gw, dev), nil
}

func applyCommand(dev motion.Device, req CommandRequest) error {
	motor, err := parseMotor(req.Motor)
	if err != nil {
		return err
	}
	switch d := dev.(type) {
	case *motion.TopDownBottomUp:
		return applyTDBU(d, motor, req)
	case *motion.Blind:
		return applyBlind(d, req)
	}
	return fmt.Errorf("%w: device type not commandable", ErrBadCommand)
}

func applyBlind(d *motion.Blind, req CommandRequest) error {
	switch req.Command {
	case "open":
		return d.Open()
	case "close":
		return d.Close()
	case "stop":
		return d.Stop()
	case "position":
		v, err := requireValue(req)
		if err != nil {
			return err
		}
		return d.SetPosition(v)
	case "angle":
		v, err := requireValue(req)
		if err != nil {
			return err
		}
		return d.SetAngle(v)
	}
	return fmt.Errorf("%w: unknown command %q", ErrBadCommand, req.Command)
}

func applyTDBU(d *motion.TopDownBottomUp, motor motion.Motor, req CommandRequest) error {
	switch req.Command {
	case "open":
		return d.OpenMotor(motor)
	case "close":
		return d.CloseMotor(motor)
	case "stop":
		return d.StopMotor(motor)
	case "position":
		v, err := requireValue(req)
		if err != nil {
			return err
		}
		return d.SetPosition(v, motor)
	case "angle":
		v, err := requireValue(req)
		if err != nil {
			return err
		}
		return d.SetAngle(v, motor)
	}
	return fmt.Errorf("%w: unknown command %q", ErrBadCommand, req.Command)
}

func requireValue(req CommandRequest) (int, error) {
	if req.Value == nil {
		return 0, fmt.Errorf("%w: %q needs a value", ErrBadCommand, req.Command)
	}
	return *req.Value, nil
}

// parseMotor maps a motor name onto the motor role. Empty selects
// Combined, the whole-blind behavior.
func parseMotor(s string) (motion.Motor, error) {
	switch strings.ToLower(s) {
	case "", "combined":
		return motion.MotorCombined, nil
	case "top":
		return motion.MotorTop, nil
	case "bottom":
		return motion.MotorBottom, nil
	}
	return 0, fmt.Errorf("%w: unknown motor %q", ErrBadCommand, s)
}
