package motion

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"

	"github.com/muurk/motionlan/protocol"
)

// Sentinel errors surfaced by gateway and device commands. They are always
// wrapped with context; match with errors.Is.
var (
	// ErrTimeout indicates no response arrived within the exchange
	// deadline. Retryable by the caller; the core never retries itself.
	ErrTimeout = errors.New("command timed out")

	// ErrUnreachable indicates a network-level send or receive failure
	// before any timeout could apply.
	ErrUnreachable = errors.New("gateway unreachable")

	// ErrNoToken indicates a command that needs the session key was
	// issued before any device-list response supplied a token.
	ErrNoToken = errors.New("no gateway token available")

	// ErrInvalidArgument indicates a caller-supplied value outside the
	// documented range, rejected before any network I/O.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAlreadyListening indicates StartListen on a running listener.
	ErrAlreadyListening = errors.New("listener already started")

	// ErrRejected indicates the gateway answered with an actionResult
	// instead of performing the command. The wrapped message carries the
	// gateway's own wording.
	ErrRejected = errors.New("command rejected by gateway")
)

// CommandError wraps a failed command exchange with the identity of the
// gateway and device involved.
type CommandError struct {
	GatewayIP string
	DeviceMAC string // empty for gateway-level commands
	MsgType   string
	Err       error
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	if e.DeviceMAC != "" {
		return fmt.Sprintf("%s to device %s via %s: %v", e.MsgType, e.DeviceMAC, e.GatewayIP, e.Err)
	}
	return fmt.Sprintf("%s to gateway %s: %v", e.MsgType, e.GatewayIP, e.Err)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// MotorError tags a failure with the physical motor it belongs to. Combined
// commands on a dual-motor blind report per-motor failures through these so
// partial success stays observable.
type MotorError struct {
	Motor Motor
	Err   error
}

// Error implements the error interface.
func (e *MotorError) Error() string {
	return fmt.Sprintf("motor %s: %v", e.Motor, e.Err)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *MotorError) Unwrap() error {
	return e.Err
}

// classifyNetError maps a raw socket error onto the command taxonomy:
// deadline expiry becomes ErrTimeout, everything else ErrUnreachable.
func classifyNetError(op string, err error) error {
	if err == nil {
		return nil
	}
	if os.IsTimeout(err) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, op, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch {
		case errors.Is(opErr.Err, syscall.ECONNREFUSED):
			return fmt.Errorf("%w: %s: connection refused", ErrUnreachable, op)
		case errors.Is(opErr.Err, syscall.EHOSTUNREACH):
			return fmt.Errorf("%w: %s: host unreachable", ErrUnreachable, op)
		case errors.Is(opErr.Err, syscall.ENETUNREACH):
			return fmt.Errorf("%w: %s: network unreachable", ErrUnreachable, op)
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrUnreachable, op, err)
}

// IsTimeout checks whether an error is a command timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsUnreachable checks whether an error is a network-level delivery failure.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}

// IsDecryptError checks whether an error is a payload decryption failure.
// Recovery requires a fresh QueryDeviceList to obtain a new token.
func IsDecryptError(err error) bool {
	return errors.Is(err, protocol.ErrDecrypt)
}

// IsRetryable checks whether retrying the same command unchanged could
// succeed. Only transport-level failures qualify; decrypt and argument
// errors will fail the same way again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnreachable)
}

// ShortMessage returns a concise, user-facing description of a command
// error for CLI and TUI surfaces.
func ShortMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "gateway not responding (timeout)"
	case errors.Is(err, ErrUnreachable):
		return "gateway unreachable - check network"
	case errors.Is(err, ErrNoToken):
		return "no token yet - run a device list query first"
	case errors.Is(err, ErrRejected):
		return "gateway rejected the command"
	case errors.Is(err, protocol.ErrDecrypt):
		return "cannot decrypt response - check the account key"
	case errors.Is(err, ErrInvalidArgument):
		return err.Error()
	default:
		return err.Error()
	}
}
