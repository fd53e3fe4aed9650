package protocol

import "errors"

// Sentinel errors for the three ways an inbound message can be rejected.
// They are always wrapped with context; match with errors.Is.
var (
	// ErrMalformed indicates a datagram that is not a valid protocol
	// envelope (bad JSON, or no msgType field).
	ErrMalformed = errors.New("malformed envelope")

	// ErrUnknownMessageType indicates a message type that is neither the
	// acknowledgement expected for the in-flight request nor a known
	// unsolicited push kind.
	ErrUnknownMessageType = errors.New("unknown message type")

	// ErrDecrypt indicates a data field that could not be decrypted:
	// not hex, not whole AES blocks, or invalid padding. The payload was
	// corrupted or encrypted under a different session key; re-deriving
	// the key from a fresh device list is the only recovery.
	ErrDecrypt = errors.New("payload decrypt failed")
)
