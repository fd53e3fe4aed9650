package protocol

import (
	"encoding/json"
	"fmt"
)

// Motor operation codes for WriteDevice commands.
const (
	OpClose       = 0
	OpOpen        = 1
	OpStop        = 2
	OpStatusQuery = 5 // ask the gateway to refresh the blind over radio
	OpJogUp       = 7
	OpJogDown     = 8
)

// DeviceRef is one roster entry in a GetDeviceListAck payload. The gateway
// lists itself as the first entry.
type DeviceRef struct {
	MAC        string `json:"mac"`
	DeviceType string `json:"deviceType"`
}

// GatewayState is the payload body of a gateway ReadDeviceAck and of the
// periodic Heartbeat push.
type GatewayState struct {
	CurrentState    *int `json:"currentState,omitempty"`
	NumberOfDevices *int `json:"numberOfDevices,omitempty"`
	RSSI            *int `json:"RSSI,omitempty"`
}

// DeviceStatus is the payload body reported for a single-motor blind, on
// command acks, cache reads and Report pushes. Pointers distinguish absent
// fields: which fields a blind reports depends on its wireless mode.
type DeviceStatus struct {
	Type            *int `json:"type,omitempty"`
	Operation       *int `json:"operation,omitempty"`
	CurrentPosition *int `json:"currentPosition,omitempty"`
	CurrentAngle    *int `json:"currentAngle,omitempty"`
	CurrentState    *int `json:"currentState,omitempty"`
	VoltageMode     *int `json:"voltageMode,omitempty"`
	BatteryLevel    *int `json:"batteryLevel,omitempty"` // battery voltage x 100
	WirelessMode    *int `json:"wirelessMode,omitempty"`
	RSSI            *int `json:"RSSI,omitempty"`
	ChargingState   *int `json:"chargingState,omitempty"`
}

// TDBUStatus is the payload body reported for a top-down-bottom-up blind.
// Per-motor fields carry the _T/_B suffix on the wire; radio fields are
// shared by the pair.
type TDBUStatus struct {
	Type             *int `json:"type,omitempty"`
	OperationT       *int `json:"operation_T,omitempty"`
	OperationB       *int `json:"operation_B,omitempty"`
	CurrentPositionT *int `json:"currentPosition_T,omitempty"`
	CurrentPositionB *int `json:"currentPosition_B,omitempty"`
	CurrentAngleT    *int `json:"currentAngle_T,omitempty"`
	CurrentAngleB    *int `json:"currentAngle_B,omitempty"`
	CurrentStateT    *int `json:"currentState_T,omitempty"`
	CurrentStateB    *int `json:"currentState_B,omitempty"`
	BatteryLevelT    *int `json:"batteryLevel_T,omitempty"`
	BatteryLevelB    *int `json:"batteryLevel_B,omitempty"`
	VoltageMode      *int `json:"voltageMode,omitempty"`
	WirelessMode     *int `json:"wirelessMode,omitempty"`
	RSSI             *int `json:"RSSI,omitempty"`
	Width            *int `json:"width,omitempty"`
}

// Command is the payload body of a WriteDevice request. Single-motor blinds
// use the unsuffixed fields; TDBU blinds address each motor through the
// _T/_B variants. Only non-nil fields reach the wire.
type Command struct {
	Operation       *int `json:"operation,omitempty"`
	TargetPosition  *int `json:"targetPosition,omitempty"`
	TargetAngle     *int `json:"targetAngle,omitempty"`
	OperationT      *int `json:"operation_T,omitempty"`
	OperationB      *int `json:"operation_B,omitempty"`
	TargetPositionT *int `json:"targetPosition_T,omitempty"`
	TargetPositionB *int `json:"targetPosition_B,omitempty"`
	TargetAngleT    *int `json:"targetAngle_T,omitempty"`
	TargetAngleB    *int `json:"targetAngle_B,omitempty"`
}

// Int returns a pointer to v, for filling the optional payload fields.
func Int(v int) *int {
	return &v
}

// EncryptJSON marshals a payload body and encrypts it into the data field
// encoding.
func EncryptJSON(sessionKey []byte, body any) (string, error) {
	plain, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return EncryptPayload(sessionKey, plain)
}

// DecryptJSON decrypts a data field and unmarshals the plaintext into body.
// Plaintext that decrypts but does not parse as JSON fails with ErrDecrypt:
// a wrong session key occasionally survives padding validation, and garbage
// must not be mistaken for an empty status.
func DecryptJSON(sessionKey []byte, data string, body any) error {
	plain, err := DecryptPayload(sessionKey, data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plain, body); err != nil {
		return fmt.Errorf("%w: plaintext is not valid JSON: %v", ErrDecrypt, err)
	}
	return nil
}

// EncryptFrom marshals body, encrypts it and stores the result as the
// envelope's data field.
func (e *Envelope) EncryptFrom(sessionKey []byte, body any) error {
	data, err := EncryptJSON(sessionKey, body)
	if err != nil {
		return err
	}
	e.SetEncryptedData(data)
	return nil
}

// DecryptInto decrypts the envelope's data field and unmarshals the
// plaintext into body.
func (e *Envelope) DecryptInto(sessionKey []byte, body any) error {
	data, err := e.EncryptedData()
	if err != nil {
		return err
	}
	return DecryptJSON(sessionKey, data, body)
}
