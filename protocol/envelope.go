package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// UDP endpoints shared by every gateway on the network.
const (
	MulticastGroup  = "238.0.0.18"
	PortCommand     = 32100 // gateways receive commands and discovery probes here
	PortReport      = 32101 // clients receive replies and pushes here
	MaxDatagramSize = 4096
)

// Message type tags carried in the msgType field.
const (
	TypeGetDeviceList    = "GetDeviceList"
	TypeGetDeviceListAck = "GetDeviceListAck"
	TypeReadDevice       = "ReadDevice"
	TypeReadDeviceAck    = "ReadDeviceAck"
	TypeWriteDevice      = "WriteDevice"
	TypeWriteDeviceAck   = "WriteDeviceAck"
	TypeReport           = "Report"    // unsolicited device status push
	TypeHeartbeat        = "Heartbeat" // unsolicited gateway status push
)

// Device type codes carried in the deviceType field.
const (
	DeviceTypeGateway      = "02000001" // WiFi bridge
	DeviceTypeGatewayRadio = "02000002" // WiFi bridge, 433MHz radio variant
	DeviceTypeBlind        = "10000000" // standard blind
	DeviceTypeTDBU         = "10000001" // top-down-bottom-up blind
	DeviceTypeDoubleRoller = "10000002" // double roller blind
	DeviceTypeWiFiCurtain  = "22000000" // curtain with direct WiFi
	DeviceTypeWiFiBlind    = "22000002" // standard blind with direct WiFi
)

// IsGatewayType reports whether a deviceType code identifies a gateway
// rather than an attached blind.
func IsGatewayType(code string) bool {
	return code == DeviceTypeGateway || code == DeviceTypeGatewayRadio
}

// IsTDBUType reports whether a deviceType code identifies a dual-motor
// top-down-bottom-up blind.
func IsTDBUType(code string) bool {
	return code == DeviceTypeTDBU
}

// IsControllerType reports whether a deviceType code answers device-list
// queries on its own IP: gateways and the WiFi-direct devices, which act
// as a one-device gateway for themselves.
func IsControllerType(code string) bool {
	return IsGatewayType(code) || code == DeviceTypeWiFiCurtain || code == DeviceTypeWiFiBlind
}

// Envelope is the JSON document carried by every protocol datagram. Header
// fields travel in plaintext. Data holds the payload body: for the
// device-list exchange a plaintext roster array (it must be readable before
// any key exists, since its token is what unlocks the rest), for every
// other exchange a JSON string with the hex encoded AES ciphertext.
type Envelope struct {
	MsgType         string          `json:"msgType"`
	MAC             string          `json:"mac,omitempty"`
	DeviceType      string          `json:"deviceType,omitempty"`
	MsgID           string          `json:"msgID,omitempty"`
	ProtocolVersion string          `json:"ProtocolVersion,omitempty"`
	FirmwareVersion string          `json:"fwVersion,omitempty"`
	Token           string          `json:"token,omitempty"`
	ActionResult    string          `json:"actionResult,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
}

// ParseEnvelope decodes a raw datagram into an Envelope. A datagram that is
// not a JSON object or lacks msgType fails with ErrMalformed.
func ParseEnvelope(datagram []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(datagram, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.MsgType == "" {
		return nil, fmt.Errorf("%w: missing msgType", ErrMalformed)
	}
	return &env, nil
}

// Marshal serializes the envelope into a single datagram.
func (e *Envelope) Marshal() ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return raw, nil
}

// EncryptedData extracts the hex ciphertext string from the data field.
// Fails with ErrMalformed when the envelope carries no data or the data is
// not the string form (as in the plaintext device-list exchange).
func (e *Envelope) EncryptedData() (string, error) {
	if len(e.Data) == 0 {
		return "", fmt.Errorf("%w: envelope %s carries no data", ErrMalformed, e.MsgType)
	}
	var s string
	if err := json.Unmarshal(e.Data, &s); err != nil {
		return "", fmt.Errorf("%w: data field of %s is not a ciphertext string: %v", ErrMalformed, e.MsgType, err)
	}
	return s, nil
}

// SetEncryptedData stores a hex ciphertext string into the data field.
func (e *Envelope) SetEncryptedData(data string) {
	raw, _ := json.Marshal(data)
	e.Data = raw
}

// DecryptData decrypts the envelope's data field under the session key.
func (e *Envelope) DecryptData(sessionKey []byte) ([]byte, error) {
	data, err := e.EncryptedData()
	if err != nil {
		return nil, err
	}
	return DecryptPayload(sessionKey, data)
}

// IsPush reports whether the message type is one of the unsolicited kinds a
// gateway multicasts on its own initiative.
func IsPush(msgType string) bool {
	return msgType == TypeReport || msgType == TypeHeartbeat
}

// AckType returns the one acknowledgement type valid for a request type.
func AckType(requestType string) (string, bool) {
	switch requestType {
	case TypeGetDeviceList:
		return TypeGetDeviceListAck, true
	case TypeReadDevice:
		return TypeReadDeviceAck, true
	case TypeWriteDevice:
		return TypeWriteDeviceAck, true
	}
	return "", false
}

// MatchAck validates that a received message type is the acknowledgement
// expected for the request that was sent. Anything else fails with
// ErrUnknownMessageType and the response must be discarded.
func MatchAck(requestType, gotType string) error {
	want, ok := AckType(requestType)
	if !ok {
		return fmt.Errorf("%w: %q is not a request type", ErrUnknownMessageType, requestType)
	}
	if gotType != want {
		return fmt.Errorf("%w: expected %s, got %q", ErrUnknownMessageType, want, gotType)
	}
	return nil
}

// NewMsgID formats t as the msgID correlation stamp: a 17 digit UTC
// timestamp with millisecond precision (yyyyMMddHHmmssmmm).
func NewMsgID(t time.Time) string {
	t = t.UTC()
	return t.Format("20060102150405") + fmt.Sprintf("%03d", t.Nanosecond()/int(time.Millisecond))
}

// String returns a debug representation. The token is reduced to a presence
// flag so key material never reaches the logs.
func (e *Envelope) String() string {
	return fmt.Sprintf("Envelope{type=%s, mac=%s, deviceType=%s, token=%v, result=%q, data=%d bytes}",
		e.MsgType, e.MAC, e.DeviceType, e.Token != "", e.ActionResult, len(e.Data))
}

// ParseDeviceList unmarshals the plaintext roster array of a device-list
// envelope. The gateway lists itself first, then every paired device.
func (e *Envelope) ParseDeviceList() ([]DeviceRef, error) {
	if len(e.Data) == 0 {
		return nil, fmt.Errorf("%w: %s carries no roster", ErrMalformed, e.MsgType)
	}
	var refs []DeviceRef
	if err := json.Unmarshal(e.Data, &refs); err != nil {
		return nil, fmt.Errorf("%w: roster is not a device array: %v", ErrMalformed, err)
	}
	return refs, nil
}

// SetDeviceList stores a plaintext roster array into the data field.
func (e *Envelope) SetDeviceList(refs []DeviceRef) error {
	raw, err := json.Marshal(refs)
	if err != nil {
		return fmt.Errorf("marshal roster: %w", err)
	}
	e.Data = raw
	return nil
}
