package protocol

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		datagram string
		wantErr  bool
		verify   func(t *testing.T, env *Envelope)
	}{
		{
			name:     "device list ack",
			datagram: `{"msgType":"GetDeviceListAck","mac":"a4cf12ffffee","deviceType":"02000001","token":"F1E2D3C4B5A69788","ProtocolVersion":"0.9","data":[{"mac":"a4cf12ffffee","deviceType":"02000001"},{"mac":"abcdef012345","deviceType":"10000000"}]}`,
			verify: func(t *testing.T, env *Envelope) {
				if env.MsgType != TypeGetDeviceListAck {
					t.Errorf("msgType = %q, want %q", env.MsgType, TypeGetDeviceListAck)
				}
				if env.MAC != "a4cf12ffffee" {
					t.Errorf("mac = %q, want a4cf12ffffee", env.MAC)
				}
				if env.Token != "F1E2D3C4B5A69788" {
					t.Errorf("token = %q", env.Token)
				}
				if env.ProtocolVersion != "0.9" {
					t.Errorf("protocol version = %q, want 0.9", env.ProtocolVersion)
				}
				refs, err := env.ParseDeviceList()
				if err != nil {
					t.Fatalf("ParseDeviceList() error = %v", err)
				}
				if len(refs) != 2 {
					t.Fatalf("roster length = %d, want 2", len(refs))
				}
				if refs[0].DeviceType != DeviceTypeGateway {
					t.Errorf("first roster entry = %q, want the gateway itself", refs[0].DeviceType)
				}
				if refs[1].MAC != "abcdef012345" || refs[1].DeviceType != DeviceTypeBlind {
					t.Errorf("second roster entry = %+v", refs[1])
				}
			},
		},
		{
			name:     "report push",
			datagram: `{"msgType":"Report","mac":"abcdef012345","deviceType":"10000000","data":"00FF"}`,
			verify: func(t *testing.T, env *Envelope) {
				if !IsPush(env.MsgType) {
					t.Errorf("IsPush(%q) = false, want true", env.MsgType)
				}
			},
		},
		{
			name:     "action result error",
			datagram: `{"msgType":"WriteDeviceAck","mac":"abcdef012345","actionResult":"AccessToken error"}`,
			verify: func(t *testing.T, env *Envelope) {
				if env.ActionResult != "AccessToken error" {
					t.Errorf("actionResult = %q", env.ActionResult)
				}
			},
		},
		{name: "not json", datagram: `GET / HTTP/1.0`, wantErr: true},
		{name: "json array", datagram: `[1,2,3]`, wantErr: true},
		{name: "missing msgType", datagram: `{"mac":"abcdef012345"}`, wantErr: true},
		{name: "empty", datagram: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ParseEnvelope([]byte(tt.datagram))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseEnvelope() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Errorf("error = %v, want ErrMalformed", err)
				}
				return
			}
			if tt.verify != nil {
				tt.verify(t, env)
			}
		})
	}
}

func TestMatchAck(t *testing.T) {
	tests := []struct {
		name    string
		request string
		got     string
		wantErr bool
	}{
		{name: "device list", request: TypeGetDeviceList, got: TypeGetDeviceListAck},
		{name: "read device", request: TypeReadDevice, got: TypeReadDeviceAck},
		{name: "write device", request: TypeWriteDevice, got: TypeWriteDeviceAck},
		{name: "wrong ack kind", request: TypeWriteDevice, got: TypeReadDeviceAck, wantErr: true},
		{name: "push as ack", request: TypeReadDevice, got: TypeReport, wantErr: true},
		{name: "echoed request", request: TypeReadDevice, got: TypeReadDevice, wantErr: true},
		{name: "unknown request type", request: "Reboot", got: "RebootAck", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MatchAck(tt.request, tt.got)
			if (err != nil) != tt.wantErr {
				t.Errorf("MatchAck(%q, %q) error = %v, wantErr %v", tt.request, tt.got, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrUnknownMessageType) {
				t.Errorf("error = %v, want ErrUnknownMessageType", err)
			}
		})
	}
}

func TestNewMsgID(t *testing.T) {
	stamp := time.Date(2024, 3, 7, 9, 5, 2, 31*int(time.Millisecond), time.UTC)
	got := NewMsgID(stamp)
	if got != "20240307090502031" {
		t.Errorf("NewMsgID() = %q, want 20240307090502031", got)
	}
	if len(got) != 17 {
		t.Errorf("msgID length = %d, want 17", len(got))
	}

	// Non-UTC input is normalized.
	local := stamp.In(time.FixedZone("CET", 3600))
	if NewMsgID(local) != got {
		t.Errorf("NewMsgID() not timezone independent: %q != %q", NewMsgID(local), got)
	}
}

func TestEnvelopeStringRedactsToken(t *testing.T) {
	env := &Envelope{
		MsgType: TypeGetDeviceListAck,
		MAC:     "a4cf12ffffee",
		Token:   "F1E2D3C4B5A69788",
	}
	s := env.String()
	if strings.Contains(s, "F1E2D3C4B5A69788") {
		t.Errorf("String() leaks the token: %s", s)
	}
}

func TestEnvelopeDataRoundTrip(t *testing.T) {
	sessionKey, err := DeriveSessionKey(testKey, "F1E2D3C4B5A69788")
	if err != nil {
		t.Fatalf("DeriveSessionKey() error = %v", err)
	}

	env := &Envelope{
		MsgType:    TypeWriteDevice,
		MAC:        "abcdef012345",
		DeviceType: DeviceTypeBlind,
		MsgID:      NewMsgID(time.Now()),
	}
	err = env.EncryptFrom(sessionKey, &Command{
		TargetPosition: Int(60),
		TargetAngle:    Int(45),
	})
	if err != nil {
		t.Fatalf("EncryptFrom() error = %v", err)
	}
	raw, err := env.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	parsed, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("ParseEnvelope() error = %v", err)
	}
	var cmd Command
	if err := parsed.DecryptInto(sessionKey, &cmd); err != nil {
		t.Fatalf("DecryptInto() error = %v", err)
	}
	if cmd.TargetPosition == nil || *cmd.TargetPosition != 60 {
		t.Errorf("targetPosition = %v, want 60", cmd.TargetPosition)
	}
	if cmd.TargetAngle == nil || *cmd.TargetAngle != 45 {
		t.Errorf("targetAngle = %v, want 45", cmd.TargetAngle)
	}
	if cmd.Operation != nil {
		t.Errorf("operation = %v, want nil", *cmd.Operation)
	}
}

func TestDecryptDataRequiresPayload(t *testing.T) {
	env := &Envelope{MsgType: TypeReadDeviceAck}
	if _, err := env.DecryptData([]byte("0123456789abcdef")); !errors.Is(err, ErrMalformed) {
		t.Errorf("DecryptData() on empty data: error = %v, want ErrMalformed", err)
	}

	// A roster array where a ciphertext string belongs is malformed, not
	// a decrypt failure.
	env = &Envelope{MsgType: TypeReadDeviceAck, Data: []byte(`[{"mac":"x"}]`)}
	if _, err := env.EncryptedData(); !errors.Is(err, ErrMalformed) {
		t.Errorf("EncryptedData() on array data: error = %v, want ErrMalformed", err)
	}
}

func TestParseDeviceListRejectsNonArray(t *testing.T) {
	env := &Envelope{MsgType: TypeGetDeviceListAck, Data: []byte(`"AABB"`)}
	if _, err := env.ParseDeviceList(); !errors.Is(err, ErrMalformed) {
		t.Errorf("ParseDeviceList() on string data: error = %v, want ErrMalformed", err)
	}
	env = &Envelope{MsgType: TypeGetDeviceListAck}
	if _, err := env.ParseDeviceList(); !errors.Is(err, ErrMalformed) {
		t.Errorf("ParseDeviceList() on missing data: error = %v, want ErrMalformed", err)
	}
}

func TestDeviceTypeClassifiers(t *testing.T) {
	if !IsGatewayType(DeviceTypeGateway) || !IsGatewayType(DeviceTypeGatewayRadio) {
		t.Errorf("gateway codes not classified as gateways")
	}
	if IsGatewayType(DeviceTypeBlind) {
		t.Errorf("blind code classified as gateway")
	}
	if !IsTDBUType(DeviceTypeTDBU) {
		t.Errorf("TDBU code not classified as TDBU")
	}
	if IsTDBUType(DeviceTypeDoubleRoller) {
		t.Errorf("double roller classified as TDBU")
	}
}
