package motion

import "testing"

func TestEnumsFromWire(t *testing.T) {
	tests := []struct {
		name string
		got  any
		want any
	}{
		{name: "blind type roller", got: blindTypeFromWire(1), want: BlindTypeRollerBlind},
		{name: "blind type switch", got: blindTypeFromWire(43), want: BlindTypeSwitch},
		{name: "blind type unrecognized", got: blindTypeFromWire(99), want: BlindTypeUnknown},
		{name: "blind type negative", got: blindTypeFromWire(-1), want: BlindTypeUnknown},
		{name: "status closing", got: blindStatusFromWire(0), want: BlindStatusClosing},
		{name: "status firmware bug", got: blindStatusFromWire(6), want: BlindStatusFirmwareBug},
		{name: "status unrecognized", got: blindStatusFromWire(42), want: BlindStatusUnknown},
		{name: "limit full", got: limitStatusFromWire(3), want: LimitStatusLimits},
		{name: "limit unrecognized", got: limitStatusFromWire(9), want: LimitStatusUnknown},
		{name: "voltage dc", got: voltageModeFromWire(1), want: VoltageModeDC},
		{name: "voltage unrecognized", got: voltageModeFromWire(7), want: VoltageModeUnknown},
		{name: "wireless bidirection", got: wirelessModeFromWire(1), want: WirelessModeBiDirection},
		{name: "wireless unrecognized", got: wirelessModeFromWire(9), want: WirelessModeUnknown},
		{name: "gateway working", got: gatewayStatusFromWire(1), want: GatewayStatusWorking},
		{name: "gateway unrecognized", got: gatewayStatusFromWire(9), want: GatewayStatusUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestEnumStrings(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{BlindTypeShangriLaBlind.String(), "ShangriLaBlind"},
		{BlindType(77).String(), "BlindType(77)"},
		{BlindStatusJogUp.String(), "JogUp"},
		{LimitStatusNoLimit.String(), "NoLimit"},
		{VoltageModeAC.String(), "AC"},
		{WirelessModeBiDirectionLimits.String(), "BiDirectionLimits"},
		{WirelessModeUnknown.String(), "Unknown"},
		{MotorTop.String(), "Top"},
		{MotorCombined.String(), "Combined"},
		{Motor(9).String(), "Motor(9)"},
		{GatewayStatusPairing.String(), "Pairing"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("String() = %q, want %q", tt.got, tt.want)
		}
	}
}
