package motion

import "fmt"

// GatewayStatus is the operating state a gateway reports for itself.
// The Unknown member is distinct from every wire value; observed fields
// hold it until the first successful merge.
type GatewayStatus int

const (
	GatewayStatusUnknown  GatewayStatus = -1
	GatewayStatusWorking  GatewayStatus = 1
	GatewayStatusPairing  GatewayStatus = 2
	GatewayStatusUpdating GatewayStatus = 3
)

// String returns a human-readable name for the gateway status.
func (s GatewayStatus) String() string {
	switch s {
	case GatewayStatusWorking:
		return "Working"
	case GatewayStatusPairing:
		return "Pairing"
	case GatewayStatusUpdating:
		return "Updating"
	case GatewayStatusUnknown:
		return "Unknown"
	default:
		return fmt.Sprintf("GatewayStatus(%d)", int(s))
	}
}

// gatewayStatusFromWire maps a wire value onto the closed set, folding
// unrecognized values into Unknown.
func gatewayStatusFromWire(v int) GatewayStatus {
	switch s := GatewayStatus(v); s {
	case GatewayStatusWorking, GatewayStatusPairing, GatewayStatusUpdating:
		return s
	}
	return GatewayStatusUnknown
}

// BlindType is the mechanical kind of a blind as reported in the type field
// of its status payload.
type BlindType int

const (
	BlindTypeUnknown            BlindType = -1
	BlindTypeRollerBlind        BlindType = 1
	BlindTypeVenetianBlind      BlindType = 2
	BlindTypeRomanBlind         BlindType = 3
	BlindTypeHoneycombBlind     BlindType = 4
	BlindTypeShangriLaBlind     BlindType = 5
	BlindTypeRollerShutter      BlindType = 6
	BlindTypeRollerGate         BlindType = 7
	BlindTypeAwning             BlindType = 8
	BlindTypeTopDownBottomUp    BlindType = 9
	BlindTypeDayNightBlind      BlindType = 10
	BlindTypeDimmingBlind       BlindType = 11
	BlindTypeCurtain            BlindType = 12
	BlindTypeCurtainLeft        BlindType = 13
	BlindTypeCurtainRight       BlindType = 14
	BlindTypeDoubleRoller       BlindType = 17
	BlindTypeVerticalBlindLeft  BlindType = 21
	BlindTypeWoodShutter        BlindType = 22
	BlindTypeSkylightBlind      BlindType = 26
	BlindTypeDualShade          BlindType = 27
	BlindTypeVerticalBlind      BlindType = 28
	BlindTypeVerticalBlindRight BlindType = 29
	BlindTypeSwitch             BlindType = 43
)

var blindTypeNames = map[BlindType]string{
	BlindTypeUnknown:            "Unknown",
	BlindTypeRollerBlind:        "RollerBlind",
	BlindTypeVenetianBlind:      "VenetianBlind",
	BlindTypeRomanBlind:         "RomanBlind",
	BlindTypeHoneycombBlind:     "HoneycombBlind",
	BlindTypeShangriLaBlind:     "ShangriLaBlind",
	BlindTypeRollerShutter:      "RollerShutter",
	BlindTypeRollerGate:         "RollerGate",
	BlindTypeAwning:             "Awning",
	BlindTypeTopDownBottomUp:    "TopDownBottomUp",
	BlindTypeDayNightBlind:      "DayNightBlind",
	BlindTypeDimmingBlind:       "DimmingBlind",
	BlindTypeCurtain:            "Curtain",
	BlindTypeCurtainLeft:        "CurtainLeft",
	BlindTypeCurtainRight:       "CurtainRight",
	BlindTypeDoubleRoller:       "DoubleRoller",
	BlindTypeVerticalBlindLeft:  "VerticalBlindLeft",
	BlindTypeWoodShutter:        "WoodShutter",
	BlindTypeSkylightBlind:      "SkylightBlind",
	BlindTypeDualShade:          "DualShade",
	BlindTypeVerticalBlind:      "VerticalBlind",
	BlindTypeVerticalBlindRight: "VerticalBlindRight",
	BlindTypeSwitch:             "Switch",
}

// String returns a human-readable name for the blind type.
func (t BlindType) String() string {
	if name, ok := blindTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("BlindType(%d)", int(t))
}

// blindTypeFromWire maps a wire value onto the closed set, folding
// unrecognized values into Unknown.
func blindTypeFromWire(v int) BlindType {
	if _, ok := blindTypeNames[BlindType(v)]; ok && v >= 0 {
		return BlindType(v)
	}
	return BlindTypeUnknown
}

// BlindStatus is the motor state a blind reports.
type BlindStatus int

const (
	BlindStatusUnknown     BlindStatus = -1
	BlindStatusClosing     BlindStatus = 0
	BlindStatusOpening     BlindStatus = 1
	BlindStatusStopped     BlindStatus = 2
	BlindStatusStatusQuery BlindStatus = 5
	// BlindStatusFirmwareBug is emitted by some firmware revisions in
	// place of Stopped.
	BlindStatusFirmwareBug BlindStatus = 6
	BlindStatusJogUp       BlindStatus = 7
	BlindStatusJogDown     BlindStatus = 8
)

// String returns a human-readable name for the blind status.
func (s BlindStatus) String() string {
	switch s {
	case BlindStatusClosing:
		return "Closing"
	case BlindStatusOpening:
		return "Opening"
	case BlindStatusStopped:
		return "Stopped"
	case BlindStatusStatusQuery:
		return "StatusQuery"
	case BlindStatusFirmwareBug:
		return "FirmwareBug"
	case BlindStatusJogUp:
		return "JogUp"
	case BlindStatusJogDown:
		return "JogDown"
	case BlindStatusUnknown:
		return "Unknown"
	default:
		return fmt.Sprintf("BlindStatus(%d)", int(s))
	}
}

// blindStatusFromWire maps a wire value onto the closed set, folding
// unrecognized values into Unknown.
func blindStatusFromWire(v int) BlindStatus {
	switch s := BlindStatus(v); s {
	case BlindStatusClosing, BlindStatusOpening, BlindStatusStopped,
		BlindStatusStatusQuery, BlindStatusFirmwareBug, BlindStatusJogUp, BlindStatusJogDown:
		return s
	}
	return BlindStatusUnknown
}

// LimitStatus reports whether a blind's travel limits are calibrated.
type LimitStatus int

const (
	LimitStatusUnknown     LimitStatus = -1
	LimitStatusNoLimit     LimitStatus = 0
	LimitStatusTopLimit    LimitStatus = 1
	LimitStatusBottomLimit LimitStatus = 2
	LimitStatusLimits      LimitStatus = 3
	LimitStatusLimit3      LimitStatus = 4
)

// String returns a human-readable name for the limit status.
func (s LimitStatus) String() string {
	switch s {
	case LimitStatusNoLimit:
		return "NoLimit"
	case LimitStatusTopLimit:
		return "TopLimit"
	case LimitStatusBottomLimit:
		return "BottomLimit"
	case LimitStatusLimits:
		return "Limits"
	case LimitStatusLimit3:
		return "Limit3"
	case LimitStatusUnknown:
		return "Unknown"
	default:
		return fmt.Sprintf("LimitStatus(%d)", int(s))
	}
}

// limitStatusFromWire maps a wire value onto the closed set, folding
// unrecognized values into Unknown.
func limitStatusFromWire(v int) LimitStatus {
	switch s := LimitStatus(v); s {
	case LimitStatusNoLimit, LimitStatusTopLimit, LimitStatusBottomLimit,
		LimitStatusLimits, LimitStatusLimit3:
		return s
	}
	return LimitStatusUnknown
}

// VoltageMode reports how a blind is powered.
type VoltageMode int

const (
	VoltageModeUnknown VoltageMode = -1
	VoltageModeAC      VoltageMode = 0
	VoltageModeDC      VoltageMode = 1
)

// String returns a human-readable name for the voltage mode.
func (m VoltageMode) String() string {
	switch m {
	case VoltageModeAC:
		return "AC"
	case VoltageModeDC:
		return "DC"
	case VoltageModeUnknown:
		return "Unknown"
	default:
		return fmt.Sprintf("VoltageMode(%d)", int(m))
	}
}

// voltageModeFromWire maps a wire value onto the closed set, folding
// unrecognized values into Unknown.
func voltageModeFromWire(v int) VoltageMode {
	switch m := VoltageMode(v); m {
	case VoltageModeAC, VoltageModeDC:
		return m
	}
	return VoltageModeUnknown
}

// WirelessMode reports the radio capabilities of a blind, which determine
// how much telemetry it can send back.
type WirelessMode int

const (
	WirelessModeUnknown      WirelessMode = -1
	WirelessModeUniDirection WirelessMode = 0 // receives commands, reports nothing
	WirelessModeBiDirection  WirelessMode = 1
	// WirelessModeBiDirectionLimits devices report state but no position.
	WirelessModeBiDirectionLimits WirelessMode = 2
	WirelessModeOthers            WirelessMode = 3
)

// String returns a human-readable name for the wireless mode.
func (m WirelessMode) String() string {
	switch m {
	case WirelessModeUniDirection:
		return "UniDirection"
	case WirelessModeBiDirection:
		return "BiDirection"
	case WirelessModeBiDirectionLimits:
		return "BiDirectionLimits"
	case WirelessModeOthers:
		return "Others"
	case WirelessModeUnknown:
		return "Unknown"
	default:
		return fmt.Sprintf("WirelessMode(%d)", int(m))
	}
}

// wirelessModeFromWire maps a wire value onto the closed set, folding
// unrecognized values into Unknown.
func wirelessModeFromWire(v int) WirelessMode {
	switch m := WirelessMode(v); m {
	case WirelessModeUniDirection, WirelessModeBiDirection,
		WirelessModeBiDirectionLimits, WirelessModeOthers:
		return m
	}
	return WirelessModeUnknown
}

// Motor names one rail of a dual-motor blind, or the virtual pair.
type Motor int

const (
	// MotorTop is the upper rail, measured from the open end.
	MotorTop Motor = iota
	// MotorBottom is the lower rail, measured from the closed end.
	MotorBottom
	// MotorCombined addresses both rails as one: commands fan out to Top
	// then Bottom, reads derive the overlap of the two.
	MotorCombined
)

// String returns a human-readable name for the motor role.
func (m Motor) String() string {
	switch m {
	case MotorTop:
		return "Top"
	case MotorBottom:
		return "Bottom"
	case MotorCombined:
		return "Combined"
	default:
		return fmt.Sprintf("Motor(%d)", int(m))
	}
}
