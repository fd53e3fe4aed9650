//go:build ignore

// Decode-datagram pretty-prints captured gateway datagrams.
//
// Feed it a file with one JSON datagram per line, as extracted from a
// tcpdump/wireshark capture of ports 32100/32101, or pipe datagrams on
// stdin. With -key and -token the encrypted data fields are decrypted
// and decoded; without them the header still prints and the payload is
// reported as ciphertext.
//
// Usage:
//
//	go run tools/decode-datagram.go capture.jsonl
//	go run tools/decode-datagram.go -key 74ae10c3-5bf0-2d -token 4FD3A8BC12E09876 capture.jsonl
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"

	"github.com/muurk/motionlan/protocol"
)

var (
	keyFlag   = flag.String("key", "", "16-character gateway key")
	tokenFlag = flag.String("token", "", "token from the gateway's GetDeviceListAck")
)

func main() {
	flag.Parse()
	if flag.NArg() < 1 {
		fmt.Println("Usage: decode-datagram [-key KEY -token TOKEN] <jsonl-file|->")
		fmt.Println("Example: decode-datagram -key 74ae10c3-5bf0-2d -token 4FD3A8BC12E09876 capture.jsonl")
		os.Exit(1)
	}

	var session []byte
	if *keyFlag != "" {
		if *tokenFlag == "" {
			fmt.Println("Error: -key needs -token (the token travels in GetDeviceListAck)")
			os.Exit(1)
		}
		var err error
		session, err = protocol.DeriveSessionKey(*keyFlag, *tokenFlag)
		if err != nil {
			fmt.Printf("Error deriving session key: %v\n", err)
			os.Exit(1)
		}
	}

	in := os.Stdin
	if name := flag.Arg(0); name != "-" {
		f, err := os.Open(name)
		if err != nil {
			fmt.Printf("Error opening %s: %v\n", name, err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	parsed, failed := 0, 0
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, protocol.MaxDatagramSize), protocol.MaxDatagramSize)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		env, err := protocol.ParseEnvelope(line)
		if err != nil {
			failed++
			fmt.Printf("line %d: %v\n\n", lineNum, err)
			continue
		}
		parsed++
		printEnvelope(lineNum, env, session)
	}
	if err := scanner.Err(); err != nil {
		fmt.Printf("Error reading input: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("=== %d datagrams: %d parsed, %d failed ===\n", parsed+failed, parsed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func printEnvelope(lineNum int, env *protocol.Envelope, session []byte) {
	fmt.Printf("--- line %d: %s ---\n", lineNum, env.MsgType)
	if env.MAC != "" {
		fmt.Printf("  mac:        %s (%s)\n", env.MAC, describeType(env.DeviceType))
	}
	if env.MsgID != "" {
		fmt.Printf("  msgID:      %s\n", env.MsgID)
	}
	if env.FirmwareVersion != "" {
		fmt.Printf("  firmware:   %s (protocol %s)\n", env.FirmwareVersion, env.ProtocolVersion)
	}
	if env.Token != "" {
		fmt.Printf("  token:      %s\n", env.Token)
	}
	if env.ActionResult != "" {
		fmt.Printf("  result:     %s\n", env.ActionResult)
	}

	switch env.MsgType {
	case protocol.TypeGetDeviceList:
		// Probe, no data

	case protocol.TypeGetDeviceListAck:
		refs, err := env.ParseDeviceList()
		if err != nil {
			fmt.Printf("  roster:     unreadable: %v\n", err)
			break
		}
		fmt.Printf("  roster:     %d entries\n", len(refs))
		for _, ref := range refs {
			fmt.Printf("    %s  %s\n", ref.MAC, describeType(ref.DeviceType))
		}

	default:
		printData(env, session)
	}
	fmt.Println()
}

func printData(env *protocol.Envelope, session []byte) {
	data, err := env.EncryptedData()
	if err != nil {
		return // no data field on this message
	}
	if session == nil {
		fmt.Printf("  data:       %d hex chars of ciphertext (pass -key/-token to decode)\n", len(data))
		return
	}

	plain, err := env.DecryptData(session)
	if err != nil {
		fmt.Printf("  data:       decrypt failed: %v\n", err)
		return
	}
	fmt.Printf("  plaintext:  %s\n", plain)

	switch {
	case protocol.IsGatewayType(env.DeviceType):
		var st protocol.GatewayState
		if err := protocol.DecryptJSON(session, data, &st); err == nil {
			printOpt("state", st.CurrentState, "")
			printOpt("devices", st.NumberOfDevices, "")
			printOpt("rssi", st.RSSI, " dBm")
		}
	case protocol.IsTDBUType(env.DeviceType):
		var st protocol.TDBUStatus
		if err := protocol.DecryptJSON(session, data, &st); err == nil {
			printOpt("top op", st.OperationT, operationName(st.OperationT))
			printOpt("top pos", st.CurrentPositionT, "%")
			printOpt("bottom op", st.OperationB, operationName(st.OperationB))
			printOpt("bottom pos", st.CurrentPositionB, "%")
			printBattery("top batt", st.BatteryLevelT)
			printBattery("bottom batt", st.BatteryLevelB)
			printOpt("rssi", st.RSSI, " dBm")
		}
	default:
		var st protocol.DeviceStatus
		if err := protocol.DecryptJSON(session, data, &st); err == nil {
			printOpt("operation", st.Operation, operationName(st.Operation))
			printOpt("position", st.CurrentPosition, "%")
			printOpt("angle", st.CurrentAngle, "°")
			printBattery("battery", st.BatteryLevel)
			printOpt("rssi", st.RSSI, " dBm")
		}
	}
}

func printOpt(label string, v *int, suffix string) {
	if v == nil {
		return
	}
	fmt.Printf("  %-11s %d%s\n", label+":", *v, suffix)
}

// printBattery converts the wire encoding (volts x 100) back to volts.
func printBattery(label string, v *int) {
	if v == nil {
		return
	}
	fmt.Printf("  %-11s %.2fV\n", label+":", float64(*v)/100)
}

func operationName(op *int) string {
	if op == nil {
		return ""
	}
	switch *op {
	case protocol.OpClose:
		return " (close)"
	case protocol.OpOpen:
		return " (open)"
	case protocol.OpStop:
		return " (stop)"
	case protocol.OpStatusQuery:
		return " (status query)"
	case protocol.OpJogUp:
		return " (jog up)"
	case protocol.OpJogDown:
		return " (jog down)"
	}
	return ""
}

func describeType(code string) string {
	switch code {
	case protocol.DeviceTypeGateway:
		return "gateway"
	case protocol.DeviceTypeGatewayRadio:
		return "gateway, 433MHz"
	case protocol.DeviceTypeBlind:
		return "blind"
	case protocol.DeviceTypeTDBU:
		return "top-down bottom-up blind"
	case protocol.DeviceTypeDoubleRoller:
		return "double roller"
	case protocol.DeviceTypeWiFiCurtain:
		return "WiFi curtain"
	case protocol.DeviceTypeWiFiBlind:
		return "WiFi blind"
	case "":
		return "unknown"
	}
	return "type " + code
}
