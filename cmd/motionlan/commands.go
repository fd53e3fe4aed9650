package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/muurk/motionlan/internal/config"
	"github.com/muurk/motionlan/internal/logging"
	"github.com/muurk/motionlan/internal/tui"
	"github.com/muurk/motionlan/motion"
	"github.com/muurk/motionlan/protocol"
)

// Command flags
var (
	gatewayFlag string
	keyFlag     string
	ifaceFlag   string
	logLevel    string
	jsonOut     bool
	motorFlag   string

	discoverTimeout int
	checkTimeout    int

	nicknameFlag string
	ipFlag       string
	setKeyFlag   string
	roomFlag     string
)

func init() {
	// Common flags for gateway commands (persistent on root)
	rootCmd.PersistentFlags().StringVar(&gatewayFlag, "gateway", "", "Gateway IP, MAC or configured nickname")
	rootCmd.PersistentFlags().StringVar(&keyFlag, "key", "", "16-character gateway key (prompted when needed)")
	rootCmd.PersistentFlags().StringVar(&ifaceFlag, "interface", "", "Network interface for multicast (empty = all)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Machine-readable JSON output")

	// Add subcommands directly to root
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(closeCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(jogCmd)
	rootCmd.AddCommand(positionCmd)
	rootCmd.AddCommand(angleCmd)
	rootCmd.AddCommand(scaledPositionCmd)
	rootCmd.AddCommand(widthCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(checkMulticastCmd)
	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(configCmd)
}

// motorFlagOn registers the --motor flag on commands that can target one
// rail of a dual blind.
func motorFlagOn(cmds ...*cobra.Command) {
	for _, c := range cmds {
		c.Flags().StringVar(&motorFlag, "motor", "", "Rail of a dual blind (top, bottom, combined)")
	}
}

func init() {
	motorFlagOn(openCmd, closeCmd, stopCmd, jogCmd, positionCmd, angleCmd, scaledPositionCmd)
}

// discoverCmd probes the network for gateways
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover gateways on the network",
	Long: `Discover Motion gateways by multicasting a device-list query and
collecting the answers.

Discovery needs no key: gateways answer the probe in plaintext with
their identity and paired device list.`,
	Example: `  # Probe for 5 seconds (default)
  motionlan discover

  # Probe a specific interface for longer
  motionlan discover --interface eth0 --timeout 15`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().IntVar(&discoverTimeout, "timeout", 5, "Discovery window in seconds")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	if err := logging.Initialize(logLevel); err != nil {
		return err
	}

	d := &motion.Discovery{
		Interface: ifaceFlag,
		Logger:    logging.GetLogger(),
	}
	found, err := d.Run(context.Background(), time.Duration(discoverTimeout)*time.Second)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	// Remember fresh addresses for gateways we already know.
	if reg, err := config.LoadRegistry(); err == nil {
		dirty := false
		for _, gw := range found {
			if reg.GetGateway(gw.MAC) != nil {
				reg.UpdateGatewayLastSeen(gw.MAC, gw.IP)
				dirty = true
			}
		}
		if dirty {
			_ = reg.Save()
		}
	}

	ips := make([]string, 0, len(found))
	for ip := range found {
		ips = append(ips, ip)
	}
	sort.Strings(ips)

	if jsonOut {
		type discoveredOut struct {
			IP       string `json:"ip"`
			MAC      string `json:"mac"`
			Type     string `json:"type"`
			Protocol string `json:"protocol"`
			Firmware string `json:"firmware"`
			Devices  int    `json:"devices"`
		}
		out := make([]discoveredOut, 0, len(ips))
		for _, ip := range ips {
			gw := found[ip]
			out = append(out, discoveredOut{
				IP:       gw.IP,
				MAC:      gw.MAC,
				Type:     gw.DeviceType,
				Protocol: gw.ProtocolVersion,
				Firmware: gw.FirmwareVersion,
				Devices:  len(gw.Devices),
			})
		}
		return printJSON(out)
	}

	if len(found) == 0 {
		fmt.Println("No gateways found.")
		fmt.Println("\nTroubleshooting:")
		fmt.Println("  - Check that this host is on the same network as the gateway")
		fmt.Println("  - Multicast is often blocked across VLANs and by some APs")
		fmt.Println("  - Try --interface to pick the right network interface")
		fmt.Println("  - Use --gateway <ip> on other commands to skip discovery")
		return nil
	}

	fmt.Printf("Found %d gateway(s):\n\n", len(found))
	for i, ip := range ips {
		gw := found[ip]
		fmt.Printf("%d. %s\n", i+1, ip)
		fmt.Printf("   MAC:      %s\n", gw.MAC)
		fmt.Printf("   Firmware: %s (protocol %s)\n", gw.FirmwareVersion, gw.ProtocolVersion)
		fmt.Printf("   Devices:  %d\n", len(gw.Devices))
		fmt.Println()
	}

	fmt.Println("Use 'motionlan devices --gateway <ip>' to list blinds")
	fmt.Println("Use 'motionlan config set-gateway <mac> --nickname <name>' to name a gateway")

	return nil
}

// devicesCmd lists the blinds behind a gateway
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List blinds paired with a gateway",
	Long: `Connect to a gateway and list every paired blind with its cached
state: movement status, position, angle, battery and signal strength.`,
	Example: `  # List devices on the only configured gateway
  motionlan devices

  # List devices on a specific gateway
  motionlan devices --gateway 192.168.1.50

  # JSON for scripting
  motionlan devices --gateway livingroom --json`,
	RunE: runDevices,
}

func runDevices(cmd *cobra.Command, args []string) error {
	gw, reg, err := connectGateway()
	if err != nil {
		return err
	}

	for _, dev := range gw.Devices() {
		if err := dev.UpdateFromCache(); err != nil {
			return fmt.Errorf("read %s: %w", dev.MAC(), err)
		}
	}

	macs := sortedMACs(gw.Devices())

	if jsonOut {
		out := make([]deviceOut, 0, len(macs))
		for _, mac := range macs {
			dev, _ := gw.Device(mac)
			out = append(out, buildDeviceOut(dev, reg.DeviceNickname(mac)))
		}
		return printJSON(out)
	}

	fmt.Printf("Gateway %s (%s): %s, %d device(s)\n\n",
		gw.MAC(), gw.IP(), gw.Status(), gw.NumberOfDevices())

	for _, mac := range macs {
		dev, _ := gw.Device(mac)
		printDevice(dev, reg.DeviceNickname(mac))
	}

	return nil
}

// statusCmd shows gateway state
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway status",
	Long: `Connect to a gateway and show its identity and state: firmware,
protocol version, working status, signal strength and device count.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	gw, _, err := connectGateway()
	if err != nil {
		return err
	}

	if jsonOut {
		out := map[string]any{
			"mac":      gw.MAC(),
			"ip":       gw.IP(),
			"status":   gw.Status().String(),
			"firmware": gw.FirmwareVersion(),
			"protocol": gw.ProtocolVersion(),
			"devices":  gw.NumberOfDevices(),
		}
		if rssi, ok := gw.RSSI().Value(); ok {
			out["rssi"] = rssi
		}
		return printJSON(out)
	}

	fmt.Printf("Gateway:   %s\n", gw.MAC())
	fmt.Printf("IP:        %s\n", gw.IP())
	fmt.Printf("Status:    %s\n", gw.Status())
	fmt.Printf("Firmware:  %s (protocol %s)\n", gw.FirmwareVersion(), gw.ProtocolVersion())
	fmt.Printf("Devices:   %d\n", gw.NumberOfDevices())
	fmt.Printf("Signal:    %s dBm\n", gw.RSSI())
	fmt.Printf("Last seen: %s\n", gw.LastSeen().Format(time.RFC3339))

	return nil
}

// Basic motor commands

var openCmd = &cobra.Command{
	Use:   "open [device]",
	Short: "Open a blind",
	Long: `Drive a blind fully open. With one paired blind the device argument
can be omitted; otherwise pass a device MAC or configured nickname.`,
	Example: `  # Open the only blind
  motionlan open

  # Open by nickname, one rail of a dual blind
  motionlan open bedroom --motor top`,
	Args: cobra.MaximumNArgs(1),
	RunE: runOpen,
}

func runOpen(cmd *cobra.Command, args []string) error {
	return runDeviceCommand(args, "open", func(dev motion.Device, motor motion.Motor) error {
		if t, ok := dev.(*motion.TopDownBottomUp); ok {
			return t.OpenMotor(motor)
		}
		return dev.Open()
	})
}

var closeCmd = &cobra.Command{
	Use:   "close [device]",
	Short: "Close a blind",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runClose,
}

func runClose(cmd *cobra.Command, args []string) error {
	return runDeviceCommand(args, "close", func(dev motion.Device, motor motion.Motor) error {
		if t, ok := dev.(*motion.TopDownBottomUp); ok {
			return t.CloseMotor(motor)
		}
		return dev.Close()
	})
}

var stopCmd = &cobra.Command{
	Use:   "stop [device]",
	Short: "Stop a moving blind",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
	return runDeviceCommand(args, "stop", func(dev motion.Device, motor motion.Motor) error {
		if t, ok := dev.(*motion.TopDownBottomUp); ok {
			return t.StopMotor(motor)
		}
		return dev.Stop()
	})
}

var jogCmd = &cobra.Command{
	Use:   "jog <up|down> [device]",
	Short: "Jog a blind one step",
	Long: `Move a blind a single small step. Useful for fine adjustment and for
locating a blind that has several siblings in the same room.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runJog,
}

func runJog(cmd *cobra.Command, args []string) error {
	direction := strings.ToLower(args[0])
	if direction != "up" && direction != "down" {
		return fmt.Errorf("jog direction %q: want up or down", args[0])
	}

	return runDeviceCommand(args[1:], "jog "+direction, func(dev motion.Device, motor motion.Motor) error {
		switch d := dev.(type) {
		case *motion.TopDownBottomUp:
			if direction == "up" {
				return d.JogUp(motor)
			}
			return d.JogDown(motor)
		case *motion.Blind:
			if direction == "up" {
				return d.JogUp()
			}
			return d.JogDown()
		default:
			return fmt.Errorf("device %s does not support jog", dev.MAC())
		}
	})
}

var positionCmd = &cobra.Command{
	Use:   "position <0-100> [device]",
	Short: "Move a blind to a position",
	Long: `Move a blind to a target position in percent, where 0 is fully open
and 100 fully closed.

On a dual blind --motor picks the rail; the default combined mode keeps
the panel centred while sizing the gap to the target.`,
	Example: `  # Half closed
  motionlan position 50

  # Bottom rail of a dual blind, by nickname
  motionlan position 80 bedroom --motor bottom`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runPosition,
}

func runPosition(cmd *cobra.Command, args []string) error {
	target, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid position %q: %w", args[0], err)
	}

	return runDeviceCommand(args[1:], fmt.Sprintf("position %d", target), func(dev motion.Device, motor motion.Motor) error {
		switch d := dev.(type) {
		case *motion.TopDownBottomUp:
			return d.SetPosition(target, motor)
		case *motion.Blind:
			return d.SetPosition(target)
		default:
			return fmt.Errorf("device %s does not support position", dev.MAC())
		}
	})
}

var angleCmd = &cobra.Command{
	Use:   "angle <degrees> [device]",
	Short: "Tilt a blind's slats",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runAngle,
}

func runAngle(cmd *cobra.Command, args []string) error {
	target, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid angle %q: %w", args[0], err)
	}

	return runDeviceCommand(args[1:], fmt.Sprintf("angle %d", target), func(dev motion.Device, motor motion.Motor) error {
		switch d := dev.(type) {
		case *motion.TopDownBottomUp:
			return d.SetAngle(target, motor)
		case *motion.Blind:
			return d.SetAngle(target)
		default:
			return fmt.Errorf("device %s does not support angle", dev.MAC())
		}
	})
}

var scaledPositionCmd = &cobra.Command{
	Use:   "scaled-position <0-100> [device]",
	Short: "Move a dual-blind rail within its free travel",
	Long: `Move one rail of a dual blind to a position scaled to the travel the
other rail leaves free, instead of the full window height. Only dual
blinds accept this command.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runScaledPosition,
}

func runScaledPosition(cmd *cobra.Command, args []string) error {
	target, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid scaled position %q: %w", args[0], err)
	}

	return runDeviceCommand(args[1:], fmt.Sprintf("scaled-position %d", target), func(dev motion.Device, motor motion.Motor) error {
		t, ok := dev.(*motion.TopDownBottomUp)
		if !ok {
			return fmt.Errorf("device %s is not a dual blind", dev.MAC())
		}
		return t.SetScaledPosition(target, motor)
	})
}

var widthCmd = &cobra.Command{
	Use:   "width [centimetres] [device]",
	Short: "Show or set a dual blind's middle-panel width",
	Long: `Without a value, show the configured middle-panel width of a dual
blind. With a value, store a new width. The width feeds the scaled
position math; it changes nothing on the device itself.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runWidth,
}

func runWidth(cmd *cobra.Command, args []string) error {
	var width int
	setWidth := false
	rest := args
	if len(args) > 0 {
		if w, err := strconv.Atoi(args[0]); err == nil {
			width = w
			setWidth = true
			rest = args[1:]
		}
	}

	gw, reg, err := connectGateway()
	if err != nil {
		return err
	}
	dev, err := resolveDevice(gw, reg, firstOrEmpty(rest))
	if err != nil {
		return err
	}
	t, ok := dev.(*motion.TopDownBottomUp)
	if !ok {
		return fmt.Errorf("device %s is not a dual blind", dev.MAC())
	}

	if setWidth {
		if err := t.SetWidth(width); err != nil {
			return err
		}
		fmt.Printf("✓ width of %s set to %d\n", deviceLabel(dev, reg.DeviceNickname(dev.MAC())), width)
		return nil
	}

	fmt.Printf("%s: width %d\n", deviceLabel(dev, reg.DeviceNickname(dev.MAC())), t.Width())
	return nil
}

// listenCmd follows the multicast report stream
var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Follow live state reports",
	Long: `Connect to a gateway, join the multicast report group and print a
line for every state change until interrupted.

Reports arrive when blinds move, finish moving, or send their periodic
heartbeat. If nothing prints while blinds move, multicast is not
reaching this host; see 'motionlan check-multicast'.`,
	Example: `  # Follow the only configured gateway
  motionlan listen

  # Pick gateway and interface explicitly
  motionlan listen --gateway 192.168.1.50 --interface eth0`,
	RunE: runListen,
}

func runListen(cmd *cobra.Command, args []string) error {
	gw, reg, err := connectGateway()
	if err != nil {
		return err
	}

	l := motion.NewEventListener(ifaceFlag, logging.GetLogger())
	if err := l.StartListen(); err != nil {
		return fmt.Errorf("start listener: %w", err)
	}
	defer l.StopListen()
	gw.AttachListener(l)
	defer gw.DetachListener()

	printGatewayLine(gw)
	gw.RegisterCallback(uuid.NewString(), func() { printGatewayLine(gw) })
	for _, dev := range gw.Devices() {
		dev := dev
		nick := reg.DeviceNickname(dev.MAC())
		printDeviceLine(dev, nick)
		dev.RegisterCallback(uuid.NewString(), func() { printDeviceLine(dev, nick) })
	}
	defer func() {
		gw.ClearCallbacks()
		for _, dev := range gw.Devices() {
			dev.ClearCallbacks()
		}
	}()

	fmt.Println("\nListening for reports, Ctrl-C to stop...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	fmt.Println()

	return nil
}

// checkMulticastCmd verifies that multicast reaches this host
var checkMulticastCmd = &cobra.Command{
	Use:   "check-multicast",
	Short: "Check that multicast reports reach this host",
	Long: `Join the report group, send a probe to the command group and wait for
any answer on the listening socket.

Blinds report position changes only over multicast; when this check
fails, polling still works but live updates will not arrive.`,
	RunE: runCheckMulticast,
}

func init() {
	checkMulticastCmd.Flags().IntVar(&checkTimeout, "timeout", 5, "Probe timeout in seconds")
}

func runCheckMulticast(cmd *cobra.Command, args []string) error {
	gw, _, err := connectGateway()
	if err != nil {
		return err
	}

	l := motion.NewEventListener(ifaceFlag, logging.GetLogger())
	if err := l.StartListen(); err != nil {
		return fmt.Errorf("start listener: %w", err)
	}
	defer l.StopListen()
	gw.AttachListener(l)
	defer gw.DetachListener()

	fmt.Printf("Probing multicast group %s (timeout %ds)...\n", protocol.MulticastGroup, checkTimeout)

	if gw.CheckMulticast(time.Duration(checkTimeout) * time.Second) {
		fmt.Println("✓ Multicast reports reach this host")
		return nil
	}

	fmt.Println("✗ No multicast answer received")
	fmt.Println("\nTroubleshooting:")
	fmt.Println("  - Multicast rarely crosses VLANs or guest networks")
	fmt.Println("  - Some Wi-Fi access points filter multicast entirely")
	fmt.Println("  - Try --interface to pick the interface on the gateway's network")
	return fmt.Errorf("multicast unreachable")
}

// dashboardCmd launches the interactive TUI
var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Launch the interactive dashboard",
	Long: `Launch a full-screen dashboard showing every blind behind a gateway,
updated live from the multicast report stream.

Keys: arrows move between blinds, o/c/s open/close/stop, left/right
nudge the position, u refreshes, q quits.`,
	RunE: runDashboard,
}

func runDashboard(cmd *cobra.Command, args []string) error {
	if err := logging.Initialize(logLevel); err != nil {
		return err
	}

	reg, err := config.LoadRegistry()
	if err != nil {
		return err
	}

	ip, key, err := resolveGatewayAddress(reg)
	if err != nil {
		return err
	}

	names := make(map[string]string)
	for _, entry := range reg.Gateways {
		for mac, meta := range entry.Devices {
			if meta.Nickname != "" {
				names[mac] = meta.Nickname
			}
		}
	}

	model, err := tui.NewAppModel(tui.Options{
		IP:        ip,
		Key:       key,
		Interface: ifaceFlag,
		Names:     names,
	})
	if err != nil {
		return err
	}

	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("dashboard error: %w", err)
	}
	model.Shutdown()

	return nil
}

// configCmd manages the local gateway registry
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the local gateway registry",
	Long: `Manage locally stored gateway metadata: nicknames, last known IPs,
keys and device names. The gateway itself stores none of this.`,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetGatewayCmd)
	configCmd.AddCommand(configSetDeviceCmd)
	configCmd.AddCommand(configRemoveGatewayCmd)

	configSetGatewayCmd.Flags().StringVar(&nicknameFlag, "nickname", "", "User-friendly gateway name")
	configSetGatewayCmd.Flags().StringVar(&ipFlag, "ip", "", "Gateway IP address")
	configSetGatewayCmd.Flags().StringVar(&setKeyFlag, "set-key", "", "16-character gateway key")

	configSetDeviceCmd.Flags().StringVar(&nicknameFlag, "nickname", "", "User-friendly device name")
	configSetDeviceCmd.Flags().StringVar(&roomFlag, "room", "", "Room grouping for display")
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored configuration",
	RunE:  runConfigShow,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	reg, err := config.LoadRegistry()
	if err != nil {
		return err
	}

	path, err := config.GetConfigPath()
	if err != nil {
		return err
	}
	fmt.Printf("Config: %s\n\n", path)

	if len(reg.Gateways) == 0 {
		fmt.Println("No gateways configured.")
		fmt.Println("Run 'motionlan discover' and 'motionlan config set-gateway <mac>' to add one.")
		return nil
	}

	macs := make([]string, 0, len(reg.Gateways))
	for mac := range reg.Gateways {
		macs = append(macs, mac)
	}
	sort.Strings(macs)

	fmt.Println("Gateways:")
	for _, mac := range macs {
		entry := reg.Gateways[mac]
		if entry.Nickname != "" {
			fmt.Printf("  %s (%s)\n", mac, entry.Nickname)
		} else {
			fmt.Printf("  %s\n", mac)
		}
		if entry.LastIP != "" {
			fmt.Printf("    IP:        %s\n", entry.LastIP)
		}
		if entry.Key != "" {
			fmt.Printf("    Key:       (set)\n")
		} else {
			fmt.Printf("    Key:       (not set)\n")
		}
		if !entry.LastSeen.IsZero() {
			fmt.Printf("    Last seen: %s\n", entry.LastSeen.Format("2006-01-02 15:04"))
		}
		if len(entry.Devices) > 0 {
			fmt.Printf("    Devices:\n")
			devMACs := make([]string, 0, len(entry.Devices))
			for m := range entry.Devices {
				devMACs = append(devMACs, m)
			}
			sort.Strings(devMACs)
			for _, m := range devMACs {
				meta := entry.Devices[m]
				line := fmt.Sprintf("      %s", m)
				if meta.Nickname != "" {
					line += "  " + meta.Nickname
				}
				if meta.Room != "" {
					line += fmt.Sprintf(" (room: %s)", meta.Room)
				}
				fmt.Println(line)
			}
		}
		fmt.Println()
	}

	return nil
}

var configSetGatewayCmd = &cobra.Command{
	Use:   "set-gateway <mac>",
	Short: "Store gateway metadata",
	Long: `Create or update the stored entry for a gateway: nickname, IP and
key. The MAC comes from 'motionlan discover' or the gateway label.`,
	Example: `  # Name a gateway and store its key
  motionlan config set-gateway a4cf12ab34cd --nickname livingroom --set-key 74ae10c3-5bf0-2d

  # Update only the address
  motionlan config set-gateway livingroom --ip 192.168.1.60`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigSetGateway,
}

func runConfigSetGateway(cmd *cobra.Command, args []string) error {
	reg, err := config.LoadRegistry()
	if err != nil {
		return err
	}

	mac := strings.ToLower(args[0])
	if resolved, _, ok := reg.Resolve(args[0]); ok {
		mac = resolved
	}

	if setKeyFlag != "" {
		if err := protocol.ValidateKey(setKeyFlag); err != nil {
			return err
		}
	}

	entry := reg.EnsureGateway(mac)
	if nicknameFlag != "" {
		entry.Nickname = nicknameFlag
	}
	if ipFlag != "" {
		entry.LastIP = ipFlag
	}
	if setKeyFlag != "" {
		entry.Key = setKeyFlag
	}

	if err := reg.Save(); err != nil {
		return err
	}

	fmt.Printf("✓ Saved gateway %s\n", mac)
	return nil
}

var configSetDeviceCmd = &cobra.Command{
	Use:   "set-device <gateway> <device-mac>",
	Short: "Store a device nickname",
	Example: `  # Name a blind
  motionlan config set-device livingroom 1111aaaa2222 --nickname "Kitchen Blind" --room Kitchen`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSetDevice,
}

func runConfigSetDevice(cmd *cobra.Command, args []string) error {
	reg, err := config.LoadRegistry()
	if err != nil {
		return err
	}

	gwMAC := strings.ToLower(args[0])
	if resolved, _, ok := reg.Resolve(args[0]); ok {
		gwMAC = resolved
	}

	reg.SetDeviceNickname(gwMAC, args[1], nicknameFlag, roomFlag)

	if err := reg.Save(); err != nil {
		return err
	}

	fmt.Printf("✓ Saved device %s\n", strings.ToLower(args[1]))
	return nil
}

var configRemoveGatewayCmd = &cobra.Command{
	Use:   "remove-gateway <gateway>",
	Short: "Remove a stored gateway entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigRemoveGateway,
}

func runConfigRemoveGateway(cmd *cobra.Command, args []string) error {
	reg, err := config.LoadRegistry()
	if err != nil {
		return err
	}

	mac := strings.ToLower(args[0])
	if resolved, _, ok := reg.Resolve(args[0]); ok {
		mac = resolved
	}
	if reg.GetGateway(mac) == nil {
		return fmt.Errorf("no stored gateway matches %q", args[0])
	}

	reg.RemoveGateway(mac)
	if err := reg.Save(); err != nil {
		return err
	}

	fmt.Printf("✓ Removed gateway %s\n", mac)
	return nil
}

// Helpers

// connectGateway resolves the target gateway, prompts for the key when
// necessary, connects and remembers the result in the registry.
func connectGateway() (*motion.Gateway, *config.Registry, error) {
	if err := logging.Initialize(logLevel); err != nil {
		return nil, nil, err
	}

	reg, err := config.LoadRegistry()
	if err != nil {
		return nil, nil, err
	}

	ip, key, err := resolveGatewayAddress(reg)
	if err != nil {
		return nil, nil, err
	}

	gw, err := motion.NewGateway(ip, key, motion.WithLogger(logging.GetLogger()))
	if err != nil {
		return nil, nil, err
	}

	if _, err := gw.QueryDeviceList(); err != nil {
		return nil, nil, fmt.Errorf("connect gateway %s: %w", ip, err)
	}
	if err := gw.Update(); err != nil {
		return nil, nil, fmt.Errorf("read gateway %s: %w", ip, err)
	}

	// Remember address and key so the next run skips the prompt.
	reg.UpdateGatewayLastSeen(gw.MAC(), ip)
	reg.SetGatewayKey(gw.MAC(), key)
	_ = reg.Save()

	return gw, reg, nil
}

// resolveGatewayAddress turns the --gateway flag (or the configuration)
// into a concrete IP and key, prompting for a missing key on a terminal.
func resolveGatewayAddress(reg *config.Registry) (ip, key string, err error) {
	key = keyFlag

	switch {
	case gatewayFlag != "":
		if _, entry, ok := reg.Resolve(gatewayFlag); ok {
			ip = entry.LastIP
			if ip == "" {
				return "", "", fmt.Errorf("no stored IP for gateway %q, pass an IP or run discover", gatewayFlag)
			}
			if key == "" {
				key = entry.Key
			}
		} else {
			ip = gatewayFlag
		}

	case len(reg.Gateways) == 1:
		for _, entry := range reg.Gateways {
			ip = entry.LastIP
			if key == "" {
				key = entry.Key
			}
		}
		if ip == "" {
			return "", "", fmt.Errorf("configured gateway has no stored IP, run 'motionlan discover'")
		}

	default:
		ip, key, err = discoverSingle(reg, key)
		if err != nil {
			return "", "", err
		}
	}

	if key == "" {
		key, err = promptKey()
		if err != nil {
			return "", "", err
		}
	}

	return ip, key, nil
}

// discoverSingle runs auto-discovery when no gateway is configured or
// given, and succeeds only when exactly one gateway answers.
func discoverSingle(reg *config.Registry, key string) (string, string, error) {
	prefs := reg.Preferences
	if prefs == nil || !prefs.AutoDiscover {
		return "", "", fmt.Errorf("no gateway given, pass --gateway or enable auto discovery")
	}

	timeout := time.Duration(prefs.DiscoverTimeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	fmt.Fprintf(os.Stderr, "No gateway specified, discovering (%s)...\n", timeout)

	found, err := motion.DiscoverContext(context.Background(), ifaceFlag, timeout)
	if err != nil {
		return "", "", fmt.Errorf("discovery failed: %w", err)
	}

	switch len(found) {
	case 0:
		return "", "", fmt.Errorf("no gateways found, pass --gateway <ip>")
	case 1:
		for ip, gw := range found {
			if key == "" {
				if entry := reg.GetGateway(gw.MAC); entry != nil {
					key = entry.Key
				}
			}
			fmt.Fprintf(os.Stderr, "Found gateway %s at %s\n", gw.MAC, ip)
			return ip, key, nil
		}
	}

	ips := make([]string, 0, len(found))
	for ip := range found {
		ips = append(ips, ip)
	}
	sort.Strings(ips)
	return "", "", fmt.Errorf("multiple gateways found (%s), pass --gateway", strings.Join(ips, ", "))
}

// promptKey reads the gateway key without echo. Refuses when stdin is
// not a terminal so scripts fail fast instead of hanging.
func promptKey() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no gateway key: pass --key or store one with 'motionlan config set-gateway'")
	}

	fmt.Fprint(os.Stderr, "Gateway key (from the vendor app's About screen): ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read key: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// runDeviceCommand wires the shared connect/resolve/confirm flow around
// one motor command.
func runDeviceCommand(args []string, action string, run func(motion.Device, motion.Motor) error) error {
	gw, reg, err := connectGateway()
	if err != nil {
		return err
	}

	dev, err := resolveDevice(gw, reg, firstOrEmpty(args))
	if err != nil {
		return err
	}

	motor, err := parseMotor(motorFlag)
	if err != nil {
		return err
	}

	if err := run(dev, motor); err != nil {
		return fmt.Errorf("%s %s: %s", action, dev.MAC(), motion.ShortMessage(err))
	}

	fmt.Printf("✓ %s: %s\n", action, deviceLabel(dev, reg.DeviceNickname(dev.MAC())))
	return nil
}

// resolveDevice maps a device argument (MAC or nickname) to a device on
// the gateway. An empty argument works when exactly one blind is paired.
func resolveDevice(gw *motion.Gateway, reg *config.Registry, target string) (motion.Device, error) {
	devices := gw.Devices()

	if target == "" {
		if len(devices) == 1 {
			for _, dev := range devices {
				return dev, nil
			}
		}
		return nil, fmt.Errorf("gateway has %d devices, name one (MAC or nickname): %s",
			len(devices), strings.Join(sortedMACs(devices), ", "))
	}

	if dev, ok := gw.Device(target); ok {
		return dev, nil
	}

	// Try stored nicknames under this gateway.
	if entry := reg.GetGateway(gw.MAC()); entry != nil {
		for mac, meta := range entry.Devices {
			if strings.EqualFold(meta.Nickname, target) {
				if dev, ok := gw.Device(mac); ok {
					return dev, nil
				}
			}
		}
	}

	return nil, fmt.Errorf("no device %q on gateway %s", target, gw.MAC())
}

func parseMotor(s string) (motion.Motor, error) {
	switch strings.ToLower(s) {
	case "", "combined":
		return motion.MotorCombined, nil
	case "top":
		return motion.MotorTop, nil
	case "bottom":
		return motion.MotorBottom, nil
	default:
		return 0, fmt.Errorf("unknown motor %q: want top, bottom or combined", s)
	}
}

func firstOrEmpty(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

func sortedMACs(devices map[string]motion.Device) []string {
	macs := make([]string, 0, len(devices))
	for mac := range devices {
		macs = append(macs, mac)
	}
	sort.Strings(macs)
	return macs
}

func deviceLabel(dev motion.Device, nickname string) string {
	if nickname != "" {
		return fmt.Sprintf("%s (%s)", nickname, dev.MAC())
	}
	return dev.MAC()
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// Output shapes for --json

type motorOut struct {
	Status         string   `json:"status"`
	Position       *int     `json:"position,omitempty"`
	ScaledPosition *int     `json:"scaled_position,omitempty"`
	Angle          *int     `json:"angle,omitempty"`
	BatteryPercent *float64 `json:"battery_percent,omitempty"`
}

type deviceOut struct {
	MAC            string    `json:"mac"`
	Nickname       string    `json:"nickname,omitempty"`
	Type           string    `json:"type"`
	Available      bool      `json:"available"`
	Status         string    `json:"status,omitempty"`
	Position       *int      `json:"position,omitempty"`
	Angle          *int      `json:"angle,omitempty"`
	BatteryPercent *float64  `json:"battery_percent,omitempty"`
	RSSI           *int      `json:"rssi,omitempty"`
	Top            *motorOut `json:"top,omitempty"`
	Bottom         *motorOut `json:"bottom,omitempty"`
	Width          *int      `json:"width,omitempty"`
}

func optIntPtr(v motion.Optional[int]) *int {
	if n, ok := v.Value(); ok {
		return &n
	}
	return nil
}

func optFloatPtr(v motion.Optional[float64]) *float64 {
	if f, ok := v.Value(); ok {
		return &f
	}
	return nil
}

func buildMotorOut(t *motion.TopDownBottomUp, motor motion.Motor) *motorOut {
	return &motorOut{
		Status:         t.Status(motor).String(),
		Position:       optIntPtr(t.Position(motor)),
		ScaledPosition: optIntPtr(t.ScaledPosition(motor)),
		Angle:          optIntPtr(t.Angle(motor)),
		BatteryPercent: optFloatPtr(t.BatteryLevel(motor)),
	}
}

func buildDeviceOut(dev motion.Device, nickname string) deviceOut {
	out := deviceOut{
		MAC:       dev.MAC(),
		Nickname:  nickname,
		Type:      dev.BlindType().String(),
		Available: dev.Available(),
	}

	switch d := dev.(type) {
	case *motion.TopDownBottomUp:
		out.RSSI = optIntPtr(d.RSSI())
		out.Top = buildMotorOut(d, motion.MotorTop)
		out.Bottom = buildMotorOut(d, motion.MotorBottom)
		w := d.Width()
		out.Width = &w
	case *motion.Blind:
		out.RSSI = optIntPtr(d.RSSI())
		out.Status = d.Status().String()
		out.Position = optIntPtr(d.Position())
		out.Angle = optIntPtr(d.Angle())
		out.BatteryPercent = optFloatPtr(d.BatteryLevel())
	}

	return out
}

// Text output

func fmtOptInt(v motion.Optional[int], suffix string) string {
	if n, ok := v.Value(); ok {
		return fmt.Sprintf("%d%s", n, suffix)
	}
	return "-"
}

func fmtBattery(pct motion.Optional[float64], volts motion.Optional[float64]) string {
	p, okP := pct.Value()
	v, okV := volts.Value()
	switch {
	case okP && okV:
		return fmt.Sprintf("%.0f%% (%.1fV)", p, v)
	case okP:
		return fmt.Sprintf("%.0f%%", p)
	default:
		return "-"
	}
}

func printDevice(dev motion.Device, nickname string) {
	fmt.Printf("  %s  %s\n", deviceLabel(dev, nickname), dev.BlindType())

	switch d := dev.(type) {
	case *motion.TopDownBottomUp:
		fmt.Printf("    Top:      %-10s Position: %-5s Angle: %s\n",
			d.Status(motion.MotorTop), fmtOptInt(d.Position(motion.MotorTop), "%"),
			fmtOptInt(d.Angle(motion.MotorTop), "°"))
		fmt.Printf("    Bottom:   %-10s Position: %-5s Angle: %s\n",
			d.Status(motion.MotorBottom), fmtOptInt(d.Position(motion.MotorBottom), "%"),
			fmtOptInt(d.Angle(motion.MotorBottom), "°"))
		fmt.Printf("    Battery:  top %s / bottom %s   Signal: %s dBm\n",
			fmtBattery(d.BatteryLevel(motion.MotorTop), d.BatteryVoltage(motion.MotorTop)),
			fmtBattery(d.BatteryLevel(motion.MotorBottom), d.BatteryVoltage(motion.MotorBottom)),
			fmtOptInt(d.RSSI(), ""))
	case *motion.Blind:
		fmt.Printf("    Status:   %-10s Position: %-5s Angle: %s\n",
			d.Status(), fmtOptInt(d.Position(), "%"), fmtOptInt(d.Angle(), "°"))
		fmt.Printf("    Battery:  %s   Signal: %s dBm\n",
			fmtBattery(d.BatteryLevel(), d.BatteryVoltage()), fmtOptInt(d.RSSI(), ""))
	}
	if !dev.Available() {
		fmt.Printf("    (unavailable)\n")
	}
	fmt.Println()
}

// Live report lines for the listen command

func printGatewayLine(gw *motion.Gateway) {
	fmt.Printf("%s  gateway %s  %s  rssi=%s  devices=%d\n",
		time.Now().Format("15:04:05"), gw.MAC(), gw.Status(),
		fmtOptInt(gw.RSSI(), ""), gw.NumberOfDevices())
}

func printDeviceLine(dev motion.Device, nickname string) {
	label := dev.MAC()
	if nickname != "" {
		label = nickname
	}

	switch d := dev.(type) {
	case *motion.TopDownBottomUp:
		fmt.Printf("%s  %s  top %s pos=%s  bottom %s pos=%s\n",
			time.Now().Format("15:04:05"), label,
			d.Status(motion.MotorTop), fmtOptInt(d.Position(motion.MotorTop), "%"),
			d.Status(motion.MotorBottom), fmtOptInt(d.Position(motion.MotorBottom), "%"))
	case *motion.Blind:
		fmt.Printf("%s  %s  %s pos=%s angle=%s batt=%s\n",
			time.Now().Format("15:04:05"), label,
			d.Status(), fmtOptInt(d.Position(), "%"), fmtOptInt(d.Angle(), "°"),
			fmtBattery(d.BatteryLevel(), d.BatteryVoltage()))
	}
}
