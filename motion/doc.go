// Package motion is a client for Motion blind gateways on the local
// network.
//
// A Gateway value represents one physical gateway and owns a roster of
// Device values, one per blind the gateway bridges. State is observed, not
// assumed: every field starts unknown and fills in as status replies and
// multicast pushes are merged. Commands are plain method calls that block
// for the gateway's acknowledgement.
//
// # Getting Started
//
// Everything begins with the gateway's IP and the 16-character account key
// from the vendor app:
//
//	gw, err := motion.NewGateway("192.168.1.208", "12ab345c-d67e-8f")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	devices, err := gw.QueryDeviceList()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for mac, dev := range devices {
//	    if err := dev.Update(); err != nil {
//	        log.Printf("%s: %v", mac, err)
//	    }
//	}
//
// QueryDeviceList must run before any encrypted exchange: its reply
// carries the token from which the session key is derived. Calling a
// device operation first fails cleanly with ErrNoToken.
//
// # Devices
//
// The roster holds Device values. The concrete type depends on the
// hardware: *Blind for single-motor devices, *TopDownBottomUp for
// dual-rail blinds, whose motor-qualified operations take a Motor
// argument. Assert on the concrete type for anything beyond the shared
// interface:
//
//	if tdbu, ok := dev.(*motion.TopDownBottomUp); ok {
//	    err = tdbu.SetScaledPosition(50, motion.MotorBottom)
//	}
//
// # Pushes
//
// Blinds report position changes through multicast pushes, not through
// polling. Attach a listener to merge them as they arrive:
//
//	listener := motion.NewThreadedListener("", logger)
//	if err := listener.StartListen(); err != nil {
//	    log.Fatal(err)
//	}
//	defer listener.StopListen()
//	gw.AttachListener(listener)
//
//	dev.RegisterCallback("log", func() {
//	    log.Printf("updated: %s", dev)
//	})
//
// One listener serves any number of gateways; it owns the multicast
// socket and routes each push by MAC to the gateways that recognize it.
// EventListener is the lean variant that dispatches inline; use it when
// callbacks are quick and ThreadedListener when they are not.
//
// # Discovery
//
// Gateways answer a multicast probe with their identity and roster, no
// key required:
//
//	found, err := motion.Discover(0)
//	for ip, gw := range found {
//	    log.Printf("%s: %s (%d devices)", ip, gw.MAC, len(gw.Devices))
//	}
//
// # Errors
//
// Command failures wrap one of the sentinel errors (ErrTimeout,
// ErrUnreachable, ErrNoToken, ErrRejected, ErrInvalidArgument) inside a
// CommandError naming the gateway, device and message type involved.
// Check them with errors.Is; IsRetryable picks out the transient ones.
// The Available flags on Gateway and Device persist the most recent
// outcome between calls.
//
// # Thread Safety
//
// Observed state may be read from any goroutine. Commands are synchronous
// and best issued one at a time per gateway; merges are serialized per
// entity, and callbacks run after the merge without holding its lock.
package motion
