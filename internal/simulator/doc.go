// Package simulator provides an in-process fake Motion gateway.
//
// The simulator binds the real command port, speaks the real wire protocol
// (plaintext device-list exchange, AES-encrypted everything else) and keeps
// per-device motor state, so the CLI, the bridge and integration tests can
// run against it with no hardware on the network.
//
// # Behavior
//
//   - GetDeviceList is answered with the configured roster and token, which
//     also makes the simulator visible to multicast discovery.
//   - ReadDevice returns gateway state for the gateway MAC and cached device
//     status for roster MACs.
//   - WriteDevice decrypts the command under the key/token-derived session
//     key; ciphertext that does not decrypt is rejected with an
//     "AccessToken error" action result, exactly like hardware with a stale
//     token. Valid commands move motor targets.
//   - Motors travel toward their targets a few percent per tick. A motor
//     reaching its target multicasts a Report push; a Heartbeat push goes
//     out periodically.
//
// # Usage
//
//	cfg := simulator.DefaultConfig()
//	sim, err := simulator.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := sim.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// The default config carries a fixed development key and token so client
// examples work against it unchanged. Tests use Listen "127.0.0.1" with
// Port 0 and read the bound address back from Addr().
package simulator
