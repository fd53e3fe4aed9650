// Package bridge re-publishes Motion gateways onto MQTT, REST and
// WebSocket surfaces for home-automation frontends.
//
// A Bridge owns every gateway it is configured with: it bootstraps the
// roster, subscribes a shared multicast listener, registers change
// callbacks on the gateway and each device, and drives a slow poll for
// fields that have no pushes (battery, signal). Every state change becomes
// one Event, published as retained JSON under
// <prefix>/<gateway>/<device>/state and streamed to WebSocket clients;
// commands arrive on the matching .../set topics and on
// POST /api/devices/{mac}/command with the same body either way:
//
//	{"command": "position", "value": 40, "motor": "bottom"}
//
// Both surfaces are optional. Disabling the broker leaves a REST-only
// bridge, disabling the HTTP bind leaves an MQTT-only one; disabling both
// is a configuration error.
package bridge
