package config

import (
	"strings"
	"time"
)

// Registry represents the entire user configuration file.
// This stores user-defined metadata for gateways and application preferences.
type Registry struct {
	Version     int                 `yaml:"version"`
	Gateways    map[string]*Gateway `yaml:"gateways,omitempty"` // Keyed by gateway MAC
	Preferences *Preferences        `yaml:"preferences,omitempty"`
}

// Gateway represents stored metadata for a single Motion gateway.
// This is keyed by the gateway's MAC address in the Registry.
type Gateway struct {
	Nickname  string                 `yaml:"nickname,omitempty"`  // User-friendly name
	LastIP    string                 `yaml:"last_ip,omitempty"`   // Last known IP address
	Key       string                 `yaml:"key,omitempty"`       // 16-char gateway key from the vendor app
	Interface string                 `yaml:"interface,omitempty"` // Network interface for multicast ("" = all)
	LastSeen  time.Time              `yaml:"last_seen,omitempty"` // Last discovery/connection time
	Devices   map[string]*DeviceMeta `yaml:"devices,omitempty"`   // Device metadata (keyed by device MAC)
}

// DeviceMeta represents user-defined metadata for a single blind.
// This is purely client-side information - the gateway itself stores no names.
type DeviceMeta struct {
	Nickname string `yaml:"nickname,omitempty"` // User-defined label (e.g., "Kitchen Blind")
	Room     string `yaml:"room,omitempty"`     // Optional room grouping for display
}

// Preferences represents application-wide user preferences.
type Preferences struct {
	AutoDiscover    bool   `yaml:"auto_discover"`       // Run multicast discovery when no gateway is given
	DiscoverTimeout int    `yaml:"discover_timeout"`    // Discovery window in seconds
	Interface       string `yaml:"interface,omitempty"` // Default multicast interface ("" = all)
}

// NewRegistry creates a new Registry with default values.
func NewRegistry() *Registry {
	return &Registry{
		Version:  1,
		Gateways: make(map[string]*Gateway),
		Preferences: &Preferences{
			AutoDiscover:    true,
			DiscoverTimeout: 10,
		},
	}
}

// GetGateway retrieves gateway metadata by MAC address.
// Returns nil if the gateway doesn't exist in the registry.
func (r *Registry) GetGateway(mac string) *Gateway {
	return r.Gateways[strings.ToLower(mac)]
}

// EnsureGateway ensures a gateway entry exists in the registry.
// If the gateway doesn't exist, creates a new entry with default values.
// Returns the gateway entry (existing or newly created).
func (r *Registry) EnsureGateway(mac string) *Gateway {
	if r.Gateways == nil {
		r.Gateways = make(map[string]*Gateway)
	}

	mac = strings.ToLower(mac)
	if gw, exists := r.Gateways[mac]; exists {
		return gw
	}

	gw := &Gateway{
		Devices: make(map[string]*DeviceMeta),
	}
	r.Gateways[mac] = gw
	return gw
}

// UpdateGatewayLastSeen updates the last seen timestamp and IP for a gateway.
func (r *Registry) UpdateGatewayLastSeen(mac, ip string) {
	gw := r.EnsureGateway(mac)
	gw.LastSeen = time.Now()
	gw.LastIP = ip
}

// SetGatewayNickname sets a user-friendly nickname for a gateway.
func (r *Registry) SetGatewayNickname(mac, nickname string) {
	gw := r.EnsureGateway(mac)
	gw.Nickname = nickname
}

// SetGatewayKey stores the 16-character key for a gateway so commands can
// run without prompting.
func (r *Registry) SetGatewayKey(mac, key string) {
	gw := r.EnsureGateway(mac)
	gw.Key = key
}

// SetDeviceNickname sets or updates the metadata for a device under a gateway.
func (r *Registry) SetDeviceNickname(gatewayMAC, deviceMAC, nickname, room string) {
	gw := r.EnsureGateway(gatewayMAC)

	if gw.Devices == nil {
		gw.Devices = make(map[string]*DeviceMeta)
	}

	gw.Devices[strings.ToLower(deviceMAC)] = &DeviceMeta{
		Nickname: nickname,
		Room:     room,
	}
}

// RemoveGateway deletes a gateway entry. Removing an unknown MAC is a no-op.
func (r *Registry) RemoveGateway(mac string) {
	delete(r.Gateways, strings.ToLower(mac))
}

// Resolve maps a --gateway flag value to a configured entry. The value may
// be a nickname, a MAC address, or a previously seen IP; matching is
// case-insensitive for nicknames and MACs. Returns the entry's MAC and
// metadata, or ok=false when nothing matches.
func (r *Registry) Resolve(target string) (mac string, gw *Gateway, ok bool) {
	if target == "" {
		return "", nil, false
	}

	lower := strings.ToLower(target)
	if gw, exists := r.Gateways[lower]; exists {
		return lower, gw, true
	}

	for mac, gw := range r.Gateways {
		if strings.EqualFold(gw.Nickname, target) || gw.LastIP == target {
			return mac, gw, true
		}
	}

	return "", nil, false
}

// DeviceNickname returns the stored nickname for a device MAC under any
// gateway, or "" when none is set.
func (r *Registry) DeviceNickname(deviceMAC string) string {
	deviceMAC = strings.ToLower(deviceMAC)
	for _, gw := range r.Gateways {
		if meta, ok := gw.Devices[deviceMAC]; ok && meta.Nickname != "" {
			return meta.Nickname
		}
	}
	return ""
}
