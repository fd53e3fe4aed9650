package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestGetConfigDir(t *testing.T) {
	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}

	// Should not be empty
	if configDir == "" {
		t.Error("GetConfigDir() returned empty string")
	}

	// Should contain "motionlan"
	if !strings.Contains(configDir, "motionlan") {
		t.Errorf("GetConfigDir() = %v, should contain 'motionlan'", configDir)
	}

	// Platform-specific checks
	switch runtime.GOOS {
	case "windows":
		if !strings.Contains(configDir, "AppData") && !strings.Contains(configDir, "Local") {
			t.Errorf("Windows config dir should contain 'AppData' or 'Local', got: %v", configDir)
		}
	case "darwin", "linux":
		if !strings.Contains(configDir, ".config") {
			t.Errorf("Unix config dir should contain '.config', got: %v", configDir)
		}
	}

	t.Logf("Config directory: %s", configDir)
}

func TestGetConfigPath(t *testing.T) {
	configPath, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}

	// Should end with config.yaml
	if filepath.Base(configPath) != "config.yaml" {
		t.Errorf("GetConfigPath() should end with 'config.yaml', got: %v", configPath)
	}

	t.Logf("Config path: %s", configPath)
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()

	if reg.Version != 1 {
		t.Errorf("NewRegistry().Version = %v, want 1", reg.Version)
	}

	if reg.Gateways == nil {
		t.Error("NewRegistry().Gateways should not be nil")
	}

	if reg.Preferences == nil {
		t.Error("NewRegistry().Preferences should not be nil")
	}

	if reg.Preferences.AutoDiscover != true {
		t.Error("NewRegistry().Preferences.AutoDiscover should be true by default")
	}

	if reg.Preferences.DiscoverTimeout != 10 {
		t.Errorf("NewRegistry().Preferences.DiscoverTimeout = %v, want 10", reg.Preferences.DiscoverTimeout)
	}
}

func TestRegistryEnsureGateway(t *testing.T) {
	reg := NewRegistry()

	// First call should create gateway
	gw1 := reg.EnsureGateway("a4cf12ffffee")
	if gw1 == nil {
		t.Fatal("EnsureGateway() returned nil")
	}

	// Second call should return same gateway
	gw2 := reg.EnsureGateway("a4cf12ffffee")
	if gw1 != gw2 {
		t.Error("EnsureGateway() should return same instance for same MAC")
	}

	// MAC matching is case-insensitive
	gw3 := reg.EnsureGateway("A4CF12FFFFEE")
	if gw1 != gw3 {
		t.Error("EnsureGateway() should normalize MAC case")
	}

	// Different MAC should create new gateway
	gw4 := reg.EnsureGateway("deadbeef0001")
	if gw1 == gw4 {
		t.Error("EnsureGateway() should create new instance for different MAC")
	}
}

func TestRegistryUpdateGatewayLastSeen(t *testing.T) {
	reg := NewRegistry()

	before := time.Now()
	reg.UpdateGatewayLastSeen("a4cf12ffffee", "192.168.1.100")
	after := time.Now()

	gw := reg.GetGateway("a4cf12ffffee")
	if gw == nil {
		t.Fatal("Gateway should exist after UpdateGatewayLastSeen()")
	}

	if gw.LastIP != "192.168.1.100" {
		t.Errorf("LastIP = %v, want 192.168.1.100", gw.LastIP)
	}

	if gw.LastSeen.Before(before) || gw.LastSeen.After(after) {
		t.Errorf("LastSeen = %v, should be between %v and %v", gw.LastSeen, before, after)
	}
}

func TestRegistrySetDeviceNickname(t *testing.T) {
	reg := NewRegistry()

	reg.SetDeviceNickname("a4cf12ffffee", "ABCDEF012345", "Kitchen Blind", "kitchen")

	gw := reg.GetGateway("a4cf12ffffee")
	if gw == nil {
		t.Fatal("Gateway should exist after SetDeviceNickname()")
	}

	meta := gw.Devices["abcdef012345"]
	if meta == nil {
		t.Fatal("Device metadata should exist keyed by lowercase MAC")
	}

	if meta.Nickname != "Kitchen Blind" {
		t.Errorf("Nickname = %v, want 'Kitchen Blind'", meta.Nickname)
	}

	if meta.Room != "kitchen" {
		t.Errorf("Room = %v, want 'kitchen'", meta.Room)
	}

	if got := reg.DeviceNickname("abcdef012345"); got != "Kitchen Blind" {
		t.Errorf("DeviceNickname() = %v, want 'Kitchen Blind'", got)
	}
}

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry()
	reg.SetGatewayNickname("a4cf12ffffee", "Living Room")
	reg.SetGatewayKey("a4cf12ffffee", "12ab345c-d67e-8f")
	reg.UpdateGatewayLastSeen("a4cf12ffffee", "192.168.1.100")

	tests := []struct {
		name    string
		target  string
		wantMAC string
		wantOK  bool
	}{
		{
			name:    "by MAC",
			target:  "a4cf12ffffee",
			wantMAC: "a4cf12ffffee",
			wantOK:  true,
		},
		{
			name:    "by MAC uppercase",
			target:  "A4CF12FFFFEE",
			wantMAC: "a4cf12ffffee",
			wantOK:  true,
		},
		{
			name:    "by nickname case-insensitive",
			target:  "living room",
			wantMAC: "a4cf12ffffee",
			wantOK:  true,
		},
		{
			name:    "by last IP",
			target:  "192.168.1.100",
			wantMAC: "a4cf12ffffee",
			wantOK:  true,
		},
		{
			name:   "unknown target",
			target: "10.0.0.1",
			wantOK: false,
		},
		{
			name:   "empty target",
			target: "",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mac, gw, ok := reg.Resolve(tt.target)
			if ok != tt.wantOK {
				t.Fatalf("Resolve(%q) ok = %v, want %v", tt.target, ok, tt.wantOK)
			}
			if !tt.wantOK {
				return
			}
			if mac != tt.wantMAC {
				t.Errorf("Resolve(%q) mac = %v, want %v", tt.target, mac, tt.wantMAC)
			}
			if gw == nil || gw.Key != "12ab345c-d67e-8f" {
				t.Errorf("Resolve(%q) should return the stored entry with its key", tt.target)
			}
		})
	}
}

func TestRegistryRemoveGateway(t *testing.T) {
	reg := NewRegistry()
	reg.SetGatewayNickname("a4cf12ffffee", "Living Room")

	reg.RemoveGateway("A4CF12FFFFEE")
	if reg.GetGateway("a4cf12ffffee") != nil {
		t.Error("RemoveGateway() should delete the entry regardless of case")
	}

	// Removing again is a no-op
	reg.RemoveGateway("a4cf12ffffee")
}

func TestRegistrySaveAndLoadRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	reg := NewRegistry()
	reg.SetGatewayNickname("a4cf12ffffee", "Living Room")
	reg.SetGatewayKey("a4cf12ffffee", "12ab345c-d67e-8f")
	reg.UpdateGatewayLastSeen("a4cf12ffffee", "192.168.1.100")
	reg.SetDeviceNickname("a4cf12ffffee", "abcdef012345", "Kitchen Blind", "kitchen")

	if err := reg.saveToPath(configPath); err != nil {
		t.Fatalf("saveToPath() error = %v", err)
	}

	loaded, err := loadRegistryFromPath(configPath)
	if err != nil {
		t.Fatalf("loadRegistryFromPath() error = %v", err)
	}

	gw := loaded.GetGateway("a4cf12ffffee")
	if gw == nil {
		t.Fatal("Gateway should exist in loaded registry")
	}

	if gw.Nickname != "Living Room" {
		t.Errorf("Loaded nickname = %v, want 'Living Room'", gw.Nickname)
	}

	if gw.Key != "12ab345c-d67e-8f" {
		t.Errorf("Loaded key = %v, want '12ab345c-d67e-8f'", gw.Key)
	}

	if gw.LastIP != "192.168.1.100" {
		t.Errorf("Loaded last IP = %v, want '192.168.1.100'", gw.LastIP)
	}

	meta := gw.Devices["abcdef012345"]
	if meta == nil || meta.Nickname != "Kitchen Blind" {
		t.Errorf("Loaded device metadata = %+v, want nickname 'Kitchen Blind'", meta)
	}

	// The header comment must survive a parse and the file stays user-only.
	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestLoadRegistryMissingFileReturnsDefaults(t *testing.T) {
	loaded, err := loadRegistryFromPath(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("loadRegistryFromPath() error = %v", err)
	}

	if loaded.Version != 1 {
		t.Errorf("default registry version = %v, want 1", loaded.Version)
	}
	if len(loaded.Gateways) != 0 {
		t.Errorf("default registry should have no gateways, got %d", len(loaded.Gateways))
	}
}

func TestLoadRegistryRejectsUnknownVersion(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("version: 2\n"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := loadRegistryFromPath(configPath); err == nil {
		t.Error("loadRegistryFromPath() should reject version 2")
	}
}

func TestLoadRegistryRejectsMalformedYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("{not yaml"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := loadRegistryFromPath(configPath); err == nil {
		t.Error("loadRegistryFromPath() should reject malformed YAML")
	}
}

// Benchmark tests

func BenchmarkGetConfigDir(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = GetConfigDir()
	}
}

func BenchmarkEnsureGateway(b *testing.B) {
	reg := NewRegistry()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		reg.EnsureGateway("a4cf12ffffee")
	}
}
