package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// StaticConfig holds the startup-only settings that don't belong as
// environment variables: which interface the Art-Net node takes its
// addresses from, and
// the port patches applied once at startup. Grounded on
// gopatchy-artmap/config's toml.DecodeFile pattern.
type StaticConfig struct {
	ArtNet  ArtNetSection `toml:"artnet"`
	Patches []PortPatch   `toml:"patch"`
}

// ArtNetSection selects which network interface supplies the Art-Net
// node's local IP and broadcast address, and an optional broadcast address
// override. The Art-Net socket itself is bound on all interfaces.
type ArtNetSection struct {
	Interface string `toml:"interface"`
	Broadcast string `toml:"broadcast"`
}

// PortPatch describes one port->universe mapping applied at startup, before
// any RPC client has connected.
type PortPatch struct {
	Port     string `toml:"port"`     // a registry.Port's UniqueID
	Net      uint8  `toml:"net"`
	Universe uint16 `toml:"universe"`
	Priority uint8  `toml:"priority"`
}

// LoadStatic reads the static TOML config at path. A missing file is not an
// error - it yields a zero-value StaticConfig, since the static file is
// optional and every field has a sensible default (auto-select interface,
// no startup patches).
func LoadStatic(path string) (*StaticConfig, error) {
	var cfg StaticConfig
	if path == "" {
		return &cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return &cfg, nil
}
