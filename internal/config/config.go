// Package config loads and holds the daemon's structured-text
// configuration (config.yaml).
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the full key set of config.yaml.
type Config struct {
	Daemon          Daemon          `yaml:"daemon"`
	DeviceDiscovery DeviceDiscovery `yaml:"device_discovery"`
	MacroEngine     MacroEngine     `yaml:"macro_engine"`
	Security        Security        `yaml:"security"`
	Performance     Performance     `yaml:"performance"`
}

type Daemon struct {
	SocketPath     string `yaml:"socket_path"`
	LogLevel       string `yaml:"log_level"`
	DropPrivileges bool   `yaml:"drop_privileges"`
}

type DeviceDiscovery struct {
	InputDevicesPath string `yaml:"input_devices_path"`
	UseVendorSysfs   bool   `yaml:"use_vendor_sysfs"`
}

type MacroEngine struct {
	MaxConcurrentMacros int  `yaml:"max_concurrent_macros"`
	DefaultDelayMS      int  `yaml:"default_delay"`
	EnableRecording     bool `yaml:"enable_recording"`
}

type Security struct {
	SocketGroup        string   `yaml:"socket_group"`
	SocketPermissions  uint32   `yaml:"socket_permissions"`
	RequireAuthToken   bool     `yaml:"require_auth_token"`
	RetainCapabilities []string `yaml:"retain_capabilities"`
}

type Performance struct {
	EventQueueSize int `yaml:"event_queue_size"`
}

// Default returns the configuration used when no config file exists
// yet. It is written back to disk on first load.
func Default() Config {
	return Config{
		Daemon: Daemon{
			SocketPath:     "/run/razermapper/razermapper.sock",
			LogLevel:       "info",
			DropPrivileges: true,
		},
		DeviceDiscovery: DeviceDiscovery{
			InputDevicesPath: "/dev/input",
			UseVendorSysfs:   true,
		},
		MacroEngine: MacroEngine{
			MaxConcurrentMacros: 8,
			DefaultDelayMS:      0,
			EnableRecording:     true,
		},
		Security: Security{
			SocketGroup:        "input",
			SocketPermissions:  0660,
			RequireAuthToken:   false,
			RetainCapabilities: []string{"CAP_SYS_RAWIO"},
		},
		Performance: Performance{
			EventQueueSize: 1000,
		},
	}
}

// Load reads path, returning Default() (written back to path) if it
// does not exist.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := Default()
		if werr := Save(path, cfg); werr != nil {
			return cfg, werr
		}
		return cfg, nil
	}
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes cfg to path as structured text, creating parent
// directories as needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
