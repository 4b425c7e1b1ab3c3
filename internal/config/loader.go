package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const ConfigFileName = "boxpeer.toml"

// LoadFromDir loads configuration from a node directory
// Returns default config if file doesn't exist
// A relative storage path is resolved against baseDir
func LoadFromDir(baseDir string) (*Config, error) {
	configPath := filepath.Join(baseDir, "config", ConfigFileName)

	cfg := DefaultConfig()
	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	if cfg.Storage.Path != "" && !filepath.IsAbs(cfg.Storage.Path) {
		cfg.Storage.Path = filepath.Join(baseDir, cfg.Storage.Path)
	}
	if cfg.Catalog.ListFile != "" && !filepath.IsAbs(cfg.Catalog.ListFile) {
		cfg.Catalog.ListFile = filepath.Join(baseDir, cfg.Catalog.ListFile)
	}

	return cfg, nil
}

// Parse decodes TOML content on top of the defaults
func Parse(content []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Merge merges command-line flags into configuration
// Flags take precedence over config file values
func (c *Config) Merge(port int, gatewayURL string, verbosity int) {
	// Only override if flag was explicitly set
	if port != 0 {
		c.Server.Port = port
	}

	if gatewayURL != "" {
		c.Gateway.URL = gatewayURL
	}

	if verbosity > 0 {
		c.Behavior.Verbosity = verbosity
	}
}

// Validate checks if configuration values are valid
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 0-65535)", c.Server.Port)
	}

	if c.Server.PortRange < 1 {
		return fmt.Errorf("invalid port range: %d (must be >= 1)", c.Server.PortRange)
	}

	if c.Server.Timeouts.Read.Duration < 0 {
		return fmt.Errorf("invalid read timeout: %v (must be positive)", c.Server.Timeouts.Read)
	}
	if c.Server.Timeouts.Write.Duration < 0 {
		return fmt.Errorf("invalid write timeout: %v (must be positive)", c.Server.Timeouts.Write)
	}

	if c.WebSocket.HeartbeatInterval.Duration <= 0 {
		return fmt.Errorf("invalid heartbeat interval: %v (must be positive)", c.WebSocket.HeartbeatInterval)
	}
	if c.WebSocket.ClientTimeout.Duration <= c.WebSocket.HeartbeatInterval.Duration {
		return fmt.Errorf("client timeout %v must exceed heartbeat interval %v",
			c.WebSocket.ClientTimeout, c.WebSocket.HeartbeatInterval)
	}

	u, err := url.Parse(c.Gateway.URL)
	if err != nil {
		return fmt.Errorf("invalid gateway url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid gateway url scheme: %q (must be ws or wss)", u.Scheme)
	}

	switch c.Storage.Backend {
	case "file", "badger":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path cannot be empty for %s backend", c.Storage.Backend)
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage backend: %q", c.Storage.Backend)
	}

	if c.P2P.Enabled {
		switch c.P2P.DHTMode {
		case "auto", "server", "client":
		default:
			return fmt.Errorf("unknown DHT mode: %q (must be auto, server or client)", c.P2P.DHTMode)
		}
		if c.P2P.FetchTimeout.Duration <= 0 {
			return fmt.Errorf("invalid p2p fetch timeout: %v (must be positive)", c.P2P.FetchTimeout)
		}
		if c.P2P.ProvideTimeout.Duration <= 0 {
			return fmt.Errorf("invalid p2p provide timeout: %v (must be positive)", c.P2P.ProvideTimeout)
		}
	}

	if c.Identity.Slot == "" {
		return fmt.Errorf("identity slot cannot be empty")
	}

	return nil
}
