package config

import "time"

// Config holds all node configuration
type Config struct {
	Server    ServerConfig    `toml:"server"`
	WebSocket WebSocketConfig `toml:"websocket"`
	Gateway   GatewayConfig   `toml:"gateway"`
	Storage   StorageConfig   `toml:"storage"`
	Identity  IdentityConfig  `toml:"identity"`
	Catalog   CatalogConfig   `toml:"catalog"`
	P2P       P2PConfig       `toml:"p2p"`
	Behavior  BehaviorConfig  `toml:"behavior"`
}

// ServerConfig holds the retrieval gateway's HTTP settings
type ServerConfig struct {
	Host           string        `toml:"host"`
	Port           int           `toml:"port"`
	PortRange      int           `toml:"portRange"`
	Timeouts       TimeoutConfig `toml:"timeouts"`
	MaxHeaderBytes int           `toml:"maxHeaderBytes"`
}

// TimeoutConfig holds timeout settings
type TimeoutConfig struct {
	Read       Duration `toml:"read"`
	Write      Duration `toml:"write"`
	Idle       Duration `toml:"idle"`
	ReadHeader Duration `toml:"readHeader"`
}

// WebSocketConfig holds WebSocket settings shared by the gateway and the fetcher
type WebSocketConfig struct {
	CheckOrigin       bool     `toml:"checkOrigin"`
	AllowedOrigins    []string `toml:"allowedOrigins"`
	ReadBufferSize    int      `toml:"readBufferSize"`
	WriteBufferSize   int      `toml:"writeBufferSize"`
	MaxMessageBytes   int64    `toml:"maxMessageBytes"`
	HeartbeatInterval Duration `toml:"heartbeatInterval"`
	ClientTimeout     Duration `toml:"clientTimeout"`
}

// GatewayConfig tells the fetcher where the retrieval gateway lives
type GatewayConfig struct {
	URL              string   `toml:"url"`
	HandshakeTimeout Duration `toml:"handshakeTimeout"`
	WaitTimeout      Duration `toml:"waitTimeout"`
}

// StorageConfig selects the durable key-value backend
type StorageConfig struct {
	Backend   string `toml:"backend"` // "file", "badger" or "memory"
	Path      string `toml:"path"`
	CacheSize int    `toml:"cacheSize"` // blockstore read cache entries
}

// IdentityConfig holds the node identity slot
type IdentityConfig struct {
	Slot string `toml:"slot"`
}

// CatalogConfig lists the CIDs the node should fetch
type CatalogConfig struct {
	CIDs     []string `toml:"cids"`
	ListFile string   `toml:"listFile"`
}

// P2PConfig holds libp2p host settings
type P2PConfig struct {
	Enabled     bool     `toml:"enabled"`
	ListenAddrs []string `toml:"listenAddrs"`
	MDNS        bool     `toml:"mdns"`
	ServiceTag  string   `toml:"serviceTag"`
	Bootstrap   []string `toml:"bootstrap"` // multiaddrs with /p2p/<id>, dialed best effort
	DenyPeers   []string `toml:"denyPeers"` // peer IDs refused by the connection gater

	DHTMode        string   `toml:"dhtMode"` // "auto", "server" or "client"
	FetchTimeout   Duration `toml:"fetchTimeout"`
	ProvideTimeout Duration `toml:"provideTimeout"`
}

// BehaviorConfig holds application behavior settings
type BehaviorConfig struct {
	Verbosity int `toml:"verbosity"`
}

// Duration wraps time.Duration for TOML parsing
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}
