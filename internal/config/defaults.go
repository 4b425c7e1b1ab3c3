package config

import "time"

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "127.0.0.1",
			Port:      9090,
			PortRange: 1,
			Timeouts: TimeoutConfig{
				Read:       Duration{0},
				Write:      Duration{0},
				Idle:       Duration{60 * time.Second},
				ReadHeader: Duration{5 * time.Second},
			},
			MaxHeaderBytes: 1048576, // 1 MB
		},
		WebSocket: WebSocketConfig{
			CheckOrigin:       false, // Allow all origins by default
			AllowedOrigins:    []string{},
			ReadBufferSize:    1024,
			WriteBufferSize:   1024,
			MaxMessageBytes:   64 << 20,
			HeartbeatInterval: Duration{10 * time.Second},
			ClientTimeout:     Duration{30 * time.Second},
		},
		Gateway: GatewayConfig{
			URL:              "ws://127.0.0.1:9090/ws",
			HandshakeTimeout: Duration{10 * time.Second},
			WaitTimeout:      Duration{2 * time.Minute},
		},
		Storage: StorageConfig{
			Backend:   "file",
			Path:      "storage",
			CacheSize: 256,
		},
		Identity: IdentityConfig{
			Slot: "pKey",
		},
		Catalog: CatalogConfig{
			CIDs: []string{},
		},
		P2P: P2PConfig{
			Enabled:     false,
			ListenAddrs: []string{"/ip4/0.0.0.0/udp/0/quic-v1", "/ip4/0.0.0.0/tcp/0"},
			MDNS:        true,
			ServiceTag:  "boxpeer",

			DHTMode:        "auto",
			FetchTimeout:   Duration{30 * time.Second},
			ProvideTimeout: Duration{30 * time.Second},
		},
		Behavior: BehaviorConfig{
			Verbosity: 0,
		},
	}
}
