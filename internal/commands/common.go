package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Priceless-P/BoxPeer-Web/internal/blockstore"
	"github.com/Priceless-P/BoxPeer-Web/internal/config"
	"github.com/Priceless-P/BoxPeer-Web/internal/kvstore"
	"github.com/Priceless-P/BoxPeer-Web/internal/logging"
)

// Flags shared by every command
var (
	dir        string
	verbose    int
	port       int
	gatewayURL string
)

// AddPersistentFlags registers the shared flags on the root command
func AddPersistentFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&dir, "dir", ".", "Node directory (holds config/boxpeer.toml and storage/)")
	flags.CountVarP(&verbose, "verbose", "v", "Verbose output (can be specified multiple times: -v, -vv, -vvv)")
	flags.IntVarP(&port, "port", "p", 0, "Gateway port (default from config)")
	flags.StringVar(&gatewayURL, "gateway", "", "Retrieval gateway WebSocket URL (default from config)")
}

// loadConfig reads the node configuration and applies the command-line flags
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFromDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.Merge(port, gatewayURL, verbose)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// env is the configuration, logger and storage a command runs with
type env struct {
	cfg   *config.Config
	log   *zap.Logger
	store kvstore.Store
}

func setup() (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Behavior.Verbosity)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	store, err := kvstore.Open(cfg.Storage)
	if err != nil {
		_ = log.Sync()
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	log.Debug("storage opened", zap.String("backend", cfg.Storage.Backend), zap.String("path", cfg.Storage.Path))
	return &env{cfg: cfg, log: log, store: store}, nil
}

func (e *env) blocks() (*blockstore.Blockstore, error) {
	return blockstore.New(e.store, e.cfg.Storage.CacheSize, e.log)
}

func (e *env) close() error {
	err := e.store.Close()
	_ = e.log.Sync()
	return err
}
