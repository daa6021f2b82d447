// Package config loads Cipher's configuration file and environment
// overrides, and implements descriptor export with secret redaction.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/xdien/cipher/internal/domain"
	"github.com/xdien/cipher/internal/health"
	"github.com/xdien/cipher/internal/tools/unified"
)

const (
	// DefaultDescriptorTimeoutMs is applied to a server entry that omits
	// its own timeout.
	DefaultDescriptorTimeoutMs = 30000

	// DefaultFileWriteDelay waits out a hot-reload event's write-in-progress
	// window before re-reading the file.
	DefaultFileWriteDelay = 150 * time.Millisecond
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with sensible defaults and no
// configured servers.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Fleet: FleetConfig{
			MaxConcurrentConnections: 32,
			ShutdownTimeout:          30 * time.Second,
			MaxRecoveryAttempts:      5,
			RecoveryDelay:            time.Second,
			RecoveryBackoffMultiplier: 2,
			CircuitBreaker:           domain.DefaultCircuitBreakerConfig(),
			Retry:                    domain.DefaultRetryConfig(),
			Health:                   health.DefaultConfig(),
			ClientName:               "cipher",
			ClientVersion:            "dev",
		},
		Tools: ToolsConfig{
			Prefix:             "cipher_",
			ExecutionTimeout:   30 * time.Second,
			Mode:               unified.ModeDefault,
			ConflictResolution: unified.ConflictPrefixInternal,
			EmbeddingsEnabled:  false,
		},
	}
}

// Load loads configuration from config.yaml (or $CIPHER_CONFIG_FILE) and
// environment variables prefixed CIPHER_, following the teacher's viper
// wiring: defaults first, file next, environment last, with an optional
// watch for hot-reload.
func Load(onConfigChange func()) (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("CIPHER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if configFile := os.Getenv("CIPHER_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	for i := range cfg.Servers {
		if cfg.Servers[i].ConnectionMode == "" {
			cfg.Servers[i].ConnectionMode = domain.ConnectionModeStringLenient
		}
	}

	viper.WatchConfig()
	if onConfigChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return
			}
			lastReload = now

			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}

	return cfg, nil
}

// Descriptors returns every configured server as a domain.ServerDescriptor.
func (c *Config) Descriptors() []domain.ServerDescriptor {
	out := make([]domain.ServerDescriptor, 0, len(c.Servers))
	for _, e := range c.Servers {
		out = append(out, e.ToDescriptor())
	}
	return out
}

// DiffServers compares c against previous and reports which server names
// were added, removed, or changed, for the Lifecycle Manager's hot-reload
// reconciliation (start/stop/restart rather than a full fleet restart).
func (c *Config) DiffServers(previous *Config) (added, removed, changed []domain.ServerDescriptor) {
	prevByName := make(map[string]ServerDescriptorEntry, len(previous.Servers))
	for _, e := range previous.Servers {
		prevByName[e.Name] = e
	}
	curByName := make(map[string]ServerDescriptorEntry, len(c.Servers))
	for _, e := range c.Servers {
		curByName[e.Name] = e

		prev, existed := prevByName[e.Name]
		switch {
		case !existed:
			added = append(added, e.ToDescriptor())
		case !reflect.DeepEqual(prev, e):
			changed = append(changed, e.ToDescriptor())
		}
	}
	for name, e := range prevByName {
		if _, stillPresent := curByName[name]; !stillPresent {
			removed = append(removed, e.ToDescriptor())
		}
	}
	return added, removed, changed
}
