// Package config provides a reusable loader for cosync node configuration
// files and environment variables.
//
// Version: v0.1.0
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"cosync/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for a cosync node. It mirrors the
// structure of the YAML files under config/.
type Config struct {
	Network struct {
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
		WSListenAddr   string   `mapstructure:"ws_listen_addr" json:"ws_listen_addr"`
		MaxConcurrentDials int  `mapstructure:"max_concurrent_dials" json:"max_concurrent_dials"`
	} `mapstructure:"network" json:"network"`

	Sync struct {
		LoadDeadlineMS         int  `mapstructure:"load_deadline_ms" json:"load_deadline_ms"`
		OutboundQueueHighWater int  `mapstructure:"outbound_queue_high_water" json:"outbound_queue_high_water"`
		MaxInFlightLoads       int  `mapstructure:"max_in_flight_loads" json:"max_in_flight_loads"`
		VerifySignatures       bool `mapstructure:"verify_signatures" json:"verify_signatures"`
		BroadcastDedupCache    int  `mapstructure:"broadcast_dedup_cache" json:"broadcast_dedup_cache"`
	} `mapstructure:"sync" json:"sync"`

	Storage struct {
		DBPath string `mapstructure:"db_path" json:"db_path"`
	} `mapstructure:"storage" json:"storage"`

	Logging struct {
		Level    string `mapstructure:"level" json:"level"`
		File     string `mapstructure:"file" json:"file"`
		MetricsLogFile string `mapstructure:"metrics_log_file" json:"metrics_log_file"`
	} `mapstructure:"logging" json:"logging"`

	HTTP struct {
		DebugAddr string `mapstructure:"debug_addr" json:"debug_addr"`
	} `mapstructure:"http" json:"http"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment-specific
// overrides. The resulting configuration is stored in AppConfig and
// returned. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the COSYNC_ENV environment
// variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("COSYNC_ENV", ""))
}
