// Package config loads the recorder's runtime configuration from a YAML
// file (optionally overlaid with environment variables) via
// github.com/spf13/viper, the natural sibling of the teacher's cobra CLI
// (packages/apisix-go-runner/cmd/go-runner/main.go).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the recorder's full runtime configuration.
type Config struct {
	ServiceName string `mapstructure:"service_name"`

	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	NATSURL        string `mapstructure:"nats_url"`
	NATSDurable    string `mapstructure:"nats_durable"`
	NATSSubject    string `mapstructure:"nats_subject"`
	NATSStream     string `mapstructure:"nats_stream"`
	NATSBatchSize  int    `mapstructure:"nats_batch_size"`

	RedisAddr string `mapstructure:"redis_addr"`

	RulesetPath string `mapstructure:"ruleset_path"`

	SelfPid        int64  `mapstructure:"self_pid"`
	SelfBinaryPath string `mapstructure:"self_binary_path"`
	IdlePid        int64  `mapstructure:"idle_pid"`

	ExporterQueueSize int `mapstructure:"exporter_queue_size"`

	HealthAddr string `mapstructure:"health_addr"`

	VaultAddr       string `mapstructure:"vault_addr"`
	VaultToken      string `mapstructure:"vault_token"`
	VaultSecretPath string `mapstructure:"vault_secret_path"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("service_name", "sysrecorder")
	v.SetDefault("nats_durable", "sysrecorder-agent")
	v.SetDefault("nats_subject", "SYSTEM_EVENTS.>")
	v.SetDefault("nats_stream", "SYSTEM_EVENTS")
	v.SetDefault("nats_batch_size", 64)
	v.SetDefault("exporter_queue_size", 1024)
	v.SetDefault("health_addr", ":8080")
	v.SetDefault("idle_pid", int64(4))
	v.SetDefault("shutdown_timeout", 10*time.Second)
}

// Load reads configuration from path (if non-empty) and environment
// variables prefixed SYSRECORDER_ (e.g. SYSRECORDER_NATS_URL), the latter
// taking precedence so deployments can override the file without editing it.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("sysrecorder")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
