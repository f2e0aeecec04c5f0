package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// FLOWGUARD_STORE_DRIVER=redis or FLOWGUARD_RETRY_MAX_RETRIES=5.
const EnvPrefix = "FLOWGUARD"

// Load reads configuration from path, then applies environment overrides
// and defaults. An empty path looks for flowguard.yaml in the working
// directory and tolerates its absence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("flowguard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", describe(path), err)
		}
	}

	cfg := &Config{}
	err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	)))
	if err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.path", "")
	v.SetDefault("store.redis.addr", "")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)

	v.SetDefault("rate_limit.default.kind", "token_bucket")
	v.SetDefault("rate_limit.default.rate", 10)
	v.SetDefault("rate_limit.default.capacity", 20)
	v.SetDefault("rate_limit.default.limit", 0)
	v.SetDefault("rate_limit.default.window", "0s")

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.backoff.base", "100ms")
	v.SetDefault("retry.backoff.multiplier", 2.0)
	v.SetDefault("retry.backoff.max", "30s")
	v.SetDefault("retry.backoff.jitter", "none")
	v.SetDefault("retry.seed", 0)

	v.SetDefault("tracker.interval", "1s")
	v.SetDefault("tracker.timeout", "0s")
	v.SetDefault("tracker.transient_budget", 10)
	v.SetDefault("tracker.max_polls", 0)
	v.SetDefault("tracker.use_backoff", false)
}

func describe(path string) string {
	if path == "" {
		return "flowguard.yaml"
	}
	return path
}
