package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	NS        NSConfig        `yaml:"ns" mapstructure:"ns"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Transform TransformConfig `yaml:"transform" mapstructure:"transform"`
	Stats     StatsConfig     `yaml:"stats" mapstructure:"stats"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// NSConfig holds NS API credentials and endpoint settings.
type NSConfig struct {
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// FetchConfig configures HTTP fetch behavior.
type FetchConfig struct {
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	MaxAttempts       int     `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// TransformConfig configures the raw-to-cleaned transform.
type TransformConfig struct {
	// ImpactPolicyPath points at a yaml file overriding the built-in
	// impact rules. Empty means the bundled policy.
	ImpactPolicyPath string `yaml:"impact_policy_path" mapstructure:"impact_policy_path"`
	// StationsPath points at a csv file overriding the bundled station
	// reference data.
	StationsPath string `yaml:"stations_path" mapstructure:"stations_path"`
}

// StatsConfig configures the analytics queries.
type StatsConfig struct {
	TrendDays    int `yaml:"trend_days" mapstructure:"trend_days"`
	OverlapDays  int `yaml:"overlap_days" mapstructure:"overlap_days"`
	PeakHourRows int `yaml:"peak_hour_rows" mapstructure:"peak_hour_rows"`
}

// ServerConfig configures the read-only API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RAILWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "railwatch.db")
	v.SetDefault("ns.base_url", "https://gateway.apiportal.ns.nl/reisinformatie-api/api/v3")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.requests_per_second", 5)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("stats.trend_days", 30)
	v.SetDefault("stats.overlap_days", 7)
	v.SetDefault("stats.peak_hour_rows", 10)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the fields required for the given mode. Mode "run" needs
// feed credentials, "serve" a usable port, and "local" (init-db, rebuild,
// stats) only the store.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "run":
		if c.NS.APIKey == "" {
			problems = append(problems, "ns.api_key is required")
		}
		if c.Fetch.MaxAttempts < 1 || c.Fetch.MaxAttempts > 10 {
			problems = append(problems, "fetch.max_attempts must be between 1 and 10")
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be > 0 and <= 65535")
		}
	case "local":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			problems = append(problems, "store.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
