package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shayan-deriv/multi-touch-attribution/pkg/mta"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Kafka      KafkaConfig      `yaml:"kafka" mapstructure:"kafka"`
	Tracker    TrackerConfig    `yaml:"tracker" mapstructure:"tracker"`
	Collector  CollectorConfig  `yaml:"collector" mapstructure:"collector"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the journey store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the ingest HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// KafkaConfig configures the optional event sink. An empty broker list
// disables the sink.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	Topic   string   `yaml:"topic" mapstructure:"topic"`
}

// TrackerConfig carries the recorder knobs used by simulated visitors.
type TrackerConfig struct {
	Policy                   string `yaml:"policy" mapstructure:"policy"`
	MaxEvents                int    `yaml:"max_events" mapstructure:"max_events"`
	AttributionExpiryMinutes int    `yaml:"attribution_expiry_minutes" mapstructure:"attribution_expiry_minutes"`
	CookieDomain             string `yaml:"cookie_domain" mapstructure:"cookie_domain"`
	CookieExpiryDays         int    `yaml:"cookie_expiry_days" mapstructure:"cookie_expiry_days"`
	ResetOnLogin             bool   `yaml:"reset_on_login" mapstructure:"reset_on_login"`
	ResetOnSignup            bool   `yaml:"reset_on_signup" mapstructure:"reset_on_signup"`
	AutoTrack                bool   `yaml:"auto_track" mapstructure:"auto_track"`
	TrackHashChange          bool   `yaml:"track_hash_change" mapstructure:"track_hash_change"`
	TrackHistoryChange       bool   `yaml:"track_history_change" mapstructure:"track_history_change"`
}

// SDK maps the tracker section onto an mta.Config. Collaborators are left
// for the caller to attach.
func (t TrackerConfig) SDK() mta.Config {
	return mta.Config{
		Policy:                   mta.Policy(t.Policy),
		MaxEvents:                t.MaxEvents,
		AttributionExpiryMinutes: t.AttributionExpiryMinutes,
		CookieDomain:             t.CookieDomain,
		CookieExpiryDays:         t.CookieExpiryDays,
		ResetOnLogin:             mta.Bool(t.ResetOnLogin),
		ResetOnSignup:            mta.Bool(t.ResetOnSignup),
		AutoTrack:                mta.Bool(t.AutoTrack),
		TrackHashChange:          mta.Bool(t.TrackHashChange),
		TrackHistoryChange:       mta.Bool(t.TrackHistoryChange),
	}
}

// CollectorConfig configures the delivery client used by simulate.
type CollectorConfig struct {
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	EventsPerSec float64 `yaml:"events_per_sec" mapstructure:"events_per_sec"`
	Burst        int     `yaml:"burst" mapstructure:"burst"`
	UserAgent    string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// MonitoringConfig configures the background alert checker. Zero-valued
// thresholds disable their alert.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	MinEvents            int     `yaml:"min_events" mapstructure:"min_events"`
	DirectShareThreshold float64 `yaml:"direct_share_threshold" mapstructure:"direct_share_threshold"`
	AuthRateThreshold    float64 `yaml:"auth_rate_threshold" mapstructure:"auth_rate_threshold"`
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
	v.SetEnvPrefix("MTA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "mta.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("kafka.topic", "attribution.events")
	v.SetDefault("tracker.policy", string(mta.PolicySticky))
	v.SetDefault("tracker.max_events", mta.DefaultMaxEvents)
	v.SetDefault("tracker.attribution_expiry_minutes", mta.DefaultAttributionExpiryMinutes)
	v.SetDefault("tracker.cookie_expiry_days", mta.DefaultCookieExpiryDays)
	v.SetDefault("tracker.reset_on_login", true)
	v.SetDefault("tracker.reset_on_signup", true)
	v.SetDefault("tracker.auto_track", true)
	v.SetDefault("tracker.track_hash_change", true)
	v.SetDefault("tracker.track_history_change", true)
	v.SetDefault("collector.burst", 10)
	v.SetDefault("collector.user_agent", "mta-cli")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
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

// Validate checks the fields required by the given run mode.
func (c *Config) Validate(mode string) error {
	var problems []string

	checkStore := func() {
		switch c.Store.Driver {
		case "sqlite":
			if c.Store.Path == "" {
				problems = append(problems, "store.path is required")
			}
		case "postgres":
			if c.Store.DatabaseURL == "" {
				problems = append(problems, "store.database_url is required")
			}
		default:
			problems = append(problems, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
		}
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
			problems = append(problems, "kafka.topic is required when brokers are set")
		}
		if c.Monitoring.DirectShareThreshold < 0 || c.Monitoring.DirectShareThreshold > 1 {
			problems = append(problems, "monitoring.direct_share_threshold must be between 0 and 1")
		}
		if c.Monitoring.AuthRateThreshold < 0 || c.Monitoring.AuthRateThreshold > 1 {
			problems = append(problems, "monitoring.auth_rate_threshold must be between 0 and 1")
		}
		checkStore()
	case "simulate":
		if p := mta.Policy(c.Tracker.Policy); p != mta.PolicySticky && p != mta.PolicyDelta {
			problems = append(problems, fmt.Sprintf("tracker.policy must be sticky or delta, got %q", c.Tracker.Policy))
		}
		if c.Tracker.MaxEvents <= 0 {
			problems = append(problems, "tracker.max_events must be > 0")
		}
		if c.Tracker.AttributionExpiryMinutes <= 0 {
			problems = append(problems, "tracker.attribution_expiry_minutes must be > 0")
		}
		if c.Collector.EventsPerSec < 0 {
			problems = append(problems, "collector.events_per_sec must be >= 0")
		}
	case "journeys":
		checkStore()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
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
