package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                     string        `mapstructure:"PORT"`
	Env                      string        `mapstructure:"ENV"`
	DatabaseURL              string        `mapstructure:"DATABASE_URL"`
	DBMaxConns               int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns               int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL                 string        `mapstructure:"REDIS_URL"`
	AuthIssuer               string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL              string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience             string        `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins              []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS             float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst           int           `mapstructure:"RATE_LIMIT_BURST"`
	IngestRateLimitRPS       float64       `mapstructure:"INGEST_RATE_LIMIT_RPS"`
	IngestRateLimitBurst     int           `mapstructure:"INGEST_RATE_LIMIT_BURST"`
	ConfidenceThreshold      float64       `mapstructure:"CONFIDENCE_THRESHOLD"`
	TemporalSmoothingEnabled bool          `mapstructure:"TEMPORAL_SMOOTHING_ENABLED"`
	SmoothingWindowSize      int           `mapstructure:"SMOOTHING_WINDOW_SIZE"`
	IngestTimeout            time.Duration `mapstructure:"INGEST_TIMEOUT"`
	MQTTBroker               string        `mapstructure:"MQTT_BROKER"`
	MQTTClientID             string        `mapstructure:"MQTT_CLIENT_ID"`
	MQTTUsername             string        `mapstructure:"MQTT_USERNAME"`
	MQTTPassword             string        `mapstructure:"MQTT_PASSWORD"`
	MQTTTopic                string        `mapstructure:"MQTT_TOPIC"`
	AlarmStream              string        `mapstructure:"ALARM_STREAM"`
	MetricsEnabled           bool          `mapstructure:"METRICS_ENABLED"`
}

var envKeys = []string{
	"PORT",
	"ENV",
	"DATABASE_URL",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"REDIS_URL",
	"AUTH_ISSUER",
	"AUTH_JWKS_URL",
	"AUTH_AUDIENCE",
	"CORS_ORIGINS",
	"RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST",
	"INGEST_RATE_LIMIT_RPS",
	"INGEST_RATE_LIMIT_BURST",
	"CONFIDENCE_THRESHOLD",
	"TEMPORAL_SMOOTHING_ENABLED",
	"SMOOTHING_WINDOW_SIZE",
	"INGEST_TIMEOUT",
	"MQTT_BROKER",
	"MQTT_CLIENT_ID",
	"MQTT_USERNAME",
	"MQTT_PASSWORD",
	"MQTT_TOPIC",
	"ALARM_STREAM",
	"METRICS_ENABLED",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	// Edge devices post around 1000 readings per minute per deployment.
	v.SetDefault("INGEST_RATE_LIMIT_RPS", 17)
	v.SetDefault("INGEST_RATE_LIMIT_BURST", 100)
	v.SetDefault("CONFIDENCE_THRESHOLD", 0.85)
	v.SetDefault("TEMPORAL_SMOOTHING_ENABLED", true)
	v.SetDefault("SMOOTHING_WINDOW_SIZE", 5)
	v.SetDefault("INGEST_TIMEOUT", "5s")
	v.SetDefault("MQTT_CLIENT_ID", "nicu-server")
	v.SetDefault("MQTT_TOPIC", "nicu/+/patient/+/vitals/camera")
	v.SetDefault("ALARM_STREAM", "nicu:alarms")
	v.SetDefault("METRICS_ENABLED", true)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active, all requests get admin access.")
		log.Println("WARNING: Set ENV=production and configure AUTH_ISSUER for production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// MQTTEnabled reports whether the edge MQTT bridge should be started.
func (c *Config) MQTTEnabled() bool {
	return c.MQTTBroker != ""
}

// Validate checks that the configuration is safe to run. Outside development
// AUTH_ISSUER must be set so that real JWT authentication is enforced, and the
// ingestion tunables must be in range.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" {
		return fmt.Errorf(
			"AUTH_ISSUER must be set outside development (current ENV=%q). "+
				"Refusing to start without authentication configuration", c.Env)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be within [0,1], got %v", c.ConfidenceThreshold)
	}
	if c.SmoothingWindowSize < 1 {
		return fmt.Errorf("SMOOTHING_WINDOW_SIZE must be at least 1, got %d", c.SmoothingWindowSize)
	}
	if c.IngestTimeout <= 0 {
		return fmt.Errorf("INGEST_TIMEOUT must be positive, got %s", c.IngestTimeout)
	}
	if c.MQTTEnabled() && c.MQTTTopic == "" {
		return fmt.Errorf("MQTT_TOPIC is required when MQTT_BROKER is set")
	}
	return nil
}
