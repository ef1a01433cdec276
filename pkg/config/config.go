package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration loaded from environment variables or config files.
type Config struct {
	AppEnv          string        `mapstructure:"APP_ENV" validate:"required,oneof=development staging production test"`
	HTTPAddr        string        `mapstructure:"HTTP_ADDR" validate:"required,hostname_port"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT" validate:"required"`

	LogLevel  string `mapstructure:"LOG_LEVEL" validate:"required,oneof=debug info warn error dpanic panic fatal"`
	LogFormat string `mapstructure:"LOG_FORMAT" validate:"required,oneof=json console"`
	LogPath   string `mapstructure:"LOG_PATH"`

	// DatabaseURL points at the engine's own database (datasets, performance cache).
	DatabaseURL string `mapstructure:"DATABASE_URL" validate:"required,url|uri"`
	// MLflowDBURI points at the MLflow tracking/registry backend store.
	MLflowDBURI string `mapstructure:"MLFLOW_DB_URI" validate:"required,url|uri"`

	ModelStoragePath string `mapstructure:"MODEL_STORAGE_PATH" validate:"required"`

	RedisAddr     string `mapstructure:"REDIS_ADDR" validate:"required,hostname_port"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	AsynqConcurrency int `mapstructure:"ASYNQ_CONCURRENCY" validate:"gte=1,lte=1000"`

	MedCATPython string `mapstructure:"MEDCAT_PYTHON" validate:"required"`
	MedCATHelper string `mapstructure:"MEDCAT_HELPER" validate:"required"`

	MCTBaseURL  string `mapstructure:"MCT_BASE_URL" validate:"omitempty,url"`
	MCTUsername string `mapstructure:"MCT_USERNAME"`
	MCTPassword string `mapstructure:"MCT_PASSWORD"`

	TagSizeLimit int    `mapstructure:"TAG_SIZE_LIMIT" validate:"gte=100,lte=5000"`
	ParentPolicy string `mapstructure:"PARENT_POLICY" validate:"oneof=keep_existing replace"`

	// RateLimitRPS is per-client requests per second; 0 disables limiting.
	RateLimitRPS float64 `mapstructure:"RATE_LIMIT_RPS" validate:"gte=0"`
	// TrustedProxies lists the CIDRs whose X-Forwarded-For is believed.
	TrustedProxies string `mapstructure:"TRUSTED_PROXIES"`

	GoMaxProcs int `mapstructure:"GOMAXPROCS" validate:"gte=0,lte=4096"`
}

var (
	cfg      *Config
	validate = validator.New(validator.WithRequiredStructEnabled())
)

var keys = []string{
	"APP_ENV",
	"HTTP_ADDR",
	"SHUTDOWN_TIMEOUT",
	"LOG_LEVEL",
	"LOG_FORMAT",
	"LOG_PATH",
	"DATABASE_URL",
	"MLFLOW_DB_URI",
	"MODEL_STORAGE_PATH",
	"REDIS_ADDR",
	"REDIS_PASSWORD",
	"ASYNQ_CONCURRENCY",
	"MEDCAT_PYTHON",
	"MEDCAT_HELPER",
	"MCT_BASE_URL",
	"MCT_USERNAME",
	"MCT_PASSWORD",
	"TAG_SIZE_LIMIT",
	"PARENT_POLICY",
	"RATE_LIMIT_RPS",
	"TRUSTED_PROXIES",
	"GOMAXPROCS",
}

// Load initializes configuration using Viper. It loads from .env if present,
// applies defaults, binds env vars, and validates the result.
func Load() (*Config, error) {
	// Load .env if present (non-fatal)
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_ADDR", "0.0.0.0:8080")
	v.SetDefault("SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("MODEL_STORAGE_PATH", "/app/db/medcatmlflow/models/")
	v.SetDefault("ASYNQ_CONCURRENCY", 4)
	v.SetDefault("MEDCAT_PYTHON", "python3")
	v.SetDefault("MEDCAT_HELPER", "medcat_helper.py")
	v.SetDefault("MCT_USERNAME", "admin")
	v.SetDefault("MCT_PASSWORD", "admin")
	v.SetDefault("TAG_SIZE_LIMIT", 5000)
	v.SetDefault("PARENT_POLICY", "keep_existing")
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("GOMAXPROCS", 0)

	// Optional config file
	_ = v.ReadInConfig()

	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}

	// Parse duration types that may come as string
	if s := v.GetString("SHUTDOWN_TIMEOUT"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
		}
		c.ShutdownTimeout = d
	}

	if err := validate.Struct(&c); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if c.GoMaxProcs > 0 {
		runtime.GOMAXPROCS(c.GoMaxProcs)
	}

	cfg = &c
	return cfg, nil
}

// MustLoad loads configuration or exits the process on failure.
func MustLoad() *Config {
	c, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	return c
}

// Loaded reports whether Load has succeeded.
func Loaded() bool { return cfg != nil }

// Get returns the loaded configuration. Panics if not loaded.
func Get() *Config {
	if cfg == nil {
		panic("config not loaded: call config.Load or config.MustLoad first")
	}
	return cfg
}
