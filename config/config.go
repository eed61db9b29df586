package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Logging   LoggingConfig
	Metrics   MetricsConfig
	Admin     AdminConfig
	Weather   WeatherConfig
	Forecast  ForecastConfig
	Accuracy  AccuracyConfig
	Optimizer OptimizerConfig
	Jobs      JobsConfig
	Timetable TimetableConfig
}

type ServerConfig struct {
	Host                    string
	Port                    int
	ReadTimeout             time.Duration
	WriteTimeout            time.Duration
	IdleTimeout             time.Duration
	GracefulShutdownTimeout time.Duration
	AllowedOrigins          []string
	RateLimitPerMinute      int // per client IP, 0 disables
}

type DatabaseConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	AutoMigrate     bool
}

// RedisConfig configures forecast publishing. An empty URL disables it.
type RedisConfig struct {
	URL         string
	Password    string
	DB          int
	Channel     string
	KeyPrefix   string
	ForecastTTL time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string // json or text
}

type MetricsConfig struct {
	Enabled bool
	Port    int
	Path    string
}

type AdminConfig struct {
	AdminSecret string
}

// WeatherConfig selects and tunes the weather provider.
type WeatherConfig struct {
	Provider      string // store or http
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	RateLimit     float64
	Burst         int
	RetryAttempts int
	CacheTTL      time.Duration // age after which cached upstream samples are refetched
}

// ForecastConfig tunes risk scoring and forecast generation.
type ForecastConfig struct {
	HorizonDays int
	TimeZone    string
	WindowHours int
	DefaultWind float64
	DefaultWave float64
}

// AccuracyConfig tunes matching and evaluation windows.
type AccuracyConfig struct {
	LookbackDays int
	WindowDays   int
}

// OptimizerConfig tunes the threshold search.
type OptimizerConfig struct {
	Metric         string
	MinDataPoints  int
	MinImprovement float64
	GridMin        float64
	GridMax        float64
	GridStep       float64
	AutoAdopt      bool
}

// JobsConfig controls the scheduled batch runner.
type JobsConfig struct {
	Enabled           bool
	WorkerCount       int
	RetryAttempts     int
	RetryDelay        time.Duration
	ForecastInterval  time.Duration
	MatchInterval     time.Duration
	EvaluateInterval  time.Duration
	StageInterval     time.Duration
	OptimizeInterval  time.Duration
	DeprecateInterval time.Duration
}

// TimetableConfig points at the seasonal pattern file.
type TimetableConfig struct {
	PatternFile   string
	PopulateYears int
}

// Load loads configuration from an optional .env file and environment
// variables with sensible defaults
func Load() (*Config, error) {
	envFile := getEnv("FERRYCAST_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:                    getEnv("SERVER_HOST", "0.0.0.0"),
			Port:                    getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:             getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:            getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:             getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			GracefulShutdownTimeout: getEnvDuration("SERVER_GRACEFUL_SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigins:          getEnvList("SERVER_ALLOWED_ORIGINS", []string{"*"}),
			RateLimitPerMinute:      getEnvInt("SERVER_RATE_LIMIT_RPM", 120),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvDuration("DB_MAX_CONN_LIFETIME", 1*time.Hour),
			MaxConnIdleTime: getEnvDuration("DB_MAX_CONN_IDLE_TIME", 30*time.Minute),
			AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			URL:         getEnv("REDIS_URL", ""),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          getEnvInt("REDIS_DB", 0),
			Channel:     getEnv("REDIS_FORECAST_CHANNEL", "ferrycast:forecasts"),
			KeyPrefix:   getEnv("REDIS_KEY_PREFIX", "ferrycast:forecast:"),
			ForecastTTL: getEnvDuration("REDIS_FORECAST_TTL", 48*time.Hour),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Port:    getEnvInt("METRICS_PORT", 9090),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
		Admin: AdminConfig{
			AdminSecret: getEnv("ADMIN_SECRET", ""),
		},
		Weather: WeatherConfig{
			Provider:      getEnv("WEATHER_PROVIDER", "store"),
			BaseURL:       getEnv("WEATHER_BASE_URL", ""),
			APIKey:        getEnv("WEATHER_API_KEY", ""),
			Timeout:       getEnvDuration("WEATHER_TIMEOUT", 10*time.Second),
			RateLimit:     getEnvFloat("WEATHER_RATE_LIMIT", 5.0),
			Burst:         getEnvInt("WEATHER_BURST", 5),
			RetryAttempts: getEnvInt("WEATHER_RETRY_ATTEMPTS", 3),
			CacheTTL:      getEnvDuration("WEATHER_CACHE_TTL", 3*time.Hour),
		},
		Forecast: ForecastConfig{
			HorizonDays: getEnvInt("FORECAST_HORIZON_DAYS", 7),
			TimeZone:    getEnv("FORECAST_TIMEZONE", "Asia/Tokyo"),
			WindowHours: getEnvInt("FORECAST_WINDOW_HOURS", 2),
			DefaultWind: getEnvFloat("FORECAST_DEFAULT_WIND", 10.0),
			DefaultWave: getEnvFloat("FORECAST_DEFAULT_WAVE", 1.5),
		},
		Accuracy: AccuracyConfig{
			LookbackDays: getEnvInt("ACCURACY_LOOKBACK_DAYS", 7),
			WindowDays:   getEnvInt("ACCURACY_WINDOW_DAYS", 30),
		},
		Optimizer: OptimizerConfig{
			Metric:         getEnv("OPTIMIZER_METRIC", "f1"),
			MinDataPoints:  getEnvInt("OPTIMIZER_MIN_DATA_POINTS", 20),
			MinImprovement: getEnvFloat("OPTIMIZER_MIN_IMPROVEMENT", 0.02),
			GridMin:        getEnvFloat("OPTIMIZER_GRID_MIN", 10),
			GridMax:        getEnvFloat("OPTIMIZER_GRID_MAX", 90),
			GridStep:       getEnvFloat("OPTIMIZER_GRID_STEP", 5),
			AutoAdopt:      getEnvBool("OPTIMIZER_AUTO_ADOPT", false),
		},
		Jobs: JobsConfig{
			Enabled:           getEnvBool("JOBS_ENABLED", true),
			WorkerCount:       getEnvInt("JOBS_WORKER_COUNT", 1),
			RetryAttempts:     getEnvInt("JOBS_RETRY_ATTEMPTS", 2),
			RetryDelay:        getEnvDuration("JOBS_RETRY_DELAY", 5*time.Second),
			ForecastInterval:  getEnvDuration("JOBS_FORECAST_INTERVAL", 1*time.Hour),
			MatchInterval:     getEnvDuration("JOBS_MATCH_INTERVAL", 6*time.Hour),
			EvaluateInterval:  getEnvDuration("JOBS_EVALUATE_INTERVAL", 24*time.Hour),
			StageInterval:     getEnvDuration("JOBS_STAGE_INTERVAL", 6*time.Hour),
			OptimizeInterval:  getEnvDuration("JOBS_OPTIMIZE_INTERVAL", 24*time.Hour),
			DeprecateInterval: getEnvDuration("JOBS_DEPRECATE_INTERVAL", 24*time.Hour),
		},
		Timetable: TimetableConfig{
			PatternFile:   getEnv("TIMETABLE_PATTERN_FILE", ""),
			PopulateYears: getEnvInt("TIMETABLE_POPULATE_YEARS", 2),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("database max connections must be at least 1")
	}
	if c.Jobs.WorkerCount < 1 {
		return fmt.Errorf("jobs worker count must be at least 1")
	}
	switch c.Weather.Provider {
	case "store":
	case "http":
		if c.Weather.BaseURL == "" {
			return fmt.Errorf("WEATHER_BASE_URL is required for the http weather provider")
		}
	default:
		return fmt.Errorf("unknown weather provider: %q", c.Weather.Provider)
	}
	if c.Weather.RateLimit <= 0 {
		return fmt.Errorf("weather rate limit must be positive")
	}
	if c.Weather.CacheTTL < 0 {
		return fmt.Errorf("weather cache TTL must be non-negative")
	}
	if c.Forecast.HorizonDays < 1 {
		return fmt.Errorf("forecast horizon must be at least 1 day")
	}
	if c.Forecast.WindowHours < 0 {
		return fmt.Errorf("forecast window hours must be non-negative")
	}
	if _, err := time.LoadLocation(c.Forecast.TimeZone); err != nil {
		return fmt.Errorf("invalid forecast timezone %q: %w", c.Forecast.TimeZone, err)
	}
	if c.Accuracy.LookbackDays < 0 || c.Accuracy.WindowDays < 1 {
		return fmt.Errorf("accuracy windows must be positive")
	}
	if c.Optimizer.GridStep <= 0 || c.Optimizer.GridMin <= 0 || c.Optimizer.GridMax < c.Optimizer.GridMin {
		return fmt.Errorf("invalid optimizer grid %g..%g step %g", c.Optimizer.GridMin, c.Optimizer.GridMax, c.Optimizer.GridStep)
	}
	switch c.Optimizer.Metric {
	case "f1", "accuracy", "precision", "recall":
	default:
		return fmt.Errorf("unknown optimizer metric: %q", c.Optimizer.Metric)
	}
	if c.Optimizer.MinDataPoints < 1 {
		return fmt.Errorf("optimizer min data points must be at least 1")
	}
	return nil
}

// Location returns the operator time zone used to decide "today".
func (f ForecastConfig) Location() *time.Location {
	loc, err := time.LoadLocation(f.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
