// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Admin     AdminConfig
	Database  DatabaseConfig
	App       AppConfig
	Cache     CacheConfig
	Forecast  ForecastConfig
	Batch     BatchConfig
	Storage   StorageConfig
	Scheduler SchedulerConfig
	Drive     DriveConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port           string
	Mode           string
	ReadTimeout    int
	WriteTimeout   int
	AllowedOrigins []string
}

// AdminConfig is the separate listener serving /metrics and /healthz.
type AdminConfig struct {
	Enabled bool
	Port    string
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// DSN renders a lib/pq keyword connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// URL renders a postgres:// connection URL.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

type AppConfig struct {
	DataDir string
}

type CacheConfig struct {
	Enabled       bool
	RedisURL      string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// RiskSummaryTTL bounds how long a cached risk summary is served.
	RiskSummaryTTL time.Duration
}

type ForecastConfig struct {
	ModelPath        string
	Horizon          int
	ConfidenceZ      float64
	LeadTimeDays     int
	ServiceLevelZ    float64
	TargetDaysCover  int
	ModelLoadTimeout time.Duration
}

type BatchConfig struct {
	Workers          int
	ItemTimeout      time.Duration
	JobTTL           time.Duration
	RetryAttempts    int
	RetryBackoff     time.Duration
	RetryMaxInterval time.Duration
	MaxItems         int
}

type StorageConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

type SchedulerConfig struct {
	Enabled     bool
	Interval    time.Duration
	HistoryDays int
}

type DriveConfig struct {
	CredentialsFile string
	FolderID        string
}

type LogConfig struct {
	Level  string
	Pretty bool
}

var (
	once     sync.Once
	instance *Config
)

// Load reads configuration once per process from defaults, .env and the environment.
func Load() *Config {
	once.Do(func() {
		// Load .env file if it exists
		_ = godotenv.Load()

		viper.AutomaticEnv()
		instance = Build(viper.GetViper())

		ensureDir(instance.App.DataDir)
	})

	return instance
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_MODE", "debug")
	v.SetDefault("SERVER_READ_TIMEOUT", 15)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 30)
	v.SetDefault("SERVER_ALLOWED_ORIGINS", []string{"*"})
	v.SetDefault("ADMIN_ENABLED", true)
	v.SetDefault("ADMIN_PORT", "9090")
	v.SetDefault("DB_ENABLED", false)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "demandcast")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("APP_DATA_DIR", "./data")
	v.SetDefault("CACHE_ENABLED", false)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_HOST", "127.0.0.1")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_RISK_SUMMARY_TTL", "1m")
	v.SetDefault("FORECAST_MODEL_PATH", "models/demand_linear.json")
	v.SetDefault("FORECAST_HORIZON", 60)
	v.SetDefault("FORECAST_CONFIDENCE_Z", 1.65)
	v.SetDefault("FORECAST_LEAD_TIME_DAYS", 7)
	v.SetDefault("FORECAST_SERVICE_LEVEL_Z", 1.65)
	v.SetDefault("FORECAST_TARGET_DAYS_COVER", 30)
	v.SetDefault("FORECAST_MODEL_LOAD_TIMEOUT", "30s")
	v.SetDefault("BATCH_WORKERS", 8)
	v.SetDefault("BATCH_ITEM_TIMEOUT", "5s")
	v.SetDefault("BATCH_JOB_TTL", "24h")
	v.SetDefault("BATCH_RETRY_ATTEMPTS", 3)
	v.SetDefault("BATCH_RETRY_BACKOFF", "100ms")
	v.SetDefault("BATCH_RETRY_MAX_INTERVAL", "2s")
	v.SetDefault("BATCH_MAX_ITEMS", 10000)
	v.SetDefault("STORAGE_ENABLED", false)
	v.SetDefault("STORAGE_ENDPOINT", "localhost:9000")
	v.SetDefault("STORAGE_ACCESS_KEY", "")
	v.SetDefault("STORAGE_SECRET_KEY", "")
	v.SetDefault("STORAGE_REGION", "us-east-1")
	v.SetDefault("STORAGE_USE_SSL", false)
	v.SetDefault("SCHEDULER_ENABLED", false)
	v.SetDefault("SCHEDULER_INTERVAL", "24h")
	v.SetDefault("SCHEDULER_HISTORY_DAYS", 180)
	v.SetDefault("GOOGLE_CREDENTIALS_FILE", "")
	v.SetDefault("GOOGLE_DRIVE_FOLDER_ID", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
}

// Build assembles a Config from v after registering defaults.
func Build(v *viper.Viper) *Config {
	SetDefaults(v)

	return &Config{
		Server: ServerConfig{
			Port:           v.GetString("SERVER_PORT"),
			Mode:           v.GetString("SERVER_MODE"),
			ReadTimeout:    v.GetInt("SERVER_READ_TIMEOUT"),
			WriteTimeout:   v.GetInt("SERVER_WRITE_TIMEOUT"),
			AllowedOrigins: v.GetStringSlice("SERVER_ALLOWED_ORIGINS"),
		},
		Admin: AdminConfig{
			Enabled: v.GetBool("ADMIN_ENABLED"),
			Port:    v.GetString("ADMIN_PORT"),
		},
		Database: DatabaseConfig{
			Enabled:  v.GetBool("DB_ENABLED"),
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
			MaxConns: v.GetInt("DB_MAX_CONNS"),
		},
		App: AppConfig{
			DataDir: v.GetString("APP_DATA_DIR"),
		},
		Cache: CacheConfig{
			Enabled:        v.GetBool("CACHE_ENABLED"),
			RedisURL:       v.GetString("REDIS_URL"),
			RedisHost:      v.GetString("REDIS_HOST"),
			RedisPort:      v.GetString("REDIS_PORT"),
			RedisPassword:  v.GetString("REDIS_PASSWORD"),
			RedisDB:        v.GetInt("REDIS_DB"),
			RiskSummaryTTL: v.GetDuration("CACHE_RISK_SUMMARY_TTL"),
		},
		Forecast: ForecastConfig{
			ModelPath:        v.GetString("FORECAST_MODEL_PATH"),
			Horizon:          v.GetInt("FORECAST_HORIZON"),
			ConfidenceZ:      v.GetFloat64("FORECAST_CONFIDENCE_Z"),
			LeadTimeDays:     v.GetInt("FORECAST_LEAD_TIME_DAYS"),
			ServiceLevelZ:    v.GetFloat64("FORECAST_SERVICE_LEVEL_Z"),
			TargetDaysCover:  v.GetInt("FORECAST_TARGET_DAYS_COVER"),
			ModelLoadTimeout: v.GetDuration("FORECAST_MODEL_LOAD_TIMEOUT"),
		},
		Batch: BatchConfig{
			Workers:          v.GetInt("BATCH_WORKERS"),
			ItemTimeout:      v.GetDuration("BATCH_ITEM_TIMEOUT"),
			JobTTL:           v.GetDuration("BATCH_JOB_TTL"),
			RetryAttempts:    v.GetInt("BATCH_RETRY_ATTEMPTS"),
			RetryBackoff:     v.GetDuration("BATCH_RETRY_BACKOFF"),
			RetryMaxInterval: v.GetDuration("BATCH_RETRY_MAX_INTERVAL"),
			MaxItems:         v.GetInt("BATCH_MAX_ITEMS"),
		},
		Storage: StorageConfig{
			Enabled:   v.GetBool("STORAGE_ENABLED"),
			Endpoint:  v.GetString("STORAGE_ENDPOINT"),
			AccessKey: v.GetString("STORAGE_ACCESS_KEY"),
			SecretKey: v.GetString("STORAGE_SECRET_KEY"),
			Region:    v.GetString("STORAGE_REGION"),
			UseSSL:    v.GetBool("STORAGE_USE_SSL"),
		},
		Scheduler: SchedulerConfig{
			Enabled:     v.GetBool("SCHEDULER_ENABLED"),
			Interval:    v.GetDuration("SCHEDULER_INTERVAL"),
			HistoryDays: v.GetInt("SCHEDULER_HISTORY_DAYS"),
		},
		Drive: DriveConfig{
			CredentialsFile: v.GetString("GOOGLE_CREDENTIALS_FILE"),
			FolderID:        v.GetString("GOOGLE_DRIVE_FOLDER_ID"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Pretty: v.GetBool("LOG_PRETTY"),
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.Server.Port == "" {
		result = multierror.Append(result, fmt.Errorf("SERVER_PORT must be set"))
	}
	if c.Forecast.ModelPath == "" {
		result = multierror.Append(result, fmt.Errorf("FORECAST_MODEL_PATH must be set"))
	}
	if c.Forecast.Horizon <= 0 {
		result = multierror.Append(result, fmt.Errorf("FORECAST_HORIZON must be positive, got %d", c.Forecast.Horizon))
	}
	if c.Forecast.ConfidenceZ <= 0 {
		result = multierror.Append(result, fmt.Errorf("FORECAST_CONFIDENCE_Z must be positive, got %v", c.Forecast.ConfidenceZ))
	}
	if c.Forecast.LeadTimeDays < 0 {
		result = multierror.Append(result, fmt.Errorf("FORECAST_LEAD_TIME_DAYS must not be negative"))
	}
	if c.Batch.Workers <= 0 {
		result = multierror.Append(result, fmt.Errorf("BATCH_WORKERS must be positive, got %d", c.Batch.Workers))
	}
	if c.Batch.ItemTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("BATCH_ITEM_TIMEOUT must be positive"))
	}
	if c.Batch.JobTTL <= 0 {
		result = multierror.Append(result, fmt.Errorf("BATCH_JOB_TTL must be positive"))
	}
	if c.Batch.RetryAttempts <= 0 {
		result = multierror.Append(result, fmt.Errorf("BATCH_RETRY_ATTEMPTS must be positive"))
	}
	if c.Storage.Enabled && (c.Storage.AccessKey == "" || c.Storage.SecretKey == "") {
		result = multierror.Append(result, fmt.Errorf("STORAGE_ACCESS_KEY and STORAGE_SECRET_KEY are required when storage is enabled"))
	}
	if strings.HasPrefix(c.Forecast.ModelPath, "s3://") && !c.Storage.Enabled {
		result = multierror.Append(result, fmt.Errorf("FORECAST_MODEL_PATH %s requires STORAGE_ENABLED", c.Forecast.ModelPath))
	}
	if c.Scheduler.Enabled && !c.Database.Enabled {
		result = multierror.Append(result, fmt.Errorf("SCHEDULER_ENABLED requires DB_ENABLED for history"))
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		result = multierror.Append(result, fmt.Errorf("SCHEDULER_INTERVAL must be positive"))
	}

	return result.ErrorOrNil()
}

func ensureDir(dir string) {
	if dir == "" {
		return
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("Failed to create directory")
		}
	}
}
