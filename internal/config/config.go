package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server ServerConfig
	Log    LogConfig
	Sync   SyncConfig
	Cache  CacheConfig
	Push   PushConfig
	Backup BackupConfig

	DBPath     string `envconfig:"PACKRAT_DB_PATH" default:"packrat.db"`
	DeviceID   string `envconfig:"PACKRAT_DEVICE_ID" default:""`
	DeviceName string `envconfig:"PACKRAT_DEVICE_NAME" default:"packrat"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `envconfig:"PACKRAT_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"PACKRAT_READ_TIMEOUT" default:"5s"`
	WriteTimeout    time.Duration `envconfig:"PACKRAT_WRITE_TIMEOUT" default:"10s"`
	IdleTimeout     time.Duration `envconfig:"PACKRAT_IDLE_TIMEOUT" default:"120s"`
	ShutdownTimeout time.Duration `envconfig:"PACKRAT_SHUTDOWN_TIMEOUT" default:"5s"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"PACKRAT_LOG_LEVEL" default:"info"`
	Format string `envconfig:"PACKRAT_LOG_FORMAT" default:"text"`
}

// SyncConfig tunes the change batching and retry behavior.
type SyncConfig struct {
	Debounce    time.Duration `envconfig:"PACKRAT_SYNC_DEBOUNCE" default:"2s"`
	MaxPending  int           `envconfig:"PACKRAT_SYNC_MAX_PENDING" default:"50"`
	MaxRetries  int           `envconfig:"PACKRAT_SYNC_MAX_RETRIES" default:"5"`
	RetryBase   time.Duration `envconfig:"PACKRAT_SYNC_RETRY_BASE" default:"500ms"`
	SendTimeout time.Duration `envconfig:"PACKRAT_SYNC_SEND_TIMEOUT" default:"10s"`
}

// CacheConfig selects the permission cache backend.
type CacheConfig struct {
	Type string        `envconfig:"PACKRAT_CACHE_TYPE" default:"memory"`
	TTL  time.Duration `envconfig:"PACKRAT_CACHE_TTL" default:"5m"`

	RedisAddr     string `envconfig:"PACKRAT_REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"PACKRAT_REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"PACKRAT_REDIS_DB" default:"0"`
}

// PushConfig holds VAPID keys for web-push disposal reminders. Push is
// disabled when either key is empty.
type PushConfig struct {
	VAPIDPublicKey  string `envconfig:"PACKRAT_VAPID_PUBLIC_KEY" default:""`
	VAPIDPrivateKey string `envconfig:"PACKRAT_VAPID_PRIVATE_KEY" default:""`
	Subscriber      string `envconfig:"PACKRAT_VAPID_SUBSCRIBER" default:"mailto:noreply@packrat.local"`
}

// BackupConfig holds S3-compatible snapshot storage settings. Backups are
// disabled when the bucket or credentials are unset.
type BackupConfig struct {
	S3Endpoint  string        `envconfig:"PACKRAT_S3_ENDPOINT" default:""`
	S3Bucket    string        `envconfig:"PACKRAT_S3_BUCKET" default:""`
	S3Region    string        `envconfig:"PACKRAT_S3_REGION" default:"auto"`
	S3AccessKey string        `envconfig:"PACKRAT_S3_ACCESS_KEY" default:""`
	S3SecretKey string        `envconfig:"PACKRAT_S3_SECRET_KEY" default:""`
	Interval    time.Duration `envconfig:"PACKRAT_BACKUP_INTERVAL" default:"24h"`
}

// Load reads configuration from the environment, consulting a .env file if
// one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}
	return &cfg, nil
}
