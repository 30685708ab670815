package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server   ServerConfig
	Worker   WorkerConfig
	Database DatabaseConfig
	MinIO    MinIOConfig
	RabbitMQ RabbitMQConfig
	Redis    RedisConfig
	Media    MediaConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port            int           `envconfig:"API_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"API_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"API_WRITE_TIMEOUT" default:"90s"`
	ShutdownTimeout time.Duration `envconfig:"API_SHUTDOWN_TIMEOUT" default:"10s"`
}

type WorkerConfig struct {
	MaxRetries      int           `envconfig:"WORKER_MAX_RETRIES" default:"3"`
	ShutdownTimeout time.Duration `envconfig:"WORKER_SHUTDOWN_TIMEOUT" default:"30s"`
}

type DatabaseConfig struct {
	Enabled  bool   `envconfig:"POSTGRES_ENABLED" default:"true"`
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" default:"mediacache"`
	Password string `envconfig:"POSTGRES_PASSWORD" default:"mediacache"`
	DBName   string `envconfig:"POSTGRES_DB" default:"mediacache"`
	SSLMode  string `envconfig:"POSTGRES_SSLMODE" default:"disable"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

type MinIOConfig struct {
	Enabled        bool          `envconfig:"MINIO_ENABLED" default:"false"`
	Endpoint       string        `envconfig:"MINIO_ENDPOINT" default:"localhost:9000"`
	PublicEndpoint string        `envconfig:"MINIO_PUBLIC_ENDPOINT"`
	AccessKey      string        `envconfig:"MINIO_ACCESS_KEY" default:"minioadmin"`
	SecretKey      string        `envconfig:"MINIO_SECRET_KEY" default:"minioadmin"`
	Bucket         string        `envconfig:"MINIO_BUCKET" default:"media"`
	UseSSL         bool          `envconfig:"MINIO_USE_SSL" default:"false"`
	URLExpiry      time.Duration `envconfig:"MINIO_URL_EXPIRY" default:"1h"`
}

type RabbitMQConfig struct {
	Enabled  bool   `envconfig:"RABBITMQ_ENABLED" default:"true"`
	Host     string `envconfig:"RABBITMQ_HOST" default:"localhost"`
	Port     int    `envconfig:"RABBITMQ_PORT" default:"5672"`
	User     string `envconfig:"RABBITMQ_USER" default:"mediacache"`
	Password string `envconfig:"RABBITMQ_PASSWORD" default:"mediacache"`
	VHost    string `envconfig:"RABBITMQ_VHOST" default:"/"`
}

func (c RabbitMQConfig) URL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%d%s",
		c.User, c.Password, c.Host, c.Port, c.VHost,
	)
}

type RedisConfig struct {
	Enabled  bool   `envconfig:"REDIS_ENABLED" default:"true"`
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

type MediaConfig struct {
	MaxSourceCount    int           `envconfig:"MEDIA_MAX_SOURCE_COUNT" default:"256"`
	MaxSourceAge      time.Duration `envconfig:"MEDIA_MAX_SOURCE_AGE" default:"600s"`
	MaxInFlight       int           `envconfig:"MEDIA_PRECACHE_MAX_IN_FLIGHT" default:"1"`
	ImageCacheBytes   int64         `envconfig:"MEDIA_IMAGE_CACHE_BYTES" default:"4294967296"`
	AudioCacheBytes   int64         `envconfig:"MEDIA_AUDIO_CACHE_BYTES" default:"268435456"`
	CoalesceMisses    bool          `envconfig:"MEDIA_COALESCE_MISSES" default:"true"`
	PreferencesPath   string        `envconfig:"MEDIA_PREFERENCES_PATH"`
	FFmpegPath        string        `envconfig:"FFMPEG_PATH" default:"ffmpeg"`
	FFprobePath       string        `envconfig:"FFPROBE_PATH" default:"ffprobe"`
	DetailTTL         time.Duration `envconfig:"MEDIA_DETAIL_TTL" default:"120s"`
	DetailSharedTTL   time.Duration `envconfig:"MEDIA_DETAIL_SHARED_TTL" default:"1h"`
	StatusTimeout     time.Duration `envconfig:"MEDIA_STATUS_TIMEOUT" default:"2s"`
	MaxConcurrentOpen int64         `envconfig:"MEDIA_MAX_CONCURRENT_OPENS" default:"5"`
}

type LogConfig struct {
	Level string `envconfig:"LOG_LEVEL" default:"info"`
}

// SlogLevel maps Level onto a slog.Level. Unknown names fall back to info.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
