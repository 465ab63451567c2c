package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Server      ServerConfig
	Logging     LoggingConfig
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	Upload      UploadConfig
	Compression CompressionConfig
	Cache       CacheConfig
	AutoSave    AutoSaveConfig
	Storage     StorageConfig
	Backup      BackupConfig
	Network     NetworkConfig
	Kafka       KafkaConfig
	CMS         CMSConfig
}

// ServerConfig holds server specific configuration
type ServerConfig struct {
	Port         string `validate:"required"`
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// PublicURL replaces the blob: scheme prefix in JSON responses
	PublicURL string
}

// LoggingConfig holds logging specific configuration
type LoggingConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=json console"`
}

// AuthConfig holds authentication specific configuration
type AuthConfig struct {
	Enabled    bool
	ServiceKey string
	JWTSecret  string
}

// RateLimitConfig bounds how often one client may upload or optimize
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int `validate:"gte=0"`
	BurstSize         int `validate:"gte=0"`
}

// UploadConfig holds the per-category allow-lists and ceilings checked before
// anything is queued.
type UploadConfig struct {
	ImageTypes   []string `validate:"min=1"`
	VideoTypes   []string `validate:"min=1"`
	MaxImageSize int64    `validate:"gt=0"`
	MaxVideoSize int64    `validate:"gt=0"`
	// SimulatedSteps and StepDelay pace the simulated transfer
	SimulatedSteps int `validate:"gt=0"`
	StepDelay      time.Duration
}

// CompressionConfig holds the default image re-encode options
type CompressionConfig struct {
	MaxWidth  int     `validate:"gt=0"`
	MaxHeight int     `validate:"gt=0"`
	Quality   float64 `validate:"gt=0,lte=1"`
	Format    string  `validate:"oneof=jpeg png gif webp"`
	// MaxPixels rejects images whose declared width*height exceeds it before decoding
	MaxPixels int64 `validate:"gt=0"`
	// Thumbnail bounds and quality for GenerateThumbnail
	ThumbnailWidth   int     `validate:"gt=0"`
	ThumbnailHeight  int     `validate:"gt=0"`
	ThumbnailQuality float64 `validate:"gt=0,lte=1"`
}

// CacheConfig bounds the image optimization cache
type CacheConfig struct {
	MaxSizeBytes   int64         `validate:"gt=0"`
	MaxAge         time.Duration `validate:"gt=0"`
	HighWaterRatio float64       `validate:"gt=0,lte=1"`
	MaxEntries     int           `validate:"gt=0"`
}

// AutoSaveConfig holds debounce and retry settings
type AutoSaveConfig struct {
	DebounceDelay     time.Duration `validate:"gte=0"`
	MaxRetries        int           `validate:"gte=0"`
	RetryBaseDelay    time.Duration `validate:"gt=0"`
	SavedResetDelay   time.Duration `validate:"gte=0"`
	EnableLocalBackup bool
}

// StorageConfig selects the upload transport
type StorageConfig struct {
	Type  string `validate:"oneof=simulated local s3 cms"`
	Local LocalStorageConfig
	S3    S3StorageConfig
}

// LocalStorageConfig holds local storage configuration
type LocalStorageConfig struct {
	BasePath    string
	BaseURL     string
	Permissions string
}

// S3StorageConfig holds AWS S3 configuration
type S3StorageConfig struct {
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	BaseURL   string
	// Endpoint targets an S3-compatible server (path-style addressing)
	Endpoint string
}

// BackupConfig selects where auto-save shadow copies live
type BackupConfig struct {
	Type       string `validate:"oneof=file redis"`
	Dir        string
	QuotaBytes int64 `validate:"gte=0"`
	Redis      RedisConfig
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	TTL      time.Duration
}

// NetworkConfig controls the connectivity monitor
type NetworkConfig struct {
	ProbeURL string
	Interval time.Duration `validate:"gt=0"`
	Timeout  time.Duration `validate:"gt=0"`
}

// KafkaConfig holds event publishing settings
type KafkaConfig struct {
	Enabled  bool
	Brokers  []string
	ClientID string
}

// CMSConfig points at the CMS REST API
type CMSConfig struct {
	URL        string
	ServiceKey string
	Timeout    time.Duration `validate:"gt=0"`
}

// LoadConfig loads the configuration from file and environment variables.
// An empty path loads defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the struct tags of the whole configuration tree
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8085")
	v.SetDefault("server.readTimeout", "10s")
	v.SetDefault("server.writeTimeout", "30s")
	v.SetDefault("server.idleTimeout", "120s")
	v.SetDefault("server.publicURL", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Auth defaults
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.serviceKey", "portfolio-cms-key")
	v.SetDefault("auth.jwtSecret", "")

	// Rate limit defaults
	v.SetDefault("rateLimit.enabled", true)
	v.SetDefault("rateLimit.requestsPerMinute", 120)
	v.SetDefault("rateLimit.burstSize", 20)

	// Upload defaults
	v.SetDefault("upload.imageTypes", []string{"image/jpeg", "image/jpg", "image/png", "image/webp", "image/avif", "image/gif"})
	v.SetDefault("upload.videoTypes", []string{"video/mp4", "video/webm", "video/ogg"})
	v.SetDefault("upload.maxImageSize", 10*1024*1024)  // 10MB
	v.SetDefault("upload.maxVideoSize", 100*1024*1024) // 100MB
	v.SetDefault("upload.simulatedSteps", 10)
	v.SetDefault("upload.stepDelay", "50ms")

	// Compression defaults
	v.SetDefault("compression.maxWidth", 1920)
	v.SetDefault("compression.maxHeight", 1080)
	v.SetDefault("compression.quality", 0.8)
	v.SetDefault("compression.format", "jpeg")
	v.SetDefault("compression.maxPixels", 50_000_000) // 50 megapixels
	v.SetDefault("compression.thumbnailWidth", 200)
	v.SetDefault("compression.thumbnailHeight", 200)
	v.SetDefault("compression.thumbnailQuality", 0.7)

	// Cache defaults
	v.SetDefault("cache.maxSizeBytes", 50*1024*1024) // 50MB
	v.SetDefault("cache.maxAge", "24h")
	v.SetDefault("cache.highWaterRatio", 0.8)
	v.SetDefault("cache.maxEntries", 1024)

	// Auto-save defaults
	v.SetDefault("autoSave.debounceDelay", "1s")
	v.SetDefault("autoSave.maxRetries", 3)
	v.SetDefault("autoSave.retryBaseDelay", "2s")
	v.SetDefault("autoSave.savedResetDelay", "2s")
	v.SetDefault("autoSave.enableLocalBackup", true)

	// Storage defaults
	v.SetDefault("storage.type", "simulated")
	v.SetDefault("storage.local.basePath", "/data/media")
	v.SetDefault("storage.local.baseURL", "http://localhost:8085/media")
	v.SetDefault("storage.local.permissions", "0644")
	v.SetDefault("storage.s3.region", "eu-west-3")
	v.SetDefault("storage.s3.bucket", "portfolio-media")

	// Backup defaults
	v.SetDefault("backup.type", "file")
	v.SetDefault("backup.dir", "/data/autosave")
	v.SetDefault("backup.quotaBytes", 5*1024*1024) // 5MB, the usual localStorage quota
	v.SetDefault("backup.redis.url", "localhost:6379")
	v.SetDefault("backup.redis.db", 0)
	v.SetDefault("backup.redis.ttl", "168h")

	// Network defaults
	v.SetDefault("network.probeURL", "")
	v.SetDefault("network.interval", "15s")
	v.SetDefault("network.timeout", "3s")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.clientID", "portfolio-cms")

	// CMS defaults
	v.SetDefault("cms.url", "http://localhost:3001")
	v.SetDefault("cms.serviceKey", "")
	v.SetDefault("cms.timeout", "30s")
}
