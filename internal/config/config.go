package config

import (
	"crypto/sha256"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	DatabaseDriver string `mapstructure:"database_driver"` // sqlite or postgres
	DatabasePath   string `mapstructure:"database_path"`
	DatabaseDSN    string `mapstructure:"database_dsn"`
	APIPort        string `mapstructure:"api_port"`
	LogLevel       string `mapstructure:"log_level"`
	DataDir        string `mapstructure:"data_dir"`
	JWTSecret      string `mapstructure:"jwt_secret"`
	EncryptionKey  string `mapstructure:"encryption_key"` // 空表示从 JWTSecret 派生
	CORSOrigins    string `mapstructure:"cors_origins"`   // 逗号分隔，* 表示全部

	// Shared coordination; empty RedisAddr keeps latches and throttle windows in process
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// Folder change notifications between instances; empty keeps them in process
	AMQPURL string `mapstructure:"amqp_url"`

	SyncInterval     time.Duration `mapstructure:"sync_interval"`
	OfflineFallback  bool          `mapstructure:"offline_fallback"`
	ThrottleWindow   time.Duration `mapstructure:"throttle_window"`
	CatalogCooldown  time.Duration `mapstructure:"catalog_cooldown"`
	IngestBatchSize  int           `mapstructure:"ingest_batch_size"`
	IngestBatchPause time.Duration `mapstructure:"ingest_batch_pause"`
	ProgressCeiling  time.Duration `mapstructure:"progress_ceiling"`
}

// Default configuration values
const (
	DefaultDatabaseDriver   = "sqlite"
	DefaultDatabasePath     = "data/mailsync.db"
	DefaultAPIPort          = "8080"
	DefaultLogLevel         = "INFO"
	DefaultDataDir          = "data"
	DefaultJWTSecret        = "mailsync-default-secret-change-in-production"
	DefaultCORSOrigins      = "*"
	DefaultSyncInterval     = 5 * time.Minute
	DefaultThrottleWindow   = 15 * time.Second
	DefaultCatalogCooldown  = 5 * time.Minute
	DefaultIngestBatchSize  = 25
	DefaultIngestBatchPause = 300 * time.Millisecond
	DefaultProgressCeiling  = 2 * time.Minute
)

// EnvPrefix is prepended to every environment override, e.g. MAILSYNC_API_PORT
const EnvPrefix = "MAILSYNC"

// Load loads configuration.
// Priority: Environment variables > Config file > Default values
func Load() (*Config, error) {
	return LoadFrom(viper.New())
}

// LoadFrom loads configuration using the given viper instance
func LoadFrom(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath(v.GetString("data_dir"))
	if err := v.ReadInConfig(); err != nil {
		// Config file is optional
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database_driver", DefaultDatabaseDriver)
	v.SetDefault("database_path", DefaultDatabasePath)
	v.SetDefault("database_dsn", "")
	v.SetDefault("api_port", DefaultAPIPort)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("data_dir", DefaultDataDir)
	v.SetDefault("jwt_secret", DefaultJWTSecret)
	v.SetDefault("encryption_key", "")
	v.SetDefault("cors_origins", DefaultCORSOrigins)
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("amqp_url", "")
	v.SetDefault("sync_interval", DefaultSyncInterval)
	v.SetDefault("offline_fallback", false)
	v.SetDefault("throttle_window", DefaultThrottleWindow)
	v.SetDefault("catalog_cooldown", DefaultCatalogCooldown)
	v.SetDefault("ingest_batch_size", DefaultIngestBatchSize)
	v.SetDefault("ingest_batch_pause", DefaultIngestBatchPause)
	v.SetDefault("progress_ceiling", DefaultProgressCeiling)
}

func (c *Config) normalize() {
	c.DatabaseDriver = strings.ToLower(strings.TrimSpace(c.DatabaseDriver))
	if c.DatabaseDriver == "" {
		c.DatabaseDriver = DefaultDatabaseDriver
	}
	if c.IngestBatchSize <= 0 {
		c.IngestBatchSize = DefaultIngestBatchSize
	}
	if c.ThrottleWindow < 0 {
		c.ThrottleWindow = 0
	}
}

// GetEncryptionKey returns the 32-byte key used to encrypt IMAP passwords.
// If EncryptionKey is set, use it; otherwise derive from JWTSecret
func (c *Config) GetEncryptionKey() []byte {
	if c.EncryptionKey != "" {
		hash := sha256.Sum256([]byte(c.EncryptionKey))
		return hash[:]
	}
	hash := sha256.Sum256([]byte(c.JWTSecret + "-encryption"))
	return hash[:]
}

// CORSOriginList splits CORSOrigins into the list gin-contrib/cors expects
func (c *Config) CORSOriginList() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// APIKeyPath is where the generated API key is persisted
func (c *Config) APIKeyPath() string {
	return filepath.Join(c.DataDir, "api_key.txt")
}
