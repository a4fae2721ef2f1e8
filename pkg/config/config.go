package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds the configuration for the file server
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	StaticDir    string        `yaml:"static_dir"`
}

// StorageConfig holds the on-disk layout and upload limits
type StorageConfig struct {
	StorageRoot      string        `yaml:"storage_root"`
	TempRoot         string        `yaml:"temp_root"`
	MaxChunkSize     int64         `yaml:"max_chunk_size"`
	SmallUploadLimit int64         `yaml:"small_upload_limit"`
	SessionTTL       time.Duration `yaml:"session_ttl"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	CompletedTTL     time.Duration `yaml:"completed_ttl"`
}

// DatabaseConfig holds transfer history database settings.
// Driver is one of "sqlite", "postgres" or "none".
type DatabaseConfig struct {
	Driver     string `yaml:"driver"`
	SQLitePath string `yaml:"sqlite_path"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	DBName     string `yaml:"dbname"`
	SSLMode    string `yaml:"sslmode"`
}

// RedisConfig holds Redis connection settings for progress fan-out
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// AuthConfig holds the shared secret gate settings
type AuthConfig struct {
	APIPassword   string        `yaml:"api_password"`
	JWTSecret     string        `yaml:"jwt_secret"`
	JWTExpiration time.Duration `yaml:"jwt_expiration"`
	BCryptCost    int           `yaml:"bcrypt_cost"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"` // json, text
	Directory string `yaml:"directory"`
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	storageRoot := getEnv("STORAGE_ROOT", "./Uploads")
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 500*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 500*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 500*time.Second),
			MaxBodyBytes: getEnvInt64("SERVER_MAX_BODY_BYTES", 100<<20),
			StaticDir:    getEnv("SERVER_STATIC_DIR", ""),
		},
		Storage: StorageConfig{
			StorageRoot:      storageRoot,
			TempRoot:         getEnv("TEMP_ROOT", filepath.Join(filepath.Dir(filepath.Clean(storageRoot)), "temp")),
			MaxChunkSize:     getEnvInt64("MAX_CHUNK_SIZE", 32<<20),
			SmallUploadLimit: getEnvInt64("SMALL_UPLOAD_LIMIT", 85<<20),
			SessionTTL:       getEnvDuration("SESSION_TTL", 24*time.Hour),
			SweepInterval:    getEnvDuration("SESSION_SWEEP_INTERVAL", time.Hour),
			CompletedTTL:     getEnvDuration("COMPLETED_TTL", 10*time.Minute),
		},
		Database: DatabaseConfig{
			Driver:     getEnv("DB_DRIVER", "sqlite"),
			SQLitePath: getEnv("DB_SQLITE_PATH", "./strongbox.db"),
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnvInt("DB_PORT", 5432),
			User:       getEnv("DB_USER", "strongbox"),
			Password:   getEnv("DB_PASSWORD", "password"),
			DBName:     getEnv("DB_NAME", "strongbox"),
			SSLMode:    getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Channel:  getEnv("REDIS_CHANNEL", "strongbox:transfers"),
		},
		Auth: AuthConfig{
			APIPassword:   getEnv("API_PASSWORD", "default_password"),
			JWTSecret:     getEnv("JWT_SECRET", "your-secret-key"),
			JWTExpiration: getEnvDuration("JWT_EXPIRATION", 24*time.Hour),
			BCryptCost:    getEnvInt("BCRYPT_COST", 10),
		},
		Logging: LoggingConfig{
			Level:     getEnv("LOG_LEVEL", "info"),
			Format:    getEnv("LOG_FORMAT", "json"),
			Directory: getEnv("LOG_DIRECTORY", ""),
		},
	}
}

// Validate checks the settings the server cannot start without
func (c *Config) Validate() error {
	if c.Storage.StorageRoot == "" {
		return fmt.Errorf("STORAGE_ROOT must be set")
	}
	if c.Storage.TempRoot == "" {
		return fmt.Errorf("TEMP_ROOT must be set")
	}
	if c.Storage.MaxChunkSize <= 0 {
		return fmt.Errorf("MAX_CHUNK_SIZE must be positive")
	}
	if c.Auth.APIPassword == "" {
		return fmt.Errorf("API_PASSWORD must be set")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "none":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	return nil
}

// DatabaseURL returns a PostgreSQL connection string
func (d *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// RedisAddr returns the Redis address
func (r *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// SetupLogging configures the global zerolog logger. When a log directory is
// configured every entry is also appended as JSON to a per-day file.
func (l *LoggingConfig) SetupLogging() {
	level, err := zerolog.ParseLevel(strings.ToLower(l.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var console io.Writer = os.Stderr
	if l.Format != "json" {
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	writers := []io.Writer{console}
	if l.Directory != "" {
		if fileWriter, err := NewDailyFileWriter(l.Directory); err == nil {
			writers = append(writers, fileWriter)
		} else {
			fmt.Fprintf(os.Stderr, "failed to open log directory %s: %v\n", l.Directory, err)
		}
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
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
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
