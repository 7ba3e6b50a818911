// Package config loads the hookrelay server configuration.
//
// Values come, in increasing priority, from built-in defaults, an optional
// config.yaml, a local .env file and HOOKRELAY_* environment variables
// (HOOKRELAY_DATABASE_DRIVER overrides database.driver).
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/coregx/hookrelay"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "HOOKRELAY"

// Config holds all configuration for the hookrelay server.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // gin mode: debug, release, test
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // mysql, postgres, sqlite3
	RawDSN          string        `mapstructure:"dsn"`    // used as-is when set
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"` // database name, or file path for sqlite3
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// WorkerConfig holds the delivery worker pool configuration.
type WorkerConfig struct {
	Enabled              bool `mapstructure:"enabled"`
	hookrelay.PoolConfig `mapstructure:",squash"`
}

// RedisConfig holds the idempotency cache configuration.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// NATSConfig holds the notification publisher configuration.
type NATSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	Mode  string `mapstructure:"mode"` // production or development
}

// Load reads the configuration. An empty path searches for config.yaml in the
// working directory and /etc/hookrelay; a missing file is not an error.
func Load(path string) (*Config, error) {
	// A missing .env file is fine.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/hookrelay")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.driver", hookrelay.DriverSQLite3)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.user", "hookrelay")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "hookrelay.db")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.migrate_on_start", false)

	pool := hookrelay.DefaultPoolConfig()
	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.workers", pool.Workers)
	v.SetDefault("worker.batch_size", pool.BatchSize)
	v.SetDefault("worker.poll_interval", pool.PollInterval)
	v.SetDefault("worker.lease_duration", pool.LeaseDuration)
	v.SetDefault("worker.call_timeout", pool.CallTimeout)
	v.SetDefault("worker.reclaim_interval", pool.ReclaimInterval)
	v.SetDefault("worker.recover_after", pool.RecoverAfter)
	v.SetDefault("worker.drain_timeout", pool.DrainTimeout)
	v.SetDefault("worker.worker_id_prefix", pool.WorkerIDPrefix)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "24h")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject_prefix", "hookrelay")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.mode", "production")
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	err := validation.Errors{
		"server": validation.ValidateStruct(&c.Server,
			validation.Field(&c.Server.Port, validation.Required, validation.Min(1), validation.Max(65535)),
			validation.Field(&c.Server.Mode, validation.In("debug", "release", "test")),
		),
		"database": validation.ValidateStruct(&c.Database,
			validation.Field(&c.Database.Driver, validation.Required,
				validation.In(hookrelay.DriverSQLite3, hookrelay.DriverPostgres, hookrelay.DriverMySQL)),
			validation.Field(&c.Database.Name, validation.When(c.Database.RawDSN == "", validation.Required)),
			validation.Field(&c.Database.MaxOpenConns, validation.Min(0)),
		),
		"logging": validation.ValidateStruct(&c.Logging,
			validation.Field(&c.Logging.Level, validation.In("debug", "info", "warn", "error")),
			validation.Field(&c.Logging.Mode, validation.In("production", "development")),
		),
		"redis": validation.ValidateStruct(&c.Redis,
			validation.Field(&c.Redis.Addr, validation.When(c.Redis.Enabled, validation.Required)),
		),
		"nats": validation.ValidateStruct(&c.NATS,
			validation.Field(&c.NATS.URL, validation.When(c.NATS.Enabled, validation.Required)),
		),
	}
	if c.Worker.Enabled {
		err["worker"] = c.Worker.PoolConfig.Validate()
	}
	return err.Filter()
}

// DSN returns the connection string for the configured driver.
func (c DatabaseConfig) DSN() string {
	if dsn := strings.TrimSpace(c.RawDSN); dsn != "" {
		return dsn
	}

	switch strings.ToLower(c.Driver) {
	case hookrelay.DriverMySQL:
		mc := mysql.NewConfig()
		mc.User = c.User
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.portOr(3306)))
		mc.DBName = c.Name
		mc.ParseTime = true
		// Migrations run several statements per file.
		mc.MultiStatements = true
		return mc.FormatDSN()
	case hookrelay.DriverPostgres:
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.portOr(5432), c.User, c.Password, c.Name, c.SSLMode)
	case hookrelay.DriverSQLite3:
		// SQLite uses the file path. Writers wait instead of failing with SQLITE_BUSY.
		return c.Name + "?_busy_timeout=5000&_txlock=immediate"
	default:
		return ""
	}
}

func (c DatabaseConfig) portOr(def int) int {
	if c.Port == 0 {
		return def
	}
	return c.Port
}
