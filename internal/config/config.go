package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"crypto-etl/internal/logging"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	CoinGecko CoinGeckoConfig `mapstructure:"coingecko"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Web       WebConfig       `mapstructure:"web"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// CoinGeckoConfig covers the market data endpoint.
type CoinGeckoConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	VsCurrency        string        `mapstructure:"vs_currency"`
	Order             string        `mapstructure:"order"`
	PerPage           int           `mapstructure:"per_page"`
	Page              int           `mapstructure:"page"`
	Sparkline         bool          `mapstructure:"sparkline"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

// DatabaseConfig selects and parameterises the destination store.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs the cadence of the run and up commands.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	RunImmediately  bool          `mapstructure:"run_immediately"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// ArchiveConfig configures best-effort object storage archival.
type ArchiveConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Region            string        `mapstructure:"region"`
	Endpoint          string        `mapstructure:"endpoint"`
	UsePathStyle      bool          `mapstructure:"use_path_style"`
	AccessKeyID       string        `mapstructure:"access_key_id"`
	SecretAccessKey   string        `mapstructure:"secret_access_key"`
	RawBucket         string        `mapstructure:"raw_bucket"`
	RawPrefix         string        `mapstructure:"raw_prefix"`
	TransformedBucket string        `mapstructure:"transformed_bucket"`
	TransformedPrefix string        `mapstructure:"transformed_prefix"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// ArtifactsConfig configures observability previews.
type ArtifactsConfig struct {
	PreviewRows int            `mapstructure:"preview_rows"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the optional Telegram preview channel.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// WebConfig configures the read API.
type WebConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	ReadyPoll       time.Duration `mapstructure:"ready_poll"`
	ReadyTimeout    time.Duration `mapstructure:"ready_timeout"`
	RowLimit        int           `mapstructure:"row_limit"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxRows int `mapstructure:"max_rows"`
}

// envAliases binds the variable names used by the original deployment.
var envAliases = map[string][]string{
	"coingecko.api_key":         {"CG_API_KEY"},
	"database.path":             {"DB_PATH"},
	"database.host":             {"RDS_HOST"},
	"database.name":             {"RDS_DB_NAME"},
	"database.user":             {"RDS_USERNAME"},
	"database.password":         {"RDS_PASSWORD"},
	"archive.access_key_id":     {"AWS_ACCESS_KEY_ID"},
	"archive.secret_access_key": {"AWS_SECRET_ACCESS_KEY"},
	"archive.region":            {"AWS_REGION"},
}

const envPrefix = "CRYPTOETL"

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	// .env never overrides variables already present in the environment.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindAliases(v); err != nil {
		return nil, err
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func bindAliases(v *viper.Viper) error {
	for key, aliases := range envAliases {
		names := append([]string{envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, aliases...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// envOnlyKeys have no meaningful default but must be known to viper so that
// AutomaticEnv values reach Unmarshal.
var envOnlyKeys = []string{
	"database.dsn",
	"database.host",
	"database.name",
	"database.user",
	"database.password",
	"database.path",
	"archive.endpoint",
	"archive.raw_bucket",
	"archive.raw_prefix",
	"archive.transformed_bucket",
	"archive.transformed_prefix",
	"artifacts.telegram.bot_token",
	"artifacts.telegram.chat_id",
	"logging.time_format",
}

func setDefaults(v *viper.Viper) {
	for _, key := range envOnlyKeys {
		v.SetDefault(key, "")
	}

	v.SetDefault("app.name", "crypto-etl")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("coingecko.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("coingecko.vs_currency", "usd")
	v.SetDefault("coingecko.order", "market_cap_desc")
	v.SetDefault("coingecko.per_page", 10)
	v.SetDefault("coingecko.page", 1)
	v.SetDefault("coingecko.sparkline", false)
	v.SetDefault("coingecko.request_timeout", "30s")
	v.SetDefault("coingecko.user_agent", "crypto-etl/1.0")
	v.SetDefault("coingecko.requests_per_minute", 30)

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "require")
	v.SetDefault("database.connect_timeout", "30s")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.align_to_interval", false)
	v.SetDefault("scheduler.run_immediately", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x63657470))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.region", "us-east-1")
	v.SetDefault("archive.use_path_style", false)
	v.SetDefault("archive.timeout", "30s")

	v.SetDefault("artifacts.preview_rows", 10)
	v.SetDefault("artifacts.telegram.enabled", false)
	v.SetDefault("artifacts.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("artifacts.telegram.timeout", "10s")

	v.SetDefault("web.addr", ":5000")
	v.SetDefault("web.read_timeout", "10s")
	v.SetDefault("web.write_timeout", "10s")
	v.SetDefault("web.shutdown_timeout", "5s")
	v.SetDefault("web.ready_poll", "500ms")
	v.SetDefault("web.ready_timeout", "2m")
	v.SetDefault("web.row_limit", 10)

	v.SetDefault("export.max_rows", 1000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.Database.Driver)
	}
	if c.CoinGecko.PerPage <= 0 {
		return fmt.Errorf("coingecko.per_page must be greater than zero")
	}
	if c.CoinGecko.Page <= 0 {
		return fmt.Errorf("coingecko.page must be greater than zero")
	}
	if c.CoinGecko.RequestsPerMinute < 0 {
		return fmt.Errorf("coingecko.requests_per_minute cannot be negative")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Artifacts.PreviewRows <= 0 {
		return fmt.Errorf("artifacts.preview_rows must be greater than zero")
	}
	if c.Artifacts.Telegram.Enabled {
		if c.Artifacts.Telegram.BotToken == "" {
			return fmt.Errorf("artifacts.telegram.bot_token is required when telegram is enabled")
		}
		if c.Artifacts.Telegram.ChatID == "" {
			return fmt.Errorf("artifacts.telegram.chat_id is required when telegram is enabled")
		}
	}
	if c.Web.RowLimit <= 0 {
		return fmt.Errorf("web.row_limit must be greater than zero")
	}
	if c.Export.MaxRows <= 0 {
		return fmt.Errorf("export.max_rows must be greater than zero")
	}
	return nil
}

// Configured reports whether the core connection parameters for the selected driver are set.
func (d DatabaseConfig) Configured() bool {
	if d.Driver == DriverSQLite {
		return d.Path != ""
	}
	return d.DSN != "" || (d.Host != "" && d.Name != "")
}

// PostgresDSN returns the explicit DSN or assembles one from discrete parameters.
func (d DatabaseConfig) PostgresDSN() string {
	if d.DSN != "" {
		return d.DSN
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	if d.User != "" {
		if d.Password != "" {
			u.User = url.UserPassword(d.User, d.Password)
		} else {
			u.User = url.User(d.User)
		}
	}

	q := url.Values{}
	if d.SSLMode != "" {
		q.Set("sslmode", d.SSLMode)
	}
	if d.ConnectTimeout > 0 {
		q.Set("connect_timeout", fmt.Sprintf("%d", int(d.ConnectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ArchiveEnabled reports whether any archival bucket is configured.
func (a ArchiveConfig) ArchiveEnabled() bool {
	return a.Enabled && (a.RawBucket != "" || a.TransformedBucket != "")
}
