package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// MinFlushInterval is the shortest accepted collector.flush_interval.
const MinFlushInterval = 100 * time.Millisecond

// DefaultSymbols is the symbol set collected when none is configured.
var DefaultSymbols = []string{"ASTERUSDT", "BTCUSDT", "ETHUSDT", "USD1USDT"}

type Config struct {
	Aster     AsterConfig     `mapstructure:"aster"`
	Collector CollectorConfig `mapstructure:"collector"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
}

type AsterConfig struct {
	REST RESTConfig `mapstructure:"rest"`
	WS   WSConfig   `mapstructure:"ws"`
}

type RESTConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	TradeLimit int           `mapstructure:"trade_limit"`
}

type WSConfig struct {
	URL                  string        `mapstructure:"url"`
	PingInterval         time.Duration `mapstructure:"ping_interval"`
	PongTimeout          time.Duration `mapstructure:"pong_timeout"`
	HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout"`
	ReconnectInterval    time.Duration `mapstructure:"reconnect_interval"`
	MaxReconnectInterval time.Duration `mapstructure:"max_reconnect_interval"`
	MaxStreamsPerConn    int           `mapstructure:"max_streams_per_conn"`
	DepthLevels          int           `mapstructure:"depth_levels"`
	DepthSpeed           string        `mapstructure:"depth_speed"`
}

// CollectorConfig controls what is subscribed and how buffers are drained.
type CollectorConfig struct {
	Symbols        []string      `mapstructure:"symbols"`
	Channels       []string      `mapstructure:"channels"`     // any of "aggTrade", "bookTicker", "depth"
	PriceSource    string        `mapstructure:"price_source"` // "bookTicker" or "depth"
	FlushInterval  time.Duration `mapstructure:"flush_interval"`
	FlushThreshold int           `mapstructure:"flush_threshold"` // pending rows that trigger an early flush
	MaxBuffered    int           `mapstructure:"max_buffered"`    // hard cap per symbol and record type
	DedupeWindow   int           `mapstructure:"dedupe_window"`   // trade ids remembered per symbol
	WarmTradeIDs   int           `mapstructure:"warm_trade_ids"`  // trailing CSV rows read at start
	Bootstrap      bool          `mapstructure:"bootstrap"`
	ConnectWait    time.Duration `mapstructure:"connect_wait"`
}

type StorageConfig struct {
	Dir   string `mapstructure:"dir"`
	Fsync bool   `mapstructure:"fsync"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the metrics listener
}

// Options defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

// HasChannel reports whether the named channel is subscribed.
func (c CollectorConfig) HasChannel(name string) bool {
	for _, ch := range c.Channels {
		if ch == name {
			return true
		}
	}
	return false
}

// BindFlags registers the command-line flags understood by Load.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to config file (default: config/config.yaml if present)")
	fs.Int("flush-interval", 5, "interval in seconds to flush buffers to CSV files")
	fs.String("data-dir", "ASTER_data", "directory for CSV output")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("aster.rest.base_url", "https://fapi.asterdex.com")
	v.SetDefault("aster.rest.timeout", "10s")
	v.SetDefault("aster.rest.trade_limit", 100)

	v.SetDefault("aster.ws.url", "wss://fstream.asterdex.com")
	v.SetDefault("aster.ws.ping_interval", "30s")
	v.SetDefault("aster.ws.pong_timeout", "10s")
	v.SetDefault("aster.ws.handshake_timeout", "10s")
	v.SetDefault("aster.ws.reconnect_interval", "5s")
	v.SetDefault("aster.ws.max_reconnect_interval", "1m")
	v.SetDefault("aster.ws.max_streams_per_conn", 200)
	v.SetDefault("aster.ws.depth_levels", 5)
	v.SetDefault("aster.ws.depth_speed", "")

	v.SetDefault("collector.symbols", DefaultSymbols)
	v.SetDefault("collector.channels", []string{"aggTrade", "bookTicker", "depth"})
	v.SetDefault("collector.price_source", "bookTicker")
	v.SetDefault("collector.flush_interval", "5s")
	v.SetDefault("collector.flush_threshold", 5000)
	v.SetDefault("collector.max_buffered", 100000)
	v.SetDefault("collector.dedupe_window", 10000)
	v.SetDefault("collector.warm_trade_ids", 1000)
	v.SetDefault("collector.bootstrap", true)
	v.SetDefault("collector.connect_wait", "10s")

	v.SetDefault("storage.dir", "ASTER_data")
	v.SetDefault("storage.fsync", false)

	v.SetDefault("metrics.addr", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_file", "")
	v.SetDefault("log.environment", "dev")

	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.timezone", "UTC")
	v.SetDefault("postgres.ssm_prefix", "/astercollector/db/")
	v.SetDefault("postgres.dbname", "astercollector")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime", "1h")
	v.SetDefault("postgres.batch_size", 500)
}

// Load loads application configuration using Viper.
// Defaults are overridden by config.yaml, then environment variables,
// then the flags registered by BindFlags. Non-empty args replace the symbol list.
func Load(fs *pflag.FlagSet, args []string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	explicit := ""
	if fs != nil {
		explicit, _ = fs.GetString("config")
	}
	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName("config") // config.yaml
		v.AddConfigPath("config")
		if ex, err := os.Executable(); err == nil {
			v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
		}
	}

	// Support environment variables with dot notation (e.g., ASTER_WS_URL)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if fs != nil {
		if f := fs.Lookup("flush-interval"); f != nil && f.Changed {
			secs, _ := fs.GetInt("flush-interval")
			v.Set("collector.flush_interval", time.Duration(secs)*time.Second)
		}
		if f := fs.Lookup("data-dir"); f != nil && f.Changed {
			v.Set("storage.dir", f.Value.String())
		}
		if f := fs.Lookup("log-level"); f != nil && f.Changed {
			v.Set("log.level", f.Value.String())
		}
	}
	if len(args) > 0 {
		v.Set("collector.symbols", args)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Collector.Symbols = NormalizeSymbols(cfg.Collector.Symbols)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NormalizeSymbols upper-cases and trims symbols, dropping blanks and duplicates.
func NormalizeSymbols(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Validate checks the settings the collector cannot run without.
func (c *Config) Validate() error {
	var errs []string

	col := c.Collector
	if len(col.Symbols) == 0 {
		errs = append(errs, "at least one symbol is required")
	}
	if col.FlushInterval < MinFlushInterval {
		// a bare YAML integer decodes as nanoseconds
		errs = append(errs, fmt.Sprintf("collector.flush_interval must be at least %s (use a unit, e.g. 5s), got %s",
			MinFlushInterval, col.FlushInterval))
	}
	if len(col.Channels) == 0 {
		errs = append(errs, "at least one channel is required")
	}
	for _, ch := range col.Channels {
		switch ch {
		case "aggTrade", "bookTicker", "depth":
		default:
			errs = append(errs, fmt.Sprintf("unknown channel %q", ch))
		}
	}
	switch col.PriceSource {
	case "bookTicker", "depth":
		if !col.HasChannel(col.PriceSource) {
			errs = append(errs, fmt.Sprintf("price_source %q is not a subscribed channel", col.PriceSource))
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown price_source %q", col.PriceSource))
	}
	if col.MaxBuffered <= 0 {
		errs = append(errs, "collector.max_buffered must be positive")
	}
	if col.FlushThreshold <= 0 || col.FlushThreshold > col.MaxBuffered {
		errs = append(errs, "collector.flush_threshold must be in (0, max_buffered]")
	}
	if col.DedupeWindow <= 0 {
		errs = append(errs, "collector.dedupe_window must be positive")
	}

	ws := c.Aster.WS
	switch ws.DepthLevels {
	case 5, 10, 20:
	default:
		errs = append(errs, fmt.Sprintf("aster.ws.depth_levels must be 5, 10 or 20, got %d", ws.DepthLevels))
	}
	switch ws.DepthSpeed {
	case "", "100ms", "250ms", "500ms":
	default:
		errs = append(errs, fmt.Sprintf("unknown aster.ws.depth_speed %q", ws.DepthSpeed))
	}
	if ws.URL == "" {
		errs = append(errs, "aster.ws.url is required")
	}
	if ws.MaxStreamsPerConn <= 0 {
		errs = append(errs, "aster.ws.max_streams_per_conn must be positive")
	}
	if c.Storage.Dir == "" {
		errs = append(errs, "storage.dir is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
