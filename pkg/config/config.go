package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Engine      string `yaml:"engine" default:"harvester"`
	Log         struct {
		Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format     string `yaml:"format" default:"console" validate:"oneof=json console"`
		Output     string `yaml:"output" default:"stdout"`
		TimeFormat string `yaml:"time_format"`
		Collector  struct {
			Enabled        bool          `yaml:"enabled"`
			Topic          string        `yaml:"topic" default:"harvest.logs"`
			FlushInterval  time.Duration `yaml:"flush_interval" default:"30s"`
			CountThreshold int           `yaml:"count_threshold" default:"100"`
		} `yaml:"collector"`
	} `yaml:"log"`
	Server struct {
		Enabled         bool          `yaml:"enabled"`
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"gte=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		SlowRequest     time.Duration `yaml:"slow_request" default:"1s"`
		CORS            bool          `yaml:"cors"`
	} `yaml:"server"`
	Harvest struct {
		LimitPerLoad           int           `yaml:"limit_per_load" default:"1000" validate:"gt=0"`
		BatchLimit             int           `yaml:"batch_limit" default:"1000" validate:"gt=0"`
		NumProcesses           int           `yaml:"num_processes" default:"1" validate:"gt=0"`
		MaxCS                  int           `yaml:"max_cs" default:"10" validate:"gt=0"`
		MessageTimeout         time.Duration `yaml:"message_timeout" default:"3s"`
		MaxBars                int           `yaml:"max_bars" default:"50000" validate:"gt=0"`
		MaxConsecutiveTimeouts int           `yaml:"max_consecutive_timeouts" default:"3" validate:"gt=0"`
		MaxTotalTimeouts       int           `yaml:"max_total_timeouts" default:"20" validate:"gt=0"`
		IdleSleep              time.Duration `yaml:"idle_sleep" default:"1s"`
		Locale                 []string      `yaml:"locale"`
		Tasks                  struct {
			LoadSymbols  time.Duration `yaml:"load_symbols" default:"1m"`
			GetBars      time.Duration `yaml:"get_bars" default:"1m"`
			UpdateAuth   time.Duration `yaml:"update_auth" default:"1h"`
			UpdateLogger string        `yaml:"update_logger" default:"0 0 * * *"`
		} `yaml:"tasks"`
	} `yaml:"harvest"`
	TradingView struct {
		WebSocketURL string        `yaml:"websocket_url" default:"wss://data.tradingview.com/socket.io/websocket"`
		Origin       string        `yaml:"origin" default:"https://www.tradingview.com"`
		SignInURL    string        `yaml:"signin_url" default:"https://www.tradingview.com/accounts/signin/"`
		DialTimeout  time.Duration `yaml:"dial_timeout" default:"10s"`
		Username     string        `yaml:"username"`
		Password     string        `yaml:"password"`
	} `yaml:"tradingview"`
	Auth struct {
		CacheBackend string        `yaml:"cache_backend" default:"file" validate:"oneof=file redis"`
		CacheDir     string        `yaml:"cache_dir" default:"cache"`
		MaxAge       time.Duration `yaml:"max_age" default:"72h"`
		SignInEvery  time.Duration `yaml:"signin_every" default:"10m"`
		HTTPTimeout  time.Duration `yaml:"http_timeout" default:"30s"`
		UserAgent    string        `yaml:"user_agent" default:"Mozilla/5.0 (X11; Linux x86_64)"`
	} `yaml:"auth"`
	Storage struct {
		Root          string `yaml:"root" validate:"required"`
		ErrorFile     string `yaml:"error_file" default:"error_file.txt"`
		DiffExtension string `yaml:"diff_extension" default:".diff.csv"`
		ArchiveDir    string `yaml:"archive_dir"`
	} `yaml:"storage"`
	Catalog struct {
		Backend    string `yaml:"backend" default:"sqlite" validate:"oneof=sqlite clickhouse"`
		Table      string `yaml:"table" default:"symbol"`
		SQLitePath string `yaml:"sqlite_path" default:"data/catalog.db"`
	} `yaml:"catalog"`
	Ledger struct {
		Enabled bool   `yaml:"enabled"`
		Table   string `yaml:"table" default:"harvest_outcomes"`
	} `yaml:"ledger"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"harvest.outcomes"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"1s"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			Enabled      bool          `yaml:"enabled"`
			RecrawlTopic string        `yaml:"recrawl_topic" default:"harvest.recrawl"`
			GroupID      string        `yaml:"group_id" default:"barharvest"`
			OffsetReset  string        `yaml:"auto_offset_reset" default:"latest" validate:"oneof=earliest latest"`
			Workers      int           `yaml:"workers" default:"1"`
			BufferSize   int           `yaml:"buffer_size" default:"64"`
			RetryMax     int           `yaml:"retry_max" default:"3"`
			BackoffMin   time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax   time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic     string        `yaml:"dlq_topic"`
			MinBytes     int           `yaml:"min_bytes" default:"1"`
			MaxBytes     int           `yaml:"max_bytes" default:"1048576"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"barharvest"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
		MaxOpenConns     int           `yaml:"max_open_conns" default:"10"`
	} `yaml:"clickhouse"`
	Redis struct {
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"barharvest"`
		Pool     struct {
			Size        int           `yaml:"size" default:"10"`
			MinIdle     int           `yaml:"min_idle" default:"2"`
			WaitTimeout time.Duration `yaml:"wait_timeout" default:"5s"`
		} `yaml:"pool"`
	} `yaml:"redis"`
}

var validate = validator.New()

// LoadDotEnv loads .env files for the given mode, most specific first. Variables that are
// already set are never overwritten, so earlier files win.
func LoadDotEnv(dir, mode string) []string {
	if mode == "" {
		mode = "development"
	}
	candidates := []string{
		".env." + mode + ".local",
		".env." + mode,
		".env.local",
		".env",
	}
	var loaded []string
	for _, name := range candidates {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err == nil {
			loaded = append(loaded, path)
		}
	}
	return loaded
}

// Load reads a YAML file, fills defaults and validates. The environment is not consulted.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return decode(b, false)
}

// Parse is Load without the file read.
func Parse(b []byte) (*Config, error) { return decode(b, false) }

// LoadWithEnv loads the .env files next to path, then the YAML, then applies
// environment overrides before validating.
func LoadWithEnv(path string) (*Config, error) {
	LoadDotEnv(filepath.Dir(path), os.Getenv("MODE"))
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return decode(b, true)
}

func decode(b []byte, withEnv bool) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if withEnv {
		c.applyEnv()
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv() {
	for key, dst := range map[string]*string{
		"MODE":            &c.Environment,
		"TV_USERNAME":     &c.TradingView.Username,
		"TV_PASSWORD":     &c.TradingView.Password,
		"TV_STORAGE_DIR":  &c.Storage.Root,
		"ERROR_FILE":      &c.Storage.ErrorFile,
		"CACHE_DIR":       &c.Auth.CacheDir,
		"LOG_LEVEL":       &c.Log.Level,
		"KAFKA_TOPIC":     &c.Kafka.Topic,
		"CATALOG_BACKEND": &c.Catalog.Backend,
		"SQLITE_PATH":     &c.Catalog.SQLitePath,
		"CLICKHOUSE_HOST": &c.ClickHouse.Host,
	} {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	for key, dst := range map[string]*int{
		"LIMIT_PER_LOAD": &c.Harvest.LimitPerLoad,
		"NUM_PROCESSES":  &c.Harvest.NumProcesses,
		"MAX_CS":         &c.Harvest.MaxCS,
	} {
		envInt(key, dst)
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Redis.Host = host
		if ok {
			if n, err := strconv.Atoi(port); err == nil {
				c.Redis.Port = n
			}
		}
	}
}

// envInt overwrites *dst when key holds an integer; junk values are ignored.
func envInt(key string, dst *int) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Catalog.Backend == "clickhouse" && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required for the clickhouse catalog")
	}
	if c.Ledger.Enabled && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required when ledger is enabled")
	}
	if (c.Kafka.Enabled || c.Kafka.Consumer.Enabled || c.Log.Collector.Enabled) && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is used")
	}
	if (c.TradingView.Username == "") != (c.TradingView.Password == "") {
		return fmt.Errorf("tradingview.username and tradingview.password must be set together")
	}
	if c.Harvest.MessageTimeout <= 0 {
		return fmt.Errorf("harvest.message_timeout must be positive")
	}
	return nil
}

// LocaleOrDefault returns the handshake locale.
func (c *Config) LocaleOrDefault() []string {
	if len(c.Harvest.Locale) == 2 {
		return c.Harvest.Locale
	}
	return []string{"en", "US"}
}
