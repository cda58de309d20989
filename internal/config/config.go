// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Recorder() RecorderConfig
	Playback() PlaybackConfig
	Scraper() ScraperConfig
	Vision() VisionConfig
	Schedule() ScheduleConfig
	Store() StoreConfig
	DataDir() string

	SetBrowserHeadless(bool)
	SetScheduleEnabled(bool)
	SetScheduleExpression(string)
}

// Config holds the entire application configuration. Components receive it
// through the Interface getters so tests can substitute a mock.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	RecorderCfg RecorderConfig `mapstructure:"recorder" yaml:"recorder"`
	PlaybackCfg PlaybackConfig `mapstructure:"playback" yaml:"playback"`
	ScraperCfg  ScraperConfig  `mapstructure:"scraper" yaml:"scraper"`
	VisionCfg   VisionConfig   `mapstructure:"vision" yaml:"vision"`
	ScheduleCfg ScheduleConfig `mapstructure:"schedule" yaml:"schedule"`
	StoreCfg    StoreConfig    `mapstructure:"store" yaml:"store"`
	DataDirCfg  string         `mapstructure:"data_dir" yaml:"data_dir"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Recorder() RecorderConfig { return c.RecorderCfg }
func (c *Config) Playback() PlaybackConfig { return c.PlaybackCfg }
func (c *Config) Scraper() ScraperConfig   { return c.ScraperCfg }
func (c *Config) Vision() VisionConfig     { return c.VisionCfg }
func (c *Config) Schedule() ScheduleConfig { return c.ScheduleCfg }
func (c *Config) Store() StoreConfig       { return c.StoreCfg }
func (c *Config) DataDir() string          { return c.DataDirCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)      { c.BrowserCfg.Headless = b }
func (c *Config) SetScheduleEnabled(b bool)      { c.ScheduleCfg.Enabled = b }
func (c *Config) SetScheduleExpression(e string) { c.ScheduleCfg.Expression = e }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the automated browser instance. Bank
// portals are hostile to obvious automation, so the default is a visible
// window.
type BrowserConfig struct {
	Headless        bool          `mapstructure:"headless" yaml:"headless"`
	DisableCache    bool          `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserAgent       string        `mapstructure:"user_agent" yaml:"user_agent"`
	Args            []string      `mapstructure:"args" yaml:"args"`
	StartupTimeout  time.Duration `mapstructure:"startup_timeout" yaml:"startup_timeout"`
	PostLoadWait    time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
}

// RecorderConfig tunes interaction capture.
type RecorderConfig struct {
	// InputDebounce collapses input events on the same element within this
	// window into the most recent one, avoiding one step per keystroke.
	InputDebounce time.Duration `mapstructure:"input_debounce" yaml:"input_debounce"`
}

// PlaybackConfig tunes step replay and navigation synchronization.
type PlaybackConfig struct {
	// MaxResolveAttempts bounds element-resolution retries per step.
	MaxResolveAttempts int `mapstructure:"max_resolve_attempts" yaml:"max_resolve_attempts"`
	// RetryBackoffBase grows linearly per attempt (1x, 2x, 3x ...).
	RetryBackoffBase time.Duration `mapstructure:"retry_backoff_base" yaml:"retry_backoff_base"`
	// StepSettle is the pause after every action, letting the page react.
	StepSettle time.Duration `mapstructure:"step_settle" yaml:"step_settle"`
	// NavigationTimeout caps the wait for a load-finished signal so a missed
	// event cannot stall the engine.
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// NavigationSettle is the extra delay after the load event, letting
	// client-rendered frameworks hydrate.
	NavigationSettle time.Duration `mapstructure:"navigation_settle" yaml:"navigation_settle"`
}

// ColumnHints captures per-bank column semantics for the DOM classifier.
// The row heuristics are best-effort; a hint pins a column index to a field
// when a bank's layout defeats pattern matching. Indices are zero-based;
// -1 means "no hint".
type ColumnHints struct {
	Date        int `mapstructure:"date" yaml:"date"`
	Description int `mapstructure:"description" yaml:"description"`
	Amount      int `mapstructure:"amount" yaml:"amount"`
	Balance     int `mapstructure:"balance" yaml:"balance"`
}

// ScraperConfig tunes transaction extraction.
type ScraperConfig struct {
	// MaxRows caps extraction when lazy/infinite history loading is detected.
	MaxRows int `mapstructure:"max_rows" yaml:"max_rows"`
	// ScrollOverlap is the fraction of viewport shared between increments.
	ScrollOverlap float64 `mapstructure:"scroll_overlap" yaml:"scroll_overlap"`
	// ScrollPause is the wait after each scroll increment so lazily-rendered
	// rows enter the DOM.
	ScrollPause time.Duration `mapstructure:"scroll_pause" yaml:"scroll_pause"`
	// MaxScreenshots caps vision capture cost.
	MaxScreenshots int `mapstructure:"max_screenshots" yaml:"max_screenshots"`
	// ArtifactsDir receives diagnostic screenshots and raw model responses.
	ArtifactsDir string `mapstructure:"artifacts_dir" yaml:"artifacts_dir"`
	// Columns maps a bank key (matched against recipe name) to column hints.
	Columns map[string]ColumnHints `mapstructure:"columns" yaml:"columns"`
}

// VisionProvider identifies the multimodal backend for vision extraction.
type VisionProvider string

const (
	ProviderNone   VisionProvider = "none"
	ProviderGemini VisionProvider = "gemini"
	ProviderOllama VisionProvider = "ollama"
)

// VisionConfig selects and configures the AI vision service.
type VisionConfig struct {
	Provider   VisionProvider `mapstructure:"provider" yaml:"provider"`
	Model      string         `mapstructure:"model" yaml:"model"`
	APIKey     string         `mapstructure:"api_key" yaml:"-"`
	Endpoint   string         `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout time.Duration  `mapstructure:"api_timeout" yaml:"api_timeout"`
}

// ScheduleConfig is the process-wide scheduling singleton, consumed at
// process start and on explicit reconfiguration.
type ScheduleConfig struct {
	Expression string `mapstructure:"expression" yaml:"expression"`
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	// RecipePause spaces out sequential recipe runs to avoid hammering
	// target sites.
	RecipePause time.Duration `mapstructure:"recipe_pause" yaml:"recipe_pause"`
}

// StoreConfig selects the persistence backend for recipes and extracted
// transactions. The desktop build uses the embedded sqlite database; the
// postgres backend exists for a shared household server.
type StoreConfig struct {
	Backend  string         `mapstructure:"backend" yaml:"backend"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// PostgresConfig holds the connection details for a PostgreSQL database.
type PostgresConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"-"`
	DBName   string `mapstructure:"dbname" yaml:"dbname"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
}

// URL renders a pgx-compatible connection string.
func (p PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode)
}

// defaultDataDir resolves ~/.wren, falling back to a relative directory
// when the home directory cannot be determined.
func defaultDataDir() string {
	home, err := homedir.Dir()
	if err != nil {
		return ".wren"
	}
	return filepath.Join(home, ".wren")
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	dataDir := defaultDataDir()
	v.SetDefault("data_dir", dataDir)

	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "wren")
	v.SetDefault("logger.log_file", filepath.Join(dataDir, "wren.log"))
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.disable_cache", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.startup_timeout", "30s")
	v.SetDefault("browser.post_load_wait", "2s")

	// -- Recorder --
	v.SetDefault("recorder.input_debounce", "1s")

	// -- Playback --
	v.SetDefault("playback.max_resolve_attempts", 3)
	v.SetDefault("playback.retry_backoff_base", "1s")
	v.SetDefault("playback.step_settle", "800ms")
	v.SetDefault("playback.navigation_timeout", "15s")
	v.SetDefault("playback.navigation_settle", "2s")

	// -- Scraper --
	v.SetDefault("scraper.max_rows", 200)
	v.SetDefault("scraper.scroll_overlap", 0.4)
	v.SetDefault("scraper.scroll_pause", "400ms")
	v.SetDefault("scraper.max_screenshots", 4)
	v.SetDefault("scraper.artifacts_dir", filepath.Join(dataDir, "artifacts"))

	// -- Vision --
	v.SetDefault("vision.provider", "none")
	v.SetDefault("vision.model", "gemini-2.5-flash")
	v.SetDefault("vision.endpoint", "http://localhost:11434")
	v.SetDefault("vision.api_timeout", "90s")

	// -- Schedule --
	v.SetDefault("schedule.expression", "0 6 * * *")
	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.recipe_pause", "2s")

	// -- Store --
	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.path", filepath.Join(dataDir, "wren.db"))
	v.SetDefault("store.postgres.host", "localhost")
	v.SetDefault("store.postgres.port", 5432)
	v.SetDefault("store.postgres.user", "wren")
	v.SetDefault("store.postgres.dbname", "wren")
	v.SetDefault("store.postgres.sslmode", "disable")
}

// NewDefaultConfig creates a configuration struct populated with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults, but fail loudly if it does.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("vision.api_key", "WREN_VISION_API_KEY")
	v.BindEnv("store.postgres.password", "WREN_PG_PASSWORD")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.PlaybackCfg.MaxResolveAttempts <= 0 {
		return fmt.Errorf("playback.max_resolve_attempts must be a positive integer")
	}
	if c.PlaybackCfg.NavigationTimeout <= 0 {
		return fmt.Errorf("playback.navigation_timeout must be a positive duration")
	}
	if c.ScraperCfg.ScrollOverlap < 0 || c.ScraperCfg.ScrollOverlap >= 1 {
		return fmt.Errorf("scraper.scroll_overlap must be in [0, 1)")
	}
	if c.ScraperCfg.MaxScreenshots <= 0 {
		return fmt.Errorf("scraper.max_screenshots must be a positive integer")
	}
	switch c.VisionCfg.Provider {
	case ProviderNone, ProviderGemini, ProviderOllama:
	default:
		return fmt.Errorf("vision.provider %q is not supported", c.VisionCfg.Provider)
	}
	switch c.StoreCfg.Backend {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("store.backend %q is not supported", c.StoreCfg.Backend)
	}
	return nil
}
