package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Duration is a time.Duration that decodes from TOML duration strings such
// as "30s" or "1m30s". go-toml only decodes strings into types implementing
// encoding.TextUnmarshaler, which time.Duration does not.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the duration as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the application configuration
type Config struct {
	// Cron expression for recurring runs (with seconds field). Empty runs once.
	Schedule string `toml:"schedule"`

	Output   OutputConfig   `toml:"output"`
	Store    StoreConfig    `toml:"store"`
	Scraping ScrapingConfig `toml:"scraping"`
	Browser  BrowserConfig  `toml:"browser"`
	History  HistoryConfig  `toml:"history"`
	Logging  LoggingConfig  `toml:"logging"`
}

// OutputConfig controls where captured artifacts land
type OutputConfig struct {
	BaseDir          string `toml:"base_directory" validate:"required"`
	CategoriesSubdir string `toml:"categories_subdirectory" validate:"required"`
}

// StoreConfig identifies the target store and carries the request material
// (headers, cookies) the catalog API expects
type StoreConfig struct {
	Source           string            `toml:"source" validate:"required"` // artifact naming, e.g. "swiggy"
	StoreID          string            `toml:"store_id" validate:"required"`
	PrimaryStoreID   string            `toml:"primary_store_id"`
	SecondaryStoreID string            `toml:"secondary_store_id"`
	LayoutID         string            `toml:"layout_id"`
	ClientID         string            `toml:"client_id"`
	BaseURL          string            `toml:"base_url" validate:"required,url"`
	HomeEndpoint     string            `toml:"home_endpoint" validate:"required"`
	ListingPath      string            `toml:"listing_path" validate:"required"`
	FilterAPIPath    string            `toml:"filter_api_path" validate:"required"`
	Headers          map[string]string `toml:"headers"`
	Cookies          map[string]string `toml:"cookies"`
	RequestTimeout   Duration          `toml:"request_timeout"`
	RateLimit        Duration          `toml:"rate_limit"` // minimum spacing between home API requests
}

// ScrapingConfig holds the orchestration tunables: per-level concurrency,
// retry budgets and delays, and the pagination guard rails
type ScrapingConfig struct {
	MaxConcurrentCategories int      `toml:"max_concurrent_categories" validate:"min=1"`
	BatchDelay              Duration `toml:"batch_delay"`
	MaxConcurrentFilters    int      `toml:"max_concurrent_filters" validate:"min=1"`
	FilterBatchDelay        Duration `toml:"filter_batch_delay"`
	MaxCategoryRetries      int      `toml:"max_category_retries" validate:"min=1"`
	CategoryRetryDelay      Duration `toml:"category_retry_delay"`
	MaxFilterRetries        int      `toml:"max_filter_retries" validate:"min=1"`
	FilterRetryDelay        Duration `toml:"filter_retry_delay"`
	MaxScrollLoops          int      `toml:"max_scroll_loops" validate:"min=1"`
	APIWait                 Duration `toml:"api_wait"`   // settle time for intercepted responses after a scroll
	FinalWait               Duration `toml:"final_wait"` // pause between scroll iterations
}

// BrowserConfig configures the chromedp transport
type BrowserConfig struct {
	Headless            bool     `toml:"headless"`
	UserAgent           string   `toml:"user_agent"`
	PoolSize            int      `toml:"pool_size" validate:"min=1"`
	PageLoadTimeout     Duration `toml:"page_load_timeout"`
	InitialStateTimeout Duration `toml:"initial_state_timeout"`
	ViewportWidth       int      `toml:"viewport_width"`
	ViewportHeight      int      `toml:"viewport_height"`
}

// HistoryConfig controls the badger-backed run history store
type HistoryConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig creates a configuration with default values.
// Store identifiers match the public Instamart web client; header and cookie
// material must be supplied by the operator's config file.
func NewDefaultConfig() *Config {
	return &Config{
		Output: OutputConfig{
			BaseDir:          "./responses",
			CategoriesSubdir: "categories",
		},
		Store: StoreConfig{
			Source:           "swiggy",
			StoreID:          "1392080",
			PrimaryStoreID:   "1392080",
			SecondaryStoreID: "1396284",
			LayoutID:         "4987",
			ClientID:         "INSTAMART-APP",
			BaseURL:          "https://www.swiggy.com",
			HomeEndpoint:     "/api/instamart/home/v2",
			ListingPath:      "/instamart/category-listing",
			FilterAPIPath:    "/api/instamart/category-listing/filter",
			RequestTimeout:   Duration(30 * time.Second),
			RateLimit:        Duration(2 * time.Second),
		},
		Scraping: ScrapingConfig{
			MaxConcurrentCategories: 5,
			BatchDelay:              Duration(5 * time.Second),
			MaxConcurrentFilters:    3,
			FilterBatchDelay:        Duration(3 * time.Second),
			MaxCategoryRetries:      3,
			CategoryRetryDelay:      Duration(30 * time.Second),
			MaxFilterRetries:        3,
			FilterRetryDelay:        Duration(15 * time.Second),
			MaxScrollLoops:          20,
			APIWait:                 Duration(5 * time.Second),
			FinalWait:               Duration(2 * time.Second),
		},
		Browser: BrowserConfig{
			Headless: true,
			// Pixel 5 profile: the mobile web client exposes the scroll-driven
			// category listing the interceptors depend on
			UserAgent:           "Mozilla/5.0 (Linux; Android 11; Pixel 5) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
			PoolSize:            3,
			PageLoadTimeout:     Duration(60 * time.Second),
			InitialStateTimeout: Duration(15 * time.Second),
			ViewportWidth:       393,
			ViewportHeight:      851,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "./data/history",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2
// -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks structural constraints on the configuration
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if dir := os.Getenv("COLLIGO_OUTPUT_DIR"); dir != "" {
		config.Output.BaseDir = dir
	}
	if storeID := os.Getenv("COLLIGO_STORE_ID"); storeID != "" {
		config.Store.StoreID = storeID
	}
	if level := os.Getenv("COLLIGO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if headless := os.Getenv("COLLIGO_HEADLESS"); headless != "" {
		if b, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = b
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, outputDir, storeID, schedule string) {
	if outputDir != "" {
		config.Output.BaseDir = outputDir
	}
	if storeID != "" {
		config.Store.StoreID = storeID
	}
	if schedule != "" {
		config.Schedule = schedule
	}
}
