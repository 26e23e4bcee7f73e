// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/fetcher/useragent"
	"github.com/JakeFAU/listing-crawler/internal/logging"
)

// Fetch modes.
const (
	FetchModeHeadless = "headless"
	FetchModeHTTP     = "http"
)

// Config captures every knob of a crawl run.
type Config struct {
	Crawl     CrawlConfig       `mapstructure:"crawl"`
	Output    OutputConfig      `mapstructure:"output"`
	Fetch     FetchConfig       `mapstructure:"fetch"`
	Pacing    PacingConfig      `mapstructure:"pacing"`
	Browser   BrowserConfig     `mapstructure:"browser"`
	Selectors crawler.Selectors `mapstructure:"selectors"`
	Logging   logging.Config    `mapstructure:"logging"`
	Metrics   MetricsConfig     `mapstructure:"metrics"`
	PubSub    PubSubConfig      `mapstructure:"pubsub"`
}

// CrawlConfig identifies where the crawl starts and how far it may go.
type CrawlConfig struct {
	SeedURL  string `mapstructure:"seed_url"`
	MaxPages int    `mapstructure:"max_pages"`
}

// OutputConfig names the result destination.
type OutputConfig struct {
	Destination   string `mapstructure:"destination"`
	PostgresTable string `mapstructure:"postgres_table"`
}

// FetchConfig controls page loading and the ready-wait.
type FetchConfig struct {
	Mode              string        `mapstructure:"mode"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	ReadyTimeout      time.Duration `mapstructure:"ready_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
}

// PacingConfig bounds the random delay between pages.
type PacingConfig struct {
	Min time.Duration `mapstructure:"min"`
	Max time.Duration `mapstructure:"max"`
}

// BrowserConfig holds bootstrap settings handed to the fetcher.
type BrowserConfig struct {
	Proxy      string   `mapstructure:"proxy"`
	UserAgents []string `mapstructure:"user_agents"`
	ExecPath   string   `mapstructure:"exec_path"`
	Headless   bool     `mapstructure:"headless"`
}

// MetricsConfig controls the end-of-run metrics dump.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// PubSubConfig enables the run-complete notification.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// flagKeys maps CLI flag names onto config keys.
var flagKeys = map[string]string{
	"seed":       "crawl.seed_url",
	"output":     "output.destination",
	"proxy":      "browser.proxy",
	"max-pages":  "crawl.max_pages",
	"fetch-mode": "fetch.mode",
}

// Load builds a Config from an optional file and the environment.
func Load(path string) (Config, error) {
	return LoadWithFlags(path, nil)
}

// LoadWithFlags is Load with CLI flag overrides. Only flags that were set on
// the command line win over file and environment values.
func LoadWithFlags(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// bindLegacyEnv keeps the historical INPUT_URL, OUTPUT_FILE and PROXY
// variables working next to the prefixed names.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"crawl.seed_url":     {"CRAWLER_CRAWL_SEED_URL", "INPUT_URL"},
		"output.destination": {"CRAWLER_OUTPUT_DESTINATION", "OUTPUT_FILE"},
		"browser.proxy":      {"CRAWLER_BROWSER_PROXY", "PROXY"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	sel := crawler.DefaultSelectors()
	v.SetDefault("crawl.seed_url", "")
	v.SetDefault("crawl.max_pages", 0)
	v.SetDefault("output.destination", "")
	v.SetDefault("output.postgres_table", "listing_records")
	v.SetDefault("fetch.mode", FetchModeHeadless)
	v.SetDefault("fetch.navigation_timeout", 30*time.Second)
	v.SetDefault("fetch.ready_timeout", 15*time.Second)
	v.SetDefault("fetch.poll_interval", 500*time.Millisecond)
	v.SetDefault("pacing.min", 2*time.Second)
	v.SetDefault("pacing.max", 10*time.Second)
	v.SetDefault("browser.proxy", "")
	v.SetDefault("browser.user_agents", useragent.Defaults())
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("selectors.ready", sel.Ready)
	v.SetDefault("selectors.container", sel.Container)
	v.SetDefault("selectors.text", sel.Text)
	v.SetDefault("selectors.author", sel.Author)
	v.SetDefault("selectors.tags", sel.Tags)
	v.SetDefault("selectors.next", sel.Next)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := validateSeed(c.Crawl.SeedURL); err != nil {
		return err
	}
	if c.Crawl.MaxPages < 0 {
		return fmt.Errorf("crawl.max_pages must be >= 0")
	}
	if strings.TrimSpace(c.Output.Destination) == "" {
		return fmt.Errorf("output.destination must be set")
	}
	switch c.Fetch.Mode {
	case FetchModeHeadless, FetchModeHTTP:
	default:
		return fmt.Errorf("fetch.mode must be %q or %q, got %q", FetchModeHeadless, FetchModeHTTP, c.Fetch.Mode)
	}
	if c.Fetch.NavigationTimeout <= 0 {
		return fmt.Errorf("fetch.navigation_timeout must be > 0")
	}
	if c.Fetch.ReadyTimeout <= 0 {
		return fmt.Errorf("fetch.ready_timeout must be > 0")
	}
	if c.Fetch.Mode == FetchModeHTTP && c.Fetch.PollInterval <= 0 {
		return fmt.Errorf("fetch.poll_interval must be > 0 in http mode")
	}
	if c.Pacing.Min < 0 {
		return fmt.Errorf("pacing.min must be >= 0")
	}
	if c.Pacing.Max < c.Pacing.Min {
		return fmt.Errorf("pacing.max must be >= pacing.min")
	}
	if c.Pacing.Max > crawler.MaxPacingDelay {
		return fmt.Errorf("pacing.max must be <= %s", crawler.MaxPacingDelay)
	}
	if c.Browser.Proxy != "" {
		if _, err := url.Parse(c.Browser.Proxy); err != nil {
			return fmt.Errorf("browser.proxy is not a valid url: %w", err)
		}
	}
	if err := c.Selectors.Validate(); err != nil {
		return err
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	return nil
}

func validateSeed(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("crawl.seed_url must be set")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("crawl.seed_url is not a valid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("crawl.seed_url must be an absolute http(s) url, got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("crawl.seed_url must include a host")
	}
	return nil
}
