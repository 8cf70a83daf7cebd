package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// Default window used when the configured positions are unusable at runtime.
const (
	DefaultMinPosition = 1
	DefaultMaxPosition = 100
)

// Config holds all configuration for the application.
type Config struct {
	// FeedToMonitor is the subreddit-style feed whose ranking is watched
	// (e.g. "all" for r/all hot).
	FeedToMonitor string `toml:"feed_to_monitor"`

	// MinPosition and MaxPosition bound the rank window that is tracked.
	MinPosition int `toml:"min_position"`
	MaxPosition int `toml:"max_position"`

	// DestinationSubreddit is where mirror posts are submitted.
	DestinationSubreddit string `toml:"destination_subreddit"`

	// VerboseLogging enables debug-level job logging.
	VerboseLogging bool `toml:"verbose_logging"`

	// DatabasePath is the SQLite file backing the sorted-set store.
	DatabasePath string `toml:"database_path"`

	// ListenAddr is the health/metrics HTTP listen address.
	ListenAddr string `toml:"listen_addr"`

	Jobs   Jobs   `toml:"jobs"`
	Reddit Reddit `toml:"reddit"`
}

// Jobs holds the cron expressions for the recurring jobs.
type Jobs struct {
	ReconcileCron string `toml:"reconcile_cron"`
	CheckCron     string `toml:"check_cron"`
	CleanupCron   string `toml:"cleanup_cron"`
}

// Reddit holds API credentials for a script-type Reddit app. Credentials are
// read from the environment so they stay out of the config file.
type Reddit struct {
	ClientID     string `toml:"-"`
	ClientSecret string `toml:"-"`
	Username     string `toml:"-"`
	Password     string `toml:"-"`
	UserAgent    string `toml:"user_agent"`
}

// Load reads configuration from a TOML file, applies defaults, and overlays
// credentials from environment variables.
func Load(path string) (*Config, error) {
	cfg := &Config{
		FeedToMonitor: "all",
		MinPosition:   DefaultMinPosition,
		MaxPosition:   DefaultMaxPosition,
		DatabasePath:  "frontpage-mirror.db",
		ListenAddr:    ":3000",
		Jobs: Jobs{
			ReconcileCron: "*/5 * * * *",
			CheckCron:     "*/2 * * * *",
			CleanupCron:   "0 */6 * * *",
		},
		Reddit: Reddit{
			UserAgent: "frontpage-mirror/1.0",
		},
	}

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}

	cfg.Reddit.ClientID = os.Getenv("REDDIT_CLIENT_ID")
	cfg.Reddit.ClientSecret = os.Getenv("REDDIT_CLIENT_SECRET")
	cfg.Reddit.Username = os.Getenv("REDDIT_USERNAME")
	cfg.Reddit.Password = os.Getenv("REDDIT_PASSWORD")

	if cfg.DestinationSubreddit == "" {
		return nil, fmt.Errorf("destination_subreddit is required")
	}

	return cfg, nil
}

// Validate checks the user-editable settings and returns the rejection
// message for the first invalid field. These are the same messages the
// checkfeed tool reports at input time.
func (c *Config) Validate() error {
	if c.FeedToMonitor == "" {
		return fmt.Errorf("You must enter a feed to monitor")
	}
	if err := ValidatePosition(c.MinPosition); err != nil {
		return err
	}
	if err := ValidatePosition(c.MaxPosition); err != nil {
		return err
	}
	return nil
}

// ValidatePosition checks a single window-position field.
func ValidatePosition(value int) error {
	if value < 1 || value > 1000 {
		return fmt.Errorf("You must enter a whole number between 1 and 1000")
	}
	return nil
}

// Window returns the rank window to use at runtime. A missing, non-positive,
// or inverted window falls back to the defaults rather than aborting the job.
func (c *Config) Window(logger *slog.Logger) (min, max int) {
	if c.MinPosition < 1 || c.MaxPosition < 1 || c.MinPosition > c.MaxPosition {
		logger.Warn("window misconfigured, using defaults",
			"min_position", c.MinPosition,
			"max_position", c.MaxPosition,
			"default_min", DefaultMinPosition,
			"default_max", DefaultMaxPosition,
		)
		return DefaultMinPosition, DefaultMaxPosition
	}
	return c.MinPosition, c.MaxPosition
}
