package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/subwatch/frontpage-mirror/internal/config"
	"github.com/subwatch/frontpage-mirror/internal/reddit"
)

// checkfeed validates the bot's settings the way the settings form would:
// it checks the window positions and probes the configured feed before the
// settings are put into service.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flag.StringVar(&configPath, "config", "config.toml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.MinPosition > cfg.MaxPosition {
		return fmt.Errorf("You must enter a whole number between 1 and 1000")
	}

	client := reddit.NewClient(cfg.Reddit)

	fmt.Printf("Probing r/%s...\n", cfg.FeedToMonitor)
	posts, err := client.HotPosts(context.Background(), cfg.FeedToMonitor, 100)
	if err != nil || len(posts) == 0 {
		return fmt.Errorf("Cannot retrieve posts from r/%s", cfg.FeedToMonitor)
	}

	fmt.Printf("OK: retrieved %d posts from r/%s\n", len(posts), cfg.FeedToMonitor)
	fmt.Printf("Window: positions %d-%d, mirroring into r/%s\n",
		cfg.MinPosition, cfg.MaxPosition, cfg.DestinationSubreddit)
	fmt.Println("Settings look good. Restart the bot to pick them up; it will reconcile immediately.")

	return nil
}
