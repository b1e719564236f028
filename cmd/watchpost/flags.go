package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	// ConfigPaths are layered in order; later files override earlier ones.
	ConfigPaths     []string
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	SaveConfig      string
	ShowVersion     bool
	ShowHelp        bool
	ListPlugins     bool
	Validate        bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	var configPaths string

	fs.StringVar(&configPaths, "config",
		getEnv("WATCHPOST_CONFIG", "configs/watchpost.yaml"),
		"Comma-separated configuration files, later files override earlier ones (env: WATCHPOST_CONFIG)")
	fs.StringVar(&configPaths, "c",
		getEnv("WATCHPOST_CONFIG", "configs/watchpost.yaml"),
		"Shorthand for -config")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("WATCHPOST_LOG_LEVEL", ""),
		"Log level: debug, info, warn, error; overrides the config file (env: WATCHPOST_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("WATCHPOST_LOG_FORMAT", ""),
		"Log format: json, text; overrides the config file (env: WATCHPOST_LOG_FORMAT)")

	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("WATCHPOST_DEBUG", false),
		"Enable debug logging (env: WATCHPOST_DEBUG)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("WATCHPOST_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Timeout for stopping the HTTP endpoint (env: WATCHPOST_SHUTDOWN_TIMEOUT)")

	fs.StringVar(&cfg.SaveConfig, "save-config", "",
		"Write the merged configuration as JSON to this path and continue")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.ListPlugins, "list-plugins", false, "List registered sources, stages and actions and exit")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() { printDetailedHelp(fs) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	for _, p := range strings.Split(configPaths, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cfg.ConfigPaths = append(cfg.ConfigPaths, p)
		}
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp || cfg.ListPlugins {
		return nil
	}

	if len(cfg.ConfigPaths) == 0 {
		return fmt.Errorf("no configuration file given")
	}
	for _, p := range cfg.ConfigPaths {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("config file not found: %s", p)
		}
	}

	if cfg.LogLevel != "" && !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "" && !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

func printDetailedHelp(fs *flag.FlagSet) {
	out := fs.Output()
	_, _ = fmt.Fprintf(out, `%s - multi-pipeline monitoring runtime

Usage: %s [options]

Options:
`, appName, os.Args[0])
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(out, `
Examples:
  # Run with a config file
  %s --config=/etc/watchpost/watchpost.yaml

  # Layer a site override on top of the base file
  %s --config=base.yaml,site.yaml

  # Run with debug logging
  %s --log-level=debug --log-format=text

  # Validate configuration only
  %s --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
