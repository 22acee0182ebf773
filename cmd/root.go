package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/deepfocus/internal/config"
	"github.com/zjrosen/deepfocus/internal/log"
)

const localConfigPath = ".deepfocus/config.yaml"

var (
	version       = "dev"
	cfgFile       string
	debugFlag     bool
	ephemeralFlag bool
	cfg           config.Config
)

var rootCmd = &cobra.Command{
	Use:   "deepfocus",
	Short: "Block distracting apps for a focus session",
	Long: `deepfocus blocks a chosen set of apps for a timed or open-ended focus
session, counts attempts to open them, and keeps a history of past sessions.

Free accounts may complete a limited number of sessions.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/deepfocus/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"write debug logs (path from DEEPFOCUS_LOG, default deepfocus.log)")
	rootCmd.PersistentFlags().BoolVar(&ephemeralFlag, "ephemeral", false,
		"keep sessions in memory only; nothing is written to the database")
	rootCmd.PersistentFlags().String("data-dir", "", "directory for the session database")

	_ = viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("data_dir", defaults.DataDir)
	viper.SetDefault("engine.tick_interval", defaults.Engine.TickInterval)
	viper.SetDefault("engine.enforcement_timeout", defaults.Engine.EnforcementTimeout)
	viper.SetDefault("engine.retry_backoff", defaults.Engine.RetryBackoff)
	viper.SetDefault("quota.free_sessions", defaults.Quota.FreeSessions)
	viper.SetDefault("quota.identity", defaults.Quota.Identity)
	viper.SetDefault("quota.subscription_cache_ttl", defaults.Quota.SubscriptionCacheTTL)
	viper.SetDefault("enforcement.driver", defaults.Enforcement.Driver)
	viper.SetDefault("enforcement.debounce", defaults.Enforcement.Debounce)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)

	viper.SetEnvPrefix("DEEPFOCUS")
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .deepfocus/config.yaml (current directory)
		// 2. ~/.config/deepfocus/config.yaml (user config)
		if _, err := os.Stat(localConfigPath); err == nil {
			viper.SetConfigFile(localConfigPath)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "deepfocus"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			if path := userConfigPath(); path != "" {
				if writeErr := config.WriteDefaultConfig(path); writeErr == nil {
					viper.SetConfigFile(path)
					_ = viper.ReadInConfig()
				}
			}
			// If write fails, just continue with defaults (no config file)
		}
	}

	cfg = defaults
	_ = viper.Unmarshal(&cfg)
	resolvePaths(&cfg, defaults)
}

// resolvePaths re-roots file locations under a data_dir override unless
// they were set explicitly.
func resolvePaths(c *config.Config, defaults config.Config) {
	if c.DataDir == defaults.DataDir {
		return
	}
	if c.DBPath == defaults.DBPath {
		c.DBPath = filepath.Join(c.DataDir, "deepfocus.db")
	}
	if c.Enforcement.PolicyPath == defaults.Enforcement.PolicyPath {
		c.Enforcement.PolicyPath = filepath.Join(c.DataDir, "enforcement", "policy.json")
	}
	if c.Enforcement.AttemptsPath == defaults.Enforcement.AttemptsPath {
		c.Enforcement.AttemptsPath = filepath.Join(c.DataDir, "enforcement", "attempts.jsonl")
	}
	if c.Tracing.FilePath == defaults.Tracing.FilePath {
		c.Tracing.FilePath = filepath.Join(c.DataDir, "traces", "traces.jsonl")
	}
}

func userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "deepfocus", "config.yaml")
}

// configFilePath returns the config file in use, for commands that write it.
func configFilePath() string {
	if path := viper.ConfigFileUsed(); path != "" {
		return path
	}
	if path := userConfigPath(); path != "" {
		return path
	}
	return localConfigPath
}

var logCleanup func()

func setupLogging(_ *cobra.Command, _ []string) error {
	if os.Getenv("DEEPFOCUS_DEBUG") == "" && !debugFlag {
		return nil
	}
	logPath := os.Getenv("DEEPFOCUS_LOG")
	if logPath == "" {
		logPath = "deepfocus.log"
	}
	cleanup, err := log.Init(logPath)
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	logCleanup = cleanup
	if level := os.Getenv("DEEPFOCUS_LOG_LEVEL"); level != "" {
		log.SetMinLevel(log.ParseLevel(level))
	}
	log.Info(log.CatCLI, "deepfocus starting", "version", version, "config", viper.ConfigFileUsed())
	return nil
}

// Execute runs the root command
func Execute() error {
	defer func() {
		if logCleanup != nil {
			logCleanup()
		}
	}()
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
