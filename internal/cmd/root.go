// Package cmd provides the CLI commands for Code Cowboy.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codecowboy/cowboy/internal/config"
	"github.com/codecowboy/cowboy/internal/logging"
)

var (
	// Global flags
	configPath    string
	debug         bool
	logLevel      string // --log-level flag (debug, info, warn, error)
	logFile       string
	logComponents string

	// Loaded configuration
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cowboy",
	Short: "Code Cowboy - chat-driven Java code generation",
	Long: `Code Cowboy turns a conversation about a desired Java interface
into generated candidate implementations.

Long-running generation jobs are delegated to a backend; their results
come back asynchronously through a webhook-to-WebSocket relay that this
CLI can run.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		// Priority: --log-level flag > --debug flag > default (info)
		effectiveLogLevel := "info"
		if logLevel != "" {
			effectiveLogLevel = logLevel
		} else if debug {
			effectiveLogLevel = "debug"
		}
		var components []string
		if logComponents != "" {
			for _, c := range strings.Split(logComponents, ",") {
				c = strings.TrimSpace(c)
				if c != "" {
					components = append(components, c)
				}
			}
		}
		logCfg := logging.Config{
			Level:      effectiveLogLevel,
			Components: components,
		}
		if logFile != "" {
			logCfg.FileLog = &logging.FileLogConfig{Path: logFile}
		}
		if err := logging.Initialize(logCfg); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		path := configPath
		if path == "" {
			path = config.DefaultConfigPath()
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load configuration from %s: %w", path, err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Close()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: $COWBOYRC or ~/.cowboyrc)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFile, "logfile", "", "Write logs to this file (with rotation)")
	rootCmd.PersistentFlags().StringVar(&logComponents, "log-components", "", "Comma-separated component filter (relay, relayclient, orchestrator, store)")
}
