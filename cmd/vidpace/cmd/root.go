// Package cmd implements the CLI commands for vidpace.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jmylchreest/vidpace/internal/config"
	"github.com/jmylchreest/vidpace/internal/observability"
	"github.com/jmylchreest/vidpace/internal/version"
)

// cfgFile holds the config file path from CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "vidpace",
	Short:   "Adaptive video delivery benchmark",
	Version: version.Short(),
	Long: `vidpace streams video assets through a local real-time transport and,
for adaptive streams, adjusts the encoder bitrate from measured frame
latency. Static and adaptive streams run side by side so their latency
and jitter can be compared.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	// Set here to avoid an initialization cycle through rootCmd.PersistentFlags.
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	// Not bound to viper: an explicitly set flag overrides env and file,
	// an unset one must not.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath("/etc/vidpace")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.vidpace")
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("VIDPACE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// logLevelAndFormat resolves logging settings. Priority: explicitly set
// CLI flag, then environment, then config file, then defaults.
func logLevelAndFormat() (string, string) {
	level := viper.GetString("logging.level")
	format := viper.GetString("logging.format")

	if rootCmd.PersistentFlags().Changed("log-level") {
		level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}

	if level == "" {
		level = "info"
	}
	if format == "" {
		format = "json"
	}
	level = strings.ToLower(level)
	if level == "warning" {
		level = "warn"
	}
	return level, strings.ToLower(format)
}

// initLogging installs the default logger. Log levels can still be changed
// at runtime through observability.SetLogLevel.
func initLogging() error {
	level, format := logLevelAndFormat()

	logCfg := config.LoggingConfig{
		Level:      level,
		Format:     format,
		AddSource:  viper.GetBool("logging.add_source"),
		TimeFormat: viper.GetString("logging.time_format"),
	}

	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr)
	logger = observability.WithApp(logger, version.ApplicationName, version.Short())
	observability.SetDefault(logger)
	observability.SetRequestLogging(viper.GetBool("logging.request_logging"))
	return nil
}

// loadConfig builds the validated configuration from viper, applying the
// resolved logging flags so Validate sees the effective values.
func loadConfig() (*config.Config, error) {
	level, format := logLevelAndFormat()
	viper.Set("logging.level", level)
	viper.Set("logging.format", format)

	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding fails.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
