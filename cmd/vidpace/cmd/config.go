package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/vidpace/internal/config"
	"github.com/jmylchreest/vidpace/pkg/duration"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for inspecting vidpace configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

Redirect the output to a file to create a configuration template:

  vidpace config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml in ., ./configs, /etc/vidpace, ~/.vidpace)
  - Environment variables (VIDPACE_SERVER_PORT, VIDPACE_DATABASE_DSN, etc.)
  - Command-line flags (--log-level, --log-format)

Environment variables use the VIDPACE_ prefix and underscores for nesting.
Example: adaptation.high_threshold -> VIDPACE_ADAPTATION_HIGH_THRESHOLD`,
	RunE: runConfigDump,
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the effective configuration",
	Long: `Load the configuration from file, environment and flags, validate it
and log the result with secrets redacted.`,
	RunE: runConfigCheck,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
	configCmd.AddCommand(configCheckCmd)
}

// toMap converts a config struct to a map keyed by mapstructure tags, with
// durations rendered as strings ("500ms", "30d").
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch fv := field.Interface().(type) {
		case time.Duration:
			result[key] = duration.Format(fv)
		default:
			switch field.Kind() {
			case reflect.Struct:
				result[key] = toMap(field.Interface())
			case reflect.Slice:
				items := make([]any, field.Len())
				for j := range field.Len() {
					item := field.Index(j)
					if item.Kind() == reflect.Struct {
						items[j] = toMap(item.Interface())
					} else {
						items[j] = item.Interface()
					}
				}
				result[key] = items
			default:
				result[key] = field.Interface()
			}
		}
	}
	return result
}

// defaultStream is the example stream included in the dumped template.
func defaultStream(cfg *config.Config) config.StreamConfig {
	c := *cfg
	c.Streams = []config.StreamConfig{{AssetPath: "assets/sample.mp4", Adaptive: true}}
	c.ApplyStreamDefaults()
	return c.Streams[0]
}

func writeConfigDump(w io.Writer, cfg *config.Config) error {
	cfgMap := toMap(cfg)
	cfgMap["streams"] = []any{toMap(defaultStream(cfg))}

	yamlData, err := yaml.Marshal(cfgMap)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Fprintln(w, "# vidpace Configuration File")
	fmt.Fprintln(w, "# ==========================")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w, "# All values shown below are defaults. The single stream is an example.")
	fmt.Fprintln(w, "# Duration format: 500ms, 5s, 1h")
	fmt.Fprintln(w, "# Bitrates are in kbit/s.")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w, "# Environment variable overrides:")
	fmt.Fprintln(w, "#   VIDPACE_SERVER_HOST, VIDPACE_SERVER_PORT")
	fmt.Fprintln(w, "#   VIDPACE_DATABASE_DRIVER, VIDPACE_DATABASE_DSN")
	fmt.Fprintln(w, "#   VIDPACE_ADAPTATION_HIGH_THRESHOLD, VIDPACE_ADAPTATION_LOW_THRESHOLD")
	fmt.Fprintln(w, "#   VIDPACE_LOGGING_LEVEL, VIDPACE_LOGGING_FORMAT")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w)
	_, err = w.Write(yamlData)
	return err
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.FromViper(v)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	return writeConfigDump(cmd.OutOrStdout(), cfg)
}

func runConfigCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	adaptive := 0
	for _, s := range cfg.Streams {
		if s.Adaptive {
			adaptive++
		}
	}

	slog.Default().Info("configuration valid",
		slog.Int("streams", len(cfg.Streams)),
		slog.Int("adaptive", adaptive),
		slog.Any("database", cfg.Database),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "configuration valid: %d streams (%d adaptive)\n", len(cfg.Streams), adaptive)
	return nil
}
