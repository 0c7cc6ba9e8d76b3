// Package corecfg holds the typed configuration structs this core owns,
// their defaults, and Load, which fills a Config from the defaults, an
// optional YAML config file, and KANDEV_* environment variables.
//
// The other packages never read a config file: a host (such as
// cmd/sessiond) copies the values it needs into their constructor
// arguments.
package corecfg

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LoggingConfig configures the C1 logger.
type LoggingConfig struct {
	// Level is the minimum severity emitted: debug, info, warn, error.
	// If empty, the logger falls back to KANDEV_LOG_LEVEL, then "info".
	Level string `mapstructure:"level"`

	// Format selects the console mirror encoding: "json" or "console".
	Format string `mapstructure:"format"`

	// OutputPath is the structured log file path. Rotated with lumberjack.
	OutputPath string `mapstructure:"outputPath"`

	// MaxSizeMB is the size in megabytes before a log file is rotated.
	MaxSizeMB int `mapstructure:"maxSizeMB"`

	// MaxBackups is the number of rotated log files to retain.
	MaxBackups int `mapstructure:"maxBackups"`

	// MaxAgeDays is the number of days to retain rotated log files.
	MaxAgeDays int `mapstructure:"maxAgeDays"`

	// FlushInterval bounds how long entries may sit in the buffer before
	// a periodic flush. Spec requires at most 5s; zero uses that default.
	FlushInterval time.Duration `mapstructure:"flushInterval"`

	// DisableRedaction turns off secret redaction. Redaction is on by
	// default; this exists for the rare host that needs raw logs.
	DisableRedaction bool `mapstructure:"disableRedaction"`

	// DisableConsole suppresses the console mirror, leaving only the file sink.
	DisableConsole bool `mapstructure:"disableConsole"`
}

// DefaultLoggingConfig returns the logger defaults this module ships with.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:         "info",
		Format:        "console",
		OutputPath:    "",
		MaxSizeMB:     50,
		MaxBackups:    5,
		MaxAgeDays:    14,
		FlushInterval: 5 * time.Second,
	}
}

// RetryConfig configures the C3 retry engine's escalation ladder.
type RetryConfig struct {
	MaxAttempts          int           `mapstructure:"maxAttempts"`
	InitialDelay         time.Duration `mapstructure:"initialDelay"`
	MaxDelay             time.Duration `mapstructure:"maxDelay"`
	BackoffMultiplier    float64       `mapstructure:"backoffMultiplier"`
	EnableContextRefresh bool          `mapstructure:"enableContextRefresh"`
	EnableUserGuidance   bool          `mapstructure:"enableUserGuidance"`
}

// DefaultRetryConfig returns the retry engine defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:          3,
		InitialDelay:         500 * time.Millisecond,
		MaxDelay:             30 * time.Second,
		BackoffMultiplier:    2.0,
		EnableContextRefresh: true,
		EnableUserGuidance:   true,
	}
}

// TransactionConfig configures the C2 transaction engine's temp area.
type TransactionConfig struct {
	// BaseDir resolves relative operation paths and anchors the temp area
	// at BaseDir/AppDataDir/transactions/<txid>/.
	BaseDir string `mapstructure:"baseDir"`

	// AppDataDir names the app-private subdirectory (mirrors <appdata> in
	// the external-interfaces convention, e.g. ".kandev").
	AppDataDir string `mapstructure:"appDataDir"`
}

// DefaultTransactionConfig returns the transaction engine defaults.
func DefaultTransactionConfig() TransactionConfig {
	return TransactionConfig{
		AppDataDir: ".kandev",
	}
}

// SessionConfig configures defaults for sessions the manager creates when
// a caller doesn't specify every field of SubagentSessionConfig.
type SessionConfig struct {
	DefaultMaxDepth int `mapstructure:"defaultMaxDepth"`
}

// DefaultSessionConfig returns the session manager defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{DefaultMaxDepth: 5}
}

// Config aggregates every section this core owns, with mapstructure tags
// throughout so that viper can decode it (see Load).
type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Transaction TransactionConfig `mapstructure:"transaction"`
	Session     SessionConfig     `mapstructure:"session"`
}

// Default returns a Config populated with every section's defaults.
func Default() Config {
	return Config{
		Logging:     DefaultLoggingConfig(),
		Retry:       DefaultRetryConfig(),
		Transaction: DefaultTransactionConfig(),
		Session:     DefaultSessionConfig(),
	}
}

// Load builds a Config from defaults, an optional config file (name
// without extension, searched on the given paths), and KANDEV_*
// environment overrides, the way internal/common/config decodes this
// codebase's settings with viper and mapstructure. An environment variable
// overrides only a key that the config file sets; with no config file the
// defaults are returned unchanged.
func Load(configName string, searchPaths ...string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix("KANDEV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
