package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Loader reads configuration from defaults, an optional YAML file,
// DIAGDUMP_* environment variables and bound CLI flags.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a loader with its own viper instance.
func NewLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

// NewLoaderWithViper creates a loader using an existing viper instance so
// CLI flag bindings take part in precedence.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "DIAGDUMP",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (DIAGDUMP_*)
// 3. Config file (--config, ./diagdump.yaml, ~/.config/diagdump, /etc/diagdump)
// 4. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("diagdump")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "diagdump"))
		}
		l.v.AddConfigPath("/etc/diagdump")
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.SourceFile = l.v.ConfigFileUsed()

	for i := range cfg.API.Auth.Tokens {
		cfg.API.Auth.Tokens[i].Token = interpolateEnv(cfg.API.Auth.Tokens[i].Token)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// setDefaults mirrors Defaults() into viper so partial files and env
// overrides merge over a complete configuration.
func (l *Loader) setDefaults() {
	d := Defaults()

	l.v.SetDefault("service.log_level", d.Service.LogLevel)
	l.v.SetDefault("service.log_format", d.Service.LogFormat)

	l.v.SetDefault("feature_mapping.path", d.FeatureMapping.Path)
	l.v.SetDefault("feature_mapping.verify", d.FeatureMapping.Verify)

	l.v.SetDefault("transport.run_dir", d.Transport.RunDir)
	l.v.SetDefault("transport.max_response_bytes", d.Transport.MaxResponseBytes)

	l.v.SetDefault("dump.dir", d.Dump.Dir)
	l.v.SetDefault("dump.timeout", d.Dump.Timeout)
	l.v.SetDefault("dump.grace", d.Dump.Grace)
	l.v.SetDefault("dump.interrupt_grace", d.Dump.InterruptGrace)
	l.v.SetDefault("dump.filename_pattern", d.Dump.FilenamePattern)
	l.v.SetDefault("dump.command", d.Dump.Command)
	l.v.SetDefault("dump.level", d.Dump.Level)

	l.v.SetDefault("state.path", d.State.Path)
	l.v.SetDefault("state.lock_path", d.State.LockPath)

	l.v.SetDefault("api.enabled", d.API.Enabled)
	l.v.SetDefault("api.listen", d.API.Listen)
}

// interpolateEnv replaces ${VAR} references with environment values.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Left in place; validate reports it.
		return match
	})
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	switch strings.ToLower(cfg.Service.LogFormat) {
	case "auto", "json", "text":
	default:
		return fmt.Errorf("service.log_format must be one of: auto, json, text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.FeatureMapping.Path == "" {
		return fmt.Errorf("feature_mapping.path is required")
	}
	switch cfg.FeatureMapping.Verify {
	case VerifyAuto, VerifyAlways, VerifyNever:
	default:
		return fmt.Errorf("feature_mapping.verify must be one of: auto, always, never (got %q)", cfg.FeatureMapping.Verify)
	}

	if cfg.Transport.RunDir == "" {
		return fmt.Errorf("transport.run_dir is required")
	}
	if cfg.Transport.MaxResponseBytes <= 0 {
		return fmt.Errorf("transport.max_response_bytes must be positive")
	}

	if cfg.Dump.Dir == "" {
		return fmt.Errorf("dump.dir is required")
	}
	if cfg.Dump.Timeout <= 0 {
		return fmt.Errorf("dump.timeout must be positive")
	}
	if cfg.Dump.Grace <= 0 {
		return fmt.Errorf("dump.grace must be positive")
	}
	if cfg.Dump.InterruptGrace < 0 {
		return fmt.Errorf("dump.interrupt_grace must not be negative")
	}
	if cfg.Dump.Command == "" {
		return fmt.Errorf("dump.command is required")
	}
	if _, err := regexp.Compile(cfg.Dump.FilenamePattern); err != nil {
		return fmt.Errorf("dump.filename_pattern: %w", err)
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the API is enabled")
		}
		for i, tok := range cfg.API.Auth.Tokens {
			if tok.Token == "" {
				return fmt.Errorf("api.auth.tokens[%d].token is required", i)
			}
			if envVarPattern.MatchString(tok.Token) {
				matches := envVarPattern.FindStringSubmatch(tok.Token)
				return fmt.Errorf("api.auth.tokens[%d].token: environment variable ${%s} is not set", i, matches[1])
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
			}
		}
	}

	return nil
}
