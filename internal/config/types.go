package config

import "time"

// Config represents the complete diagdump configuration.
type Config struct {
	Service        ServiceConfig        `mapstructure:"service" yaml:"service"`
	FeatureMapping FeatureMappingConfig `mapstructure:"feature_mapping" yaml:"feature_mapping"`
	Transport      TransportConfig      `mapstructure:"transport" yaml:"transport"`
	Dump           DumpConfig           `mapstructure:"dump" yaml:"dump"`
	State          StateConfig          `mapstructure:"state" yaml:"state"`
	API            APIConfig            `mapstructure:"api" yaml:"api,omitempty"`

	// SourceFile is the config file that was read, empty when running on defaults.
	SourceFile string `mapstructure:"-" yaml:"-"`
}

// ServiceConfig defines process-wide settings.
type ServiceConfig struct {
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`
}

// FeatureMappingConfig locates the feature to daemon mapping file.
type FeatureMappingConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
	// Verify is one of auto, always, never. auto checks the .checksums
	// manifest only when one exists next to the mapping file.
	Verify string `mapstructure:"verify" yaml:"verify"`
}

// TransportConfig defines how daemon control sockets are reached.
type TransportConfig struct {
	RunDir           string `mapstructure:"run_dir" yaml:"run_dir"`
	MaxResponseBytes int64  `mapstructure:"max_response_bytes" yaml:"max_response_bytes"`
}

// DumpConfig defines dump session behaviour.
type DumpConfig struct {
	Dir             string        `mapstructure:"dir" yaml:"dir"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Grace           time.Duration `mapstructure:"grace" yaml:"grace"`
	InterruptGrace  time.Duration `mapstructure:"interrupt_grace" yaml:"interrupt_grace"`
	FilenamePattern string        `mapstructure:"filename_pattern" yaml:"filename_pattern"`
	Command         string        `mapstructure:"command" yaml:"command"`
	Level           string        `mapstructure:"level" yaml:"level"`
}

// StateConfig defines history storage and session locking.
type StateConfig struct {
	Path     string `mapstructure:"path" yaml:"path"`
	LockPath string `mapstructure:"lock_path" yaml:"lock_path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Listen  string        `mapstructure:"listen" yaml:"listen"`
	Auth    APIAuthConfig `mapstructure:"auth" yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	Tokens []APIToken `mapstructure:"tokens" yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `mapstructure:"token" yaml:"token"`
	Scopes []string `mapstructure:"scopes" yaml:"scopes"`
}

const (
	VerifyAuto   = "auto"
	VerifyAlways = "always"
	VerifyNever  = "never"
)

// Defaults returns a Config matching the switch image layout.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			LogLevel:  "info",
			LogFormat: "auto",
		},
		FeatureMapping: FeatureMappingConfig{
			Path:   "/etc/openswitch/supportability/ops_featuremapping.yaml",
			Verify: VerifyAuto,
		},
		Transport: TransportConfig{
			RunDir:           "/var/run/openswitch",
			MaxResponseBytes: 16 << 20,
		},
		Dump: DumpConfig{
			Dir:             "/tmp/ops-diag",
			Timeout:         60 * time.Second,
			Grace:           5 * time.Second,
			InterruptGrace:  10 * time.Second,
			FilenamePattern: `^[A-Za-z0-9][A-Za-z0-9._-]{0,254}$`,
			Command:         "dumpdiagbasic",
			Level:           "basic",
		},
		State: StateConfig{
			Path:     "/var/lib/diagdump/history.db",
			LockPath: "/var/run/diagdump.lock",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8087",
		},
	}
}
