package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/achelous/upstream/internal/logger"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultPidFile is where the supervisor records the worker pid.
const DefaultPidFile = "/var/run/achelous/upstream.pid"

// EnvPrefix prefixes environment overrides, e.g. UPSTREAM_PIDFILE or
// UPSTREAM_LOG_LEVEL.
const EnvPrefix = "UPSTREAM"

// Config represents the TOML file merged with env and flag overrides.
type Config struct {
	PidFile string        `toml:"pidfile" mapstructure:"pidfile"`
	Core    CoreConfig    `toml:"core" mapstructure:"core"`
	User    UserConfig    `toml:"user" mapstructure:"user"`
	Log     LogConfig     `toml:"log" mapstructure:"log"`
	Metrics MetricsConfig `toml:"metrics" mapstructure:"metrics"`
}

type CoreConfig struct {
	Command  string   `toml:"command" mapstructure:"command"`
	Args     []string `toml:"args" mapstructure:"args"`
	WorkDir  string   `toml:"workdir" mapstructure:"workdir"`
	Env      []string `toml:"env" mapstructure:"env"`
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`
}

type UserConfig struct {
	Name  string `toml:"name" mapstructure:"name"`
	Group string `toml:"group" mapstructure:"group"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Syslog     bool   `toml:"syslog" mapstructure:"syslog"`
	Tag        string `toml:"tag" mapstructure:"tag"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
	Color      bool   `toml:"color" mapstructure:"color"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

// flagKeys maps config keys to the CLI flags that may override them.
var flagKeys = map[string]string{
	"pidfile":   "pidfile",
	"log.level": "log-level",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pidfile", DefaultPidFile)
	v.SetDefault("core.command", "")
	v.SetDefault("core.args", []string{})
	v.SetDefault("core.workdir", "")
	v.SetDefault("core.env", []string{})
	v.SetDefault("core.env_files", []string{})
	v.SetDefault("user.name", "")
	v.SetDefault("user.group", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.syslog", true)
	v.SetDefault("log.tag", logger.DefaultSyslogTag)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
	v.SetDefault("log.color", false)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9465")
}

// Load reads path (optional, TOML), then applies UPSTREAM_* environment
// overrides and any changed flags from fs (may be nil).
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(filepath.Clean(path))
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if fs != nil {
		for key, name := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &c, nil
}

// Validate checks what every command needs. withCore additionally requires
// a core command, which only start needs.
func (c *Config) Validate(withCore bool) error {
	var errs []error
	if strings.TrimSpace(c.PidFile) == "" {
		errs = append(errs, errors.New("pidfile must be set"))
	} else if !filepath.IsAbs(c.PidFile) {
		errs = append(errs, fmt.Errorf("pidfile %q must be an absolute path", c.PidFile))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if withCore && strings.TrimSpace(c.Core.Command) == "" {
		errs = append(errs, errors.New("core.command must be set"))
	}
	return errors.Join(errs...)
}

// CoreEnv returns the core's extra environment: env_files in order, then
// the inline env list overriding them.
func (c *Config) CoreEnv() ([]string, error) {
	var out []string
	for _, p := range c.Core.EnvFiles {
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("load env file %s: %w", p, err)
		}
		out = append(out, pairs...)
	}
	return append(out, c.Core.Env...), nil
}

// LoggerConfig converts the [log] section. stderr enables the terminal sink
// used by foreground runs.
func (c *Config) LoggerConfig(stderr bool) logger.Config {
	return logger.Config{
		Slog: logger.SlogConfig{
			Level:  c.Log.Level,
			Stderr: stderr,
			Color:  c.Log.Color,
		},
		File: logger.FileConfig{
			Path:       c.Log.File,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		},
		Syslog: logger.SyslogConfig{
			Enabled: c.Log.Syslog,
			Tag:     c.Log.Tag,
		},
	}
}

// LoadEnvFile parses a simple .env file and returns a slice of "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, order, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, k+"="+m[k])
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, []string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, nil, err
	}
	m := make(map[string]string)
	var order []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i > 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			if _, seen := m[k]; !seen {
				order = append(order, k)
			}
			m[k] = v
		}
	}
	return m, order, nil
}
