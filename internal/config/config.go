// Package config loads erbview configuration with Viper from a YAML file,
// ERBVIEW_ environment variables and command-line flags.
//
// Every key has a default, so an empty configuration is valid. Load
// validates the result; Apply installs the template settings as the
// process-wide ERB defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conneroisu/erbview/internal/handlers/erb"
)

// EnvPrefix prefixes environment overrides, e.g. ERBVIEW_LOOKUP_CACHE_SIZE.
const EnvPrefix = "ERBVIEW"

// DefaultFile is the configuration file looked for when none is given.
const DefaultFile = ".erbview.yml"

type Config struct {
	Template        TemplateConfig        `mapstructure:"template" yaml:"template"`
	Lookup          LookupConfig          `mapstructure:"lookup" yaml:"lookup"`
	Watch           WatchConfig           `mapstructure:"watch" yaml:"watch"`
	Log             LogConfig             `mapstructure:"log" yaml:"log"`
	Instrumentation InstrumentationConfig `mapstructure:"instrumentation" yaml:"instrumentation"`
}

type TemplateConfig struct {
	TrimMode       bool     `mapstructure:"trim_mode" yaml:"trim_mode"`
	EscapeExempt   []string `mapstructure:"escape_exempt" yaml:"escape_exempt"`
	DefaultHandler string   `mapstructure:"default_handler" yaml:"default_handler"`
	DefaultFormats []string `mapstructure:"default_formats" yaml:"default_formats"`
}

type LookupConfig struct {
	Roots     []string      `mapstructure:"roots" yaml:"roots"`
	CacheSize int           `mapstructure:"cache_size" yaml:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type InstrumentationConfig struct {
	Mode string `mapstructure:"mode" yaml:"mode"`
	// Endpoint is the OTLP/HTTP collector URL used in otel mode.
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// Instrumentation modes.
const (
	InstrumentNone = "none"
	InstrumentLog  = "log"
	InstrumentOtel = "otel"
)

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("template.trim_mode", true)
	v.SetDefault("template.escape_exempt", []string{"text/plain"})
	v.SetDefault("template.default_handler", "erb")
	v.SetDefault("template.default_formats", []string{"html"})

	v.SetDefault("lookup.roots", []string{"./views"})
	v.SetDefault("lookup.cache_size", 512)
	v.SetDefault("lookup.cache_ttl", time.Hour)

	v.SetDefault("watch.enabled", false)
	v.SetDefault("watch.debounce", 100*time.Millisecond)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("instrumentation.mode", InstrumentNone)
	v.SetDefault("instrumentation.endpoint", "")
	v.SetDefault("instrumentation.service_name", "erbview")
}

// Setup prepares v to read ERBVIEW_ environment overrides and, when file is
// empty, an optional .erbview.yml in the working directory.
func Setup(v *viper.Viper, file string) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		return
	}
	v.SetConfigName(strings.TrimSuffix(DefaultFile, ".yml"))
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
}

// Read reads the configuration file set up by Setup. A missing default file
// is not an error.
func Read(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("reading config: %w", err)
	}
	return nil
}

// Load decodes and validates the configuration held by the global viper.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom decodes and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	// Slices set from env or flags may arrive as one comma-separated string.
	config.Template.EscapeExempt = stringSlice(v, "template.escape_exempt", config.Template.EscapeExempt)
	config.Template.DefaultFormats = stringSlice(v, "template.default_formats", config.Template.DefaultFormats)
	config.Lookup.Roots = stringSlice(v, "lookup.roots", config.Lookup.Roots)

	config.normalize()

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

func stringSlice(v *viper.Viper, key string, current []string) []string {
	if !v.IsSet(key) {
		return current
	}
	var out []string
	for _, s := range current {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *Config) normalize() {
	c.Template.DefaultHandler = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Template.DefaultHandler), "."))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.Instrumentation.Mode = strings.ToLower(strings.TrimSpace(c.Instrumentation.Mode))
	if c.Instrumentation.Mode == "" {
		c.Instrumentation.Mode = InstrumentNone
	}
	c.Instrumentation.Endpoint = strings.TrimSpace(c.Instrumentation.Endpoint)
	if c.Instrumentation.ServiceName = strings.TrimSpace(c.Instrumentation.ServiceName); c.Instrumentation.ServiceName == "" {
		c.Instrumentation.ServiceName = "erbview"
	}
}

// ERB returns the ERB generator settings.
func (c *Config) ERB() erb.Config {
	return erb.Config{
		Trim:         c.Template.TrimMode,
		EscapeExempt: append([]string(nil), c.Template.EscapeExempt...),
	}
}

// Apply installs the template settings as the process-wide ERB defaults.
// Handlers created by erb.Default pick them up on their next generation.
func Apply(c *Config) {
	erb.SetDefaultConfig(c.ERB())
}
