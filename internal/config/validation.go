package config

import (
	"fmt"
	"net/url"
	"strings"
)

// validateConfig validates configuration values for correctness
func validateConfig(config *Config) error {
	if err := validateTemplateConfig(&config.Template); err != nil {
		return fmt.Errorf("template config: %w", err)
	}
	if err := validateLookupConfig(&config.Lookup); err != nil {
		return fmt.Errorf("lookup config: %w", err)
	}
	if config.Watch.Enabled && config.Watch.Debounce < 0 {
		return fmt.Errorf("watch config: debounce cannot be negative")
	}
	if err := validateLogConfig(&config.Log); err != nil {
		return fmt.Errorf("log config: %w", err)
	}
	if err := validateInstrumentationConfig(&config.Instrumentation); err != nil {
		return fmt.Errorf("instrumentation config: %w", err)
	}
	return nil
}

func validateInstrumentationConfig(config *InstrumentationConfig) error {
	switch config.Mode {
	case InstrumentNone, InstrumentLog, InstrumentOtel:
	default:
		return fmt.Errorf("unknown mode %q (want none, log or otel)", config.Mode)
	}
	if config.Endpoint == "" {
		return nil
	}
	u, err := url.Parse(config.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("endpoint %q must be an http(s) URL", config.Endpoint)
	}
	return nil
}

func validateTemplateConfig(config *TemplateConfig) error {
	if config.DefaultHandler == "" {
		return fmt.Errorf("default handler cannot be empty")
	}
	if strings.ContainsAny(config.DefaultHandler, "/\\ ") {
		return fmt.Errorf("default handler %q is not a file extension", config.DefaultHandler)
	}
	for _, format := range config.DefaultFormats {
		if format == "" || strings.ContainsAny(format, "./\\ ") {
			return fmt.Errorf("invalid format %q", format)
		}
	}
	for _, mime := range config.EscapeExempt {
		if !strings.Contains(mime, "/") {
			return fmt.Errorf("escape exemption %q is not a content type", mime)
		}
	}
	return nil
}

func validateLookupConfig(config *LookupConfig) error {
	if len(config.Roots) == 0 {
		return fmt.Errorf("at least one root is required")
	}
	for _, root := range config.Roots {
		if strings.TrimSpace(root) == "" {
			return fmt.Errorf("root cannot be empty")
		}
		if strings.ContainsRune(root, 0) {
			return fmt.Errorf("root %q contains a NUL byte", root)
		}
	}
	if config.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive, got %d", config.CacheSize)
	}
	if config.CacheTTL < 0 {
		return fmt.Errorf("cache ttl cannot be negative")
	}
	return nil
}

func validateLogConfig(config *LogConfig) error {
	switch config.Level {
	case "debug", "info", "warn", "warning", "error", "fatal":
	default:
		return fmt.Errorf("unknown level %q", config.Level)
	}
	switch config.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown format %q (want text or json)", config.Format)
	}
	return nil
}
