package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/spf13/viper"

	"github.com/s0up4200/smartfolder/engine"
	"github.com/s0up4200/smartfolder/rule"
)

// Load loads the configuration from file
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config in standard locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		// Check current directory first
		v.AddConfigPath(".")

		// Check home directory
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".smartfolder"))
		}

		// Check /etc
		v.AddConfigPath("/etc/smartfolder/")
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil, fmt.Errorf("config file not found: %w", err)
		}
		return nil, fmt.Errorf("error reading config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Engine defaults
	v.SetDefault("engine.cache_capacity", 100)
	v.SetDefault("engine.cache_ttl", "5m")
	v.SetDefault("engine.batch_size", 100)
	v.SetDefault("engine.concurrency", 3)
	v.SetDefault("engine.failure_mode", string(engine.FailFast))
	v.SetDefault("engine.auto_index", true)
	v.SetDefault("engine.expr_cache_size", 100)

	// Items defaults
	v.SetDefault("items.path", "items.yaml")
	v.SetDefault("items.id_field", "id")
	v.SetDefault("items.timezone", "UTC")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.color", true)
}

// validate checks if the configuration is valid
func validate(cfg *Config) error {
	if cfg.Engine.CacheCapacity < 0 {
		return fmt.Errorf("engine.cache_capacity must not be negative")
	}
	if cfg.Engine.CacheTTL < 0 {
		return fmt.Errorf("engine.cache_ttl must not be negative")
	}
	if cfg.Engine.BatchSize < 0 || cfg.Engine.Concurrency < 0 || cfg.Engine.Workers < 0 {
		return fmt.Errorf("engine.batch_size, engine.concurrency and engine.workers must not be negative")
	}

	if _, err := engine.ParseFailureMode(cfg.Engine.FailureMode); err != nil {
		return fmt.Errorf("invalid engine.failure_mode: %s (must be '%s' or '%s')", cfg.Engine.FailureMode, engine.FailFast, engine.CollectAll)
	}

	for name, expression := range cfg.Operators {
		if rule.Operator(name).IsBuiltin() {
			return fmt.Errorf("operators.%s shadows a built-in operator", name)
		}
		if strings.TrimSpace(expression) == "" {
			return fmt.Errorf("operators.%s has an empty expression", name)
		}
	}

	if _, err := cfg.Location(); err != nil {
		return fmt.Errorf("invalid items.timezone: %w", err)
	}

	for name, folder := range cfg.Folders {
		if len(folder.Rules) == 0 {
			return fmt.Errorf("folder '%s' has no rules", name)
		}
		for i, r := range folder.Rules {
			if strings.TrimSpace(r.Field) == "" {
				return fmt.Errorf("folder '%s' rule %d: field is required", name, i)
			}
			if !cfg.knownOperator(r.Operator) {
				return fmt.Errorf("folder '%s' rule %d: unknown operator: %s", name, i, r.Operator)
			}
		}
	}

	// Validate logging level
	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s", cfg.Logging.Level)
	}

	// Validate logging format
	validFormats := map[string]bool{
		"console": true,
		"json":    true,
	}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("invalid logging format: %s", cfg.Logging.Format)
	}

	return nil
}

func (cfg *Config) knownOperator(op string) bool {
	if rule.Operator(op).IsBuiltin() {
		return true
	}
	_, ok := cfg.Operators[op]
	return ok
}

// Location returns the zone used for dates without one
func (cfg *Config) Location() (*time.Location, error) {
	if cfg.Items.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(cfg.Items.Timezone)
}

// FolderNames returns the configured folder names, sorted
func (cfg *Config) FolderNames() []string {
	names := make([]string, 0, len(cfg.Folders))
	for name := range cfg.Folders {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// SmartFolders converts the configured folders into engine folders. Rule
// values on configured date fields are parsed into times.
func (cfg *Config) SmartFolders() ([]engine.Folder, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	folders := make([]engine.Folder, 0, len(cfg.Folders))
	for _, name := range cfg.FolderNames() {
		fc := cfg.Folders[name]

		rules, err := ToRules(fc.Rules, cfg.Items.DateFields, loc)
		if err != nil {
			return nil, fmt.Errorf("folder '%s': %w", name, err)
		}

		folders = append(folders, engine.Folder{
			Name:        name,
			Description: fc.Description,
			Rules:       rules,
		})
	}

	return folders, nil
}

// ToRules converts rule definitions. String values for fields listed in
// dateFields are parsed with loc as the default zone.
func ToRules(defs []RuleConfig, dateFields []string, loc *time.Location) ([]rule.Rule, error) {
	rules := make([]rule.Rule, 0, len(defs))

	for i, def := range defs {
		value := def.Value

		if s, ok := value.(string); ok && slices.Contains(dateFields, def.Field) {
			t, err := dateparse.ParseIn(strings.TrimSpace(s), loc)
			if err != nil {
				return nil, fmt.Errorf("rule %d: invalid date for '%s': %w", i, def.Field, err)
			}
			value = t
		}

		rules = append(rules, rule.New(def.Field, rule.Operator(def.Operator), value))
	}

	return rules, nil
}
