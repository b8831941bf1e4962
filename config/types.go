package config

import "time"

// Config represents the complete configuration structure
type Config struct {
	Engine    EngineConfig            `mapstructure:"engine"`
	Operators OperatorsConfig         `mapstructure:"operators"`
	Items     ItemsConfig             `mapstructure:"items"`
	Folders   map[string]FolderConfig `mapstructure:"folders"`
	Logging   LoggingConfig           `mapstructure:"logging"`
}

// EngineConfig tunes the query engine
type EngineConfig struct {
	CacheCapacity int            `mapstructure:"cache_capacity"`
	CacheTTL      time.Duration  `mapstructure:"cache_ttl"`
	BatchSize     int            `mapstructure:"batch_size"`
	Concurrency   int            `mapstructure:"concurrency"`
	FailureMode   string         `mapstructure:"failure_mode"`
	Workers       int            `mapstructure:"workers"`
	AutoIndex     bool           `mapstructure:"auto_index"`
	IndexFields   []string       `mapstructure:"index_fields"`
	FieldCosts    map[string]int `mapstructure:"field_costs"`
	ExprCacheSize int            `mapstructure:"expr_cache_size"`
	Metrics       bool           `mapstructure:"metrics"`
}

// OperatorsConfig maps custom operator names to expr expressions
type OperatorsConfig map[string]string

// ItemsConfig describes where items are loaded from
type ItemsConfig struct {
	Path       string   `mapstructure:"path"`
	IDField    string   `mapstructure:"id_field"`
	DateFields []string `mapstructure:"date_fields"`
	Timezone   string   `mapstructure:"timezone"`
}

// FolderConfig defines a smart folder
type FolderConfig struct {
	Description string       `mapstructure:"description"`
	Rules       []RuleConfig `mapstructure:"rules"`
}

// RuleConfig is one field/operator/value predicate
type RuleConfig struct {
	Field    string `mapstructure:"field"`
	Operator string `mapstructure:"operator"`
	Value    any    `mapstructure:"value"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Color  bool   `mapstructure:"color"`
}
