package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Ontology   OntologyConfig   `yaml:"ontology" mapstructure:"ontology"`
	Extraction ExtractionConfig `yaml:"extraction" mapstructure:"extraction"`
	Versioning VersioningConfig `yaml:"versioning" mapstructure:"versioning"`
	Graph      GraphConfig      `yaml:"graph" mapstructure:"graph"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the provenance/result database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // postgres or sqlite
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings. Model tiers are resolved per
// concept type from the schema registry's frozen table.
type AnthropicConfig struct {
	Key          string  `yaml:"key" mapstructure:"key"`
	HaikuModel   string  `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel  string  `yaml:"sonnet_model" mapstructure:"sonnet_model"`
	OpusModel    string  `yaml:"opus_model" mapstructure:"opus_model"`
	RateLimitRPS float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateBurst    int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// OntologyConfig holds the catalogue service settings.
type OntologyConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ExtractionConfig configures extraction behavior.
type ExtractionConfig struct {
	MaxExistingEntities int    `yaml:"max_existing_entities" mapstructure:"max_existing_entities"`
	DefinitionTruncate  int    `yaml:"definition_truncate" mapstructure:"definition_truncate"`
	RetryAttempts       int    `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	AgentID             string `yaml:"agent_id" mapstructure:"agent_id"`
	TemplateOverrides   string `yaml:"template_overrides" mapstructure:"template_overrides"`
}

// VersioningConfig configures the versioned provenance layer.
type VersioningConfig struct {
	Workflow             string `yaml:"workflow" mapstructure:"workflow"`
	Environment          string `yaml:"environment" mapstructure:"environment"`
	MinRunsForProduction int    `yaml:"min_runs_for_production" mapstructure:"min_runs_for_production"`
	RequireApproval      bool   `yaml:"require_approval" mapstructure:"require_approval"`
	MinTrialVersions     int    `yaml:"min_trial_versions" mapstructure:"min_trial_versions"`
	DevExpiryHours       int    `yaml:"dev_expiry_hours" mapstructure:"dev_expiry_hours"`
}

// GraphConfig configures the persistence sink for converted results.
type GraphConfig struct {
	Sink     string `yaml:"sink" mapstructure:"sink"` // log or neo4j
	URI      string `yaml:"uri" mapstructure:"uri"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ONTEXTRACT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "ontextract.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.opus_model", "claude-opus-4-6")
	v.SetDefault("anthropic.rate_limit_rps", 2.0)
	v.SetDefault("anthropic.rate_burst", 4)
	v.SetDefault("ontology.base_url", "http://localhost:5001")
	v.SetDefault("ontology.timeout_secs", 30)
	v.SetDefault("extraction.max_existing_entities", 20)
	v.SetDefault("extraction.definition_truncate", 150)
	v.SetDefault("extraction.retry_attempts", 3)
	v.SetDefault("extraction.agent_id", "ontextract")
	v.SetDefault("versioning.workflow", "concept_extraction")
	v.SetDefault("versioning.environment", "development")
	v.SetDefault("versioning.min_runs_for_production", 3)
	v.SetDefault("versioning.require_approval", false)
	v.SetDefault("versioning.min_trial_versions", 2)
	v.SetDefault("versioning.dev_expiry_hours", 168)
	v.SetDefault("graph.sink", "log")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
