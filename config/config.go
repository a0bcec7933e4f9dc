// Package config loads process settings from the environment, an optional
// .env file and an optional clover.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Ramsey-B/clover/internal/database"
	"github.com/Ramsey-B/clover/internal/tracing/exporters"
	"github.com/Ramsey-B/clover/pkg/changes"
	"github.com/Ramsey-B/clover/pkg/graph"
	"github.com/Ramsey-B/clover/pkg/ingest"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/reconcile"
	"github.com/Ramsey-B/clover/pkg/resolver"
)

type Config struct {
	AppName                       string `mapstructure:"app_name" validate:"required"`
	Port                          int    `mapstructure:"port" validate:"min=1,max=65535"`
	LogLevel                      string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	PrettyLogs                    bool   `mapstructure:"pretty_logs"`
	HttpServerWriteTimeoutSeconds int    `mapstructure:"http_server_write_timeout_seconds"`
	HttpServerReadTimeoutSeconds  int    `mapstructure:"http_server_read_timeout_seconds"`
	HttpServerIdleTimeoutSeconds  int    `mapstructure:"http_server_idle_timeout_seconds"`
	MaxHeaderBytes                int    `mapstructure:"http_server_max_header_bytes"`

	// PostgreSQL (staging and production store)
	DatabaseDriver                string        `mapstructure:"db_driver"`
	DatabaseHost                  string        `mapstructure:"db_host"`
	DatabasePort                  string        `mapstructure:"db_port"`
	DatabaseUserName              string        `mapstructure:"db_user_name"`
	DatabasePassword              string        `mapstructure:"db_password"`
	DatabaseName                  string        `mapstructure:"db_name"`
	DatabaseSSLMode               string        `mapstructure:"db_sql_mode"`
	DatabaseMaxOpenConns          int           `mapstructure:"db_max_open_conns"`
	DatabaseMaxIdleConns          int           `mapstructure:"db_max_idle_conns"`
	DatabaseConnMaxLifetime       time.Duration `mapstructure:"db_conn_max_lifetime"`
	DatabaseMigrationFolderPath   string        `mapstructure:"db_migration_folder_path"`
	DatabaseMigrationVersion      uint          `mapstructure:"db_migration_version"`
	DatabaseMigrationForce        int           `mapstructure:"db_migration_force"`
	DatabaseMigrationAutoRollback bool          `mapstructure:"db_migration_auto_rollback"`

	// Graph projection (Memgraph/Neo4j); disabled when the host is empty
	GraphDBHost     string `mapstructure:"graph_db_host"`
	GraphDBPort     int    `mapstructure:"graph_db_port"`
	GraphDBUser     string `mapstructure:"graph_db_user"`
	GraphDBPassword string `mapstructure:"graph_db_password"`
	GraphDBName     string `mapstructure:"graph_db_name"`

	// Change events; disabled when no brokers are set
	KafkaBrokers      []string `mapstructure:"kafka_brokers"`
	KafkaOutputTopic  string   `mapstructure:"kafka_output_topic"`
	KafkaBatchSize    int      `mapstructure:"kafka_batch_size"`
	KafkaBatchTimeout int      `mapstructure:"kafka_batch_timeout_ms"`
	KafkaRequiredAcks int      `mapstructure:"kafka_required_acks"`
	KafkaCompression  string   `mapstructure:"kafka_compression" validate:"oneof=none gzip snappy lz4 zstd"`

	// Run lock; an in-process lock is used when the host is empty
	RedisHost       string        `mapstructure:"redis_host"`
	RedisPort       int           `mapstructure:"redis_port"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	RedisLockPrefix string        `mapstructure:"redis_lock_prefix"`
	RunLockTTL      time.Duration `mapstructure:"run_lock_ttl" validate:"min=1s"`

	// Tracing; disabled when the endpoint is empty
	OTLPEndpoint string `mapstructure:"otel_exporter_otlp_endpoint"`
	OTLPProtocol string `mapstructure:"otel_exporter_otlp_protocol" validate:"oneof=grpc http"`
	OTLPInsecure bool   `mapstructure:"otel_exporter_otlp_insecure"`

	// Engine
	RunMode                  string        `mapstructure:"run_mode"`
	Destination              string        `mapstructure:"destination"`
	SourceTag                string        `mapstructure:"source_tag"`
	BatchSize                int           `mapstructure:"batch_size"`
	PageSize                 int           `mapstructure:"page_size"`
	Workers                  int           `mapstructure:"workers"`
	MaxRetries               int           `mapstructure:"max_retries"`
	BackoffBaseDelay         time.Duration `mapstructure:"backoff_base_delay"`
	BatchTimeout             time.Duration `mapstructure:"batch_timeout"`
	BatchPause               time.Duration `mapstructure:"batch_pause"`
	OverrideConflicts        bool          `mapstructure:"override_conflicts"`
	SkipDuplicateCandidates  bool          `mapstructure:"skip_duplicate_candidates"`
	AnalyzeDuplicates        bool          `mapstructure:"analyze_duplicates"`
	StatusPriority           []string      `mapstructure:"status_priority"`
	KeyPattern               string        `mapstructure:"key_pattern"`
	KeyNormalizers           []string      `mapstructure:"key_normalizers"`
	HashExcludeFields        []string      `mapstructure:"hash_exclude_fields"`
	DisappearedPolicy        string        `mapstructure:"disappeared_policy"`
	SimilarityThreshold      float64       `mapstructure:"similarity_threshold"`
	ClusterMode              string        `mapstructure:"cluster_mode" validate:"oneof=greedy connected"`
	CapacityRelationship     string        `mapstructure:"capacity_relationship"`
	CapacityLimit            int           `mapstructure:"capacity_limit"`
	DefaultDefiningAttribute string        `mapstructure:"default_defining_attribute"`
	ProjectAttribute         string        `mapstructure:"project_attribute"`
	AgentAttribute           string        `mapstructure:"agent_attribute"`
	SampleDiffs              int           `mapstructure:"sample_diffs"`
	MappingFile              string        `mapstructure:"mapping_file"`

	Matching MatchRules `mapstructure:"matching"`
}

// MatchRules is the matching block of clover.yaml. Entity type keys are
// lower-cased by viper. An empty Secondary keeps the built-in rules.
type MatchRules struct {
	DefiningAttributes map[string]string        `mapstructure:"defining_attributes"`
	DefiningWeight     float64                  `mapstructure:"defining_weight" validate:"min=0"`
	GraphWeight        float64                  `mapstructure:"graph_weight" validate:"min=0"`
	Secondary          []matching.AttributeRule `mapstructure:"secondary"`
}

var validate = validator.New()

func defaults() map[string]any {
	engine := reconcile.DefaultConfig()
	match := matching.DefaultConfig()
	return map[string]any{
		"app_name":                          "clover",
		"port":                              3002,
		"log_level":                         "info",
		"pretty_logs":                       false,
		"http_server_write_timeout_seconds": 10,
		"http_server_read_timeout_seconds":  10,
		"http_server_idle_timeout_seconds":  10,
		"http_server_max_header_bytes":      64000,

		"db_driver":                  "postgres",
		"db_host":                    "",
		"db_port":                    "5432",
		"db_user_name":               "",
		"db_password":                "",
		"db_name":                    "clover",
		"db_sql_mode":                "disable",
		"db_max_open_conns":          25,
		"db_max_idle_conns":          10,
		"db_conn_max_lifetime":       "10s",
		"db_migration_folder_path":   "db/pg",
		"db_migration_version":       0,
		"db_migration_force":         0,
		"db_migration_auto_rollback": true,

		"graph_db_host":     "",
		"graph_db_port":     7687,
		"graph_db_user":     "",
		"graph_db_password": "",
		"graph_db_name":     "",

		"kafka_brokers":          []string{},
		"kafka_output_topic":     "canonical-events",
		"kafka_batch_size":       100,
		"kafka_batch_timeout_ms": 100,
		"kafka_required_acks":    1,
		"kafka_compression":      "snappy",

		"redis_host":        "",
		"redis_port":        6379,
		"redis_password":    "",
		"redis_db":          0,
		"redis_lock_prefix": "clover:lock:",
		"run_lock_ttl":      "5m",

		"otel_exporter_otlp_endpoint": "",
		"otel_exporter_otlp_protocol": "grpc",
		"otel_exporter_otlp_insecure": true,

		"run_mode":                   string(engine.Mode),
		"destination":                engine.Destination,
		"source_tag":                 engine.SourceTag,
		"batch_size":                 engine.BatchSize,
		"page_size":                  engine.PageSize,
		"workers":                    engine.Workers,
		"max_retries":                engine.MaxRetries,
		"backoff_base_delay":         engine.BackoffBaseDelay.String(),
		"batch_timeout":              engine.BatchTimeout.String(),
		"batch_pause":                engine.BatchPause.String(),
		"override_conflicts":         engine.OverrideConflicts,
		"skip_duplicate_candidates":  engine.SkipDuplicateCandidates,
		"analyze_duplicates":         engine.AnalyzeDuplicates,
		"status_priority":            []string{},
		"key_pattern":                "",
		"key_normalizers":            ingest.DefaultConfig().KeyNormalizers,
		"hash_exclude_fields":        []string{},
		"disappeared_policy":         string(models.DisappearedReport),
		"similarity_threshold":       match.Threshold,
		"cluster_mode":               string(match.Mode),
		"capacity_relationship":      match.CapacityRelationship,
		"capacity_limit":             match.CapacityLimit,
		"default_defining_attribute": match.DefaultDefiningAttribute,
		"project_attribute":          engine.ProjectAttribute,
		"agent_attribute":            engine.AgentAttribute,
		"sample_diffs":               engine.SampleDiffs,
		"mapping_file":               "",

		"matching.defining_weight": match.DefiningWeight,
		"matching.graph_weight":    match.GraphWeight,
	}
}

// Load reads settings. envFile and configFile may be empty; a missing
// default clover.yaml or .env is not an error, a missing named file is.
func Load(envFile, configFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}

	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("clover")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read clover.yaml: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Database() database.Config {
	return database.Config{
		Driver:          c.DatabaseDriver,
		Host:            c.DatabaseHost,
		Port:            c.DatabasePort,
		User:            c.DatabaseUserName,
		Password:        c.DatabasePassword,
		Name:            c.DatabaseName,
		SSLMode:         c.DatabaseSSLMode,
		MaxOpenConns:    c.DatabaseMaxOpenConns,
		MaxIdleConns:    c.DatabaseMaxIdleConns,
		ConnMaxLifetime: c.DatabaseConnMaxLifetime,
	}
}

func (c *Config) Migration() *database.MigrationConfig {
	return &database.MigrationConfig{
		MigrationFolderPath: c.DatabaseMigrationFolderPath,
		Version:             c.DatabaseMigrationVersion,
		Force:               c.DatabaseMigrationForce,
		AutoRollback:        c.DatabaseMigrationAutoRollback,
	}
}

func (c *Config) Graph() graph.Config {
	return graph.Config{
		Host:     c.GraphDBHost,
		Port:     c.GraphDBPort,
		Username: c.GraphDBUser,
		Password: c.GraphDBPassword,
		Database: c.GraphDBName,
	}
}

func (c *Config) Kafka() kafka.ProducerConfig {
	return kafka.ProducerConfig{
		Brokers:      c.KafkaBrokers,
		Topic:        c.KafkaOutputTopic,
		BatchSize:    c.KafkaBatchSize,
		BatchTimeout: time.Duration(c.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: c.KafkaRequiredAcks,
		Compression:  c.KafkaCompression,
	}
}

func (c *Config) OTLP() exporters.OTLPConfig {
	return exporters.OTLPConfig{
		Endpoint: c.OTLPEndpoint,
		Protocol: c.OTLPProtocol,
		Insecure: c.OTLPInsecure,
	}
}

func (c *Config) Ingest() ingest.Config {
	return ingest.Config{
		KeyNormalizers: c.KeyNormalizers,
		KeyPattern:     c.KeyPattern,
	}
}

// Reconcile builds the engine options. Enum values are parsed here so a
// typo fails before any store is opened.
func (c *Config) Reconcile() (reconcile.Config, error) {
	mode, err := models.ParseRunMode(c.RunMode)
	if err != nil {
		return reconcile.Config{}, err
	}
	policy, err := models.ParseDisappearedPolicy(c.DisappearedPolicy)
	if err != nil {
		return reconcile.Config{}, err
	}

	cfg := reconcile.DefaultConfig()
	cfg.Mode = mode
	cfg.Destination = c.Destination
	cfg.SourceTag = c.SourceTag
	cfg.BatchSize = c.BatchSize
	cfg.PageSize = c.PageSize
	cfg.Workers = c.Workers
	cfg.MaxRetries = c.MaxRetries
	cfg.BackoffBaseDelay = c.BackoffBaseDelay
	cfg.BatchTimeout = c.BatchTimeout
	cfg.BatchPause = c.BatchPause
	cfg.OverrideConflicts = c.OverrideConflicts
	cfg.SkipDuplicateCandidates = c.SkipDuplicateCandidates
	cfg.AnalyzeDuplicates = c.AnalyzeDuplicates
	cfg.ProjectAttribute = c.ProjectAttribute
	cfg.AgentAttribute = c.AgentAttribute
	cfg.SampleDiffs = c.SampleDiffs

	cfg.Resolver = resolver.Config{StatusPriority: c.StatusPriority}
	cfg.Changes = changes.Config{ExcludeFields: c.HashExcludeFields, DisappearedPolicy: policy}

	cfg.Matching.Threshold = c.SimilarityThreshold
	cfg.Matching.Mode = matching.ClusterMode(c.ClusterMode)
	cfg.Matching.CapacityRelationship = c.CapacityRelationship
	cfg.Matching.CapacityLimit = c.CapacityLimit
	cfg.Matching.DefaultDefiningAttribute = c.DefaultDefiningAttribute
	cfg.Matching.DefiningWeight = c.Matching.DefiningWeight
	cfg.Matching.GraphWeight = c.Matching.GraphWeight
	for entityType, attr := range c.Matching.DefiningAttributes {
		cfg.Matching.DefiningAttributes[entityType] = attr
	}
	if len(c.Matching.Secondary) > 0 {
		cfg.Matching.Secondary = c.Matching.Secondary
	}

	return cfg, cfg.Validate()
}
