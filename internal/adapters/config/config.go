package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/quantmesh/signal-engine/pkg/models"
)

// Config represents application configuration. Loaded once per
// process; the engine re-reads nothing mid-cycle.
type Config struct {
	Engine     EngineConfig     `envconfig:"ENGINE"`
	Sources    SourcesConfig    `envconfig:"SOURCES"`
	Consensus  ConsensusConfig  `envconfig:"CONSENSUS"`
	Refinement RefinementConfig `envconfig:"REFINEMENT"`
	Database   DatabaseConfig   `envconfig:"DATABASE"`
	ClickHouse ClickHouseConfig `envconfig:"CLICKHOUSE"`
	Redis      RedisConfig      `envconfig:"REDIS"`
	Logging    LoggingConfig    `envconfig:"LOGGING"`
	Health     HealthConfig     `envconfig:"HEALTH"`
}

// HealthConfig represents the K8s probe endpoint
type HealthConfig struct {
	Port string `envconfig:"HEALTH_PORT" default:"8080"`
}

// EngineConfig represents cycle-level parameters
type EngineConfig struct {
	Assets              []string      `envconfig:"ENGINE_ASSETS" default:"BTC/USDT,ETH/USDT"`
	Timeframe           string        `envconfig:"ENGINE_TIMEFRAME" default:"1h"`
	CycleInterval       time.Duration `envconfig:"ENGINE_CYCLE_INTERVAL" default:"5m"`
	AgentLatencyBudget  time.Duration `envconfig:"ENGINE_AGENT_LATENCY_BUDGET" default:"30s"`
	AccuracyLookback    int           `envconfig:"ENGINE_ACCURACY_LOOKBACK" default:"100"`
	AccuracyInterval    time.Duration `envconfig:"ENGINE_ACCURACY_INTERVAL" default:"1h"`
	OutcomeHorizon      time.Duration `envconfig:"ENGINE_OUTCOME_HORIZON" default:"1h"`
	OutcomeInterval     time.Duration `envconfig:"ENGINE_OUTCOME_INTERVAL" default:"15m"`
	SnapshotDepth       int           `envconfig:"ENGINE_SNAPSHOT_DEPTH" default:"50"`
	ScoreCacheTTL       time.Duration `envconfig:"ENGINE_SCORE_CACHE_TTL" default:"5m"`
	CycleLockTTL        time.Duration `envconfig:"ENGINE_CYCLE_LOCK_TTL" default:"2m"`
	HistoryWriteEnabled bool          `envconfig:"ENGINE_HISTORY_WRITE_ENABLED" default:"true"`
}

// SourcesConfig represents per-source weights and the statistical
// thresholds behind scoring
type SourcesConfig struct {
	MarketWeight   float64 `envconfig:"SOURCES_MARKET_WEIGHT" default:"0.4"`
	SocialWeight   float64 `envconfig:"SOURCES_SOCIAL_WEIGHT" default:"0.3"`
	NewsWeight     float64 `envconfig:"SOURCES_NEWS_WEIGHT" default:"0.2"`
	MomentumWeight float64 `envconfig:"SOURCES_MOMENTUM_WEIGHT" default:"0.1"`
	TrendThreshold float64 `envconfig:"SOURCES_TREND_THRESHOLD" default:"0.05"`
	AvgPeriods     int     `envconfig:"SOURCES_AVG_PERIODS" default:"3"`
	MaxLag         int     `envconfig:"SOURCES_MAX_LAG" default:"7"`
	RSIPeriod      int     `envconfig:"SOURCES_RSI_PERIOD" default:"14"`
}

// Weights returns the configured per-source weight table
func (s *SourcesConfig) Weights() map[string]float64 {
	return map[string]float64{
		"market":   s.MarketWeight,
		"social":   s.SocialWeight,
		"news":     s.NewsWeight,
		"momentum": s.MomentumWeight,
	}
}

// ConsensusConfig selects and tunes the consensus algorithm
type ConsensusConfig struct {
	Algorithm string `envconfig:"CONSENSUS_ALGORITHM" default:"voting"` // voting or bayesian
}

// Mode returns the typed consensus algorithm
func (c *ConsensusConfig) Mode() models.ConsensusAlgorithm {
	if strings.EqualFold(c.Algorithm, string(models.AlgorithmBayesian)) {
		return models.AlgorithmBayesian
	}
	return models.AlgorithmVoting
}

// RefinementConfig bounds the multi-round refinement loop
type RefinementConfig struct {
	Enabled     bool          `envconfig:"REFINEMENT_ENABLED" default:"true"`
	MaxRounds   int           `envconfig:"REFINEMENT_MAX_ROUNDS" default:"3"`
	Epsilon     float64       `envconfig:"REFINEMENT_EPSILON" default:"0.01"`
	RoundBudget time.Duration `envconfig:"REFINEMENT_ROUND_BUDGET" default:"10s"`
}

// DatabaseConfig represents the Postgres holding the agent weight
// table
type DatabaseConfig struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"signal_engine"`
	User     string `envconfig:"DB_USER" required:"true"`
	Password string `envconfig:"DB_PASSWORD" required:"true"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
}

// ClickHouseConfig represents the market-record and history store
type ClickHouseConfig struct {
	Host     string `envconfig:"CLICKHOUSE_HOST" default:"localhost"`
	Port     int    `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	Database string `envconfig:"CLICKHOUSE_DATABASE" default:"signal_history"`
	User     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password string `envconfig:"CLICKHOUSE_PASSWORD" required:"false"`
}

// RedisConfig represents the score cache and cycle lock backend
type RedisConfig struct {
	Enabled  bool   `envconfig:"REDIS_ENABLED" default:"false"`
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD" required:"false"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level string `envconfig:"LOG_LEVEL" default:"info"`
	File  string `envconfig:"LOG_FILE" default:""`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if len(c.Engine.Assets) == 0 {
		return fmt.Errorf("at least one asset must be configured")
	}

	totalWeight := 0.0
	for name, w := range c.Sources.Weights() {
		if w < 0 {
			return fmt.Errorf("source weight for %s must not be negative", name)
		}
		totalWeight += w
	}
	if totalWeight <= 0 {
		return fmt.Errorf("source weights must sum to a positive number")
	}

	if c.Sources.TrendThreshold <= 0 {
		return fmt.Errorf("trend threshold must be positive")
	}
	if c.Sources.AvgPeriods < 1 {
		return fmt.Errorf("avg periods must be at least 1")
	}
	if c.Sources.MaxLag < 0 {
		return fmt.Errorf("max lag must not be negative")
	}

	switch strings.ToLower(c.Consensus.Algorithm) {
	case "voting", "bayesian":
	default:
		return fmt.Errorf("unknown consensus algorithm: %s", c.Consensus.Algorithm)
	}

	if c.Refinement.MaxRounds < 1 {
		return fmt.Errorf("refinement max rounds must be at least 1")
	}
	if c.Refinement.Epsilon <= 0 {
		return fmt.Errorf("refinement epsilon must be positive")
	}

	return nil
}

// GetDSN returns PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetDSN returns ClickHouse connection string
func (c *ClickHouseConfig) GetDSN() string {
	return fmt.Sprintf(
		"clickhouse://%s:%s@%s:%d/%s",
		c.User, c.Password, c.Host, c.Port, c.Database,
	)
}
