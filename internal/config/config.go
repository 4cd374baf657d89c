package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ObservabilityConfig struct {
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	// Fraction of root traces sampled; 0 or >= 1 samples everything.
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

type ServerConfig struct {
	Port           int `mapstructure:"port"`
	RequestTimeout int `mapstructure:"request_timeout_ms"`
}

type CatalogConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
}

// PreprocessConfig tunes classification, ambiguity and safety.
type PreprocessConfig struct {
	MaxQueryChars int `mapstructure:"max_query_chars"`
	// Distinct ambiguity types that escalate research/multi_step queries to complex.
	AmbiguityEscalationTypes int    `mapstructure:"ambiguity_escalation_types"`
	UseLLMClassifier         bool   `mapstructure:"use_llm_classifier"`
	ClassifierModel          string `mapstructure:"classifier_model"`
	ClassifierTimeoutMs      int    `mapstructure:"classifier_timeout_ms"`
	SafetyPolicyPath         string `mapstructure:"safety_policy_path"`
}

// StrategyConfig holds the decision table thresholds and team weights.
type StrategyConfig struct {
	SelfConsistencyMinAccuracy int     `mapstructure:"self_consistency_min_accuracy"`
	ExpertPanelMinAccuracy     int     `mapstructure:"expert_panel_min_accuracy"`
	SingleBestMaxAccuracy      int     `mapstructure:"single_best_max_accuracy"`
	TightLatencyMs             int64   `mapstructure:"tight_latency_ms"`
	SelfConsistencySamples     int     `mapstructure:"self_consistency_samples"`
	BestOfN                    int     `mapstructure:"best_of_n"`
	ExpertPanelSize            int     `mapstructure:"expert_panel_size"`
	FusionSize                 int     `mapstructure:"fusion_size"`
	AccuracyWeight             float64 `mapstructure:"accuracy_weight"`
	CostWeight                 float64 `mapstructure:"cost_weight"` // applied to blended USD per token
	DefaultMaxTokens           int     `mapstructure:"default_max_tokens"`
	PromptTokensEstimate       int     `mapstructure:"prompt_tokens_estimate"`
}

type ToolsConfig struct {
	TimeoutMs       int           `mapstructure:"timeout_ms"`
	MaxOutputChars  int           `mapstructure:"max_output_chars"`
	MaxConcurrency  int           `mapstructure:"max_concurrency"`
	CacheSize       int           `mapstructure:"cache_size"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	TavilyAPIKey    string        `mapstructure:"tavily_api_key"`
	TavilyURL       string        `mapstructure:"tavily_url"`
	PythonPath      string        `mapstructure:"python_path"`
	KnowledgePrefix string        `mapstructure:"knowledge_prefix"`

	// Base URL of an isolated executor exposing POST /tools/execute with a
	// python_executor tool. Empty limits python checks to compilation.
	SandboxURL string `mapstructure:"sandbox_url"`

	// Empty disables the knowledge_base tool.
	KnowledgeRedisAddr string `mapstructure:"knowledge_redis_addr"`
}

type ExecutionConfig struct {
	StepTimeoutMs     int `mapstructure:"step_timeout_ms"`
	DefaultDeadlineMs int `mapstructure:"default_deadline_ms"`
	MaxConcurrency    int `mapstructure:"max_concurrency"`
}

// VerificationConfig weights feed the confidence delta; WeightRefuted must exceed WeightUnverifiable.
type VerificationConfig struct {
	TimeoutMs          int     `mapstructure:"timeout_ms"`
	FactualOverlap     float64 `mapstructure:"factual_overlap"`
	WeightVerified     float64 `mapstructure:"weight_verified"`
	WeightRefuted      float64 `mapstructure:"weight_refuted"`
	WeightUnverifiable float64 `mapstructure:"weight_unverifiable"`
	MaxClaims          int     `mapstructure:"max_claims"`
}

type ConsensusConfig struct {
	SimilaritySkipThreshold float64 `mapstructure:"similarity_skip_threshold"`
	DebateMaxRounds         int     `mapstructure:"debate_max_rounds"`
	JudgeModel              string  `mapstructure:"judge_model"`
}

type CircuitBreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	ResetTimeoutMs   int `mapstructure:"reset_timeout_ms"`
	HalfOpenRequests int `mapstructure:"half_open_requests"`
}

type ProvidersConfig struct {
	OpenAIAPIKey    string               `mapstructure:"openai_api_key"`
	AnthropicAPIKey string               `mapstructure:"anthropic_api_key"`
	GoogleAPIKey    string               `mapstructure:"google_api_key"`
	DeepSeekAPIKey  string               `mapstructure:"deepseek_api_key"`
	LLMServiceURL   string               `mapstructure:"llm_service_url"`
	RatePerSecond   float64              `mapstructure:"rate_per_second"`
	Burst           int                  `mapstructure:"burst"`
	CircuitBreaker  CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

type MemoryConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	RedisAddr  string        `mapstructure:"redis_addr"`
	KeyPrefix  string        `mapstructure:"key_prefix"`
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
}

// Config is the full orchestrator configuration.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Catalog       CatalogConfig       `mapstructure:"catalog"`
	Preprocess    PreprocessConfig    `mapstructure:"preprocess"`
	Strategy      StrategyConfig      `mapstructure:"strategy"`
	Tools         ToolsConfig         `mapstructure:"tools"`
	Execution     ExecutionConfig     `mapstructure:"execution"`
	Verification  VerificationConfig  `mapstructure:"verification"`
	Consensus     ConsensusConfig     `mapstructure:"consensus"`
	Providers     ProvidersConfig     `mapstructure:"providers"`
	Memory        MemoryConfig        `mapstructure:"memory"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.request_timeout_ms", 120000)

	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.port", 2112)
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.service_name", "consensus-orchestrator")
	v.SetDefault("observability.tracing.otlp_endpoint", "localhost:4317")
	v.SetDefault("observability.tracing.sample_ratio", 1.0)

	v.SetDefault("catalog.path", "config/models.yaml")
	v.SetDefault("catalog.watch", true)

	v.SetDefault("preprocess.max_query_chars", 32000)
	v.SetDefault("preprocess.ambiguity_escalation_types", 2)
	v.SetDefault("preprocess.use_llm_classifier", false)
	v.SetDefault("preprocess.classifier_model", "")
	v.SetDefault("preprocess.classifier_timeout_ms", 5000)
	v.SetDefault("preprocess.safety_policy_path", "")

	v.SetDefault("strategy.self_consistency_min_accuracy", 4)
	v.SetDefault("strategy.expert_panel_min_accuracy", 3)
	v.SetDefault("strategy.single_best_max_accuracy", 2)
	v.SetDefault("strategy.tight_latency_ms", 3000)
	v.SetDefault("strategy.self_consistency_samples", 3)
	v.SetDefault("strategy.best_of_n", 3)
	v.SetDefault("strategy.expert_panel_size", 3)
	v.SetDefault("strategy.fusion_size", 3)
	v.SetDefault("strategy.accuracy_weight", 1.0)
	v.SetDefault("strategy.cost_weight", 10000.0)
	v.SetDefault("strategy.default_max_tokens", 1024)
	v.SetDefault("strategy.prompt_tokens_estimate", 500)

	v.SetDefault("tools.timeout_ms", 5000)
	v.SetDefault("tools.max_output_chars", 4000)
	v.SetDefault("tools.max_concurrency", 4)
	v.SetDefault("tools.cache_size", 256)
	v.SetDefault("tools.cache_ttl", 10*time.Minute)
	v.SetDefault("tools.tavily_url", "https://api.tavily.com/search")
	v.SetDefault("tools.python_path", "python3")
	v.SetDefault("tools.sandbox_url", "")
	v.SetDefault("tools.knowledge_prefix", "kb:")
	v.SetDefault("tools.knowledge_redis_addr", "")

	v.SetDefault("execution.step_timeout_ms", 30000)
	v.SetDefault("execution.default_deadline_ms", 90000)
	v.SetDefault("execution.max_concurrency", 8)

	v.SetDefault("verification.timeout_ms", 3000)
	v.SetDefault("verification.factual_overlap", 0.6)
	v.SetDefault("verification.weight_verified", 0.3)
	v.SetDefault("verification.weight_refuted", 0.6)
	v.SetDefault("verification.weight_unverifiable", 0.1)
	v.SetDefault("verification.max_claims", 32)

	v.SetDefault("consensus.similarity_skip_threshold", 0.85)
	v.SetDefault("consensus.debate_max_rounds", 2)
	v.SetDefault("consensus.judge_model", "")

	v.SetDefault("providers.rate_per_second", 5.0)
	v.SetDefault("providers.burst", 10)
	v.SetDefault("providers.circuit_breaker.failure_threshold", 5)
	v.SetDefault("providers.circuit_breaker.reset_timeout_ms", 60000)
	v.SetDefault("providers.circuit_breaker.half_open_requests", 1)

	v.SetDefault("memory.enabled", false)
	v.SetDefault("memory.redis_addr", "localhost:6379")
	v.SetDefault("memory.key_prefix", "consensus:memory:")
	v.SetDefault("memory.ttl", 24*time.Hour)
	v.SetDefault("memory.max_entries", 50)
}

// Load reads orchestrator.yaml from CONFIG_PATH (or /app/config/orchestrator.yaml).
// A missing file is not an error; defaults and CONSENSUS_* env overrides apply.
func Load() (*Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "/app/config/orchestrator.yaml"
	}
	return LoadFile(cfgPath)
}

// LoadFile reads the given config file with defaults and env overrides.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CONSENSUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyProviderEnv(&c)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Defaults returns the configuration with only built-in defaults applied.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	_ = v.Unmarshal(&c)
	return &c
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Verification.WeightRefuted <= c.Verification.WeightUnverifiable {
		return fmt.Errorf("verification.weight_refuted (%.2f) must exceed weight_unverifiable (%.2f)",
			c.Verification.WeightRefuted, c.Verification.WeightUnverifiable)
	}
	if c.Consensus.SimilaritySkipThreshold <= 0 || c.Consensus.SimilaritySkipThreshold > 1 {
		return fmt.Errorf("consensus.similarity_skip_threshold must be in (0, 1]")
	}
	if c.Consensus.DebateMaxRounds < 1 {
		return fmt.Errorf("consensus.debate_max_rounds must be >= 1")
	}
	if c.Preprocess.AmbiguityEscalationTypes < 1 {
		return fmt.Errorf("preprocess.ambiguity_escalation_types must be >= 1")
	}
	if c.Strategy.SelfConsistencySamples < 3 {
		return fmt.Errorf("strategy.self_consistency_samples must be >= 3")
	}
	return nil
}

// applyProviderEnv fills provider credentials from the conventional vendor env vars.
func applyProviderEnv(c *Config) {
	c.Providers.OpenAIAPIKey = firstNonEmpty(c.Providers.OpenAIAPIKey, os.Getenv("OPENAI_API_KEY"))
	c.Providers.AnthropicAPIKey = firstNonEmpty(c.Providers.AnthropicAPIKey, os.Getenv("ANTHROPIC_API_KEY"))
	c.Providers.GoogleAPIKey = firstNonEmpty(c.Providers.GoogleAPIKey, os.Getenv("GOOGLE_API_KEY"), os.Getenv("GEMINI_API_KEY"))
	c.Providers.DeepSeekAPIKey = firstNonEmpty(c.Providers.DeepSeekAPIKey, os.Getenv("DEEPSEEK_API_KEY"))
	c.Providers.LLMServiceURL = firstNonEmpty(c.Providers.LLMServiceURL, os.Getenv("LLM_SERVICE_URL"))
	c.Tools.TavilyAPIKey = firstNonEmpty(c.Tools.TavilyAPIKey, os.Getenv("TAVILY_API_KEY"))
	if p := os.Getenv("METRICS_PORT"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			c.Observability.Metrics.Port = v
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Millis converts a millisecond knob to a duration, falling back when unset.
func Millis(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
