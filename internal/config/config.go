// Package config loads the typed configuration the embedding binary
// (cmd/hivemindd) assembles into a manager.Config. Grounded on the teacher's
// internal/config.Load: read the file, expand environment variables, decode
// strict YAML, apply environment overrides, apply defaults, validate.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	agentcontext "github.com/hivemindctl/hivemind/internal/agent/context"
	"github.com/hivemindctl/hivemind/internal/audit"
	"github.com/hivemindctl/hivemind/internal/cycle"
	"github.com/hivemindctl/hivemind/internal/eventbus"
	"github.com/hivemindctl/hivemind/internal/heartbeat"
	"github.com/hivemindctl/hivemind/internal/manager"
	modelcatalog "github.com/hivemindctl/hivemind/internal/models"
	"github.com/hivemindctl/hivemind/internal/observability"
	"github.com/hivemindctl/hivemind/internal/persistence"
)

// Config is the top-level configuration for a hivemindd process.
type Config struct {
	Manager       ManagerConfig                    `yaml:"manager"`
	EventBus      eventbus.Config                  `yaml:"event_bus"`
	Cycle         cycle.Config                      `yaml:"cycle"`
	Heartbeat     heartbeat.Config                  `yaml:"heartbeat"`
	Pack          agentcontext.PackOptions          `yaml:"pack"`
	Summarization agentcontext.SummarizationConfig  `yaml:"summarization"`
	Audit         audit.Config                      `yaml:"audit"`
	Persistence   PersistenceConfig                 `yaml:"persistence"`
	Providers     ProvidersConfig                   `yaml:"providers"`
	Tracing       TracingConfig                     `yaml:"tracing"`
}

// TracingConfig configures the OTel tracer wrapped around every cycle and
// tool dispatch. An empty Endpoint (the default) leaves tracing as a no-op,
// same as the teacher's OTEL_EXPORTER_OTLP_ENDPOINT-gated setup.
type TracingConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`
	Endpoint       string `yaml:"endpoint"`
	SamplingRate   float64 `yaml:"sampling_rate"`
	Insecure       bool    `yaml:"insecure"`
}

// ManagerConfig mirrors the scalar fields of manager.Config that make sense
// as YAML; Store is wired up separately in cmd/hivemindd since constructing
// it may dial a database.
type ManagerConfig struct {
	WorkerPoolSize       int `yaml:"worker_pool_size"`
	QueueSize            int `yaml:"queue_size"`
	PMTickIntervalNS     int64 `yaml:"pm_tick_interval_ns"`
	ShutdownDrainTimeoutNS int64 `yaml:"shutdown_drain_timeout_ns"`
	SnapshotIntervalNS   int64 `yaml:"snapshot_interval_ns"`
	DefaultModel         string `yaml:"default_model"`
	DefaultProvider      string `yaml:"default_provider"`
}

// PersistenceConfig selects and configures the persistence.Store backing a
// Manager. Mode "memory" (the default) runs the spec's volatile mode; "sql"
// durably records events/messages/sessions via persistence.SQLStore.
type PersistenceConfig struct {
	Mode string             `yaml:"mode"`
	SQL  persistence.Config `yaml:"sql"`
}

// ProvidersConfig lists which LLMProvider backends to construct at startup.
// API keys are never read from the config file; each provider reads its own
// credentials from the environment (ANTHROPIC_API_KEY, OPENAI_API_KEY,
// GOOGLE_API_KEY, and the AWS credential chain for Bedrock), mirroring the
// teacher's documented environment variable surface.
type ProvidersConfig struct {
	Anthropic AnthropicProviderConfig `yaml:"anthropic"`
	OpenAI    OpenAIProviderConfig    `yaml:"openai"`
	Bedrock   BedrockProviderConfig   `yaml:"bedrock"`
	Google    GoogleProviderConfig    `yaml:"google"`
}

type AnthropicProviderConfig struct {
	Enabled      bool   `yaml:"enabled"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

type OpenAIProviderConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DefaultModel string `yaml:"default_model"`
}

type BedrockProviderConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Region       string `yaml:"region"`
	DefaultModel string `yaml:"default_model"`

	// Discovery optionally queries the account's enabled Bedrock foundation
	// models at startup and registers them into the model catalog, rather
	// than relying solely on the catalog's fixed built-in entries (Bedrock
	// carries none).
	Discovery modelcatalog.BedrockDiscoveryConfig `yaml:"discovery"`
}

type GoogleProviderConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DefaultModel string `yaml:"default_model"`
}

// Load reads, expands, decodes, and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("config: %s must contain a single YAML document", path)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); v != "" {
		cfg.Tracing.Endpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("HIVEMIND_DEFAULT_PROVIDER")); v != "" {
		cfg.Manager.DefaultProvider = v
	}
	if v := strings.TrimSpace(os.Getenv("HIVEMIND_DEFAULT_MODEL")); v != "" {
		cfg.Manager.DefaultModel = v
	}
	if v := strings.TrimSpace(os.Getenv("HIVEMIND_WORKER_POOL_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Manager.WorkerPoolSize = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("HIVEMIND_PERSISTENCE_MODE")); v != "" {
		cfg.Persistence.Mode = v
	}
	if v := strings.TrimSpace(os.Getenv("HIVEMIND_DB_HOST")); v != "" {
		cfg.Persistence.SQL.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("HIVEMIND_DB_PASSWORD")); v != "" {
		cfg.Persistence.SQL.Password = v
	}
}

func applyDefaults(cfg *Config) {
	mgrDefaults := manager.DefaultConfig()
	if cfg.Manager.WorkerPoolSize == 0 {
		cfg.Manager.WorkerPoolSize = mgrDefaults.WorkerPoolSize
	}
	if cfg.Manager.QueueSize == 0 {
		cfg.Manager.QueueSize = mgrDefaults.QueueSize
	}
	if cfg.Manager.PMTickIntervalNS == 0 {
		cfg.Manager.PMTickIntervalNS = mgrDefaults.PMTickInterval.Nanoseconds()
	}
	if cfg.Manager.ShutdownDrainTimeoutNS == 0 {
		cfg.Manager.ShutdownDrainTimeoutNS = mgrDefaults.ShutdownDrainTimeout.Nanoseconds()
	}
	if cfg.Manager.SnapshotIntervalNS == 0 {
		cfg.Manager.SnapshotIntervalNS = mgrDefaults.SnapshotInterval.Nanoseconds()
	}
	if cfg.Manager.DefaultProvider == "" {
		cfg.Manager.DefaultProvider = "anthropic"
	}

	if cfg.EventBus.HistorySize == 0 {
		cfg.EventBus = mgrDefaults.EventBus
	}
	if cfg.Cycle.CycleDeadline == 0 {
		cfg.Cycle = mgrDefaults.Cycle
	}
	if cfg.Heartbeat.EmptyResponseLimit == 0 {
		cfg.Heartbeat = mgrDefaults.Heartbeat
	}
	if cfg.Pack.MaxMessages == 0 {
		cfg.Pack = mgrDefaults.Pack
	}
	if cfg.Summarization.MaxMsgsBeforeSummary == 0 {
		cfg.Summarization = mgrDefaults.Summarization
	}
	if cfg.Audit.MaxFieldSize == 0 {
		cfg.Audit = mgrDefaults.Audit
	}

	if cfg.Persistence.Mode == "" {
		cfg.Persistence.Mode = "memory"
	}
	sqlDefaults := persistence.DefaultConfig()
	if cfg.Persistence.SQL.Port == 0 {
		cfg.Persistence.SQL.Port = sqlDefaults.Port
	}
	if cfg.Persistence.SQL.Host == "" {
		cfg.Persistence.SQL.Host = sqlDefaults.Host
	}
	if cfg.Persistence.SQL.User == "" {
		cfg.Persistence.SQL.User = sqlDefaults.User
	}
	if cfg.Persistence.SQL.Database == "" {
		cfg.Persistence.SQL.Database = sqlDefaults.Database
	}
	if cfg.Persistence.SQL.SSLMode == "" {
		cfg.Persistence.SQL.SSLMode = sqlDefaults.SSLMode
	}
	if cfg.Persistence.SQL.MaxOpenConns == 0 {
		cfg.Persistence.SQL.MaxOpenConns = sqlDefaults.MaxOpenConns
	}
	if cfg.Persistence.SQL.MaxIdleConns == 0 {
		cfg.Persistence.SQL.MaxIdleConns = sqlDefaults.MaxIdleConns
	}
	if cfg.Persistence.SQL.ConnMaxLifetime == 0 {
		cfg.Persistence.SQL.ConnMaxLifetime = sqlDefaults.ConnMaxLifetime
	}
	if cfg.Persistence.SQL.ConnectTimeout == 0 {
		cfg.Persistence.SQL.ConnectTimeout = sqlDefaults.ConnectTimeout
	}

	if cfg.Providers.Anthropic.DefaultModel == "" {
		cfg.Providers.Anthropic.DefaultModel = catalogDefaultModel(modelcatalog.ProviderAnthropic, "claude-3-5-sonnet-latest")
	}
	if cfg.Providers.Google.DefaultModel == "" {
		cfg.Providers.Google.DefaultModel = catalogDefaultModel(modelcatalog.ProviderGoogle, "gemini-2.0-flash")
	}
	if cfg.Providers.Bedrock.Region == "" {
		cfg.Providers.Bedrock.Region = "us-east-1"
	}
	// Bedrock carries no catalog entries: its models are discovered at runtime
	// from the account's enabled foundation models (internal/models's
	// BedrockDiscovery), not fixed IDs known ahead of time.

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "hivemind"
	}
}

// catalogDefaultModel picks the standard-tier, non-deprecated model the
// catalog knows for provider, falling back to fallback when the catalog has
// nothing registered for it (or every entry is deprecated).
func catalogDefaultModel(provider modelcatalog.Provider, fallback string) string {
	for _, m := range modelcatalog.ListByProvider(provider) {
		if !m.Deprecated && m.Tier == modelcatalog.TierStandard {
			return m.ID
		}
	}
	return fallback
}

// validateCatalogModel flags a configured default model that the catalog
// knows about and marks deprecated. A model the catalog has never heard of
// is not an error here: the catalog lags real provider releases, and callers
// may legitimately target a model newer than the catalog's built-ins.
func validateCatalogModel(field, id string) []string {
	if id == "" {
		return nil
	}
	m, ok := modelcatalog.Get(id)
	if !ok || !m.Deprecated {
		return nil
	}
	if m.ReplacedBy != "" {
		return []string{fmt.Sprintf("%s: %q is deprecated, use %q instead", field, id, m.ReplacedBy)}
	}
	return []string{fmt.Sprintf("%s: %q is deprecated", field, id)}
}

type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validate(cfg *Config) error {
	var issues []string

	if cfg.Manager.WorkerPoolSize <= 0 {
		issues = append(issues, "manager.worker_pool_size must be > 0")
	}
	if cfg.Manager.QueueSize <= 0 {
		issues = append(issues, "manager.queue_size must be > 0")
	}
	if cfg.Persistence.Mode != "memory" && cfg.Persistence.Mode != "sql" {
		issues = append(issues, `persistence.mode must be "memory" or "sql"`)
	}
	if !cfg.Providers.Anthropic.Enabled && !cfg.Providers.OpenAI.Enabled &&
		!cfg.Providers.Bedrock.Enabled && !cfg.Providers.Google.Enabled {
		issues = append(issues, "providers: at least one of anthropic/openai/bedrock/google must be enabled")
	}
	if cfg.Providers.Anthropic.Enabled {
		issues = append(issues, validateCatalogModel("providers.anthropic.default_model", cfg.Providers.Anthropic.DefaultModel)...)
	}
	if cfg.Providers.Google.Enabled {
		issues = append(issues, validateCatalogModel("providers.google.default_model", cfg.Providers.Google.DefaultModel)...)
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// ToManagerConfig builds the manager.Config this configuration describes,
// substituting store for the persistence backend (constructed separately by
// the caller, since opening a SQL connection needs a context and may fail).
func (c *Config) ToManagerConfig(store persistence.Store) manager.Config {
	return manager.Config{
		WorkerPoolSize:       c.Manager.WorkerPoolSize,
		QueueSize:            c.Manager.QueueSize,
		PMTickInterval:       nsToDuration(c.Manager.PMTickIntervalNS),
		ShutdownDrainTimeout: nsToDuration(c.Manager.ShutdownDrainTimeoutNS),
		EventBus:             c.EventBus,
		Cycle:                c.Cycle,
		Heartbeat:            c.Heartbeat,
		Pack:                 c.Pack,
		Summarization:        c.Summarization,
		Audit:                c.Audit,
		DefaultModel:         c.Manager.DefaultModel,
		DefaultProvider:      c.Manager.DefaultProvider,
		Store:                store,
		SnapshotInterval:     nsToDuration(c.Manager.SnapshotIntervalNS),
		Tracing: observability.TraceConfig{
			ServiceName:    c.Tracing.ServiceName,
			ServiceVersion: c.Tracing.ServiceVersion,
			Environment:    c.Tracing.Environment,
			Endpoint:       c.Tracing.Endpoint,
			SamplingRate:   c.Tracing.SamplingRate,
			EnableInsecure: c.Tracing.Insecure,
		},
	}
}

func nsToDuration(ns int64) time.Duration {
	return time.Duration(ns)
}
