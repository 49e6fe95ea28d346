package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MarketConfig describes one market the dispatcher can route to.
type MarketConfig struct {
	Name          string        `mapstructure:"name"`
	DisplayName   string        `mapstructure:"display_name"`
	Qualifier     string        `mapstructure:"qualifier"`       // e.g. ".KS", "KRW-"
	CodeMinDigits int           `mapstructure:"code_min_digits"` // numeric-code rule, 0 disables
	CodeMaxDigits int           `mapstructure:"code_max_digits"`
	RefdataURL    string        `mapstructure:"refdata_url"`
	RefdataTTL    time.Duration `mapstructure:"refdata_ttl"`
	ProviderURL   string        `mapstructure:"provider_url"` // market data provider base URL
}

// ResolverConfig holds symbol resolution knobs shared by all markets.
type ResolverConfig struct {
	FuzzyThreshold int      `mapstructure:"fuzzy_threshold"` // 0-100 similarity cutoff
	MaxCandidates  int      `mapstructure:"max_candidates"`  // candidate tokens per query
	MarketPriority []string `mapstructure:"market_priority"` // stable multi-dispatch order
}

// OracleConfig holds the classification oracle endpoint settings.
type OracleConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ToolsConfig holds outbound tool call settings.
type ToolsConfig struct {
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// WorkflowConfig holds dispatch workflow behavior knobs.
type WorkflowConfig struct {
	ConfirmationTimeout time.Duration `mapstructure:"confirmation_timeout"`
	AgentTimeout        time.Duration `mapstructure:"agent_timeout"`
	TaskQueue           string        `mapstructure:"task_queue"`
}

// ServiceConfig holds process-level settings.
type ServiceConfig struct {
	HTTPPort   int    `mapstructure:"http_port"`
	AdminPort  int    `mapstructure:"admin_port"`
	JWTSecret  string `mapstructure:"jwt_secret"`
	APIKeyHash string `mapstructure:"api_key_hash"` // bcrypt hash; empty disables key auth
}

// Config is the root dispatcher configuration.
type Config struct {
	Service  ServiceConfig  `mapstructure:"service"`
	Markets  []MarketConfig `mapstructure:"markets"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Tools    ToolsConfig    `mapstructure:"tools"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Redis    struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"redis"`
	Postgres struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Database string `mapstructure:"database"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"postgres"`
	Temporal struct {
		HostPort  string `mapstructure:"host_port"`
		Namespace string `mapstructure:"namespace"`
	} `mapstructure:"temporal"`
	Tracing struct {
		Enabled      bool   `mapstructure:"enabled"`
		OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	} `mapstructure:"tracing"`
}

// Load reads dispatch.yaml from CONFIG_PATH or ./config/dispatch.yaml and
// applies defaults for anything the file omits.
func Load() (*Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "./config/dispatch.yaml"
	}

	v := viper.New()
	v.SetConfigFile(cfgPath)
	v.SetEnvPrefix("DISPATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Service.HTTPPort == 0 {
		c.Service.HTTPPort = 8080
	}
	if c.Service.AdminPort == 0 {
		c.Service.AdminPort = 8081
	}
	if c.Resolver.FuzzyThreshold == 0 {
		c.Resolver.FuzzyThreshold = 80
	}
	if c.Resolver.MaxCandidates == 0 {
		c.Resolver.MaxCandidates = 5
	}
	if len(c.Resolver.MarketPriority) == 0 {
		for _, m := range c.Markets {
			c.Resolver.MarketPriority = append(c.Resolver.MarketPriority, m.Name)
		}
	}
	if c.Oracle.Timeout == 0 {
		c.Oracle.Timeout = 15 * time.Second
	}
	if c.Tools.CallTimeout == 0 {
		c.Tools.CallTimeout = 5 * time.Second
	}
	if c.Workflow.ConfirmationTimeout == 0 {
		c.Workflow.ConfirmationTimeout = 5 * time.Minute
	}
	if c.Workflow.AgentTimeout == 0 {
		c.Workflow.AgentTimeout = 30 * time.Second
	}
	if c.Workflow.TaskQueue == "" {
		c.Workflow.TaskQueue = "market-dispatch"
	}
	if c.Temporal.HostPort == "" {
		c.Temporal.HostPort = "localhost:7233"
	}
	if c.Temporal.Namespace == "" {
		c.Temporal.Namespace = "default"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	for i := range c.Markets {
		if c.Markets[i].RefdataTTL == 0 {
			c.Markets[i].RefdataTTL = 24 * time.Hour
		}
	}
}

// Validate rejects configurations that would leave routing undefined.
func (c *Config) Validate() error {
	if len(c.Markets) == 0 {
		return fmt.Errorf("config: at least one market is required")
	}
	seen := make(map[string]bool, len(c.Markets))
	for _, m := range c.Markets {
		if m.Name == "" {
			return fmt.Errorf("config: market with empty name")
		}
		if seen[m.Name] {
			return fmt.Errorf("config: duplicate market %q", m.Name)
		}
		seen[m.Name] = true
		if m.CodeMinDigits > m.CodeMaxDigits {
			return fmt.Errorf("config: market %q code digit range inverted", m.Name)
		}
	}
	for _, name := range c.Resolver.MarketPriority {
		if !seen[name] {
			return fmt.Errorf("config: market_priority references unknown market %q", name)
		}
	}
	if c.Resolver.FuzzyThreshold < 0 || c.Resolver.FuzzyThreshold > 100 {
		return fmt.Errorf("config: fuzzy_threshold must be within 0-100")
	}
	return nil
}

// Market returns the configuration for a named market.
func (c *Config) Market(name string) (MarketConfig, bool) {
	for _, m := range c.Markets {
		if m.Name == name {
			return m, true
		}
	}
	return MarketConfig{}, false
}
