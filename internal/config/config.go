// Package config loads and resolves configuration for the orchestration
// core: a base YAML document overlaid by an environment-specific document
// selected by APP_ENV, plus a .env secrets overlay for values that should
// never live in a committed config file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the orchestration core.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Agents      AgentsConfig      `mapstructure:"agents"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`
	Registry    RegistryConfig    `mapstructure:"registry"`
	Routing     RoutingConfig     `mapstructure:"routing"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig holds bearer-token authentication settings.
type AuthConfig struct {
	// Tokens is the static set of accepted bearer tokens. Empty disables
	// auth entirely (development convenience, never set in prod overlay).
	Tokens []string `mapstructure:"tokens"`
}

// ConcurrencyConfig bounds process-wide resource usage.
type ConcurrencyConfig struct {
	MaxInFlight int64 `mapstructure:"max_in_flight"`
}

// RegistryConfig locates agent executables.
type RegistryConfig struct {
	// BinDir is the directory searched for an executable named after each
	// agent (e.g. BinDir/echo_agent).
	BinDir string `mapstructure:"bin_dir"`
}

// RoutingConfig controls how the shipped keyword planner assigns a chat
// message to an agent: the first matching rule wins, and DefaultAgent is
// used when no rule matches. Kept agent-agnostic (plain strings) so this
// package never has to import internal/planner.
type RoutingConfig struct {
	DefaultAgent string        `mapstructure:"default_agent"`
	Rules        []RoutingRule `mapstructure:"rules"`
}

// RoutingRule maps a set of case-insensitive keywords to a target agent.
type RoutingRule struct {
	Agent    string   `mapstructure:"agent"`
	Keywords []string `mapstructure:"keywords"`
}

// RetryConfig controls the retry controller's attempt budget and backoff.
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// CircuitConfig controls the health store's circuit breaker.
type CircuitConfig struct {
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

// AgentExecutionConfig is the effective, fully-resolved execution policy
// for one agent: a timeout, a retry policy, and a circuit breaker policy.
type AgentExecutionConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Circuit CircuitConfig `mapstructure:"circuit"`
}

// AgentsConfig holds the default execution policy plus named per-agent
// overrides. Use Resolve to compute the effective policy for an agent.
// Overlays is populated separately from viper's raw settings map, since
// mapstructure can't cleanly distinguish the "default" key from arbitrary
// agent names living in the same "agents" map.
type AgentsConfig struct {
	Default  AgentExecutionConfig             `mapstructure:"default"`
	Overlays map[string]AgentExecutionConfig `mapstructure:"-"`
}

// Resolve computes the effective execution config for agent, taking the
// default and overlaying any fields the agent-specific document sets.
// Ambiguous fields (present in both) take the overlay's value; this is a
// pure function of (default, overlay) with no shared mutable state.
func (a AgentsConfig) Resolve(agent string) AgentExecutionConfig {
	effective := a.Default
	overlay, ok := a.Overlays[agent]
	if !ok {
		return effective
	}
	if overlay.Timeout != 0 {
		effective.Timeout = overlay.Timeout
	}
	if overlay.Retry.MaxAttempts != 0 {
		effective.Retry.MaxAttempts = overlay.Retry.MaxAttempts
	}
	if overlay.Retry.InitialBackoff != 0 {
		effective.Retry.InitialBackoff = overlay.Retry.InitialBackoff
	}
	if overlay.Retry.MaxBackoff != 0 {
		effective.Retry.MaxBackoff = overlay.Retry.MaxBackoff
	}
	if overlay.Circuit.FailureThreshold != 0 {
		effective.Circuit.FailureThreshold = overlay.Circuit.FailureThreshold
	}
	if overlay.Circuit.Cooldown != 0 {
		effective.Circuit.Cooldown = overlay.Circuit.Cooldown
	}
	return effective
}

// Default returns baked-in defaults used when no config file is found,
// mirroring the scenario constants from the executor's test suite.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Agents: AgentsConfig{
			Default: AgentExecutionConfig{
				Timeout: 30 * time.Second,
				Retry: RetryConfig{
					MaxAttempts:    3,
					InitialBackoff: 500 * time.Millisecond,
					MaxBackoff:     5 * time.Second,
				},
				Circuit: CircuitConfig{
					FailureThreshold: 3,
					Cooldown:         60 * time.Second,
				},
			},
			Overlays: map[string]AgentExecutionConfig{},
		},
		Concurrency: ConcurrencyConfig{MaxInFlight: 64},
		Registry:    RegistryConfig{BinDir: "."},
		Routing: RoutingConfig{
			DefaultAgent: "echo_agent",
			Rules: []RoutingRule{
				{Agent: "shell_agent", Keywords: []string{"git", "commit"}},
			},
		},
	}
}

// Load reads a base config document overlaid by an environment-specific
// document selected by APP_ENV (dev, staging, prod), plus a .env file for
// secrets such as AUTH_TOKENS. dir is the directory holding config.yaml
// and config.<env>.yaml; an empty dir defaults to "configs".
func Load(dir string) (*Config, error) {
	if dir == "" {
		dir = "configs"
	}

	_ = godotenv.Load(filepath.Join(dir, ".env"))

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read base config: %w", err)
		}
	}

	env := resolveEnv()
	overlayPath := filepath.Join(dir, fmt.Sprintf("config.%s.yaml", env))
	if _, err := os.Stat(overlayPath); err == nil {
		ov := viper.New()
		ov.SetConfigFile(overlayPath)
		if err := ov.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s overlay: %w", env, err)
		}
		if err := v.MergeConfigMap(ov.AllSettings()); err != nil {
			return nil, fmt.Errorf("config: merge %s overlay: %w", env, err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	if tokens := os.Getenv("AUTH_TOKENS"); tokens != "" {
		cfg.Auth.Tokens = splitTokens(tokens)
	}

	return cfg, nil
}

// Watch installs a callback invoked with a freshly loaded Config whenever
// a file in dir is written or created, so operators can flip a
// circuit-breaker knob without a restart. A reload that fails to load is
// skipped without calling onChange. It follows the teacher's
// fsnotify-based reload pattern.
func Watch(dir string, onChange func(*Config)) (*fsnotify.Watcher, error) {
	if dir == "" {
		dir = "configs"
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config: watch %s: %w", dir, err)
	}

	go func() {
		for event := range watcher.Events {
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(dir)
			if err != nil {
				continue
			}
			onChange(cfg)
		}
	}()

	return watcher, nil
}

func resolveEnv() string {
	env := os.Getenv("APP_ENV")
	switch env {
	case "dev", "staging", "prod":
		return env
	default:
		return "dev"
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout.String())
	v.SetDefault("agents.default.timeout", d.Agents.Default.Timeout.String())
	v.SetDefault("agents.default.retry.max_attempts", d.Agents.Default.Retry.MaxAttempts)
	v.SetDefault("agents.default.retry.initial_backoff", d.Agents.Default.Retry.InitialBackoff.String())
	v.SetDefault("agents.default.retry.max_backoff", d.Agents.Default.Retry.MaxBackoff.String())
	v.SetDefault("agents.default.circuit.failure_threshold", d.Agents.Default.Circuit.FailureThreshold)
	v.SetDefault("agents.default.circuit.cooldown", d.Agents.Default.Circuit.Cooldown.String())
	v.SetDefault("concurrency.max_in_flight", d.Concurrency.MaxInFlight)
	v.SetDefault("registry.bin_dir", d.Registry.BinDir)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	overlays := map[string]AgentExecutionConfig{}
	agentsRaw, ok := v.Get("agents").(map[string]interface{})
	if ok {
		for name, raw := range agentsRaw {
			if name == "default" {
				continue
			}
			sub := v.Sub("agents." + name)
			if sub == nil {
				continue
			}
			var ec AgentExecutionConfig
			if err := sub.Unmarshal(&ec); err != nil {
				return nil, fmt.Errorf("config: unmarshal agents.%s: %w", name, err)
			}
			overlays[name] = ec
			_ = raw
		}
	}
	cfg.Agents.Overlays = overlays

	// Routing has no scalar viper defaults (a rule list doesn't round-trip
	// cleanly through SetDefault), so an absent key falls back explicitly
	// here rather than via setDefaults.
	if !v.IsSet("routing.default_agent") {
		cfg.Routing.DefaultAgent = Default().Routing.DefaultAgent
	}
	if !v.IsSet("routing.rules") {
		cfg.Routing.Rules = Default().Routing.Rules
	}

	return cfg, nil
}

func splitTokens(s string) []string {
	var tokens []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				tokens = append(tokens, s[start:i])
			}
			start = i + 1
		}
	}
	return tokens
}
