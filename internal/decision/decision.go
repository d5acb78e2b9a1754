// Package decision defines the capability contract that turns agent and
// environment context into a structured decision. The engine treats the
// capability as an opaque, potentially slow, potentially failing remote
// call; backends include Anthropic, OpenAI-compatible endpoints, a local
// GGUF model, a deterministic rule-based fallback, and a mock for tests.
package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/citykit/govsim/internal/agent"
	"github.com/citykit/govsim/internal/world"
)

// ErrUnavailable reports that the capability failed or timed out. The loop
// substitutes the defined default decision after the retry budget is spent;
// it never crashes the run.
var ErrUnavailable = errors.New("decision capability unavailable")

// Decision is a structured action descriptor. The engine is agnostic to the
// params beyond what rule predicates and effects consume.
type Decision struct {
	// Action is the action kind, e.g. "service_provision", "provide_feedback".
	Action string `json:"action" yaml:"action"`

	// Target names the side the action is directed at: "government",
	// "enterprises", "residents", or "none".
	Target string `json:"target" yaml:"target"`

	// Params carries action parameters the capability chose to attach.
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`

	// Reason is the capability's stated rationale, kept for the trace.
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// NoOp is the defined default decision substituted when the capability is
// unavailable for an agent in a round.
func NoOp() Decision {
	return Decision{Action: "no_action", Target: "none", Reason: "capability unavailable"}
}

// Request carries everything a backend may use to decide: the agent's
// current state, a bounded history tail, and a frozen environment snapshot
// for the round.
type Request struct {
	Agent       agent.Snapshot
	History     []agent.HistoryEntry
	Environment world.Snapshot
}

// Config configures a decision capability backend.
type Config struct {
	// Provider identifies the backend: "anthropic", "openai", "local",
	// "fallback", or "" for fallback.
	Provider string `json:"provider" yaml:"provider"`

	// APIKey is the provider API key. Supports ${VAR} expansion in config
	// files. Not used by local or fallback.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// BaseURL overrides the API endpoint for OpenAI-compatible providers.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// Model is the model identifier to request.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// Timeout is the hard per-call deadline.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxAttempts is the retry budget for transient failures (total
	// attempts, not retries). Zero means 1.
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`

	// Backoff is the initial delay between attempts; it doubles per retry.
	Backoff time.Duration `json:"backoff,omitempty" yaml:"backoff,omitempty"`

	// LocalModelPath is the GGUF model path for the "local" provider.
	// Requires building with -tags llamacpp.
	LocalModelPath string `json:"local_model_path,omitempty" yaml:"local_model_path,omitempty"`

	// LocalLibPath is the directory holding the llama.cpp shared
	// libraries. Falls back to the YZMA_LIB environment variable.
	LocalLibPath string `json:"local_lib_path,omitempty" yaml:"local_lib_path,omitempty"`

	// LocalGPULayers is the number of layers to offload to GPU (0 = CPU).
	LocalGPULayers int `json:"local_gpu_layers,omitempty" yaml:"local_gpu_layers,omitempty"`

	// LocalContextSize is the context window in tokens for the local model.
	LocalContextSize int `json:"local_context_size,omitempty" yaml:"local_context_size,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Provider:    "fallback",
		Timeout:     30 * time.Second,
		MaxAttempts: 3,
		Backoff:     500 * time.Millisecond,
	}
}

// UnmarshalYAML decodes the config, accepting duration strings like "30s"
// for the timeout and backoff fields.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	aux := struct {
		Provider         string `yaml:"provider"`
		APIKey           string `yaml:"api_key"`
		BaseURL          string `yaml:"base_url"`
		Model            string `yaml:"model"`
		Timeout          string `yaml:"timeout"`
		MaxAttempts      int    `yaml:"max_attempts"`
		Backoff          string `yaml:"backoff"`
		LocalModelPath   string `yaml:"local_model_path"`
		LocalLibPath     string `yaml:"local_lib_path"`
		LocalGPULayers   int    `yaml:"local_gpu_layers"`
		LocalContextSize int    `yaml:"local_context_size"`
	}{
		Provider:         c.Provider,
		APIKey:           c.APIKey,
		BaseURL:          c.BaseURL,
		Model:            c.Model,
		MaxAttempts:      c.MaxAttempts,
		LocalModelPath:   c.LocalModelPath,
		LocalLibPath:     c.LocalLibPath,
		LocalGPULayers:   c.LocalGPULayers,
		LocalContextSize: c.LocalContextSize,
	}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	c.Provider = aux.Provider
	c.APIKey = aux.APIKey
	c.BaseURL = aux.BaseURL
	c.Model = aux.Model
	c.MaxAttempts = aux.MaxAttempts
	c.LocalModelPath = aux.LocalModelPath
	c.LocalLibPath = aux.LocalLibPath
	c.LocalGPULayers = aux.LocalGPULayers
	c.LocalContextSize = aux.LocalContextSize
	if aux.Timeout != "" {
		d, err := time.ParseDuration(aux.Timeout)
		if err != nil {
			return fmt.Errorf("decision timeout: %w", err)
		}
		c.Timeout = d
	}
	if aux.Backoff != "" {
		d, err := time.ParseDuration(aux.Backoff)
		if err != nil {
			return fmt.Errorf("decision backoff: %w", err)
		}
		c.Backoff = d
	}
	return nil
}

// RedactedAPIKey returns the API key with most characters masked.
func (c Config) RedactedAPIKey() string {
	if c.APIKey == "" {
		return ""
	}
	if len(c.APIKey) < 12 {
		return "(set)"
	}
	return c.APIKey[:4] + "..." + c.APIKey[len(c.APIKey)-4:]
}

// Capability is the external reasoning service contract. Implementations
// must be safe for concurrent use: the loop issues independent per-agent
// requests in parallel against a frozen environment snapshot.
type Capability interface {
	// Decide returns a structured decision for the agent. Errors wrap
	// ErrUnavailable when the failure is a capability outage rather than a
	// programming defect.
	Decide(ctx context.Context, req Request) (Decision, error)

	// Available reports whether the backend is configured and ready.
	Available() bool
}

// Closer is an optional interface for capabilities holding resources.
// Callers type-assert and call Close when done.
type Closer interface {
	Close() error
}

// New constructs the capability for the configured provider, wrapped with
// the retry policy. Unknown or empty providers get the rule-based fallback.
func New(cfg Config) Capability {
	var inner Capability
	switch cfg.Provider {
	case "anthropic":
		inner = NewAnthropicCapability(cfg)
	case "openai":
		inner = NewOpenAICapability(cfg)
	case "local":
		inner = NewLocalCapability(LocalConfig{
			ModelPath:   cfg.LocalModelPath,
			LibPath:     cfg.LocalLibPath,
			GPULayers:   cfg.LocalGPULayers,
			ContextSize: cfg.LocalContextSize,
		})
	case "mock":
		inner = NewMockCapability()
	default:
		inner = NewFallbackCapability()
	}
	return WithRetry(inner, cfg)
}
