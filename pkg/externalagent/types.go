// Package externalagent implements the registry and outbound proxy for
// remote agents: registration, periodic health checks, per-agent
// circuit breakers, and retrying streaming/non-streaming execution.
//
// Grounded on the teacher's pkg/mcp package: ClientFactory/Client
// connection-lifecycle idiom, HealthMonitor's ticker-driven health loop
// (pkg/mcp/health.go), and recovery.go's error classification into
// retry/no-retry actions, generalized from MCP session recovery to
// HTTP calls against arbitrary external agents.
package externalagent

import (
	"time"
)

// StreamProtocol names how an agent exposes streaming output.
type StreamProtocol string

// Supported streaming protocols.
const (
	StreamSSE       StreamProtocol = "sse"
	StreamWebSocket StreamProtocol = "websocket"
	StreamChunked   StreamProtocol = "chunked"
	StreamNone      StreamProtocol = "none"
)

// AuthMethod names how requests to an agent are authenticated.
type AuthMethod string

// Supported authentication methods.
const (
	AuthNone   AuthMethod = "none"
	AuthAPIKey AuthMethod = "api-key"
	AuthBearer AuthMethod = "bearer"
	AuthBasic  AuthMethod = "basic"
)

// HealthStatus is the current reachability classification of an agent.
type HealthStatus string

// Supported health statuses.
const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown"
)

// RetryPolicy governs the proxy's retry/backoff loop.
type RetryPolicy struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RetryableStatus map[int]bool
}

// DefaultRetryPolicy mirrors spec.md §4.3's defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		RetryableStatus: map[int]bool{
			408: true, 429: true, 500: true, 502: true, 503: true, 504: true,
		},
	}
}

// Config is the immutable-after-registration configuration half of an
// ExternalAgent.
type Config struct {
	ID             string
	BaseURL        string
	ExecutePath    string
	StreamPath     string
	HealthPath     string
	InfoPath       string
	Protocol       StreamProtocol
	Auth           AuthMethod
	AuthHeaderName string // default X-API-Key when Auth is AuthAPIKey and unset
	AuthCredential string
	Retry          RetryPolicy
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	MaxConcurrency int
	HealthInterval time.Duration
	Enabled        bool
}

// WithDefaults fills zero-valued fields of cfg with sensible defaults,
// mirroring spec.md §4.3's "registration merges supplied config with
// defaults". HealthInterval is left as given, so zero means no
// health-check ticker.
func (cfg Config) WithDefaults() Config {
	if cfg.ExecutePath == "" {
		cfg.ExecutePath = "/execute"
	}
	if cfg.StreamPath == "" {
		cfg.StreamPath = "/execute/stream"
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/health"
	}
	if cfg.InfoPath == "" {
		cfg.InfoPath = "/info"
	}
	if cfg.Protocol == "" {
		cfg.Protocol = StreamNone
	}
	if cfg.Auth == "" {
		cfg.Auth = AuthNone
	}
	if cfg.AuthHeaderName == "" && cfg.Auth == AuthAPIKey {
		cfg.AuthHeaderName = "X-API-Key"
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialDelay == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = 10
	}
	return cfg
}

// InfoCard is the best-effort capability card fetched at registration
// from Config.InfoPath.
type InfoCard struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
	Category    string         `json:"category,omitempty"`
	Tier        string         `json:"tier,omitempty"`
}

// State is the mutable runtime half of an ExternalAgent.
type State struct {
	Health             HealthStatus
	LastCheck          time.Time
	ActiveRequests     int
	TotalRequests      int64
	TotalErrors        int64
	EWMAResponseMillis float64
	CircuitBroken      bool
	CircuitResetAt     time.Time
	Info               *InfoCard
}

// ExecuteRequest is the payload sent to an external agent's execute
// endpoint.
type ExecuteRequest struct {
	Task      string         `json:"task"`
	Stream    bool           `json:"stream"`
	Model     string         `json:"model,omitempty"`
	Budget    float64        `json:"budget,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	RequestID string         `json:"request_id"`
}

// ExecuteResponse is the payload an external agent returns from a
// non-streaming execute call.
type ExecuteResponse struct {
	Result string         `json:"result"`
	Usage  map[string]any `json:"usage,omitempty"`
}

// StreamEvent is one event forwarded from an external agent's stream,
// or synthesized when bridging a non-streaming upstream to a
// streaming caller.
type StreamEvent struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Seq       int    `json:"seq"`
	RequestID string `json:"requestId"`
}
