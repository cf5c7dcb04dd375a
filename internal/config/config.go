// Package config holds the gateway configuration: a JSON5 file with
// defaults, overlaid by LIGO_* environment variables. Secrets (DSN,
// encryption key, provider API keys) come from the environment only and
// are never written back to the file.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the root configuration for the ligo gateway.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway,omitempty"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Channels  ChannelsConfig  `json:"channels,omitempty"`
	Memory    MemoryConfig    `json:"memory,omitempty"`
	Thread    ThreadConfig    `json:"thread,omitempty"`
	Sandbox   SandboxConfig   `json:"sandbox,omitempty"`
	Providers ProvidersConfig `json:"providers,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Guard     GuardConfig     `json:"guard,omitempty"`
}

// GatewayConfig controls the top-level process behavior.
type GatewayConfig struct {
	DataDir          string `json:"data_dir,omitempty"`           // default "./data"
	MaintenanceMode  bool   `json:"maintenance_mode,omitempty"`
	MaintenanceText  string `json:"maintenance_text,omitempty"`
	FailureText      string `json:"failure_text,omitempty"`       // "could not process" reply
	ResponseTemplate string `json:"response_template,omitempty"`  // default "@{agent_name}: {response}"
	SendRatePerMin   int    `json:"send_rate_per_min,omitempty"`  // outbound pacing per chat
	MediaCleanupSec  int    `json:"media_cleanup_sec,omitempty"`  // temp media delete delay after upload
}

// DatabaseConfig holds DB connection settings. DSN comes from env only.
type DatabaseConfig struct {
	PostgresDSN   string `json:"-"`
	EncryptionKey string `json:"-"` // hex/base64 key for tenant credential decryption
}

// ChannelsConfig configures the transport watchers.
type ChannelsConfig struct {
	Whatsapp   WhatsappConfig   `json:"whatsapp,omitempty"`
	Telegram   TelegramConfig   `json:"telegram,omitempty"`
	Playground PlaygroundConfig `json:"playground,omitempty"`

	// PollIntervalMs is the WhatsApp MCP polling cadence.
	PollIntervalMs int `json:"poll_interval_ms,omitempty"`
	// DebounceMs merges rapid messages from one chat into a single turn.
	DebounceMs int `json:"debounce_ms,omitempty"`
	// QAPhoneNumber forces the matching instance into DM-auto-off safe mode.
	QAPhoneNumber string `json:"qa_phone_number,omitempty"`
}

// WhatsappConfig configures WhatsApp MCP instance polling.
type WhatsappConfig struct {
	Enabled bool `json:"enabled,omitempty"`
	// KeepaliveTimeoutSec before the health monitor restarts the MCP container.
	KeepaliveTimeoutSec int `json:"keepalive_timeout_sec,omitempty"`
}

// TelegramConfig configures the Telegram long-poll watcher.
type TelegramConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Proxy   string `json:"proxy,omitempty"`
}

// PlaygroundConfig configures the WebSocket playground listener.
type PlaygroundConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Listen  string `json:"listen,omitempty"` // default ":8070"
}

// MemoryConfig controls the four-layer memory subsystem.
type MemoryConfig struct {
	WorkingSize      int     `json:"working_size,omitempty"`       // ring entries, default 10
	EpisodicTopK     int     `json:"episodic_top_k,omitempty"`     // default 5
	MinSimilarity    float64 `json:"min_similarity,omitempty"`     // default 0.3
	ContextCharCap   int     `json:"context_char_cap,omitempty"`   // default 50000
	ExtractEveryN    int     `json:"extract_every_n,omitempty"`    // fact extraction cadence, default 5
	ToolBufferSize   int     `json:"tool_buffer_size,omitempty"`   // tool output ring, default 10
	ToolBufferMaxAge int     `json:"tool_buffer_max_age,omitempty"` // minutes, default 120
	VectorDir        string  `json:"vector_dir,omitempty"`          // default "./data/chroma"
}

// ThreadConfig bounds the conversation-thread engine.
type ThreadConfig struct {
	AbsoluteMaxTurns        int      `json:"absolute_max_turns,omitempty"`         // default 25
	MaxMessagesPerMinute    int      `json:"max_messages_per_minute,omitempty"`    // default 15
	MaxDurationMinutes      int      `json:"max_duration_minutes,omitempty"`       // default 30
	InactivityMinutes       int      `json:"inactivity_minutes,omitempty"`         // default 30
	PostCompletionBlockSec  int      `json:"post_completion_block_sec,omitempty"`  // default 300
	LoopClosureBlockSec     int      `json:"loop_closure_block_sec,omitempty"`     // default 1800
	SessionEndPatternsExtra []string `json:"session_end_patterns_extra,omitempty"`
}

// SandboxConfig configures the per-tenant tool container.
type SandboxConfig struct {
	Enabled      bool   `json:"enabled,omitempty"`
	Image        string `json:"image,omitempty"`        // default "ligo-sandbox:latest"
	MemoryMB     int    `json:"memory_mb,omitempty"`    // default 512
	WorkspaceDir string `json:"workspace_dir,omitempty"` // default "./data/workspace"
	OutputCap    int    `json:"output_cap,omitempty"`    // chars, default 5000
}

// ProvidersConfig holds non-secret provider settings. API keys are
// tenant-scoped and live encrypted in the DB; these are base URLs only.
type ProvidersConfig struct {
	OllamaBaseURL string `json:"ollama_base_url,omitempty"` // default "http://localhost:11434"
	KokoroBaseURL string `json:"kokoro_base_url,omitempty"` // default "http://localhost:8880"
	LLMTimeoutSec int    `json:"llm_timeout_sec,omitempty"` // default 600 (CPU-bound local inference)
	TTSTimeoutSec int    `json:"tts_timeout_sec,omitempty"` // default 90
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"` // OTLP HTTP endpoint
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// GuardConfig extends the safety filters.
type GuardConfig struct {
	ContaminationExtra []string `json:"contamination_extra,omitempty"` // extra regexes
	SentinelMode       string   `json:"sentinel_mode,omitempty"`       // "block" (default) or "detect_only"
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			DataDir:          "./data",
			MaintenanceText:  "O sistema está em manutenção. Tente novamente em alguns minutos.",
			FailureText:      "Não consegui processar sua mensagem.",
			ResponseTemplate: "@{agent_name}: {response}",
			SendRatePerMin:   30,
			MediaCleanupSec:  15,
		},
		Channels: ChannelsConfig{
			PollIntervalMs: 2000,
			DebounceMs:     1000,
			Whatsapp:       WhatsappConfig{KeepaliveTimeoutSec: 90},
			Playground:     PlaygroundConfig{Listen: ":8070"},
		},
		Memory: MemoryConfig{
			WorkingSize:      10,
			EpisodicTopK:     5,
			MinSimilarity:    0.3,
			ContextCharCap:   50000,
			ExtractEveryN:    5,
			ToolBufferSize:   10,
			ToolBufferMaxAge: 120,
			VectorDir:        "./data/chroma",
		},
		Thread: ThreadConfig{
			AbsoluteMaxTurns:       25,
			MaxMessagesPerMinute:   15,
			MaxDurationMinutes:     30,
			InactivityMinutes:      30,
			PostCompletionBlockSec: 300,
			LoopClosureBlockSec:    1800,
		},
		Sandbox: SandboxConfig{
			Image:        "ligo-sandbox:latest",
			MemoryMB:     512,
			WorkspaceDir: "./data/workspace",
			OutputCap:    5000,
		},
		Providers: ProvidersConfig{
			OllamaBaseURL: "http://localhost:11434",
			KokoroBaseURL: "http://localhost:8880",
			LLMTimeoutSec: 600,
			TTSTimeoutSec: 90,
		},
		Telemetry: TelemetryConfig{ServiceName: "ligo"},
		Guard:     GuardConfig{SentinelMode: "block"},
	}
}

// LLMTimeout returns the configured LLM call timeout.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.Providers.LLMTimeoutSec) * time.Second
}

// TTSTimeout returns the configured TTS call timeout.
func (c *Config) TTSTimeout() time.Duration {
	return time.Duration(c.Providers.TTSTimeoutSec) * time.Second
}

// PostCompletionBlock returns the cooldown after a thread closes normally.
func (c *Config) PostCompletionBlock() time.Duration {
	return time.Duration(c.Thread.PostCompletionBlockSec) * time.Second
}

// LoopClosureBlock returns the cooldown after a force-closed thread.
func (c *Config) LoopClosureBlock() time.Duration {
	return time.Duration(c.Thread.LoopClosureBlockSec) * time.Second
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
