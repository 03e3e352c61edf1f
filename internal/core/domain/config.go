package domain

// LLMProviderConfig configures the chat-completions endpoint the kernel
// talks to. Any OpenAI-compatible server works (OpenAI, Azure, local Ollama
// /v1, vLLM, ...).
type LLMProviderConfig struct {
	BaseURL      string `json:"base_url" yaml:"base_url"`
	APIKey       string `json:"api_key" yaml:"api_key"` // encrypted in storage
	DefaultModel string `json:"default_model" yaml:"default_model"`
}

// AgentConfig holds the orchestration safety knobs.
type AgentConfig struct {
	// MaxIterations bounds the ReAct loop. This cap is mandatory: it is the
	// only protection against a planner that never decides to finish.
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`
	// MaxToolRetries is the number of extra attempts after a failed tool
	// execution. Tools with non-idempotent side effects should be wired with
	// care; there is no dedup layer.
	MaxToolRetries int `json:"max_tool_retries" yaml:"max_tool_retries"`
	// MaxLogLines ring-bounds the per-turn log accumulator. 0 = unbounded.
	MaxLogLines int `json:"max_log_lines" yaml:"max_log_lines"`
	// HistoryWindow caps how many recent messages are replayed into the
	// planning prompt. 0 = full history.
	HistoryWindow int `json:"history_window" yaml:"history_window"`
}

// AppConfig is the main application configuration
type AppConfig struct {
	LLM   LLMProviderConfig `json:"llm" yaml:"llm"`
	Agent AgentConfig       `json:"agent" yaml:"agent"`
}

// DefaultConfig returns safe defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		LLM: LLMProviderConfig{
			BaseURL:      "http://localhost:11434/v1",
			DefaultModel: "gpt-4o-mini",
		},
		Agent: AgentConfig{
			MaxIterations:  10,
			MaxToolRetries: 2,
			MaxLogLines:    200,
			HistoryWindow:  20,
		},
	}
}
