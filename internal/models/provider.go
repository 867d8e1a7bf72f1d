package models

import "time"

// Provider access methods. Each maps to one adapter in internal/providers/llm.
const (
	AccessOpenAICompatible = "openai_compatible"
	AccessOllamaNative     = "ollama_native"
	AccessVertexAI         = "vertex_ai"
)

// Provider is a configured LLM backend. Built-in providers come from
// global.yaml; user-added ones live in MongoDB keyed by name.
type Provider struct {
	Name         string `bson:"name" json:"name" yaml:"name"`
	DisplayName  string `bson:"display_name" json:"display_name" yaml:"display_name"`
	BaseURL      string `bson:"base_url" json:"base_url" yaml:"base_url"`
	APIKey       string `bson:"api_key" json:"api_key" yaml:"api_key"`
	DefaultModel string `bson:"default_model" json:"default_model" yaml:"default_model"`
	AccessMethod string `bson:"access_method" json:"access_method" yaml:"access_method"`
	Icon         string `bson:"icon" json:"icon" yaml:"icon"`
	Description  string `bson:"description,omitempty" json:"description,omitempty" yaml:"description"`
	Recommended  bool   `bson:"recommended" json:"recommended" yaml:"recommended"`

	// Static model catalog from configuration. A live refresh replaces the
	// cached catalog, never this list.
	Models []string `bson:"models,omitempty" json:"models" yaml:"models"`

	// Capability flags consumed by the normalizer.
	SupportsVision bool `bson:"supports_vision" json:"supports_vision" yaml:"supports_vision"`
	// SystemRole is true when the provider accepts a dedicated system role;
	// otherwise the system prompt is merged into the first user message.
	SystemRole bool `bson:"system_role" json:"system_role" yaml:"system_role"`

	// AutoAlias is the provider-side routing alias used when auto-choose is
	// enabled (e.g. "openrouter/auto"). Empty means no auto routing.
	AutoAlias string `bson:"auto_alias,omitempty" json:"auto_alias,omitempty" yaml:"auto_alias"`

	Custom    bool      `bson:"custom" json:"is_custom" yaml:"-"`
	CreatedAt time.Time `bson:"created_at,omitempty" json:"-" yaml:"-"`
	UpdatedAt time.Time `bson:"updated_at,omitempty" json:"-" yaml:"-"`
}

// ProviderTestResult is the outcome of a connectivity probe. Failure is a
// normal result, not an error.
type ProviderTestResult struct {
	Success        bool    `json:"success"`
	Message        string  `json:"message"`
	ResponseTimeMs float64 `json:"response_time_ms"`
}
