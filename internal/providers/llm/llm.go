package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dagornc/DagBot/internal/models"
)

// Part is one element of a multimodal message content list.
type Part struct {
	Type     string    `json:"type"` // "text" | "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// Message is one entry of the caller's history. Either Text or Parts is set.
type Message struct {
	Role  string `json:"role"` // "system" | "user" | "assistant"
	Text  string `json:"text,omitempty"`
	Parts []Part `json:"parts,omitempty"`
}

type Params struct {
	Temperature      float64
	TopP             float64
	MaxTokens        int
	PresencePenalty  float64
	FrequencyPenalty float64
}

// Request is the normalized outbound chat request, provider-agnostic.
type Request struct {
	Model        string
	Messages     []Message
	SystemPrompt string
	Params       Params
}

type IncrementKind int

const (
	KindIgnored IncrementKind = iota // unrecognized wire noise, keep reading
	KindToken
	KindDone
	KindError
)

// Increment is one normalized unit of streamed provider output.
type Increment struct {
	Kind   IncrementKind
	Token  string
	Reason string // set for KindError
	Usage  *Usage // optionally set on KindDone
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ErrNoCatalog reports that a provider has no model-listing endpoint, as
// opposed to a listing attempt that failed.
var ErrNoCatalog = errors.New("provider has no model catalog endpoint")

// Adapter translates between the normalized request/increment shapes and one
// provider wire protocol. Implementations capture nothing: the provider
// config is passed per call so a mid-flight session keeps the config it
// started with.
type Adapter interface {
	// StreamChat opens the outbound call and returns a channel of increments
	// in upstream emission order. The channel is closed when the upstream
	// stream ends or ctx is cancelled; a stream that closes without a
	// KindDone or KindError increment was dropped by the upstream.
	StreamChat(ctx context.Context, cfg models.Provider, req Request) (<-chan Increment, error)

	// ListModels queries the provider's model-listing endpoint. Returns
	// ErrNoCatalog when the provider does not expose one.
	ListModels(ctx context.Context, cfg models.Provider) ([]string, error)
}

// ForAccessMethod selects the adapter for a provider access method.
func ForAccessMethod(method string) (Adapter, bool) {
	switch method {
	case models.AccessOpenAICompatible:
		return &OpenAICompat{}, true
	case models.AccessOllamaNative:
		return &OllamaNative{}, true
	case models.AccessVertexAI:
		return &VertexGemini{}, true
	default:
		return nil, false
	}
}

// MaxInlinePartBytes bounds a single inline content part (e.g. a data: image
// URL). Oversized parts are rejected before dispatch rather than silently
// dropped.
const MaxInlinePartBytes = 4 << 20

// DecodeContent parses the inbound content field, which is either a plain
// string or an ordered list of typed parts.
func DecodeContent(raw json.RawMessage) (text string, parts []Part, err error) {
	if len(raw) == 0 {
		return "", nil, nil
	}
	if raw[0] == '"' {
		err = json.Unmarshal(raw, &text)
		return text, nil, err
	}
	err = json.Unmarshal(raw, &parts)
	return "", parts, err
}

// ValidateMessages rejects malformed or oversized content before dispatch.
func ValidateMessages(msgs []Message) error {
	for i, m := range msgs {
		switch m.Role {
		case "system", "user", "assistant":
		default:
			return fmt.Errorf("message %d: unknown role %q", i, m.Role)
		}
		for j, p := range m.Parts {
			switch p.Type {
			case "text":
			case "image_url":
				if p.ImageURL == nil || p.ImageURL.URL == "" {
					return fmt.Errorf("message %d part %d: image_url part without url", i, j)
				}
				if len(p.ImageURL.URL) > MaxInlinePartBytes {
					return fmt.Errorf("message %d part %d: inline part exceeds %d bytes", i, j, MaxInlinePartBytes)
				}
			default:
				return fmt.Errorf("message %d part %d: unknown part type %q", i, j, p.Type)
			}
		}
	}
	return nil
}
