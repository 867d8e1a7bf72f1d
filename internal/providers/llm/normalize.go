package llm

import (
	"strings"

	"github.com/dagornc/DagBot/internal/models"
)

// shapeMessages applies the provider's conventions to the normalized history:
// system prompt placement and vision capability. The caller's message order
// is preserved; role alternation is the caller's responsibility.
func shapeMessages(cfg models.Provider, req Request) []Message {
	out := make([]Message, 0, len(req.Messages)+1)

	if req.SystemPrompt != "" && cfg.SystemRole {
		out = append(out, Message{Role: "system", Text: req.SystemPrompt})
	}

	merged := req.SystemPrompt != "" && !cfg.SystemRole

	for _, m := range req.Messages {
		if !cfg.SupportsVision && len(m.Parts) > 0 {
			m = degradeToText(m)
		}
		if merged && m.Role == "user" {
			// No dedicated system role: fold the prompt into the first
			// user message.
			if len(m.Parts) > 0 {
				m.Parts = append([]Part{{Type: "text", Text: req.SystemPrompt}}, m.Parts...)
			} else {
				m.Text = req.SystemPrompt + "\n\n" + m.Text
			}
			merged = false
		}
		out = append(out, m)
	}
	return out
}

// degradeToText keeps the text parts of a multimodal message and drops media.
// Providers without vision support never see image parts and never error on
// them.
func degradeToText(m Message) Message {
	var texts []string
	for _, p := range m.Parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	m.Text = strings.Join(texts, "\n")
	m.Parts = nil
	return m
}

// flatText renders a message as plain text for providers whose wire format
// has no part structure.
func flatText(m Message) string {
	if len(m.Parts) == 0 {
		return m.Text
	}
	return degradeToText(m).Text
}
