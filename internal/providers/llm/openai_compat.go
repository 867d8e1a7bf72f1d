package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/dagornc/DagBot/internal/models"
)

// OpenAICompat speaks the Chat Completions protocol with SSE streaming. It
// covers every openai_compatible provider (OpenRouter, LM Studio, vLLM,
// hosted OpenAI-style gateways) differing only by base_url and api_key.
type OpenAICompat struct {
	Client *http.Client // overridable in tests
}

// No overall timeout: streams are long-lived. Stalls are handled by the
// relay's per-read deadline.
var streamClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConnsPerHost:   4,
		ResponseHeaderTimeout: 60 * time.Second,
	},
}

func (a *OpenAICompat) httpClient() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return streamClient
}

type oaMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []Part
}

type oaPayload struct {
	Model            string      `json:"model"`
	Messages         []oaMessage `json:"messages"`
	Stream           bool        `json:"stream"`
	Temperature      float64     `json:"temperature"`
	TopP             float64     `json:"top_p"`
	MaxTokens        int         `json:"max_tokens,omitempty"`
	PresencePenalty  float64     `json:"presence_penalty,omitempty"`
	FrequencyPenalty float64     `json:"frequency_penalty,omitempty"`
}

func (a *OpenAICompat) buildPayload(cfg models.Provider, req Request) oaPayload {
	shaped := shapeMessages(cfg, req)
	msgs := make([]oaMessage, 0, len(shaped))
	for _, m := range shaped {
		if len(m.Parts) > 0 {
			msgs = append(msgs, oaMessage{Role: m.Role, Content: m.Parts})
		} else {
			msgs = append(msgs, oaMessage{Role: m.Role, Content: m.Text})
		}
	}
	return oaPayload{
		Model:            req.Model,
		Messages:         msgs,
		Stream:           true,
		Temperature:      req.Params.Temperature,
		TopP:             req.Params.TopP,
		MaxTokens:        req.Params.MaxTokens,
		PresencePenalty:  req.Params.PresencePenalty,
		FrequencyPenalty: req.Params.FrequencyPenalty,
	}
}

type oaChunk struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// parseEvent translates one SSE data payload. Total: anything unrecognized
// is an ignored increment, never a session terminator.
func (a *OpenAICompat) parseEvent(data []byte) Increment {
	var chunk oaChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return Increment{Kind: KindIgnored}
	}

	if chunk.Error != nil {
		return Increment{Kind: KindError, Reason: chunk.Error.Message}
	}

	if len(chunk.Choices) == 0 {
		// Usage-only final chunk, or noise.
		if chunk.Usage != nil {
			return Increment{Kind: KindDone, Usage: &Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
				TotalTokens:  chunk.Usage.TotalTokens,
			}}
		}
		return Increment{Kind: KindIgnored}
	}

	choice := chunk.Choices[0]
	if choice.FinishReason != nil {
		inc := Increment{Kind: KindDone}
		if chunk.Usage != nil {
			inc.Usage = &Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
				TotalTokens:  chunk.Usage.TotalTokens,
			}
		}
		return inc
	}
	if choice.Delta.Content != nil && *choice.Delta.Content != "" {
		return Increment{Kind: KindToken, Token: *choice.Delta.Content}
	}
	return Increment{Kind: KindIgnored}
}

func (a *OpenAICompat) StreamChat(ctx context.Context, cfg models.Provider, req Request) (<-chan Increment, error) {
	body, err := json.Marshal(a.buildPayload(cfg, req))
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := a.httpClient().Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	ch := make(chan Increment, 32)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		a.readSSE(ctx, resp.Body, ch)
	}()
	return ch, nil
}

// readSSE consumes "data: {json}" lines until a terminal increment, the
// [DONE] sentinel, cancellation, or upstream closure. Lines that are not
// data frames (keep-alive comments, blank lines) are skipped.
func (a *OpenAICompat) readSSE(ctx context.Context, body io.Reader, ch chan<- Increment) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			ch <- Increment{Kind: KindDone}
			return
		}

		inc := a.parseEvent([]byte(payload))
		if inc.Kind == KindIgnored {
			continue
		}
		ch <- inc
		if inc.Kind != KindToken {
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		ch <- Increment{Kind: KindError, Reason: "stream read error: " + err.Error()}
	}
	// Scan false with nil error: upstream closed without [DONE]. The relay
	// treats the closed channel as a dropped stream.
}

type oaModelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (a *OpenAICompat) ListModels(ctx context.Context, cfg models.Provider) ([]string, error) {
	url := strings.TrimRight(cfg.BaseURL, "/") + "/models"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := a.httpClient().Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("models endpoint returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	var list oaModelList
	if err := json.Unmarshal(raw, &list); err == nil && len(list.Data) > 0 {
		ids := make([]string, 0, len(list.Data))
		for _, m := range list.Data {
			if m.ID != "" {
				ids = append(ids, m.ID)
			}
		}
		sort.Strings(ids)
		return ids, nil
	}

	// Some providers return a bare list of ids.
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("unrecognized models response")
	}
	sort.Strings(ids)
	return ids, nil
}
