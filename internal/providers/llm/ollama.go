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

	"github.com/dagornc/DagBot/internal/models"
)

// OllamaNative speaks Ollama's /api/chat protocol: newline-delimited JSON
// objects instead of SSE frames.
type OllamaNative struct {
	Client *http.Client
}

func (a *OllamaNative) httpClient() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return streamClient
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaPayload struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

func (a *OllamaNative) buildPayload(cfg models.Provider, req Request) ollamaPayload {
	shaped := shapeMessages(cfg, req)
	msgs := make([]ollamaMessage, 0, len(shaped))
	for _, m := range shaped {
		om := ollamaMessage{Role: m.Role, Content: flatText(m)}
		if cfg.SupportsVision {
			for _, p := range m.Parts {
				if p.Type == "image_url" && p.ImageURL != nil {
					// Ollama takes raw base64; strip a data: URL prefix if present.
					img := p.ImageURL.URL
					if i := strings.Index(img, ";base64,"); i >= 0 {
						img = img[i+len(";base64,"):]
					}
					om.Images = append(om.Images, img)
				}
			}
		}
		msgs = append(msgs, om)
	}

	opts := map[string]any{
		"temperature": req.Params.Temperature,
		"top_p":       req.Params.TopP,
	}
	if req.Params.MaxTokens > 0 {
		opts["num_predict"] = req.Params.MaxTokens
	}
	if req.Params.PresencePenalty != 0 {
		opts["presence_penalty"] = req.Params.PresencePenalty
	}
	if req.Params.FrequencyPenalty != 0 {
		opts["frequency_penalty"] = req.Params.FrequencyPenalty
	}

	return ollamaPayload{Model: req.Model, Messages: msgs, Stream: true, Options: opts}
}

type ollamaChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	Error           string `json:"error"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// parseEvent translates one NDJSON line. Total by the same contract as the
// SSE adapter.
func (a *OllamaNative) parseEvent(data []byte) Increment {
	var chunk ollamaChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return Increment{Kind: KindIgnored}
	}
	if chunk.Error != "" {
		return Increment{Kind: KindError, Reason: chunk.Error}
	}
	if chunk.Done {
		inc := Increment{Kind: KindDone}
		if chunk.EvalCount > 0 || chunk.PromptEvalCount > 0 {
			inc.Usage = &Usage{
				InputTokens:  chunk.PromptEvalCount,
				OutputTokens: chunk.EvalCount,
				TotalTokens:  chunk.PromptEvalCount + chunk.EvalCount,
			}
		}
		return inc
	}
	if chunk.Message.Content != "" {
		return Increment{Kind: KindToken, Token: chunk.Message.Content}
	}
	return Increment{Kind: KindIgnored}
}

func (a *OllamaNative) StreamChat(ctx context.Context, cfg models.Provider, req Request) (<-chan Increment, error) {
	body, err := json.Marshal(a.buildPayload(cfg, req))
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(cfg.BaseURL, "/") + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

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

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1<<20)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			inc := a.parseEvent(line)
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
	}()
	return ch, nil
}

type ollamaTags struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (a *OllamaNative) ListModels(ctx context.Context, cfg models.Provider) ([]string, error) {
	url := strings.TrimRight(cfg.BaseURL, "/") + "/api/tags"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.httpClient().Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tags endpoint returned status %d", resp.StatusCode)
	}

	var tags ollamaTags
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	return names, nil
}
