package llm

import (
	"context"
	"fmt"
	"strings"

	vertexgenai "cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/iterator"

	"github.com/dagornc/DagBot/internal/models"
)

// VertexGemini streams through the Vertex AI SDK rather than a raw HTTP
// protocol. base_url carries the target as "vertex://PROJECT/LOCATION";
// credentials come from application default credentials, not api_key.
type VertexGemini struct{}

func parseVertexTarget(baseURL string) (project, location string, err error) {
	rest, ok := strings.CutPrefix(baseURL, "vertex://")
	if !ok {
		return "", "", fmt.Errorf("vertex_ai base_url must look like vertex://PROJECT/LOCATION, got %q", baseURL)
	}
	project, location, ok = strings.Cut(rest, "/")
	if !ok || project == "" || location == "" {
		return "", "", fmt.Errorf("vertex_ai base_url must look like vertex://PROJECT/LOCATION, got %q", baseURL)
	}
	return project, location, nil
}

func (a *VertexGemini) StreamChat(ctx context.Context, cfg models.Provider, req Request) (<-chan Increment, error) {
	project, location, err := parseVertexTarget(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	client, err := vertexgenai.NewClient(ctx, project, location)
	if err != nil {
		return nil, err
	}

	model := client.GenerativeModel(req.Model)
	t := float32(req.Params.Temperature)
	model.Temperature = &t
	tp := float32(req.Params.TopP)
	model.TopP = &tp
	if req.Params.MaxTokens > 0 {
		mt := int32(req.Params.MaxTokens)
		model.MaxOutputTokens = &mt
	}

	shaped := shapeMessages(cfg, req)

	// Gemini takes the system prompt as a dedicated instruction, not a turn.
	var turns []Message
	for _, m := range shaped {
		if m.Role == "system" {
			model.SystemInstruction = &vertexgenai.Content{
				Parts: []vertexgenai.Part{vertexgenai.Text(flatText(m))},
			}
			continue
		}
		turns = append(turns, m)
	}
	if len(turns) == 0 {
		_ = client.Close()
		return nil, fmt.Errorf("no user messages to send")
	}

	cs := model.StartChat()
	for _, m := range turns[:len(turns)-1] {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		cs.History = append(cs.History, &vertexgenai.Content{
			Role:  role,
			Parts: []vertexgenai.Part{vertexgenai.Text(flatText(m))},
		})
	}

	last := flatText(turns[len(turns)-1])
	it := cs.SendMessageStream(ctx, vertexgenai.Text(last))

	ch := make(chan Increment, 32)
	go func() {
		defer close(ch)
		defer client.Close()

		for {
			resp, err := it.Next()
			if err == iterator.Done {
				ch <- Increment{Kind: KindDone, Usage: usageFromLast(it)}
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				ch <- Increment{Kind: KindError, Reason: err.Error()}
				return
			}

			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if t, ok := part.(vertexgenai.Text); ok && string(t) != "" {
						ch <- Increment{Kind: KindToken, Token: string(t)}
					}
				}
			}
		}
	}()
	return ch, nil
}

func usageFromLast(it *vertexgenai.GenerateContentResponseIterator) *Usage {
	merged := it.MergedResponse()
	if merged == nil || merged.UsageMetadata == nil {
		return nil
	}
	u := merged.UsageMetadata
	return &Usage{
		InputTokens:  int(u.PromptTokenCount),
		OutputTokens: int(u.CandidatesTokenCount),
		TotalTokens:  int(u.TotalTokenCount),
	}
}

// ListModels: Vertex has no OpenAI-style listing endpoint; the catalog is
// whatever the static configuration declares.
func (a *VertexGemini) ListModels(ctx context.Context, cfg models.Provider) ([]string, error) {
	return nil, ErrNoCatalog
}
