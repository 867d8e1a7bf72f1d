package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/dagornc/DagBot/config"
	"github.com/dagornc/DagBot/internal/models"
	"github.com/dagornc/DagBot/internal/providers/llm"
	"github.com/dagornc/DagBot/internal/relay"
	"github.com/dagornc/DagBot/internal/services"
	"github.com/dagornc/DagBot/internal/utils"
)

type ChatHandler struct {
	providers services.ProviderService
	settings  services.SettingsService
	convos    services.ConversationService
	relay     *relay.Relay
	defaults  config.Defaults
	log       *logrus.Logger
}

func NewChatHandler(
	providers services.ProviderService,
	settings services.SettingsService,
	convos services.ConversationService,
	rl *relay.Relay,
	defaults config.Defaults,
	log *logrus.Logger,
) *ChatHandler {
	return &ChatHandler{
		providers: providers,
		settings:  settings,
		convos:    convos,
		relay:     rl,
		defaults:  defaults,
		log:       log,
	}
}

type chatMessageBody struct {
	Role    string          `json:"role" binding:"required"`
	Content json.RawMessage `json:"content" binding:"required"`
}

type chatRequestBody struct {
	Provider       string            `json:"provider" binding:"required"`
	Model          string            `json:"model"`
	Messages       []chatMessageBody `json:"messages" binding:"required"`
	SystemPrompt   string            `json:"system_prompt"`
	ConversationID string            `json:"conversation_id"`

	Temperature      *float64 `json:"temperature"`
	TopP             *float64 `json:"top_p"`
	MaxTokens        *int     `json:"max_tokens"`
	PresencePenalty  *float64 `json:"presence_penalty"`
	FrequencyPenalty *float64 `json:"frequency_penalty"`
}

// preparedChat is everything validated and resolved before the stream opens.
type preparedChat struct {
	provider  models.Provider
	selection models.EffectiveSelection
	request   llm.Request
	convID    string
	convNew   bool
}

// prepare runs all dispatch-time validation and side effects: provider and
// model resolution, message normalization, conversation auto-creation, and
// persisting the user turn. Errors here are synchronous and never open a
// session.
func (h *ChatHandler) prepare(c *gin.Context, body *chatRequestBody) (*preparedChat, error) {
	const op = "ChatHandler.prepare"
	ctx := c.Request.Context()

	provider, err := h.providers.Get(ctx, body.Provider)
	if err != nil {
		return nil, err
	}

	selection, err := h.settings.Resolve(ctx, body.Provider, body.Model)
	if err != nil {
		return nil, err
	}

	msgs := make([]llm.Message, 0, len(body.Messages))
	for _, m := range body.Messages {
		text, parts, derr := llm.DecodeContent(m.Content)
		if derr != nil {
			return nil, utils.E(utils.CodeInvalidArgument, op, "malformed message content", derr)
		}
		msgs = append(msgs, llm.Message{Role: m.Role, Text: text, Parts: parts})
	}
	if err := llm.ValidateMessages(msgs); err != nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, err.Error(), nil)
	}

	req := llm.Request{
		Model:        selection.Model,
		Messages:     msgs,
		SystemPrompt: body.SystemPrompt,
		Params:       h.params(body),
	}

	p := &preparedChat{provider: *provider, selection: *selection, request: req}

	if body.ConversationID != "" {
		if _, _, err := h.convos.Get(ctx, body.ConversationID); err != nil {
			return nil, err
		}
		p.convID = body.ConversationID
	} else {
		conv, err := h.convos.Create(ctx, autoTitle(msgs), body.SystemPrompt)
		if err != nil {
			return nil, err
		}
		p.convID = conv.ID
		p.convNew = true
	}

	// Persist the latest user message before streaming begins.
	if um, raw := lastUserMessage(body.Messages, msgs); um != nil {
		var parts datatypes.JSON
		if len(um.Parts) > 0 {
			parts = datatypes.JSON(raw)
		}
		if _, err := h.convos.AppendTurn(ctx, p.convID, "", "user", flatContent(*um), parts, "", ""); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (h *ChatHandler) params(body *chatRequestBody) llm.Params {
	p := llm.Params{
		Temperature: h.defaults.Temperature,
		TopP:        h.defaults.TopP,
		MaxTokens:   h.defaults.MaxTokens,
	}
	if body.Temperature != nil {
		p.Temperature = *body.Temperature
	}
	if body.TopP != nil {
		p.TopP = *body.TopP
	}
	if body.MaxTokens != nil {
		p.MaxTokens = *body.MaxTokens
	}
	if body.PresencePenalty != nil {
		p.PresencePenalty = *body.PresencePenalty
	}
	if body.FrequencyPenalty != nil {
		p.FrequencyPenalty = *body.FrequencyPenalty
	}
	return p
}

func autoTitle(msgs []llm.Message) string {
	for _, m := range msgs {
		if m.Role != "user" {
			continue
		}
		t := flatContent(m)
		if len(t) > 50 {
			return t[:50] + "..."
		}
		if t != "" {
			return t
		}
	}
	return "New Chat"
}

func flatContent(m llm.Message) string {
	if len(m.Parts) == 0 {
		return m.Text
	}
	var texts []string
	for _, p := range m.Parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// lastUserMessage returns the trailing user message and its raw content.
func lastUserMessage(bodies []chatMessageBody, msgs []llm.Message) (*llm.Message, json.RawMessage) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return &msgs[i], bodies[i].Content
		}
	}
	return nil, nil
}

// sseSink relays increments as text/event-stream frames. All calls come from
// the session's relay goroutine, in order.
type sseSink struct {
	c      *gin.Context
	convID string
}

func (s *sseSink) event(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(s.c.Writer, "data: %s\n\n", b)
	s.c.Writer.Flush()
}

func (s *sseSink) OnToken(token string) {
	s.event(gin.H{"type": "token", "content": token})
}

func (s *sseSink) OnDone(usage *llm.Usage) {
	ev := gin.H{"type": "done", "conversation_id": s.convID}
	if usage != nil {
		ev["usage"] = usage
	}
	s.event(ev)
}

func (s *sseSink) OnError(err error) {
	msg := "stream failed"
	var ae *utils.AppError
	if errors.As(err, &ae) && ae.Message != "" {
		msg = ae.Message
	} else if err != nil {
		msg = err.Error()
	}
	s.event(gin.H{"type": "error", "message": msg})
}

// Stream handles POST /api/chat: validates, opens the provider stream, and
// relays increments as SSE until the single terminal event.
func (h *ChatHandler) Stream(c *gin.Context) {
	var body chatRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "ChatHandler.Stream", "invalid request body", err))
		return
	}

	p, err := h.prepare(c, &body)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.Flush()

	sink := &sseSink{c: c, convID: p.convID}
	if p.convNew {
		sink.event(gin.H{"type": "conversation_id", "id": p.convID})
	}

	sess, err := h.relay.Start(c.Request.Context(), p.provider, p.convID, p.request, sink)
	if err != nil {
		// The SSE stream is already open: the terminal event goes on it.
		sink.OnError(err)
		return
	}

	// Hold the handler open until the session reaches a terminal state;
	// client disconnect cancels via the request context.
	<-sess.Done()
}
