package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/dagornc/DagBot/internal/models"
	pgrepo "github.com/dagornc/DagBot/internal/repositories/postgres"
	"github.com/dagornc/DagBot/internal/utils"
)

// ConversationService owns conversations and their turns. Turns are
// append-only; only title/system-prompt metadata is ever mutated.
type ConversationService interface {
	Create(ctx context.Context, title, systemPrompt string) (*models.Conversation, error)
	Get(ctx context.Context, id string) (*models.Conversation, []models.Message, error)
	List(ctx context.Context) ([]models.ConversationSummary, error)
	UpdateMeta(ctx context.Context, id string, title, systemPrompt *string) error
	Delete(ctx context.Context, id string) error

	// AppendTurn appends a message with the given turn identity. Re-appending
	// the same identity is a no-op.
	AppendTurn(ctx context.Context, conversationID, turnID, role, content string, parts datatypes.JSON, provider, model string) (*models.Message, error)

	// AppendAssistantTurn satisfies the relay's store contract.
	AppendAssistantTurn(ctx context.Context, conversationID, turnID, content, provider, model string) error
}

type conversationService struct {
	convos pgrepo.ConversationRepo

	// appendLocks serializes appends per conversation so two concurrent
	// sessions cannot interleave turns out of causal order.
	appendLocks sync.Map // conversationID -> *sync.Mutex
}

func NewConversationService(convos pgrepo.ConversationRepo) ConversationService {
	return &conversationService{convos: convos}
}

func (s *conversationService) Create(ctx context.Context, title, systemPrompt string) (*models.Conversation, error) {
	const op = "ConversationService.Create"

	if title == "" {
		title = "New Chat"
	}
	now := time.Now().UTC()
	conv := &models.Conversation{
		ID:           uuid.NewString(),
		Title:        title,
		SystemPrompt: systemPrompt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.convos.Insert(ctx, conv); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to create conversation", err)
	}
	return conv, nil
}

func (s *conversationService) Get(ctx context.Context, id string) (*models.Conversation, []models.Message, error) {
	const op = "ConversationService.Get"

	if id == "" {
		return nil, nil, utils.E(utils.CodeInvalidArgument, op, "conversation id is required", nil)
	}
	conv, err := s.convos.GetByID(ctx, id)
	if errors.Is(err, utils.ErrNotFound) {
		return nil, nil, utils.E(utils.CodeNotFound, op, "conversation not found", nil)
	}
	if err != nil {
		return nil, nil, utils.E(utils.CodeInternal, op, "failed to read conversation", err)
	}

	msgs, err := s.convos.ListMessages(ctx, id)
	if err != nil {
		return nil, nil, utils.E(utils.CodeInternal, op, "failed to list messages", err)
	}
	return conv, msgs, nil
}

func (s *conversationService) List(ctx context.Context) ([]models.ConversationSummary, error) {
	const op = "ConversationService.List"

	rows, err := s.convos.List(ctx)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list conversations", err)
	}
	return rows, nil
}

func (s *conversationService) UpdateMeta(ctx context.Context, id string, title, systemPrompt *string) error {
	const op = "ConversationService.UpdateMeta"

	if title == nil && systemPrompt == nil {
		return utils.E(utils.CodeInvalidArgument, op, "nothing to update", nil)
	}
	err := s.convos.UpdateMeta(ctx, id, title, systemPrompt)
	if errors.Is(err, utils.ErrNotFound) {
		return utils.E(utils.CodeNotFound, op, "conversation not found", nil)
	}
	if err != nil {
		return utils.E(utils.CodeInternal, op, "failed to update conversation", err)
	}
	return nil
}

func (s *conversationService) Delete(ctx context.Context, id string) error {
	const op = "ConversationService.Delete"

	err := s.convos.Delete(ctx, id)
	if errors.Is(err, utils.ErrNotFound) {
		return utils.E(utils.CodeNotFound, op, "conversation not found", nil)
	}
	if err != nil {
		return utils.E(utils.CodeInternal, op, "failed to delete conversation", err)
	}
	return nil
}

func (s *conversationService) lockFor(conversationID string) *sync.Mutex {
	mu, _ := s.appendLocks.LoadOrStore(conversationID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *conversationService) AppendTurn(ctx context.Context, conversationID, turnID, role, content string, parts datatypes.JSON, provider, model string) (*models.Message, error) {
	const op = "ConversationService.AppendTurn"

	if conversationID == "" || role == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "conversation_id and role are required", nil)
	}
	if turnID == "" {
		turnID = uuid.NewString()
	}

	msg := &models.Message{
		ID:             turnID,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Parts:          parts,
		Provider:       provider,
		Model:          model,
		CreatedAt:      time.Now().UTC(),
	}

	mu := s.lockFor(conversationID)
	mu.Lock()
	defer mu.Unlock()

	err := s.convos.AppendMessage(ctx, msg)
	if errors.Is(err, utils.ErrNotFound) {
		return nil, utils.E(utils.CodeNotFound, op, "conversation not found", nil)
	}
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to append turn", err)
	}
	return msg, nil
}

func (s *conversationService) AppendAssistantTurn(ctx context.Context, conversationID, turnID, content, provider, model string) error {
	_, err := s.AppendTurn(ctx, conversationID, turnID, "assistant", content, nil, provider, model)
	return err
}
