package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/dagornc/DagBot/internal/models"
	pgrepo "github.com/dagornc/DagBot/internal/repositories/postgres"
	"github.com/dagornc/DagBot/internal/utils"
)

// PromptService is the prompt library: saved system prompts the UI can apply
// to a conversation.
type PromptService interface {
	Create(ctx context.Context, title, content, category string, tags []string, favorite bool) (*models.Prompt, error)
	List(ctx context.Context) ([]models.Prompt, error)
	Update(ctx context.Context, id string, title, content, category *string, tags []string, favorite *bool) error
	Delete(ctx context.Context, id string) error
}

type promptService struct {
	prompts pgrepo.PromptRepo
}

func NewPromptService(prompts pgrepo.PromptRepo) PromptService {
	return &promptService{prompts: prompts}
}

func tagsJSON(tags []string) datatypes.JSON {
	if tags == nil {
		tags = []string{}
	}
	b, _ := json.Marshal(tags)
	return datatypes.JSON(b)
}

func (s *promptService) Create(ctx context.Context, title, content, category string, tags []string, favorite bool) (*models.Prompt, error) {
	const op = "PromptService.Create"

	if title == "" || content == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "title and content are required", nil)
	}
	if category == "" {
		category = "General"
	}

	now := time.Now().UTC()
	p := &models.Prompt{
		ID:         uuid.NewString(),
		Title:      title,
		Content:    content,
		Category:   category,
		Tags:       tagsJSON(tags),
		IsFavorite: favorite,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.prompts.Insert(ctx, p); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to save prompt", err)
	}
	return p, nil
}

func (s *promptService) List(ctx context.Context) ([]models.Prompt, error) {
	const op = "PromptService.List"

	rows, err := s.prompts.List(ctx)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list prompts", err)
	}
	return rows, nil
}

func (s *promptService) Update(ctx context.Context, id string, title, content, category *string, tags []string, favorite *bool) error {
	const op = "PromptService.Update"

	updates := map[string]any{"updated_at": time.Now().UTC()}
	if title != nil {
		updates["title"] = *title
	}
	if content != nil {
		updates["content"] = *content
	}
	if category != nil {
		updates["category"] = *category
	}
	if tags != nil {
		updates["tags"] = tagsJSON(tags)
	}
	if favorite != nil {
		updates["is_favorite"] = *favorite
	}
	if len(updates) == 1 {
		return utils.E(utils.CodeInvalidArgument, op, "nothing to update", nil)
	}

	err := s.prompts.Update(ctx, id, updates)
	if errors.Is(err, utils.ErrNotFound) {
		return utils.E(utils.CodeNotFound, op, "prompt not found", nil)
	}
	if err != nil {
		return utils.E(utils.CodeInternal, op, "failed to update prompt", err)
	}
	return nil
}

func (s *promptService) Delete(ctx context.Context, id string) error {
	const op = "PromptService.Delete"

	err := s.prompts.Delete(ctx, id)
	if errors.Is(err, utils.ErrNotFound) {
		return utils.E(utils.CodeNotFound, op, "prompt not found", nil)
	}
	if err != nil {
		return utils.E(utils.CodeInternal, op, "failed to delete prompt", err)
	}
	return nil
}
