package services

import (
	"context"
	"strings"
	"time"

	"github.com/dagornc/DagBot/internal/models"
	pgrepo "github.com/dagornc/DagBot/internal/repositories/postgres"
	"github.com/dagornc/DagBot/internal/utils"
)

// Registry is the slice of the provider registry the resolver needs.
type Registry interface {
	Get(ctx context.Context, name string) (*models.Provider, error)
	Models(ctx context.Context, name string) ([]string, error)
}

// SettingsService stores per-provider selection policy and resolves the
// effective provider+model for a request. Resolution is computed fresh per
// request, never persisted.
type SettingsService interface {
	Get(ctx context.Context, provider string) (*models.ProviderSetting, error)
	Set(ctx context.Context, provider string, freeOnly, autoChoose bool) error
	Resolve(ctx context.Context, provider, requestedModel string) (*models.EffectiveSelection, error)
}

type settingsService struct {
	settings pgrepo.SettingsRepo
	registry Registry
}

func NewSettingsService(settings pgrepo.SettingsRepo, registry Registry) SettingsService {
	return &settingsService{settings: settings, registry: registry}
}

func (s *settingsService) Get(ctx context.Context, provider string) (*models.ProviderSetting, error) {
	const op = "SettingsService.Get"

	if _, err := s.registry.Get(ctx, provider); err != nil {
		return nil, err
	}
	row, err := s.settings.Get(ctx, provider)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to read settings", err)
	}
	return row, nil
}

func (s *settingsService) Set(ctx context.Context, provider string, freeOnly, autoChoose bool) error {
	const op = "SettingsService.Set"

	if _, err := s.registry.Get(ctx, provider); err != nil {
		return err
	}
	err := s.settings.Upsert(ctx, &models.ProviderSetting{
		Provider:   provider,
		FreeOnly:   freeOnly,
		AutoChoose: autoChoose,
		UpdatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return utils.E(utils.CodeInternal, op, "failed to save settings", err)
	}
	return nil
}

// Resolve applies the stored policy. Precedence: auto-choose delegates to the
// provider's routing alias and bypasses free-only entirely; free-only filters
// the live catalog with a default-model fallback when the filter empties it;
// otherwise the caller's explicit model wins, then the provider default.
func (s *settingsService) Resolve(ctx context.Context, provider, requestedModel string) (*models.EffectiveSelection, error) {
	const op = "SettingsService.Resolve"

	p, err := s.registry.Get(ctx, provider)
	if err != nil {
		return nil, err
	}
	policy, err := s.settings.Get(ctx, provider)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to read settings", err)
	}

	if policy.AutoChoose {
		alias := p.AutoAlias
		if alias == "" {
			alias = p.Name + "/auto"
		}
		return &models.EffectiveSelection{Provider: p.Name, Model: alias, AutoChosen: true}, nil
	}

	if policy.FreeOnly {
		catalog, err := s.registry.Models(ctx, provider)
		if err != nil {
			return nil, err
		}
		free := filterFree(catalog)

		model := requestedModel
		if model == "" || !contains(free, model) {
			if len(free) > 0 {
				model = free[0]
			} else {
				// Empty free tier: fall back rather than fail the request.
				model = p.DefaultModel
			}
		}
		return &models.EffectiveSelection{Provider: p.Name, Model: model, FreeOnlyApplied: true}, nil
	}

	model := requestedModel
	if model == "" {
		model = p.DefaultModel
	}
	return &models.EffectiveSelection{Provider: p.Name, Model: model}, nil
}

// filterFree keeps catalog entries marked free-tier by the ":free" id suffix
// convention.
func filterFree(catalog []string) []string {
	var out []string
	for _, id := range catalog {
		if strings.HasSuffix(id, ":free") {
			out = append(out, id)
		}
	}
	return out
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
