package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dagornc/DagBot/internal/cache"
	"github.com/dagornc/DagBot/internal/models"
	"github.com/dagornc/DagBot/internal/providers/llm"
	mongorepo "github.com/dagornc/DagBot/internal/repositories/mongo"
	"github.com/dagornc/DagBot/internal/utils"
)

// ProviderService is the provider registry: built-ins from configuration,
// user-added providers from the keyed store, live model catalogs in cache.
type ProviderService interface {
	List(ctx context.Context) ([]models.Provider, error)
	Get(ctx context.Context, name string) (*models.Provider, error)
	Add(ctx context.Context, p models.Provider) (*models.Provider, error)
	Update(ctx context.Context, name string, patch ProviderPatch) error
	Remove(ctx context.Context, name string) error
	TestConnectivity(ctx context.Context, name string) (*models.ProviderTestResult, error)
	RefreshModels(ctx context.Context, name string) ([]string, error)

	// Models returns the effective catalog: the last refreshed one if cached,
	// else the static configuration list.
	Models(ctx context.Context, name string) ([]string, error)
}

// ProviderPatch carries optional field updates; nil fields are untouched.
type ProviderPatch struct {
	DisplayName  *string `json:"display_name"`
	BaseURL      *string `json:"base_url"`
	APIKey       *string `json:"api_key"`
	DefaultModel *string `json:"default_model"`
	Icon         *string `json:"icon"`
}

const (
	connectTestTimeout = 10 * time.Second
	catalogTTL         = 24 * time.Hour
)

var providerNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

type providerService struct {
	builtins map[string]models.Provider
	order    []string // built-in listing order
	repo     mongorepo.ProviderRepo
	cache    cache.Cache
	log      *logrus.Logger
}

func NewProviderService(builtins map[string]models.Provider, repo mongorepo.ProviderRepo, c cache.Cache, log *logrus.Logger) ProviderService {
	order := make([]string, 0, len(builtins))
	for name := range builtins {
		order = append(order, name)
	}
	sort.Strings(order)
	return &providerService{builtins: builtins, order: order, repo: repo, cache: c, log: log}
}

// List returns built-ins first, then user-added providers in creation order.
// A stored record with a built-in's name overrides its credentials.
func (s *providerService) List(ctx context.Context) ([]models.Provider, error) {
	const op = "ProviderService.List"

	stored, err := s.repo.List(ctx)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list custom providers", err)
	}
	overrides := make(map[string]models.Provider, len(stored))
	for _, p := range stored {
		overrides[p.Name] = p
	}

	out := make([]models.Provider, 0, len(s.order)+len(stored))
	for _, name := range s.order {
		p := s.builtins[name]
		if ov, ok := overrides[name]; ok {
			p = applyOverride(p, ov)
		}
		out = append(out, p)
	}
	for _, p := range stored {
		if _, builtin := s.builtins[p.Name]; builtin {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// applyOverride keeps the built-in definition but lets a stored record
// replace its mutable fields. Built-ins stay non-custom.
func applyOverride(base, ov models.Provider) models.Provider {
	if ov.APIKey != "" {
		base.APIKey = ov.APIKey
	}
	if ov.DefaultModel != "" {
		base.DefaultModel = ov.DefaultModel
	}
	if ov.BaseURL != "" {
		base.BaseURL = ov.BaseURL
	}
	if len(ov.Models) > 0 {
		base.Models = ov.Models
	}
	return base
}

func (s *providerService) Get(ctx context.Context, name string) (*models.Provider, error) {
	const op = "ProviderService.Get"

	if base, ok := s.builtins[name]; ok {
		ov, err := s.repo.GetByName(ctx, name)
		if err != nil && !errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeInternal, op, "failed to read provider override", err)
		}
		if ov != nil {
			base = applyOverride(base, *ov)
		}
		return &base, nil
	}

	p, err := s.repo.GetByName(ctx, name)
	if errors.Is(err, utils.ErrNotFound) {
		return nil, utils.E(utils.CodeNotFound, op, "provider "+name+" not found", nil)
	}
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to read provider", err)
	}
	return p, nil
}

func (s *providerService) Add(ctx context.Context, p models.Provider) (*models.Provider, error) {
	const op = "ProviderService.Add"

	if err := validateSpec(&p); err != nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, err.Error(), nil)
	}
	if _, builtin := s.builtins[p.Name]; builtin {
		return nil, utils.E(utils.CodeConflict, op, "provider "+p.Name+" already exists", nil)
	}

	if err := s.repo.Insert(ctx, &p); err != nil {
		if utils.IsCode(err, utils.CodeConflict) {
			return nil, utils.E(utils.CodeConflict, op, "provider "+p.Name+" already exists", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to save provider", err)
	}
	return &p, nil
}

func validateSpec(p *models.Provider) error {
	if !providerNamePattern.MatchString(p.Name) {
		return fmt.Errorf("invalid provider name %q", p.Name)
	}
	if p.DisplayName == "" {
		p.DisplayName = p.Name
	}
	if p.AccessMethod == "" {
		p.AccessMethod = models.AccessOpenAICompatible
	}
	if _, ok := llm.ForAccessMethod(p.AccessMethod); !ok {
		return fmt.Errorf("unknown access method %q", p.AccessMethod)
	}
	if p.Icon == "" {
		p.Icon = "settings"
	}

	if p.AccessMethod == models.AccessVertexAI {
		if !strings.HasPrefix(p.BaseURL, "vertex://") {
			return fmt.Errorf("vertex_ai base_url must start with vertex://")
		}
		return nil
	}
	u, err := url.Parse(p.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base_url must be a valid http(s) URL")
	}
	return nil
}

// Update saves mutable fields. For a built-in this stores an override record;
// the built-in itself is immutable.
func (s *providerService) Update(ctx context.Context, name string, patch ProviderPatch) error {
	const op = "ProviderService.Update"

	existing, err := s.Get(ctx, name)
	if err != nil {
		return err
	}

	if patch.DisplayName != nil {
		existing.DisplayName = *patch.DisplayName
	}
	if patch.BaseURL != nil {
		existing.BaseURL = *patch.BaseURL
	}
	if patch.APIKey != nil {
		existing.APIKey = *patch.APIKey
	}
	if patch.DefaultModel != nil {
		existing.DefaultModel = *patch.DefaultModel
	}
	if patch.Icon != nil {
		existing.Icon = *patch.Icon
	}

	if _, builtin := s.builtins[name]; builtin {
		if _, err := s.repo.GetByName(ctx, name); errors.Is(err, utils.ErrNotFound) {
			if err := s.repo.Insert(ctx, existing); err != nil {
				return utils.E(utils.CodeInternal, op, "failed to save provider override", err)
			}
			return nil
		}
	}
	if err := s.repo.Update(ctx, existing); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return utils.E(utils.CodeNotFound, op, "provider "+name+" not found", nil)
		}
		return utils.E(utils.CodeInternal, op, "failed to update provider", err)
	}
	return nil
}

func (s *providerService) Remove(ctx context.Context, name string) error {
	const op = "ProviderService.Remove"

	if _, builtin := s.builtins[name]; builtin {
		return utils.E(utils.CodeForbidden, op, "built-in provider "+name+" cannot be deleted", nil)
	}

	if err := s.repo.Delete(ctx, name); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return utils.E(utils.CodeNotFound, op, "provider "+name+" not found", nil)
		}
		return utils.E(utils.CodeInternal, op, "failed to delete provider", err)
	}
	_ = s.cache.Del(ctx, catalogKey(name))
	return nil
}

// TestConnectivity sends a minimal chat request with a bounded timeout.
// Network failure is reported as an unsuccessful result, never as an error.
func (s *providerService) TestConnectivity(ctx context.Context, name string) (*models.ProviderTestResult, error) {
	p, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	adapter, _ := llm.ForAccessMethod(p.AccessMethod)

	model := p.DefaultModel
	if model == "" && len(p.Models) > 0 {
		model = p.Models[0]
	}

	tctx, cancel := context.WithTimeout(ctx, connectTestTimeout)
	defer cancel()

	start := time.Now()
	req := llm.Request{
		Model:    model,
		Messages: []llm.Message{{Role: "user", Text: "Say 'ok'"}},
		Params:   llm.Params{Temperature: 0, TopP: 1, MaxTokens: 5},
	}

	ch, err := adapter.StreamChat(tctx, *p, req)
	if err != nil {
		return &models.ProviderTestResult{
			Success:        false,
			Message:        "Connection failed: " + err.Error(),
			ResponseTimeMs: msSince(start),
		}, nil
	}

	var sample strings.Builder
	for inc := range ch {
		switch inc.Kind {
		case llm.KindToken:
			if sample.Len() < 50 {
				sample.WriteString(inc.Token)
			}
		case llm.KindError:
			return &models.ProviderTestResult{
				Success:        false,
				Message:        "Connection failed: " + inc.Reason,
				ResponseTimeMs: msSince(start),
			}, nil
		case llm.KindDone:
			return &models.ProviderTestResult{
				Success:        true,
				Message:        "Connected successfully. Response: " + truncate(sample.String(), 50),
				ResponseTimeMs: msSince(start),
			}, nil
		}
	}
	if tctx.Err() != nil {
		return &models.ProviderTestResult{
			Success:        false,
			Message:        "Connection failed: timeout",
			ResponseTimeMs: msSince(start),
		}, nil
	}
	return &models.ProviderTestResult{
		Success:        false,
		Message:        "Connection failed: stream ended unexpectedly",
		ResponseTimeMs: msSince(start),
	}, nil
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func catalogKey(name string) string { return "models:" + name }

// RefreshModels queries the provider's model listing and replaces the cached
// catalog. On failure the previous catalog stays untouched; "no catalog
// endpoint" is reported distinctly from a failed refresh.
func (s *providerService) RefreshModels(ctx context.Context, name string) ([]string, error) {
	const op = "ProviderService.RefreshModels"

	p, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	adapter, _ := llm.ForAccessMethod(p.AccessMethod)

	tctx, cancel := context.WithTimeout(ctx, connectTestTimeout)
	defer cancel()

	ids, err := adapter.ListModels(tctx, *p)
	if errors.Is(err, llm.ErrNoCatalog) {
		return nil, utils.E(utils.CodeInvalidArgument, op, "provider "+name+" does not expose a model catalog", err)
	}
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to fetch models from "+name, err)
	}

	if err := s.cache.SetJSON(ctx, catalogKey(name), ids, catalogTTL); err != nil {
		s.log.WithError(err).WithField("provider", name).Warn("failed to cache model catalog")
	}
	return ids, nil
}

func (s *providerService) Models(ctx context.Context, name string) ([]string, error) {
	p, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	var cached []string
	hit, err := s.cache.GetJSON(ctx, catalogKey(name), &cached)
	if err != nil {
		s.log.WithError(err).WithField("provider", name).Warn("catalog cache read failed")
	}
	if hit {
		return cached, nil
	}
	return p.Models, nil
}

// MaskKey renders an API key for list responses: enough to recognize it,
// never enough to use it.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 12 {
		return "••••••••"
	}
	return key[:8] + strings.Repeat("•", len(key)-12) + key[len(key)-4:]
}
