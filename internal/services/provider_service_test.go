package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dagornc/DagBot/internal/models"
	"github.com/dagornc/DagBot/internal/utils"
)

type fakeProviderRepo struct {
	byName map[string]models.Provider
	order  []string
}

func newFakeProviderRepo() *fakeProviderRepo {
	return &fakeProviderRepo{byName: map[string]models.Provider{}}
}

func (f *fakeProviderRepo) Insert(ctx context.Context, p *models.Provider) error {
	if _, ok := f.byName[p.Name]; ok {
		return utils.E(utils.CodeConflict, "fakeProviderRepo.Insert", "duplicate name", nil)
	}
	p.Custom = true
	f.byName[p.Name] = *p
	f.order = append(f.order, p.Name)
	return nil
}

func (f *fakeProviderRepo) GetByName(ctx context.Context, name string) (*models.Provider, error) {
	p, ok := f.byName[name]
	if !ok {
		return nil, utils.ErrNotFound
	}
	return &p, nil
}

func (f *fakeProviderRepo) List(ctx context.Context) ([]models.Provider, error) {
	out := make([]models.Provider, 0, len(f.order))
	for _, name := range f.order {
		out = append(out, f.byName[name])
	}
	return out, nil
}

func (f *fakeProviderRepo) Update(ctx context.Context, p *models.Provider) error {
	if _, ok := f.byName[p.Name]; !ok {
		return utils.ErrNotFound
	}
	f.byName[p.Name] = *p
	return nil
}

func (f *fakeProviderRepo) Delete(ctx context.Context, name string) error {
	if _, ok := f.byName[name]; !ok {
		return utils.ErrNotFound
	}
	delete(f.byName, name)
	for i, n := range f.order {
		if n == name {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}

type fakeCache struct {
	data map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{data: map[string][]byte{}} }

func (f *fakeCache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok := f.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (f *fakeCache) SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return err
	}
	f.data[key] = raw
	return nil
}

func (f *fakeCache) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func registryFixture(builtins map[string]models.Provider) (ProviderService, *fakeProviderRepo, *fakeCache) {
	repo := newFakeProviderRepo()
	c := newFakeCache()
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewProviderService(builtins, repo, c, log), repo, c
}

func builtinFixture() map[string]models.Provider {
	return map[string]models.Provider{
		"openrouter": {
			Name:         "openrouter",
			DisplayName:  "OpenRouter",
			BaseURL:      "https://openrouter.ai/api/v1",
			APIKey:       "sk-or-aaaaaaaaaaaaaaaaaaaa",
			DefaultModel: "auto",
			AccessMethod: models.AccessOpenAICompatible,
		},
		"ollama": {
			Name:         "ollama",
			DisplayName:  "Ollama",
			BaseURL:      "http://localhost:11434",
			AccessMethod: models.AccessOllamaNative,
			Models:       []string{"llama3"},
		},
	}
}

func TestProviderList_BuiltinsFirstThenCustoms(t *testing.T) {
	svc, _, _ := registryFixture(builtinFixture())
	ctx := context.Background()

	for _, name := range []string{"zeta", "alpha"} {
		_, err := svc.Add(ctx, models.Provider{
			Name:         name,
			BaseURL:      "https://example.com/v1",
			AccessMethod: models.AccessOpenAICompatible,
		})
		if err != nil {
			t.Fatalf("Add(%s): %v", name, err)
		}
	}

	got, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	names := make([]string, len(got))
	for i, p := range got {
		names[i] = p.Name
	}
	// Built-ins sorted by name, then customs in creation order.
	want := []string{"ollama", "openrouter", "zeta", "alpha"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("order = %v, want %v", names, want)
	}
}

func TestProviderAdd_Validation(t *testing.T) {
	svc, _, _ := registryFixture(builtinFixture())
	ctx := context.Background()

	cases := []struct {
		name string
		p    models.Provider
		code utils.Code
	}{
		{"bad name", models.Provider{Name: "Has Spaces", BaseURL: "https://x.example"}, utils.CodeInvalidArgument},
		{"bad url", models.Provider{Name: "ok-name", BaseURL: "not a url"}, utils.CodeInvalidArgument},
		{"bad access method", models.Provider{Name: "ok-name", BaseURL: "https://x.example", AccessMethod: "carrier-pigeon"}, utils.CodeInvalidArgument},
		{"builtin name", models.Provider{Name: "openrouter", BaseURL: "https://x.example"}, utils.CodeConflict},
		{"vertex needs scheme", models.Provider{Name: "gv", BaseURL: "https://x.example", AccessMethod: models.AccessVertexAI}, utils.CodeInvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Add(ctx, tc.p); !utils.IsCode(err, tc.code) {
				t.Errorf("Add = %v, want code %s", err, tc.code)
			}
		})
	}

	// Valid add, then a duplicate of it.
	if _, err := svc.Add(ctx, models.Provider{Name: "mine", BaseURL: "https://x.example/v1"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := svc.Add(ctx, models.Provider{Name: "mine", BaseURL: "https://x.example/v1"}); !utils.IsCode(err, utils.CodeConflict) {
		t.Errorf("duplicate Add = %v, want CONFLICT", err)
	}
}

func TestProviderAdd_Defaults(t *testing.T) {
	svc, _, _ := registryFixture(builtinFixture())

	got, err := svc.Add(context.Background(), models.Provider{Name: "mine", BaseURL: "https://x.example/v1"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got.DisplayName != "mine" || got.AccessMethod != models.AccessOpenAICompatible || got.Icon != "settings" {
		t.Errorf("defaults not applied: %+v", got)
	}
	if !got.Custom {
		t.Error("added provider not flagged custom")
	}
}

func TestProviderRemove(t *testing.T) {
	svc, _, c := registryFixture(builtinFixture())
	ctx := context.Background()

	if err := svc.Remove(ctx, "openrouter"); !utils.IsCode(err, utils.CodeForbidden) {
		t.Errorf("Remove(builtin) = %v, want FORBIDDEN", err)
	}
	if err := svc.Remove(ctx, "ghost"); !utils.IsCode(err, utils.CodeNotFound) {
		t.Errorf("Remove(missing) = %v, want NOT_FOUND", err)
	}

	if _, err := svc.Add(ctx, models.Provider{Name: "mine", BaseURL: "https://x.example/v1"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	c.data[catalogKey("mine")] = []byte(`["m1"]`)

	if err := svc.Remove(ctx, "mine"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := svc.Get(ctx, "mine"); !utils.IsCode(err, utils.CodeNotFound) {
		t.Errorf("Get after Remove = %v, want NOT_FOUND", err)
	}
	if _, ok := c.data[catalogKey("mine")]; ok {
		t.Error("cached catalog survived provider removal")
	}
}

func TestProviderUpdate_BuiltinOverride(t *testing.T) {
	svc, repo, _ := registryFixture(builtinFixture())
	ctx := context.Background()

	key := "sk-or-new-key-for-override-test"
	if err := svc.Update(ctx, "openrouter", ProviderPatch{APIKey: &key}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	// The built-in definition is untouched; an override record holds the key.
	if _, ok := repo.byName["openrouter"]; !ok {
		t.Fatal("override record not stored")
	}
	got, err := svc.Get(ctx, "openrouter")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.APIKey != key {
		t.Errorf("key = %q, want the override applied", got.APIKey)
	}
	if got.BaseURL != "https://openrouter.ai/api/v1" {
		t.Errorf("base_url = %q, built-in definition mutated", got.BaseURL)
	}
}

func TestProviderUpdate_Missing(t *testing.T) {
	svc, _, _ := registryFixture(builtinFixture())
	name := "x"
	if err := svc.Update(context.Background(), "ghost", ProviderPatch{DisplayName: &name}); !utils.IsCode(err, utils.CodeNotFound) {
		t.Errorf("Update(missing) = %v, want NOT_FOUND", err)
	}
}

func TestTestConnectivity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	svc, _, _ := registryFixture(builtinFixture())
	ctx := context.Background()

	if _, err := svc.Add(ctx, models.Provider{Name: "local", BaseURL: srv.URL, DefaultModel: "m"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	res, err := svc.TestConnectivity(ctx, "local")
	if err != nil {
		t.Fatalf("TestConnectivity: %v", err)
	}
	if !res.Success {
		t.Errorf("result = %+v, want success", res)
	}
	if !strings.Contains(res.Message, "ok") {
		t.Errorf("message = %q, want the sampled response", res.Message)
	}
	if res.ResponseTimeMs <= 0 {
		t.Errorf("response time = %v, want positive", res.ResponseTimeMs)
	}
}

func TestTestConnectivity_FailureIsAResultNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	srvURL := srv.URL
	srv.Close() // connection refused from here on

	svc, _, _ := registryFixture(builtinFixture())
	ctx := context.Background()

	if _, err := svc.Add(ctx, models.Provider{Name: "local", BaseURL: srvURL, DefaultModel: "m"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	res, err := svc.TestConnectivity(ctx, "local")
	if err != nil {
		t.Fatalf("network failure must not surface as an error: %v", err)
	}
	if res.Success {
		t.Errorf("result = %+v, want failure", res)
	}
}

func TestRefreshModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"id":"m2"},{"id":"m1"}]}`)
	}))
	defer srv.Close()

	svc, _, c := registryFixture(builtinFixture())
	ctx := context.Background()

	if _, err := svc.Add(ctx, models.Provider{Name: "local", BaseURL: srv.URL}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := svc.RefreshModels(ctx, "local")
	if err != nil {
		t.Fatalf("RefreshModels: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"m1", "m2"}) {
		t.Errorf("models = %v", got)
	}

	// Models now serves the refreshed catalog from cache.
	cached, err := svc.Models(ctx, "local")
	if err != nil {
		t.Fatalf("Models: %v", err)
	}
	if !reflect.DeepEqual(cached, []string{"m1", "m2"}) {
		t.Errorf("cached models = %v", cached)
	}
	if _, ok := c.data[catalogKey("local")]; !ok {
		t.Error("catalog not written to cache")
	}
}

func TestRefreshModels_FailureLeavesCacheUntouched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc, _, c := registryFixture(builtinFixture())
	ctx := context.Background()

	if _, err := svc.Add(ctx, models.Provider{Name: "local", BaseURL: srv.URL}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	c.data[catalogKey("local")] = []byte(`["previous"]`)

	if _, err := svc.RefreshModels(ctx, "local"); !utils.IsCode(err, utils.CodeUnavailable) {
		t.Errorf("RefreshModels = %v, want UNAVAILABLE", err)
	}
	if string(c.data[catalogKey("local")]) != `["previous"]` {
		t.Error("failed refresh overwrote the cached catalog")
	}
}

func TestModels_StaticFallback(t *testing.T) {
	svc, _, _ := registryFixture(builtinFixture())

	got, err := svc.Models(context.Background(), "ollama")
	if err != nil {
		t.Fatalf("Models: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"llama3"}) {
		t.Errorf("models = %v, want the static list", got)
	}
}

func TestMaskKey(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"short", "••••••••"},
		{"twelve-chars", "••••••••"},
		{"sk-or-v1-abcdefghijklmnop", "sk-or-v1" + strings.Repeat("•", 13) + "mnop"},
	}
	for _, tc := range cases {
		if got := MaskKey(tc.in); got != tc.want {
			t.Errorf("MaskKey(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
