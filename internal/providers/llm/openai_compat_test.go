package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/dagornc/DagBot/internal/models"
)

func collectIncrements(t *testing.T, ch <-chan Increment) []Increment {
	t.Helper()
	var got []Increment
	deadline := time.After(5 * time.Second)
	for {
		select {
		case inc, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, inc)
		case <-deadline:
			t.Fatal("timed out draining increment channel")
		}
	}
}

func TestOpenAIParseEvent(t *testing.T) {
	a := &OpenAICompat{}

	cases := []struct {
		name string
		data string
		want Increment
	}{
		{
			name: "token delta",
			data: `{"choices":[{"delta":{"content":"Hel"}}]}`,
			want: Increment{Kind: KindToken, Token: "Hel"},
		},
		{
			name: "finish reason",
			data: `{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
			want: Increment{Kind: KindDone},
		},
		{
			name: "finish reason with usage",
			data: `{"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":5,"total_tokens":8}}`,
			want: Increment{Kind: KindDone, Usage: &Usage{InputTokens: 3, OutputTokens: 5, TotalTokens: 8}},
		},
		{
			name: "usage only chunk",
			data: `{"choices":[],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`,
			want: Increment{Kind: KindDone, Usage: &Usage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3}},
		},
		{
			name: "inline error payload",
			data: `{"error":{"message":"rate limited"}}`,
			want: Increment{Kind: KindError, Reason: "rate limited"},
		},
		{
			name: "empty delta ignored",
			data: `{"choices":[{"delta":{}}]}`,
			want: Increment{Kind: KindIgnored},
		},
		{
			name: "role-only delta ignored",
			data: `{"choices":[{"delta":{"role":"assistant"}}]}`,
			want: Increment{Kind: KindIgnored},
		},
		{
			name: "malformed json ignored",
			data: `{"choices":[{`,
			want: Increment{Kind: KindIgnored},
		},
		{
			name: "unrelated object ignored",
			data: `{"ping":true}`,
			want: Increment{Kind: KindIgnored},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := a.parseEvent([]byte(tc.data))
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("parseEvent(%s) = %+v, want %+v", tc.data, got, tc.want)
			}
		})
	}
}

func TestOpenAIStreamChat(t *testing.T) {
	var gotPayload oaPayload
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		f := w.(http.Flusher)
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"He\"}}]}\n\n")
		f.Flush()
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"llo\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		f.Flush()
	}))
	defer srv.Close()

	cfg := models.Provider{
		Name:         "test",
		BaseURL:      srv.URL,
		APIKey:       "sk-test",
		AccessMethod: models.AccessOpenAICompatible,
	}
	req := Request{
		Model:    "demo-model",
		Messages: []Message{{Role: "user", Text: "hi"}},
		Params:   Params{Temperature: 0.7, TopP: 1.0, MaxTokens: 128},
	}

	a := &OpenAICompat{}
	ch, err := a.StreamChat(context.Background(), cfg, req)
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	got := collectIncrements(t, ch)

	want := []Increment{
		{Kind: KindToken, Token: "He"},
		{Kind: KindToken, Token: "llo"},
		{Kind: KindDone},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("increments = %+v, want %+v", got, want)
	}

	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if !gotPayload.Stream {
		t.Error("payload did not request streaming")
	}
	if gotPayload.Model != "demo-model" {
		t.Errorf("payload model = %q", gotPayload.Model)
	}
	if len(gotPayload.Messages) != 1 || gotPayload.Messages[0].Role != "user" {
		t.Errorf("payload messages = %+v", gotPayload.Messages)
	}
}

func TestOpenAIStreamChat_NonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"invalid api key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := models.Provider{Name: "test", BaseURL: srv.URL, AccessMethod: models.AccessOpenAICompatible}
	req := Request{Model: "m", Messages: []Message{{Role: "user", Text: "hi"}}}

	a := &OpenAICompat{}
	if _, err := a.StreamChat(context.Background(), cfg, req); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestOpenAIStreamChat_DropWithoutDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"He\"}}]}\n\n")
		// Close the body without a [DONE] sentinel.
	}))
	defer srv.Close()

	cfg := models.Provider{Name: "test", BaseURL: srv.URL, AccessMethod: models.AccessOpenAICompatible}
	req := Request{Model: "m", Messages: []Message{{Role: "user", Text: "hi"}}}

	a := &OpenAICompat{}
	ch, err := a.StreamChat(context.Background(), cfg, req)
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	got := collectIncrements(t, ch)

	// The channel closes after the lone token; the caller decides what a
	// missing terminal means.
	want := []Increment{{Kind: KindToken, Token: "He"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("increments = %+v, want %+v", got, want)
	}
}

func TestOpenAIStreamChat_MidStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"He\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"error\":{\"message\":\"upstream overloaded\"}}\n\n")
	}))
	defer srv.Close()

	cfg := models.Provider{Name: "test", BaseURL: srv.URL, AccessMethod: models.AccessOpenAICompatible}
	req := Request{Model: "m", Messages: []Message{{Role: "user", Text: "hi"}}}

	a := &OpenAICompat{}
	ch, err := a.StreamChat(context.Background(), cfg, req)
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	got := collectIncrements(t, ch)

	want := []Increment{
		{Kind: KindToken, Token: "He"},
		{Kind: KindError, Reason: "upstream overloaded"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("increments = %+v, want %+v", got, want)
	}
}

func TestOpenAIListModels(t *testing.T) {
	t.Run("data list", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/models" {
				t.Errorf("path = %q", r.URL.Path)
			}
			fmt.Fprint(w, `{"data":[{"id":"zeta"},{"id":"alpha"},{"id":"mid"}]}`)
		}))
		defer srv.Close()

		a := &OpenAICompat{}
		got, err := a.ListModels(context.Background(), models.Provider{BaseURL: srv.URL})
		if err != nil {
			t.Fatalf("ListModels: %v", err)
		}
		want := []string{"alpha", "mid", "zeta"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("models = %v, want %v", got, want)
		}
	})

	t.Run("bare list", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `["b","a"]`)
		}))
		defer srv.Close()

		a := &OpenAICompat{}
		got, err := a.ListModels(context.Background(), models.Provider{BaseURL: srv.URL})
		if err != nil {
			t.Fatalf("ListModels: %v", err)
		}
		if !reflect.DeepEqual(got, []string{"a", "b"}) {
			t.Errorf("models = %v", got)
		}
	})

	t.Run("unrecognized shape", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"models":"nope"}`)
		}))
		defer srv.Close()

		a := &OpenAICompat{}
		if _, err := a.ListModels(context.Background(), models.Provider{BaseURL: srv.URL}); err == nil {
			t.Fatal("expected error for unrecognized response shape")
		}
	})
}
