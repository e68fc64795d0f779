package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/nxclaw/nxclaw/internal/llm"
)

func TestProviderGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q, want Bearer secret", got)
		}
		w.Write([]byte(`{"id":"1","model":"gpt-test","choices":[{"message":{"role":"assistant","content":"hi"}}],"usage":{"total_tokens":12}}`))
	}))
	defer srv.Close()

	p := New(llm.ProviderConfig{Name: "openai", BaseURL: srv.URL, APIKey: "secret"}, zap.NewNop())

	resp, err := p.Generate(context.Background(), &llm.Request{
		Model:    "gpt-test",
		Messages: []llm.Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Content != "hi" {
		t.Fatalf("Content = %q, want %q", resp.Content, "hi")
	}
	if resp.TokensUsed != 12 {
		t.Fatalf("TokensUsed = %d, want 12", resp.TokensUsed)
	}
}

func TestProviderIsAvailable(t *testing.T) {
	p := New(llm.ProviderConfig{APIKey: ""}, zap.NewNop())
	if p.IsAvailable(context.Background()) {
		t.Fatal("IsAvailable() = true, want false without an API key")
	}
}

func TestProviderSupportsModel(t *testing.T) {
	p := New(llm.ProviderConfig{Models: []string{"gpt-a"}}, zap.NewNop())
	if !p.SupportsModel("gpt-a") {
		t.Fatal("expected SupportsModel to accept a configured model")
	}
	if p.SupportsModel("gpt-b") {
		t.Fatal("expected SupportsModel to reject an unconfigured model")
	}
}
