package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/nxclaw/nxclaw/internal/llm"
)

func TestProviderGenerateSplitsSystemMessage(t *testing.T) {
	var gotSystem string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "secret" {
			t.Errorf("x-api-key = %q, want secret", got)
		}
		var body Request
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		gotSystem = body.System
		w.Write([]byte(`{"id":"1","model":"claude-test","content":[{"type":"text","text":"hi"}],"usage":{"input_tokens":5,"output_tokens":3}}`))
	}))
	defer srv.Close()

	p := New(llm.ProviderConfig{Name: "anthropic", BaseURL: srv.URL, APIKey: "secret"}, zap.NewNop())

	resp, err := p.Generate(context.Background(), &llm.Request{
		Model: "claude-test",
		Messages: []llm.Message{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "hello"},
		},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Content != "hi" {
		t.Fatalf("Content = %q, want %q", resp.Content, "hi")
	}
	if resp.TokensUsed != 8 {
		t.Fatalf("TokensUsed = %d, want 8", resp.TokensUsed)
	}
	if gotSystem != "be terse" {
		t.Fatalf("System = %q, want %q", gotSystem, "be terse")
	}
}

func TestBuildAPIRequestDefaultsMaxTokens(t *testing.T) {
	p := New(llm.ProviderConfig{}, zap.NewNop())
	req := p.buildAPIRequest(&llm.Request{Model: "claude-test"})
	if req.MaxTokens != defaultMaxTokens {
		t.Fatalf("MaxTokens = %d, want %d", req.MaxTokens, defaultMaxTokens)
	}
}
