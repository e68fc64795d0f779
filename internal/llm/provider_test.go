package llm

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestCreateProviderUnknownType(t *testing.T) {
	_, err := CreateProvider(ProviderConfig{Type: "does-not-exist"}, zap.NewNop())
	if err == nil {
		t.Fatal("CreateProvider() error = nil, want error for unknown type")
	}
}

func TestCreateProviderUsesRegisteredFactory(t *testing.T) {
	registered := false
	RegisterFactory("openai-test-default", func(cfg ProviderConfig, logger *zap.Logger) Provider {
		registered = true
		return &fakeProvider{name: cfg.Name}
	})

	p, err := CreateProvider(ProviderConfig{Type: "openai-test-default", Name: "x"}, zap.NewNop())
	if err != nil {
		t.Fatalf("CreateProvider() error = %v", err)
	}
	if !registered {
		t.Fatal("expected the registered factory to run")
	}
	if p.Name() != "x" {
		t.Fatalf("Name() = %q, want %q", p.Name(), "x")
	}
}

func TestProviderInterfaceCompileCheck(t *testing.T) {
	var _ Provider = (*fakeProvider)(nil)
	var _ Client = (*fakeProvider)(nil)
	_ = context.Background()
}
