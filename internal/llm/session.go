package llm

import (
	"context"
	"fmt"
)

// Config selects the default model and sampling parameters a Session uses
// for every prompt call.
type Config struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = "default"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
}

// Session is the orchestrator's single entry point into the completion
// layer: a composed prompt string in, a reply string out. It owns no
// conversation history — the orchestrator keeps that per lane — so each
// call is a single-message request routed through the Router's provider
// failover and circuit breakers.
type Session struct {
	client Client
	cfg    Config
}

// NewSession binds a Client (ordinarily a *Router) to a default model
// configuration.
func NewSession(client Client, cfg Config) *Session {
	cfg.applyDefaults()
	return &Session{client: client, cfg: cfg}
}

// Prompt sends prompt as a single user message and returns the model's
// text reply. Callers enforce their own timeout via ctx; Prompt applies
// no retry or compaction of its own — that policy lives in the
// orchestrator, which needs to see IsContextOverflowError outcomes to
// decide whether to compact and retry.
func (s *Session) Prompt(ctx context.Context, prompt string) (string, error) {
	resp, err := s.client.Generate(ctx, &Request{
		Messages:    []Message{{Role: "user", Content: prompt}},
		Model:       s.cfg.Model,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	if resp.Content == "" {
		return "", fmt.Errorf("llm: provider returned an empty response")
	}
	return resp.Content, nil
}

// PromptWithSystem is Prompt with a leading system message, used for
// autonomous-loop ticks that need a distinct behavioral framing from
// interactive turns.
func (s *Session) PromptWithSystem(ctx context.Context, systemPrompt, prompt string) (string, error) {
	resp, err := s.client.Generate(ctx, &Request{
		Messages: []Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Model:       s.cfg.Model,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	if resp.Content == "" {
		return "", fmt.Errorf("llm: provider returned an empty response")
	}
	return resp.Content, nil
}
