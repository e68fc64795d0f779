package llm

import (
	"context"
	"errors"
	"testing"
)

type stubClient struct {
	resp *Response
	err  error
	req  *Request
}

func (s *stubClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	s.req = req
	return s.resp, s.err
}

func TestSessionPromptSendsSingleUserMessage(t *testing.T) {
	stub := &stubClient{resp: &Response{Content: "hi there"}}
	sess := NewSession(stub, Config{Model: "gpt"})

	reply, err := sess.Prompt(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Prompt() error = %v", err)
	}
	if reply != "hi there" {
		t.Fatalf("reply = %q, want %q", reply, "hi there")
	}
	if len(stub.req.Messages) != 1 || stub.req.Messages[0].Role != "user" {
		t.Fatalf("Messages = %+v, want a single user message", stub.req.Messages)
	}
}

func TestSessionPromptPropagatesError(t *testing.T) {
	stub := &stubClient{err: errors.New("provider down")}
	sess := NewSession(stub, Config{})

	if _, err := sess.Prompt(context.Background(), "hello"); err == nil {
		t.Fatal("Prompt() error = nil, want error")
	}
}

func TestSessionPromptRejectsEmptyReply(t *testing.T) {
	stub := &stubClient{resp: &Response{Content: ""}}
	sess := NewSession(stub, Config{})

	if _, err := sess.Prompt(context.Background(), "hello"); err == nil {
		t.Fatal("Prompt() error = nil, want error on empty reply")
	}
}

func TestSessionPromptWithSystemPrependsSystemMessage(t *testing.T) {
	stub := &stubClient{resp: &Response{Content: "ack"}}
	sess := NewSession(stub, Config{})

	if _, err := sess.PromptWithSystem(context.Background(), "be terse", "hello"); err != nil {
		t.Fatalf("PromptWithSystem() error = %v", err)
	}
	if len(stub.req.Messages) != 2 || stub.req.Messages[0].Role != "system" {
		t.Fatalf("Messages = %+v, want system message first", stub.req.Messages)
	}
}

func TestConfigAppliesDefaults(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()
	if cfg.Model == "" {
		t.Fatal("expected a default model")
	}
	if cfg.Temperature == 0 {
		t.Fatal("expected a default temperature")
	}
}
