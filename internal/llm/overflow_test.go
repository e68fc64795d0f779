package llm

import (
	"errors"
	"testing"
)

func TestIsContextOverflowError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unrelated", errors.New("connection reset"), false},
		{"openai style", errors.New("This model's maximum context length is 128000 tokens"), true},
		{"anthropic style", errors.New("prompt is too long: 250000 tokens > 200000 maximum"), true},
		{"gemini style", errors.New("400 request_too_large: input exceeds model context window"), true},
		{"gateway 413", errors.New("upstream returned 413: payload too large"), true},
		{"generic overflow phrase", errors.New("context overflow detected"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsContextOverflowError(tc.err); got != tc.want {
				t.Errorf("IsContextOverflowError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
