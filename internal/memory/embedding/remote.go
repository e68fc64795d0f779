package embedding

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Remote is an HTTP embedding client speaking either the OpenAI
// `/embeddings` wire format or the Gemini `:embedContent` wire format.
type Remote struct {
	kind      string // "openai" or "gemini"
	baseURL   string
	apiKey    string
	model     string
	dimension int
	client    *http.Client
}

func newRemoteClient() *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	return &http.Client{Transport: transport}
}

// NewOpenAI builds a Remote client against an OpenAI-compatible
// `/embeddings` endpoint.
func NewOpenAI(apiKey, baseURL, model string, dimension int) *Remote {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &Remote{kind: "openai", baseURL: baseURL, apiKey: apiKey, model: model, dimension: dimension, client: newRemoteClient()}
}

// NewGemini builds a Remote client against the Gemini embedContent API.
func NewGemini(apiKey, baseURL, model string, dimension int) *Remote {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if model == "" {
		model = "text-embedding-004"
	}
	return &Remote{kind: "gemini", baseURL: baseURL, apiKey: apiKey, model: model, dimension: dimension, client: newRemoteClient()}
}

func (r *Remote) Name() string   { return r.kind }
func (r *Remote) Dimension() int { return r.dimension }

func (r *Remote) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := r.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (r *Remote) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	switch r.kind {
	case "gemini":
		return r.embedBatchGemini(ctx, texts)
	default:
		return r.embedBatchOpenAI(ctx, texts)
	}
}

type openaiEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (r *Remote) embedBatchOpenAI(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(openaiEmbedRequest{Model: r.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embedding: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding: API error %d: %s", resp.StatusCode, string(data))
	}

	var parsed openaiEmbedResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}

	out := make([][]float32, len(texts))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(out) {
			continue
		}
		v := item.Embedding
		v = resizeVector(v, r.dimension)
		Normalize(v)
		out[item.Index] = v
	}
	return out, nil
}

type geminiEmbedRequest struct {
	Model   string            `json:"model"`
	Content geminiContentPart `json:"content"`
}

type geminiContentPart struct {
	Parts []geminiTextPart `json:"parts"`
}

type geminiTextPart struct {
	Text string `json:"text"`
}

type geminiEmbedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

// embedBatchGemini calls embedContent once per text: the v1beta REST API
// this client targets has no batch endpoint for single-content embedding.
func (r *Remote) embedBatchGemini(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		body, err := json.Marshal(geminiEmbedRequest{
			Model:   "models/" + r.model,
			Content: geminiContentPart{Parts: []geminiTextPart{{Text: text}}},
		})
		if err != nil {
			return nil, fmt.Errorf("embedding: marshal request: %w", err)
		}

		url := fmt.Sprintf("%s/models/%s:embedContent?key=%s", r.baseURL, r.model, r.apiKey)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("embedding: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("embedding: request failed: %w", err)
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("embedding: read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("embedding: API error %d: %s", resp.StatusCode, string(data))
		}

		var parsed geminiEmbedResponse
		if err := json.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("embedding: decode response: %w", err)
		}
		v := resizeVector(parsed.Embedding.Values, r.dimension)
		Normalize(v)
		out[i] = v
	}
	return out, nil
}

// resizeVector truncates or zero-pads v to exactly dim entries, so that
// remote providers whose native dimension differs from the configured
// dimension still produce chunk vectors the index can compare uniformly.
func resizeVector(v []float32, dim int) []float32 {
	if len(v) == dim {
		return v
	}
	out := make([]float32, dim)
	copy(out, v)
	return out
}
