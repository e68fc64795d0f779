package gemini

// Request/Content/Part mirror the Gemini generateContent wire format.

type Request struct {
	Contents          []Content        `json:"contents"`
	SystemInstruction *Content         `json:"systemInstruction,omitempty"`
	GenerationConfig  GenerationConfig `json:"generationConfig,omitempty"`
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type Part struct {
	Text string `json:"text"`
}

type GenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type Response struct {
	Candidates    []Candidate   `json:"candidates"`
	ModelVersion  string        `json:"modelVersion"`
	UsageMetadata UsageMetadata `json:"usageMetadata"`
}

type Candidate struct {
	Content Content `json:"content"`
}

type UsageMetadata struct {
	TotalTokenCount int `json:"totalTokenCount"`
}
