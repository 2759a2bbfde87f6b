package openrouter

import "encoding/json"

// ModelParams are the sampling parameters sent with every completion request.
type ModelParams struct {
	Temperature float64 `json:"temperature" validate:"gte=0,lte=1"`
	MaxTokens   int     `json:"max_tokens" validate:"gt=0,lte=32000"`
	TopP        float64 `json:"top_p" validate:"gte=0,lte=1"`
}

func DefaultModelParams() ModelParams {
	return ModelParams{
		Temperature: 0.7,
		MaxTokens:   4096,
		TopP:        1.0,
	}
}

// SystemPrompt is always the first message of the payload.
type SystemPrompt struct {
	Role    string `json:"role" validate:"required,eq=system"`
	Content string `json:"content" validate:"required"`
	Context string `json:"context,omitempty"`
}

// Config is validated on construction and on every SetConfig; numeric bounds
// are enforced before any request uses them.
type Config struct {
	APIKey       string       `validate:"required"`
	APIEndpoint  string       `validate:"required,url"`
	DefaultModel string       `validate:"required"`
	ModelParams  ModelParams  `validate:"required"`
	SystemPrompt SystemPrompt `validate:"required"`
}

// ConfigPatch is a partial Config for runtime reconfiguration; nil fields
// keep their current value.
type ConfigPatch struct {
	APIKey       *string
	APIEndpoint  *string
	DefaultModel *string
	ModelParams  *ModelParams
	SystemPrompt *SystemPrompt
}

const (
	RoleSystem = "system"
	RoleUser   = "user"

	PartText  = "text"
	PartImage = "image_url"

	DetailLow  = "low"
	DetailHigh = "high"
)

// ContentPart is one element of a multimodal message body.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references an image by absolute URL or data URI.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// Message is one chat message. Content is either a plain string or an
// ordered []ContentPart with image parts ahead of the text part, so the
// model sees the image before the instruction.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// payload is the wire body for POST {endpoint}/chat/completions.
type payload struct {
	Model          string         `json:"model"`
	Messages       []Message      `json:"messages"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
	Temperature    float64        `json:"temperature"`
	MaxTokens      int            `json:"max_tokens"`
	TopP           float64        `json:"top_p"`
}

// Usage mirrors the provider's token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ResponseData carries the normalized completion payload, or the error
// message on the failure path.
type ResponseData struct {
	Content string `json:"content,omitempty"`
	Model   string `json:"model,omitempty"`
	Usage   *Usage `json:"usage,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Response is the normalized result of one SendRequest call.
type Response struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Data    ResponseData `json:"data"`
}

// completionResponse is the raw upstream body. Providers embed errors either
// as a non-2xx status or inside a 2xx body.
type completionResponse struct {
	Model   string    `json:"model"`
	Choices []choice  `json:"choices"`
	Usage   *Usage    `json:"usage,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type choice struct {
	Message *chatMessage `json:"message"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiError struct {
	Code    errorCode `json:"code"`
	Message string    `json:"message"`
	Type    string    `json:"type,omitempty"`
}

// errorCode tolerates both numeric and string error codes on the wire.
type errorCode struct {
	value string
}

func (c *errorCode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.value = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		c.value = n.String()
		return nil
	}
	c.value = ""
	return nil
}

func (c errorCode) String() string { return c.value }

// isQuotaExhausted reports the provider-embedded daily quota signal.
func (e *apiError) isQuotaExhausted() bool {
	return e != nil && e.Code.String() == "429"
}
