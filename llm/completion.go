package llm

// Message roles understood by chat-completion endpoints.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one turn of a completion conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat constrains the completion output shape.
type ResponseFormat struct {
	// Type is "json_object" for structured responses.
	Type string `json:"type"`
}

// CompletionRequest is a request for a single completion.
type CompletionRequest struct {
	// Messages is the conversation, usually one system and one user turn.
	Messages []Message `json:"messages"`

	// Temperature controls sampling randomness.
	Temperature float64 `json:"temperature"`

	// MaxTokens bounds the generated output.
	MaxTokens int `json:"max_tokens"`

	// ResponseFormat, when set, requests structured output.
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// CompletionResponse is the content of a completion.
type CompletionResponse struct {
	// Content is the assistant message text.
	Content string

	// Model names the model that produced the response, when reported.
	Model string

	// Cached reports whether the response was served from the cache.
	Cached bool
}
