package ir

// ToolCall is a model-issued request to invoke a named function with
// arguments. Arguments are kept as a raw JSON object so adapters never need
// to guess a schema for them.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Meta      Meta           `json:"meta,omitempty"`
}

// ContentBlock is one tagged unit of message content. Only the fields that
// apply to Type are populated; the rest are left zero. Using a tagged struct
// instead of a dynamic map keeps adapters from having to type-assert their
// way through unstructured data at every hop.
type ContentBlock struct {
	Type ContentType `json:"type"`

	Text string `json:"text,omitempty"`

	// ToolUse fields.
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolInput  map[string]any `json:"tool_input,omitempty"`

	// ToolResult fields.
	ToolResultForID string `json:"tool_result_for_id,omitempty"`
	ToolResult      any    `json:"tool_result,omitempty"`
	ToolResultError bool   `json:"tool_result_error,omitempty"`

	// Image fields.
	ImageURL  string `json:"image_url,omitempty"`
	ImageData string `json:"image_data,omitempty"` // base64, mutually exclusive with ImageURL
	MIMEType  string `json:"mime_type,omitempty"`

	// Thinking fields.
	Thinking  string `json:"thinking,omitempty"`
	Redacted  bool   `json:"redacted,omitempty"`

	Meta Meta `json:"meta,omitempty"`
}

// Message is one turn in a conversation.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
	Name    string         `json:"name,omitempty"`
	Meta    Meta           `json:"meta,omitempty"`
}

// ToolDefinition describes a callable function offered to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// SamplingParams groups the optional generation knobs. Pointers distinguish
// "unset" from "zero value", mirroring how each dialect treats an absent
// field versus an explicit 0/false.
type SamplingParams struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	TopK             *int     `json:"top_k,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	StopSequences    []string `json:"stop_sequences,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
}

// CoreRequest is the dialect-neutral representation of a chat-completion
// request.
type CoreRequest struct {
	Model            string           `json:"model"`
	SystemInstruction string          `json:"system_instruction,omitempty"`
	Messages         []Message        `json:"messages"`
	Tools            []ToolDefinition `json:"tools,omitempty"`
	Stream           bool             `json:"stream,omitempty"`
	Sampling         SamplingParams   `json:"sampling"`
	Meta             Meta             `json:"meta,omitempty"`
}

// Usage is normalized token accounting for a response.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	TotalTokens              int `json:"total_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
}

// CoreResponse is the dialect-neutral representation of a completed (non
// streaming) chat-completion response.
type CoreResponse struct {
	ID           string         `json:"id"`
	Model        string         `json:"model"`
	Role         Role           `json:"role"`
	Content      []ContentBlock `json:"content"`
	ToolCalls    []ToolCall     `json:"tool_calls,omitempty"`
	FinishReason FinishReason   `json:"finish_reason"`
	Usage        Usage          `json:"usage"`
	Meta         Meta           `json:"meta,omitempty"`
}

// StreamEvent is one normalized event in a streaming response. SequenceID and
// Timestamp are stamped by BaseAdapter, never by dialect-specific code, so
// every event emitted through the adapter contract is ordered consistently
// regardless of dialect.
type StreamEvent struct {
	Type       StreamEventType `json:"type"`
	SequenceID int             `json:"sequence_id"`
	Timestamp  int64           `json:"timestamp"`

	Index int `json:"index,omitempty"` // content block index, when applicable

	// content_start / content_finish / content_delta payload.
	Block     *ContentBlock `json:"block,omitempty"`
	DeltaText string        `json:"delta_text,omitempty"`

	// tool_call_delta / tool_call payload.
	ToolCallID       string `json:"tool_call_id,omitempty"`
	ToolName         string `json:"tool_name,omitempty"`
	ArgumentsDelta   string `json:"arguments_delta,omitempty"`
	ToolCall         *ToolCall `json:"tool_call,omitempty"`

	// metadata_update payload.
	MessageID string `json:"message_id,omitempty"`
	Model     string `json:"model,omitempty"`

	// stream_end payload.
	FinishReason FinishReason `json:"finish_reason,omitempty"`
	Usage        *Usage       `json:"usage,omitempty"`

	// error payload.
	ErrorMessage string `json:"error_message,omitempty"`

	Meta Meta `json:"meta,omitempty"`
}
