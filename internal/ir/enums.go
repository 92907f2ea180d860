// Package ir defines the intermediate representation that every dialect
// adapter translates to and from: requests, responses, streaming events and
// the enumerations they are built from.
package ir

// Provider identifies a wire dialect a request/response/event is expressed in.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
)

// Role identifies who produced a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// FinishReason is the normalized reason a response stopped generating.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolUse       FinishReason = "tool_use"
	FinishContentFilter FinishReason = "content_filter"
	FinishError         FinishReason = "error"
)

// ContentType identifies the kind of a ContentBlock.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentToolUse  ContentType = "tool_use"
	ContentToolResult ContentType = "tool_result"
	ContentImage    ContentType = "image"
	ContentThinking ContentType = "thinking"
)

// StreamEventType is the normalized type of a streaming event.
type StreamEventType string

const (
	EventMetadataUpdate StreamEventType = "metadata_update"
	EventContentStart   StreamEventType = "content_start"
	EventContentDelta   StreamEventType = "content_delta"
	EventContentFinish  StreamEventType = "content_finish"
	EventToolCallDelta  StreamEventType = "tool_call_delta"
	EventToolCall       StreamEventType = "tool_call"
	EventStreamEnd      StreamEventType = "stream_end"
	EventError          StreamEventType = "error"
)
