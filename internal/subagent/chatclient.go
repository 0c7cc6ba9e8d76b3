// Package subagent implements the interactive subagent scope (C7): the
// per-session message queue, single-flight round processor, streaming
// and tool-call dispatch, and cancellation, per spec §4.7. No concrete
// chat client or tool registry ships here — those are the opaque
// external collaborators the scope is built against; see faketools for
// the test-double implementation used by this package's own tests.
package subagent

import "context"

// MessagePart is one piece of a message sent to the chat client. Only
// Text is populated in this core; richer part kinds are left to the
// host's concrete ChatClient.
type MessagePart struct {
	Text string
}

// ToolDeclaration is one callable tool surfaced to the chat client.
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// StreamConfig carries the per-call abort signal and the resolved tool
// list for a single sendMessageStream invocation.
type StreamConfig struct {
	AbortSignal <-chan struct{}
	Tools       []ToolDeclaration
}

// FunctionCall is one tool invocation requested by the model mid-stream.
type FunctionCall struct {
	ID   string
	Name string
	Args map[string]interface{}
}

// UsageMetadata is the token accounting a chat client may attach to a
// stream chunk.
type UsageMetadata struct {
	PromptTokens   int
	ResponseTokens int
	TotalTokens    int
}

// StreamEventType discriminates a StreamEvent's payload, per spec §4.7's
// `type ∈ {retry, chunk}`.
type StreamEventType string

const (
	StreamEventRetry StreamEventType = "retry"
	StreamEventChunk StreamEventType = "chunk"
)

// StreamEvent is one item yielded by a StreamIterator.
type StreamEvent struct {
	Type          StreamEventType
	FunctionCalls []FunctionCall
	TextParts     []string
	UsageMetadata *UsageMetadata
}

// ChatClient is the external collaborator that turns a message plus
// tool configuration into a stream of model output.
type ChatClient interface {
	SendMessageStream(ctx context.Context, parts []MessagePart, cfg StreamConfig, promptID string) (StreamIterator, error)
}

// StreamIterator yields StreamEvents until exhausted, at which point
// Next returns io.EOF.
type StreamIterator interface {
	Next(ctx context.Context) (StreamEvent, error)
	Close() error
}

// ToolRegistry is the external collaborator exposing the tool catalogue
// available to a round.
type ToolRegistry interface {
	FunctionDeclarations() []ToolDeclaration
	FunctionDeclarationsFiltered(names []string) []ToolDeclaration
}

// ToolExecutor runs one dispatched function call and reports its
// outcome. Shared by the interactive scope; there is no separate
// non-interactive runner in this core.
type ToolExecutor interface {
	Execute(ctx context.Context, call FunctionCall) (ToolResult, error)
}

// ToolResult is the outcome of one dispatched tool call.
type ToolResult struct {
	CallID  string
	Output  interface{}
	Success bool
	Error   string
}
