// Package faketools is a test-double ChatClient, StreamIterator, and
// ToolRegistry for internal/subagent's own tests. No concrete chat
// client ships in this module; this is a fixture, not a host adapter.
package faketools

import (
	"context"
	"io"
	"sync"

	"github.com/kandev/session-core/internal/subagent"
)

// Round is one scripted exchange: a sequence of stream events to yield
// for a given call to SendMessageStream.
type Round struct {
	Events []subagent.StreamEvent
	Err    error
}

// ChatClient replays a fixed script of Rounds, one per call to
// SendMessageStream, recording every promptID it was invoked with.
type ChatClient struct {
	mu       sync.Mutex
	rounds   []Round
	next     int
	PromptIDs []string
	ToolLists [][]subagent.ToolDeclaration
}

// NewChatClient builds a scripted ChatClient that replays rounds in order.
func NewChatClient(rounds ...Round) *ChatClient {
	return &ChatClient{rounds: rounds}
}

func (c *ChatClient) SendMessageStream(ctx context.Context, parts []subagent.MessagePart, cfg subagent.StreamConfig, promptID string) (subagent.StreamIterator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PromptIDs = append(c.PromptIDs, promptID)
	c.ToolLists = append(c.ToolLists, cfg.Tools)

	if c.next >= len(c.rounds) {
		return &iterator{}, nil
	}
	r := c.rounds[c.next]
	c.next++
	if r.Err != nil {
		return nil, r.Err
	}
	return &iterator{events: r.Events}, nil
}

type iterator struct {
	events []subagent.StreamEvent
	pos    int
	closed bool
}

func (it *iterator) Next(ctx context.Context) (subagent.StreamEvent, error) {
	if it.pos >= len(it.events) {
		return subagent.StreamEvent{}, io.EOF
	}
	e := it.events[it.pos]
	it.pos++
	return e, nil
}

func (it *iterator) Close() error {
	it.closed = true
	return nil
}

// ToolRegistry is a fixed catalogue of declarations.
type ToolRegistry struct {
	Declarations []subagent.ToolDeclaration
}

func NewToolRegistry(decls ...subagent.ToolDeclaration) *ToolRegistry {
	return &ToolRegistry{Declarations: decls}
}

func (r *ToolRegistry) FunctionDeclarations() []subagent.ToolDeclaration {
	return r.Declarations
}

func (r *ToolRegistry) FunctionDeclarationsFiltered(names []string) []subagent.ToolDeclaration {
	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[n] = true
	}
	var out []subagent.ToolDeclaration
	for _, d := range r.Declarations {
		if allowed[d.Name] {
			out = append(out, d)
		}
	}
	return out
}

// Executor runs a caller-supplied function for every dispatched call.
type Executor struct {
	Run func(call subagent.FunctionCall) (subagent.ToolResult, error)
}

func (e *Executor) Execute(ctx context.Context, call subagent.FunctionCall) (subagent.ToolResult, error) {
	if e.Run == nil {
		return subagent.ToolResult{CallID: call.ID, Success: true}, nil
	}
	return e.Run(call)
}
