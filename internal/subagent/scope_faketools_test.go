package subagent_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/session-core/internal/eventbus"
	"github.com/kandev/session-core/internal/session"
	"github.com/kandev/session-core/internal/subagent"
	"github.com/kandev/session-core/internal/subagent/faketools"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (r *eventRecorder) handler() eventbus.Handler {
	return func(e eventbus.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, e)
	}
}

func (r *eventRecorder) snapshot() []eventbus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]eventbus.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) count(t eventbus.Type) int {
	n := 0
	for _, e := range r.snapshot() {
		if e.Type == t {
			n++
		}
	}
	return n
}

func newTestHarness(t *testing.T) (*session.Manager, *eventbus.Bus, *eventRecorder, session.ID) {
	t.Helper()
	bus := eventbus.NewBus(nil)
	rec := &eventRecorder{}
	bus.Subscribe(rec.handler())
	mgr := session.NewManager(bus, nil)
	id, err := mgr.CreateSession(session.CreateParams{
		Name:   "sub",
		Config: session.Config{Interactive: true, MaxDepth: 3, AutoSwitch: true},
	})
	require.NoError(t, err)
	return mgr, bus, rec, id
}

func textEvent(text string) subagent.StreamEvent {
	return subagent.StreamEvent{Type: subagent.StreamEventChunk, TextParts: []string{text}}
}

// TestScenario_S4_InteractiveMessageOrdering mirrors spec scenario S4:
// three messages enqueued back-to-back produce three strictly
// sequential, non-overlapping rounds, each finalText preceding the
// next round's ROUND_START.
func TestScenario_S4_InteractiveMessageOrdering(t *testing.T) {
	_, bus, rec, id := newTestHarness(t)

	client := faketools.NewChatClient(
		faketools.Round{Events: []subagent.StreamEvent{textEvent("r1")}},
		faketools.Round{Events: []subagent.StreamEvent{textEvent("r2")}},
		faketools.Round{Events: []subagent.StreamEvent{textEvent("r3")}},
	)
	registry := faketools.NewToolRegistry()

	scope := subagent.NewScope(id, subagent.Config{ChatClient: client, Tools: registry, SubagentID: "s1"}, session.NewManager(bus, nil), bus, nil)

	scope.EnqueueUserMessage("m1")
	scope.EnqueueUserMessage("m2")
	scope.EnqueueUserMessage("m3")

	require.Eventually(t, func() bool {
		return rec.count(eventbus.SubagentRoundEnd) == 3
	}, time.Second, time.Millisecond)

	events := rec.snapshot()
	var roundStarts, roundEnds, finals int
	lastWasRoundEnd := true
	for _, e := range events {
		switch e.Type {
		case eventbus.SubagentRoundStart:
			assert.True(t, lastWasRoundEnd, "ROUND_START must follow a prior ROUND_END")
			roundStarts++
			lastWasRoundEnd = false
		case eventbus.SubagentRoundEnd:
			roundEnds++
			lastWasRoundEnd = true
		case eventbus.SubagentMessageToUser:
			if data, ok := e.Data.(map[string]interface{}); ok {
				if _, ok := data["finalText"]; ok {
					finals++
				}
			}
		}
	}
	assert.Equal(t, 3, roundStarts)
	assert.Equal(t, 3, roundEnds)
	assert.Equal(t, 3, finals)

	require.Len(t, client.PromptIDs, 3)
	for i, p := range client.PromptIDs {
		assert.Contains(t, p, "#s1#"+string(rune('1'+i)))
	}
}

// TestInvariant6_RoundEventSequence checks a single round's emitted
// events match spec invariant 6's regex shape.
func TestInvariant6_RoundEventSequence(t *testing.T) {
	_, bus, rec, id := newTestHarness(t)

	client := faketools.NewChatClient(faketools.Round{Events: []subagent.StreamEvent{
		textEvent("hello "),
		{Type: subagent.StreamEventChunk, FunctionCalls: []subagent.FunctionCall{{ID: "c1", Name: "tool_a"}}},
		textEvent("world"),
	}})
	registry := faketools.NewToolRegistry(subagent.ToolDeclaration{Name: "tool_a"})
	executor := &faketools.Executor{}

	scope := subagent.NewScope(id, subagent.Config{ChatClient: client, Tools: registry, Executor: executor, SubagentID: "s1"}, session.NewManager(bus, nil), bus, nil)
	scope.EnqueueUserMessage("hi")

	require.Eventually(t, func() bool {
		return rec.count(eventbus.SubagentRoundEnd) == 1
	}, time.Second, time.Millisecond)

	var seq []eventbus.Type
	for _, e := range rec.snapshot() {
		switch e.Type {
		case eventbus.SubagentRoundStart, eventbus.SubagentStreamText, eventbus.SubagentToolCall,
			eventbus.SubagentToolResult, eventbus.SubagentMessageToUser, eventbus.SubagentRoundEnd:
			seq = append(seq, e.Type)
		}
	}

	require.True(t, len(seq) > 0)
	assert.Equal(t, eventbus.SubagentRoundStart, seq[0])
	assert.Equal(t, eventbus.SubagentRoundEnd, seq[len(seq)-1])
	// final SUBAGENT_MESSAGE_TO_USER (the finalText one) must be the
	// event immediately preceding ROUND_END.
	assert.Equal(t, eventbus.SubagentMessageToUser, seq[len(seq)-2])
}

func TestRunInteractive_BindsScopeAndSendsTaskPrompt(t *testing.T) {
	mgr, bus, rec, id := newTestHarness(t)
	client := faketools.NewChatClient(faketools.Round{Events: []subagent.StreamEvent{textEvent("go")}})
	registry := faketools.NewToolRegistry()

	scope := subagent.NewScope(id, subagent.Config{ChatClient: client, Tools: registry, SubagentID: "s1"}, mgr, bus, nil)

	ctx, err := mgr.GetSessionContext(id)
	require.NoError(t, err)
	ctx.Set("task_prompt", "do the thing")

	external := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = scope.RunInteractive(context.Background(), ctx, external)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return rec.count(eventbus.SubagentRoundEnd) == 1
	}, time.Second, time.Millisecond)

	close(external)
	<-done

	assert.Equal(t, subagent.TerminateCancelled, scope.TerminateMode())
	assert.Equal(t, 1, rec.count(eventbus.SubagentFinish))
}

func TestRunInteractive_NoChatClientSetsErrorMode(t *testing.T) {
	mgr, bus, rec, id := newTestHarness(t)
	scope := subagent.NewScope(id, subagent.Config{}, mgr, bus, nil)

	err := scope.RunInteractive(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Equal(t, subagent.TerminateError, scope.TerminateMode())
	assert.Equal(t, 1, rec.count(eventbus.SubagentError))
}
