package subagent

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kandev/session-core/internal/corelog"
	"github.com/kandev/session-core/internal/eventbus"
	"github.com/kandev/session-core/internal/session"
	"github.com/kandev/session-core/internal/textutil"
)

// maxRoundDebugPreviewLen caps how much of a round's user text is included
// in the scope's debug preview log line.
const maxRoundDebugPreviewLen = 200

// TerminateMode is the scope's final disposition, reported on FINISH.
type TerminateMode string

const (
	TerminateNone      TerminateMode = ""
	TerminateCompleted TerminateMode = "COMPLETED"
	TerminateCancelled TerminateMode = "CANCELLED"
	TerminateError     TerminateMode = "ERROR"
)

// Config configures one Scope. ChatClient and Tools are the only
// required fields; the rest have zero-value defaults matching the
// least-capable subagent (no nested tasks, no whitelist, no inline
// tools, no approval gate).
type Config struct {
	ChatClient ChatClient
	Tools      ToolRegistry
	Executor   ToolExecutor

	// SessionRoot names the top-level session this subagent belongs to,
	// used as the first component of promptId.
	SessionRoot string
	// SubagentID names this subagent, the second component of promptId.
	SubagentID string

	AllowNestedTasks bool
	DelegationTool   ToolDeclaration
	ToolWhitelist    []string
	InlineTools      []ToolDeclaration

	// RequiresApproval reports whether a TOOL_WAITING_APPROVAL event is
	// emitted for call before it is dispatched. Dispatch does not wait for
	// an approval; the call runs right after the event. Nil means no
	// TOOL_WAITING_APPROVAL event is ever emitted.
	RequiresApproval func(call FunctionCall) bool
}

// TokenStats accumulates per-session usage across rounds.
type TokenStats struct {
	PromptTokens   int64
	ResponseTokens int64
	TotalTokens    int64
}

// Scope is the interactive subagent scope (C7): one session's
// conversation driver. Grounded on the teacher's single-flight
// task-processing loop shape (a queue drained by one goroutine at a
// time, triggered on enqueue if idle) and on internal/common/appctx's
// external-signal-into-internal-controller chaining pattern.
type Scope struct {
	sessionID session.ID
	cfg       Config
	manager   *session.Manager
	bus       *eventbus.Bus
	logger    *corelog.Logger

	mu         sync.Mutex
	queue      []string
	processing bool

	roundCounter uint64

	stats TokenStats

	abortMu       sync.Mutex
	roundAbort    chan struct{}
	sessionAbort  chan struct{}
	sessionAbortOnce sync.Once

	terminateMode atomic.Value // TerminateMode
	done          chan struct{}
}

// NewScope builds a Scope bound to sessionID. Call RunInteractive to
// start it.
func NewScope(sessionID session.ID, cfg Config, manager *session.Manager, bus *eventbus.Bus, logger *corelog.Logger) *Scope {
	if logger == nil {
		logger = corelog.Default()
	}
	s := &Scope{
		sessionID:    sessionID,
		cfg:          cfg,
		manager:      manager,
		bus:          bus,
		logger:       logger.Child(map[string]interface{}{"component": "subagent_scope", "session_id": string(sessionID)}),
		sessionAbort: make(chan struct{}),
		done:         make(chan struct{}),
	}
	s.terminateMode.Store(TerminateNone)
	return s
}

func (s *Scope) publish(t eventbus.Type, data interface{}) {
	s.bus.Publish(eventbus.New(t, string(s.sessionID), data))
}

func (s *Scope) setTerminateMode(m TerminateMode) {
	s.terminateMode.Store(m)
}

// TerminateMode returns the scope's final disposition. Only meaningful
// after RunInteractive has returned.
func (s *Scope) TerminateMode() TerminateMode {
	return s.terminateMode.Load().(TerminateMode)
}

// RunInteractive drives this session's conversation until its internal
// abort controller fires, per spec §4.7. externalSignal, if non-nil, is
// chained into that controller so closing it cancels the session.
func (s *Scope) RunInteractive(ctx context.Context, initialContext *session.Context, externalSignal <-chan struct{}) error {
	if s.cfg.ChatClient == nil {
		s.setTerminateMode(TerminateError)
		s.publish(eventbus.SubagentError, map[string]interface{}{"error": "no chat client configured"})
		return errors.New("subagent: no chat client configured")
	}

	s.manager.BindScope(s.sessionID, s)
	s.publish(eventbus.SubagentStart, nil)

	if externalSignal != nil {
		go func() {
			select {
			case <-externalSignal:
				s.abortSession()
			case <-s.done:
			}
		}()
	}

	if initialContext != nil {
		if v, ok := initialContext.Get("task_prompt"); ok {
			if text, ok := v.(string); ok && text != "" {
				s.EnqueueUserMessage(text)
			}
		}
	}

	<-s.sessionAbort
	close(s.done)

	if s.TerminateMode() == TerminateNone {
		s.setTerminateMode(TerminateCompleted)
	}
	s.publish(eventbus.SubagentFinish, map[string]interface{}{
		"terminateMode":  string(s.TerminateMode()),
		"promptTokens":   atomic.LoadInt64(&s.stats.PromptTokens),
		"responseTokens": atomic.LoadInt64(&s.stats.ResponseTokens),
		"totalTokens":    atomic.LoadInt64(&s.stats.TotalTokens),
	})
	return nil
}

func (s *Scope) abortSession() {
	s.sessionAbortOnce.Do(func() {
		s.setTerminateMode(TerminateCancelled)
		s.abortMu.Lock()
		if s.roundAbort != nil {
			close(s.roundAbort)
			s.roundAbort = nil
		}
		s.abortMu.Unlock()
		close(s.sessionAbort)
	})
}

func (s *Scope) isSessionAborted() bool {
	select {
	case <-s.sessionAbort:
		return true
	default:
		return false
	}
}

// EnqueueUserMessage appends text to the FIFO queue, emits
// USER_MESSAGE_TO_SESSION, and starts the processor if it is idle.
// Implements session.Scope.
func (s *Scope) EnqueueUserMessage(text string) {
	if s.isSessionAborted() {
		return
	}
	s.publish(eventbus.UserMessageToSession, map[string]interface{}{"text": text})

	s.mu.Lock()
	s.queue = append(s.queue, text)
	shouldStart := !s.processing
	if shouldStart {
		s.processing = true
	}
	s.mu.Unlock()

	if shouldStart {
		go s.processNextInteractive()
	}
}

// CancelCurrentMessage aborts only the in-flight round; the session
// stays alive and keeps draining its queue afterwards. A no-op if no
// round is in flight. Implements session.CancellableScope.
func (s *Scope) CancelCurrentMessage() {
	s.abortMu.Lock()
	defer s.abortMu.Unlock()
	if s.roundAbort != nil {
		close(s.roundAbort)
		s.roundAbort = nil
	}
}

// processNextInteractive drains the queue single-flight, one round at a
// time, per spec §4.7.
func (s *Scope) processNextInteractive() {
	for {
		if s.isSessionAborted() {
			s.stopProcessing()
			return
		}

		s.mu.Lock()
		if len(s.queue) == 0 {
			s.processing = false
			s.mu.Unlock()
			return
		}
		text := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.runRound(text)
	}
}

func (s *Scope) stopProcessing() {
	s.mu.Lock()
	s.processing = false
	s.mu.Unlock()
}

func (s *Scope) runRound(userText string) {
	round := atomic.AddUint64(&s.roundCounter, 1)
	promptID := s.sessionRootOrID() + "#" + s.cfg.SubagentID + "#" + strconv.FormatUint(round, 10)

	abort := make(chan struct{})
	s.abortMu.Lock()
	s.roundAbort = abort
	s.abortMu.Unlock()
	defer func() {
		s.abortMu.Lock()
		if s.roundAbort == abort {
			s.roundAbort = nil
		}
		s.abortMu.Unlock()
	}()

	tools := s.resolveTools()

	s.logger.Debug("round starting", map[string]interface{}{
		"round":    round,
		"promptId": promptID,
		"preview":  textutil.TruncateWithEllipsis(userText, maxRoundDebugPreviewLen),
	}, nil)

	s.publish(eventbus.SubagentRoundStart, map[string]interface{}{"round": round, "promptId": promptID})

	ctx := context.Background()
	iter, err := s.cfg.ChatClient.SendMessageStream(ctx, []MessagePart{{Text: userText}}, StreamConfig{AbortSignal: abort, Tools: tools}, promptID)
	if err != nil {
		s.publish(eventbus.SubagentError, map[string]interface{}{"round": round, "error": err.Error()})
		s.publish(eventbus.SubagentRoundEnd, map[string]interface{}{"round": round})
		return
	}
	defer iter.Close()

	var textBuf strings.Builder
	var pendingCalls []FunctionCall
	var lastUsage *UsageMetadata
	aborted := false

streamLoop:
	for {
		select {
		case <-abort:
			aborted = true
			break streamLoop
		default:
		}

		event, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			s.publish(eventbus.SubagentError, map[string]interface{}{"round": round, "error": err.Error()})
			break
		}

		switch event.Type {
		case StreamEventRetry:
			continue
		case StreamEventChunk:
			pendingCalls = append(pendingCalls, event.FunctionCalls...)
			for _, t := range event.TextParts {
				if t == "" {
					continue
				}
				textBuf.WriteString(t)
				s.publish(eventbus.SubagentStreamText, map[string]interface{}{"round": round, "text": t})
				s.publish(eventbus.SubagentMessageToUser, map[string]interface{}{"textChunk": t})
			}
			if event.UsageMetadata != nil {
				lastUsage = event.UsageMetadata
			}
		}
	}

	if lastUsage != nil {
		atomic.AddInt64(&s.stats.PromptTokens, int64(lastUsage.PromptTokens))
		atomic.AddInt64(&s.stats.ResponseTokens, int64(lastUsage.ResponseTokens))
		atomic.AddInt64(&s.stats.TotalTokens, int64(lastUsage.TotalTokens))
	}

	if aborted {
		s.publish(eventbus.SubagentRoundEnd, map[string]interface{}{"round": round, "cancelled": true})
		return
	}

	if len(pendingCalls) > 0 {
		s.dispatchToolCalls(round, pendingCalls)
	}

	if finalText := strings.TrimSpace(textBuf.String()); finalText != "" {
		s.publish(eventbus.SubagentMessageToUser, map[string]interface{}{"finalText": finalText})
	}

	s.publish(eventbus.SubagentRoundEnd, map[string]interface{}{"round": round})
}

// dispatchToolCalls runs each pending function call, emitting
// TOOL_CALL, an optional TOOL_WAITING_APPROVAL, and TOOL_RESULT for
// each — the dispatch path shared across every round.
func (s *Scope) dispatchToolCalls(round uint64, calls []FunctionCall) {
	for _, call := range calls {
		s.publish(eventbus.SubagentToolCall, map[string]interface{}{"round": round, "call": call})

		if s.cfg.RequiresApproval != nil && s.cfg.RequiresApproval(call) {
			s.publish(eventbus.SubagentToolWaitingApproval, map[string]interface{}{"round": round, "call": call})
		}

		if s.cfg.Executor == nil {
			s.publish(eventbus.SubagentToolResult, map[string]interface{}{
				"round": round,
				"result": ToolResult{CallID: call.ID, Success: false, Error: "no tool executor configured"},
			})
			continue
		}

		result, err := s.cfg.Executor.Execute(context.Background(), call)
		if err != nil {
			result = ToolResult{CallID: call.ID, Success: false, Error: err.Error()}
		}
		s.publish(eventbus.SubagentToolResult, map[string]interface{}{"round": round, "result": result})
	}
}

// resolveTools builds the round's tool list per spec §4.7 step 2:
// delegation tool gated on AllowNestedTasks, whitelist filtering, then
// inline tools appended unconditionally.
func (s *Scope) resolveTools() []ToolDeclaration {
	var base []ToolDeclaration
	if len(s.cfg.ToolWhitelist) > 0 {
		base = s.cfg.Tools.FunctionDeclarationsFiltered(s.cfg.ToolWhitelist)
	} else {
		base = s.cfg.Tools.FunctionDeclarations()
	}

	if s.cfg.AllowNestedTasks {
		base = append(base, s.cfg.DelegationTool)
	}

	return append(base, s.cfg.InlineTools...)
}

func (s *Scope) sessionRootOrID() string {
	if s.cfg.SessionRoot != "" {
		return s.cfg.SessionRoot
	}
	return string(s.sessionID)
}
