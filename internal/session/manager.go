// Package session implements the session store (C4), session context
// (C5), and session manager (C6): the in-memory tree of sessions, their
// per-session key/value state, and the public façade that coordinates
// them with the event bus and bound subagent scopes. Grounded on
// lifecycle.Manager's injected-dependency constructor shape
// (docker, registry, eventBus, logger) and its publishEvent helper.
package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kandev/session-core/internal/corelog"
	"github.com/kandev/session-core/internal/eventbus"
)

// Scope is the non-owning back-reference the manager holds for a bound
// subagent scope, per spec §4.6/§9's "weak upward coupling" redesign
// note: an interface instead of by-name registration.
type Scope interface {
	EnqueueUserMessage(text string)
}

// CancellableScope is a Scope that additionally exposes cancellation of
// its in-flight round. Implemented by internal/subagent's scope.
type CancellableScope interface {
	Scope
	CancelCurrentMessage()
}

var idCounter uint64

func nextID(name string) ID {
	n := atomic.AddUint64(&idCounter, 1)
	suffix := uuid.New().String()[:6]
	return ID(fmt.Sprintf("%s-%d-%s", name, n, suffix))
}

// CreateParams are the inputs to CreateSession.
type CreateParams struct {
	Name         string
	SubagentName string
	ParentID     ID
	HasParent    bool
	Config       Config
	TaskPrompt   string
	HasPrompt    bool
}

// Manager is the session manager (C6): the single public façade
// coordinating the session store, per-session contexts, bound scopes,
// and the event bus.
type Manager struct {
	store    *store
	bus      *eventbus.Bus
	logger   *corelog.Logger

	ctxMu     sync.RWMutex
	contexts  map[ID]*Context

	scopeMu sync.RWMutex
	scopes  map[ID]Scope
}

// NewManager builds a session manager, following lifecycle.NewManager's
// constructor shape: dependencies passed in, no package-level singleton
// required.
func NewManager(bus *eventbus.Bus, logger *corelog.Logger) *Manager {
	if logger == nil {
		logger = corelog.Default()
	}
	if bus == nil {
		bus = eventbus.NewBus(logger)
	}
	return &Manager{
		store:    newStore(),
		bus:      bus,
		logger:   logger.Child(map[string]interface{}{"component": "session_manager"}),
		contexts: make(map[ID]*Context),
		scopes:   make(map[ID]Scope),
	}
}

func (m *Manager) publish(t eventbus.Type, sessionID ID, data interface{}) {
	m.bus.Publish(eventbus.New(t, string(sessionID), data))
}

// CreateSession allocates a node, builds its context, emits
// SESSION_STARTED, and optionally auto-switches to it, per spec §4.6.
func (m *Manager) CreateSession(p CreateParams) (ID, error) {
	depth := 0
	if p.HasParent {
		d, ok := m.store.getDepth(p.ParentID)
		if !ok {
			return "", newError(ErrParentNotFound, string(p.ParentID))
		}
		depth = d + 1
	}

	if depth >= p.Config.MaxDepth {
		return "", newError(ErrMaxDepthExceeded, fmt.Sprintf("depth %d >= maxDepth %d", depth, p.Config.MaxDepth))
	}

	id := nextID(p.Name)
	now := time.Now()
	node := Node{
		ID:           id,
		Name:         p.Name,
		SubagentName: p.SubagentName,
		Depth:        depth,
		Status:       StatusActive,
		ParentID:     p.ParentID,
		HasParent:    p.HasParent,
		CreatedAt:    now,
		UpdatedAt:    now,
		Config:       p.Config,
	}

	if err := m.store.addNode(node); err != nil {
		return "", err
	}
	if err := m.store.linkChild(p.ParentID, p.HasParent, id); err != nil {
		return "", err
	}

	var ctx *Context
	if p.Config.InheritContext && p.HasParent {
		parentCtx, _ := m.getContextInternal(p.ParentID)
		ctx = NewContextFromParent(parentCtx)
	} else {
		ctx = NewContext()
	}
	if p.HasPrompt {
		ctx.Set("task_prompt", p.TaskPrompt)
	}
	m.ctxMu.Lock()
	m.contexts[id] = ctx
	m.ctxMu.Unlock()

	n, _ := m.store.getNode(id)
	m.publish(eventbus.SessionStarted, id, n)

	if p.Config.AutoSwitch {
		if err := m.store.push(id); err != nil {
			m.logger.Error("auto-switch push failed", err, map[string]interface{}{"session_id": string(id)}, nil)
		} else {
			m.publish(eventbus.SessionSwitched, id, map[string]interface{}{"to": string(id)})
		}
	}

	return id, nil
}

// SwitchActiveSession pushes id onto the active stack.
func (m *Manager) SwitchActiveSession(id ID) error {
	prev, hadPrev := m.store.getActive()
	if err := m.store.push(id); err != nil {
		return err
	}
	data := map[string]interface{}{"to": string(id)}
	if hadPrev {
		data["from"] = string(prev)
	}
	m.publish(eventbus.SessionSwitched, id, data)
	return nil
}

// BackToParent pops the active stack and, if a session remains, emits
// SESSION_SWITCHED to that session. Returns the new active id if any.
func (m *Manager) BackToParent() (ID, bool) {
	_, popped := m.store.pop()
	if !popped {
		return "", false
	}
	newActive, ok := m.store.getActive()
	if ok {
		m.publish(eventbus.SessionSwitched, newActive, map[string]interface{}{"to": string(newActive)})
	}
	return newActive, ok
}

// Pause sets a session to paused. A no-op (not an error) from a terminal
// status or from paused itself, per spec §9's open-question resolution:
// never silently reactivate, never reject with a hard error either —
// conservative no-op.
func (m *Manager) Pause(id ID) error {
	n, ok := m.store.getNode(id)
	if !ok {
		return newError(ErrSessionNotFound, string(id))
	}
	if n.Status.IsTerminal() || n.Status == StatusPaused {
		return nil
	}
	if err := m.store.setStatus(id, StatusPaused); err != nil {
		return err
	}
	m.publish(eventbus.SessionPaused, id, nil)
	return nil
}

// Resume sets a paused session back to active.
func (m *Manager) Resume(id ID) error {
	n, ok := m.store.getNode(id)
	if !ok {
		return newError(ErrSessionNotFound, string(id))
	}
	if n.Status != StatusPaused {
		return nil
	}
	if err := m.store.setStatus(id, StatusActive); err != nil {
		return err
	}
	m.publish(eventbus.SessionResumed, id, nil)
	return nil
}

// Complete marks a session completed, emits SESSION_COMPLETED, and, if
// id was active, pops the stack and emits SESSION_SWITCHED to the session
// now on top of the stack, if any.
func (m *Manager) Complete(id ID, result interface{}, reason string) error {
	if err := m.store.setStatus(id, StatusCompleted); err != nil {
		return err
	}
	m.publish(eventbus.SessionCompleted, id, map[string]interface{}{"result": result, "terminateReason": reason})
	m.popIfActive(id)
	return nil
}

// Abort marks a session aborted, emits SESSION_ABORTED, and, if id was
// active, pops the stack and emits SESSION_SWITCHED to the session now on
// top of the stack, if any.
func (m *Manager) Abort(id ID, reason string) error {
	if err := m.store.setStatus(id, StatusAborted); err != nil {
		return err
	}
	m.publish(eventbus.SessionAborted, id, map[string]interface{}{"reason": reason})
	m.popIfActive(id)
	return nil
}

func (m *Manager) popIfActive(id ID) {
	active, ok := m.store.getActive()
	if !ok || active != id {
		return
	}
	m.store.pop()
	if newActive, ok := m.store.getActive(); ok {
		m.publish(eventbus.SessionSwitched, newActive, map[string]interface{}{"to": string(newActive)})
	}
}

// SendUserMessage emits USER_MESSAGE_TO_SESSION and, if a scope is
// bound for id, forwards the message to it.
func (m *Manager) SendUserMessage(id ID, text string) {
	m.publish(eventbus.UserMessageToSession, id, map[string]interface{}{"text": text})
	m.scopeMu.RLock()
	scope, ok := m.scopes[id]
	m.scopeMu.RUnlock()
	if ok {
		scope.EnqueueUserMessage(text)
	}
}

// BindScope registers scope for id. A later call for the same id
// replaces the previous scope (per spec §9, rebinding is allowed; this
// conservative implementation does not signal the previous scope, since
// callers needing takeover semantics should drain/abort it themselves
// before rebinding).
func (m *Manager) BindScope(id ID, scope Scope) {
	m.scopeMu.Lock()
	defer m.scopeMu.Unlock()
	m.scopes[id] = scope
}

// CancelCurrentMessage cancels the in-flight round of the active
// session's bound scope, if it exposes cancellation. Logs and returns
// otherwise.
func (m *Manager) CancelCurrentMessage() {
	active, ok := m.store.getActive()
	if !ok {
		m.logger.Debug("cancelCurrentMessage: no active session", nil, nil)
		return
	}
	m.scopeMu.RLock()
	scope, ok := m.scopes[active]
	m.scopeMu.RUnlock()
	if !ok {
		m.logger.Debug("cancelCurrentMessage: no scope bound for active session", map[string]interface{}{"session_id": string(active)}, nil)
		return
	}
	cancellable, ok := scope.(CancellableScope)
	if !ok {
		m.logger.Debug("cancelCurrentMessage: bound scope does not support cancellation", map[string]interface{}{"session_id": string(active)}, nil)
		return
	}
	cancellable.CancelCurrentMessage()
}

// GetActiveSessionID returns the id at the top of the active stack.
func (m *Manager) GetActiveSessionID() (ID, bool) {
	return m.store.getActive()
}

// GetSessionNode returns a copy of the node for id.
func (m *Manager) GetSessionNode(id ID) (Node, bool) {
	return m.store.getNode(id)
}

// GetTree returns every node currently in the store.
func (m *Manager) GetTree() []Node {
	return m.store.getTree()
}

// GetBreadcrumb returns names from root to id.
func (m *Manager) GetBreadcrumb(id ID) []string {
	return m.store.getBreadcrumb(id)
}

// GetDepth returns the depth of id.
func (m *Manager) GetDepth(id ID) (int, bool) {
	return m.store.getDepth(id)
}

// HasSession reports whether id exists.
func (m *Manager) HasSession(id ID) bool {
	return m.store.has(id)
}

// GetSessionCount returns the number of sessions in the store.
func (m *Manager) GetSessionCount() int {
	return m.store.size()
}

// GetStackDepth returns the length of the active stack.
func (m *Manager) GetStackDepth() int {
	return len(m.store.list())
}

// GetSessionContext returns the context for id, failing if unknown.
func (m *Manager) GetSessionContext(id ID) (*Context, error) {
	ctx, ok := m.getContextInternal(id)
	if !ok {
		return nil, newError(ErrContextNotFound, string(id))
	}
	return ctx, nil
}

func (m *Manager) getContextInternal(id ID) (*Context, bool) {
	m.ctxMu.RLock()
	defer m.ctxMu.RUnlock()
	ctx, ok := m.contexts[id]
	return ctx, ok
}

// Bus returns the manager's event bus, so external collaborators (e.g.
// a subagent scope) can subscribe or publish subagent events.
func (m *Manager) Bus() *eventbus.Bus {
	return m.bus
}
