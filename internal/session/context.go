package session

import "sync"

// Context is per-session keyed state (C5). Values are treated opaquely;
// the core never interprets them beyond presence/absence. Construction
// from a parent is a one-shot shallow copy: after NewContext returns, the
// parent and child are fully independent, per spec §4.5.
type Context struct {
	mu   sync.RWMutex
	data map[string]interface{}
}

// NewContext returns an empty context.
func NewContext() *Context {
	return &Context{data: make(map[string]interface{})}
}

// NewContextFromParent returns a context pre-populated with every
// key/value currently held by parent. Later mutations to either side do
// not propagate.
func NewContextFromParent(parent *Context) *Context {
	c := NewContext()
	if parent == nil {
		return c
	}
	parent.mu.RLock()
	defer parent.mu.RUnlock()
	for k, v := range parent.data {
		c.data[k] = v
	}
	return c
}

// Get returns the value for key and whether it was present.
func (c *Context) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	return v, ok
}

// Set stores value under key.
func (c *Context) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

// Keys returns every key currently held, in no particular order.
func (c *Context) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.data))
	for k := range c.data {
		keys = append(keys, k)
	}
	return keys
}
