package agentsec

import (
	"context"
	"sync"
)

type ctxKey int

const (
	callContextKey ctxKey = iota
	skipLLMKey
	skipMCPKey
)

// CallContext is the per-logical-call state threaded through nested wrapped
// calls: a metadata bag, the last decision, and the done flag that prevents
// double inspection when wrapped libraries call each other. One CallContext
// is shared by every frame of a logical call via context.Context; parallel
// goroutines only share it when the caller propagates the ctx.
type CallContext struct {
	mu       sync.Mutex
	metadata map[string]any
	decision *Decision
	done     bool
}

// NewCallContext builds an empty CallContext.
func NewCallContext() *CallContext {
	return &CallContext{metadata: map[string]any{}}
}

// Set merges a decision and the done flag into the context.
func (c *CallContext) Set(decision *Decision, done bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if decision != nil {
		d := *decision
		c.decision = &d
	}
	if done {
		c.done = true
	}
}

// Decision returns the last recorded decision, or nil.
func (c *CallContext) Decision() *Decision {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.decision == nil {
		return nil
	}
	d := *c.decision
	return &d
}

// Done reports whether a terminal decision was already reached for this
// logical call.
func (c *CallContext) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// SetMeta stores one metadata entry.
func (c *CallContext) SetMeta(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata[key] = value
}

// Meta returns one metadata entry.
func (c *CallContext) Meta(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.metadata[key]
	return v, ok
}

// Metadata returns a copy of the metadata bag.
func (c *CallContext) Metadata() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.metadata))
	for k, v := range c.metadata {
		out[k] = v
	}
	return out
}

// FromContext returns the CallContext carried by ctx, or nil.
func FromContext(ctx context.Context) *CallContext {
	cc, _ := ctx.Value(callContextKey).(*CallContext)
	return cc
}

// EnsureContext returns ctx's CallContext, installing a fresh one when the
// ctx carries none. Wrapped clients call this at their outermost entry so
// nested wrapped calls observe the same CallContext.
func EnsureContext(ctx context.Context) (context.Context, *CallContext) {
	if cc := FromContext(ctx); cc != nil {
		return ctx, cc
	}
	cc := NewCallContext()
	return context.WithValue(ctx, callContextKey, cc), cc
}

// WithCallContext installs an explicit CallContext, typically to propagate
// the outer call's context into a spawned goroutine.
func WithCallContext(ctx context.Context, cc *CallContext) context.Context {
	return context.WithValue(ctx, callContextKey, cc)
}

// WithSkipLLM returns a ctx within which LLM inspection is bypassed. The
// skip ends when the derived ctx goes out of scope, on every exit path.
func WithSkipLLM(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipLLMKey, true)
}

// WithSkipMCP returns a ctx within which MCP inspection is bypassed.
func WithSkipMCP(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipMCPKey, true)
}

// SkipLLM reports whether ctx is inside an LLM skip scope.
func SkipLLM(ctx context.Context) bool {
	v, _ := ctx.Value(skipLLMKey).(bool)
	return v
}

// SkipMCP reports whether ctx is inside an MCP skip scope.
func SkipMCP(ctx context.Context) bool {
	v, _ := ctx.Value(skipMCPKey).(bool)
	return v
}
