package cancellation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/furisto/dispatch/backend/agent/types"
)

// Token is the cooperative stop signal held by one running agent loop.
type Token struct {
	agentID types.AgentID
	ctx     context.Context
	cancel  context.CancelFunc
}

func (t *Token) AgentID() types.AgentID {
	return t.agentID
}

// Context is cancelled together with the token. Blocking calls made on
// behalf of the agent should use it.
func (t *Token) Context() context.Context {
	return t.ctx
}

func (t *Token) Done() <-chan struct{} {
	return t.ctx.Done()
}

func (t *Token) Cancelled() bool {
	return t.ctx.Err() != nil
}

type Registry struct {
	mu     sync.Mutex
	tokens map[types.AgentID]*Token
}

func NewRegistry() *Registry {
	return &Registry{
		tokens: make(map[types.AgentID]*Token),
	}
}

// CreateToken returns a fresh token for agentID derived from ctx. A token
// left behind by an earlier loop of the same agent is cancelled and replaced.
func (r *Registry) CreateToken(ctx context.Context, agentID types.AgentID) *Token {
	tokenCtx, cancel := context.WithCancel(ctx)
	token := &Token{
		agentID: agentID,
		ctx:     tokenCtx,
		cancel:  cancel,
	}

	r.mu.Lock()
	stale, exists := r.tokens[agentID]
	r.tokens[agentID] = token
	r.mu.Unlock()

	if exists {
		slog.Warn("replacing existing cancellation token", "agent_id", agentID)
		stale.cancel()
	}

	return token
}

// Cancel signals the token of agentID and forgets it. It returns false when
// the agent holds no token, for example because it already terminated.
func (r *Registry) Cancel(agentID types.AgentID) bool {
	r.mu.Lock()
	token, ok := r.tokens[agentID]
	delete(r.tokens, agentID)
	r.mu.Unlock()

	if !ok {
		return false
	}

	token.cancel()
	slog.Debug("agent cancelled", "agent_id", agentID)
	return true
}

// CancelAll signals every token and empties the registry in a single
// critical section. It does not wait for the agents to unwind.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := len(r.tokens)
	for agentID, token := range r.tokens {
		token.cancel()
		delete(r.tokens, agentID)
	}

	if count > 0 {
		slog.Info("cancelled all agents", "count", count)
	}
	return count
}

// RemoveToken forgets the token of agentID and releases its context. It is
// called by agents leaving their loop. Calling it for an unknown agent is a
// no-op.
func (r *Registry) RemoveToken(agentID types.AgentID) {
	r.mu.Lock()
	token, ok := r.tokens[agentID]
	delete(r.tokens, agentID)
	r.mu.Unlock()

	if ok {
		token.cancel()
	}
}

// Release removes token only if it is still the one registered for its
// agent, so a finishing loop never drops the token of its successor.
func (r *Registry) Release(token *Token) {
	r.mu.Lock()
	current, ok := r.tokens[token.agentID]
	if ok && current == token {
		delete(r.tokens, token.agentID)
	}
	r.mu.Unlock()

	token.cancel()
}

func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

func (r *Registry) IsActive(agentID types.AgentID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tokens[agentID]
	return ok
}
