package runner

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"replaybench/internal/bench"
	"replaybench/internal/protocol"
	"replaybench/internal/replay"
	"replaybench/internal/scenario"
)

// ErrSessionFinished is returned for calls made after Finish.
var ErrSessionFinished = errors.New("session already finished")

// Session is a replay driven from outside the process, one protocol call at
// a time. It backs the RPC server.
type Session struct {
	c       *Coordinator
	snap    *scenario.Snapshot
	engine  *replay.Engine
	adapter *protocol.Adapter

	mu     sync.Mutex
	result *bench.Result
}

// NewSession starts a replay of snap for an external agent.
func (c *Coordinator) NewSession(snap *scenario.Snapshot, agentID string) *Session {
	engine := c.newEngine(snap, agentID)
	slog.Info("session started", "run", engine.RunID(), "scenario", snap.ID, "agent", agentID)
	return &Session{
		c:       c,
		snap:    snap,
		engine:  engine,
		adapter: protocol.NewAdapter(engine, agentID),
	}
}

func (s *Session) RunID() string { return s.engine.RunID() }

// Call dispatches one protocol method. Calls after Finish are rejected.
func (s *Session) Call(ctx context.Context, method string, params json.RawMessage) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != nil {
		return nil, ErrSessionFinished
	}
	return s.adapter.Call(ctx, method, params)
}

// State reports the session's replay pointer.
func (s *Session) State() protocol.State {
	return s.adapter.State()
}

// Finish scores and persists the session. Later calls return the same result.
func (s *Session) Finish(ctx context.Context) (*bench.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != nil {
		return s.result, nil
	}
	s.adapter.Close()
	res, err := s.c.finalize(ctx, s.snap, s.engine)
	if err != nil {
		return nil, err
	}
	s.result = res
	return res, nil
}
