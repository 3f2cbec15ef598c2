package watcher

import (
	"context"
	"sync"

	"github.com/axiomesh/bounty-guardian/chain"
	"github.com/axiomesh/bounty-guardian/core"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

var (
	// ErrSuperseded is returned by a refresh whose result arrived after the
	// session moved to another proposal or caller. The result is dropped.
	ErrSuperseded = errors.New("refresh superseded")
	ErrClosed     = errors.New("session closed")
	ErrNotLoaded  = errors.New("proposal not loaded yet")
	ErrReadOnly   = errors.New("session has no intent sender")
)

// session tags every refresh with the generation it started in. Changing
// what the session looks at bumps the generation, so late results of
// earlier refreshes are recognized and dropped.
type session struct {
	mu       sync.Mutex
	gen      uint64
	closed   bool
	nextID   uint64
	inflight map[uint64]context.CancelFunc
}

// track registers a refresh. mu must be held.
func (s *session) track(ctx context.Context) (context.Context, func()) {
	if s.inflight == nil {
		s.inflight = make(map[uint64]context.CancelFunc)
	}
	ctx, cancel := context.WithCancel(ctx)
	id := s.nextID
	s.nextID++
	s.inflight[id] = cancel

	return ctx, func() {
		s.mu.Lock()
		delete(s.inflight, id)
		s.mu.Unlock()
		cancel()
	}
}

// shutdown cancels in-flight refreshes. mu must be held.
func (s *session) shutdown() {
	s.closed = true
	s.gen++
	for id, cancel := range s.inflight {
		cancel()
		delete(s.inflight, id)
	}
}

// send submits in and reports the outcome. The caller refreshes afterwards
// whatever the outcome.
func send(ctx context.Context, env *Env, in chain.Intent) (*types.Receipt, error) {
	if env.Sender == nil {
		return nil, ErrReadOnly
	}
	receipt, err := env.Sender.Send(ctx, in)
	outcome := "confirmed"
	if err != nil {
		outcome = "failed"
		if ie, ok := chain.IsIntentError(err); ok {
			outcome = ie.Kind.Error()
		}
	}
	env.metrics().executions.WithLabelValues(string(in.Action), outcome).Inc()
	return receipt, err
}

// timeGated reports whether err is a denial that a fresher chain time may
// lift.
func timeGated(err error) bool {
	ge, ok := core.IsGateError(err)
	if !ok {
		return false
	}
	switch ge.Reason {
	case core.ReasonWindowNotOpen, core.ReasonWindowClosed, core.ReasonNoTimeSource:
		return true
	}
	return false
}

func denied(env *Env, action core.Action, err error) error {
	env.metrics().executions.WithLabelValues(string(action), "denied").Inc()
	return err
}
