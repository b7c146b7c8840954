package bridge

import (
	"context"
	"sync"
)

type enginePhase int

const (
	phaseUninitialized enginePhase = iota
	phaseInitializing
	phaseReady
)

// engineState tracks the script environment's bootstrap progress.
// Transitions are Uninitialized -> Initializing -> Ready and never go back;
// repeated markReady calls are no-ops.
type engineState struct {
	mu      sync.Mutex
	phase   enginePhase
	info    Ready
	readyCh chan struct{}
}

func newEngineState() *engineState {
	return &engineState{readyCh: make(chan struct{})}
}

func (s *engineState) markInitializing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == phaseUninitialized {
		s.phase = phaseInitializing
	}
}

func (s *engineState) markReady(info Ready) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == phaseReady {
		return
	}
	s.phase = phaseReady
	s.info = info
	close(s.readyCh)
}

func (s *engineState) ready() (Ready, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info, s.phase == phaseReady
}

func (s *engineState) await(ctx context.Context) (Ready, error) {
	select {
	case <-s.readyCh:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.info, nil
	case <-ctx.Done():
		return Ready{}, ctx.Err()
	}
}
