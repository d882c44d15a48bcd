// Package agent implements the challenge-serving daemon deployed on fronted
// hosts. It holds HTTP-01 challenge responses published by the manager and
// serves them on the public well-known path.
package agent

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version is reported on the metadata endpoint and used by the manager's
// health checker.
const Version = "0.1.0"

var logger *zap.Logger

func init() {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize zap logger: %v", err))
	}
	logger = l.With(zap.String("package", "agent"))
}

// ChallengeStore holds the challenge responses currently published on this
// agent. Entries live until the manager withdraws them; process restart
// clears the store, which is fine because challenges are re-published per
// order execution.
type ChallengeStore struct {
	mu         sync.RWMutex
	challenges map[string]string // token -> key authorization
}

// NewChallengeStore creates an empty store.
func NewChallengeStore() *ChallengeStore {
	return &ChallengeStore{challenges: make(map[string]string)}
}

// Put publishes a challenge response, replacing any previous value for the
// token.
func (s *ChallengeStore) Put(token, keyAuth string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[token] = keyAuth
}

// Get returns the key authorization for a token.
func (s *ChallengeStore) Get(token string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keyAuth, ok := s.challenges[token]
	return keyAuth, ok
}

// Delete withdraws a challenge. Reports whether the token was present.
func (s *ChallengeStore) Delete(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.challenges[token]
	delete(s.challenges, token)
	return ok
}

// Len returns the number of published challenges.
func (s *ChallengeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.challenges)
}
