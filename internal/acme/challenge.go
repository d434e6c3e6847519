package acme

import (
	"context"
	"sync"

	"github.com/mholt/acmez/v3"
	"github.com/mholt/acmez/v3/acme"
)

// ChallengeStore is the process-wide token -> key-authorization map the
// HTTP-01 responder consults, mirroring the original prototype's
// shared DashMap (original_source acme.rs ChallengeTokens).
type ChallengeStore struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewChallengeStore builds an empty store.
func NewChallengeStore() *ChallengeStore {
	return &ChallengeStore{tokens: make(map[string]string)}
}

// Put records a token's key authorization.
func (s *ChallengeStore) Put(token, keyAuth string) {
	s.mu.Lock()
	s.tokens[token] = keyAuth
	s.mu.Unlock()
}

// Remove drops a token once its challenge has been validated.
func (s *ChallengeStore) Remove(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

// Lookup returns the key authorization for token, if present.
func (s *ChallengeStore) Lookup(token string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.tokens[token]
	return v, ok
}

// http01Solver adapts ChallengeStore to acmez's Solver interface for
// the HTTP-01 challenge type.
type http01Solver struct {
	store *ChallengeStore
}

func (s *http01Solver) Present(_ context.Context, chal acme.Challenge) error {
	s.store.Put(chal.Token, chal.KeyAuthorization)
	return nil
}

func (s *http01Solver) CleanUp(_ context.Context, chal acme.Challenge) error {
	s.store.Remove(chal.Token)
	return nil
}

var _ acmez.Solver = (*http01Solver)(nil)

// ChallengeBasePath is the well-known URL prefix HTTP-01 responses are
// served from, per RFC 8555 §8.3.
const ChallengeBasePath = "/.well-known/acme-challenge/"

// Respond returns the key authorization for token as body, with ok
// false if the store holds nothing for it. It is the HTTP handler side of
// the HTTP-01 flow, grounded on the teacher's HTTPChallengeHandler.
func (s *ChallengeStore) Respond(token string) (body string, ok bool) {
	v, found := s.Lookup(token)
	if !found {
		return "", false
	}
	return v, true
}
