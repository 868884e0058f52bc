package pii

import "sync"

// Scope accumulates multiple Tokenize calls into one TokenMap for the
// lifetime of a single run. The orchestrator creates one Scope per run,
// tokenizes outbound payloads before dispatch to external agents or LLM
// collaborators, and detokenizes results returning to internal tools.
// A Scope is safe for concurrent use; it is never shared across runs.
type Scope struct {
	tokenizer *Tokenizer

	mu       sync.Mutex
	tokenMap TokenMap
}

// NewScope creates a Scope with a fresh per-scope tokenizer session.
func NewScope() *Scope {
	return &Scope{
		tokenizer: New(),
		tokenMap:  make(TokenMap),
	}
}

// Tokenize runs Tokenize and merges the result into the scope's
// accumulated TokenMap.
func (s *Scope) Tokenize(data any) (*TokenizeResult, error) {
	res, err := s.tokenizer.Tokenize(data)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	for token, original := range res.TokenMap {
		s.tokenMap[token] = original
	}
	s.mu.Unlock()
	return res, nil
}

// Detokenize replaces every token this scope has minted so far with its
// original value.
func (s *Scope) Detokenize(text string) string {
	s.mu.Lock()
	tm := make(TokenMap, len(s.tokenMap))
	for k, v := range s.tokenMap {
		tm[k] = v
	}
	s.mu.Unlock()
	return Detokenize(text, tm)
}

// Original performs a reverse lookup of a single token, reporting whether
// it was found.
func (s *Scope) Original(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.tokenMap[token]
	return v, ok
}

// TokenCount returns the number of distinct tokens minted in this scope.
func (s *Scope) TokenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokenMap)
}
