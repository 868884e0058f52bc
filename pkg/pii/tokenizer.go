package pii

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
)

// TokenMap is a per-scope mapping from opaque token identifiers to the
// original PII substrings they replaced. Owned by exactly one Scope
// instance; never shared across runs.
type TokenMap map[string]string

// TokenizeResult is returned by Tokenize.
type TokenizeResult struct {
	Tokenized     string
	TokenMap      TokenMap
	DetectedTypes []Category
	TokenCount    int
}

// Tokenizer detects and replaces PII substrings with opaque tokens. A
// Tokenizer is stateless except for its session prefix and counter, so a
// single instance is safe to reuse across many Tokenize calls as long as
// each caller wants increasing counters (use a Scope when a caller needs
// an accumulated, reversible TokenMap instead).
type Tokenizer struct {
	session string
	counter uint64
}

// New creates a Tokenizer with a freshly-minted random session prefix.
func New() *Tokenizer {
	return &Tokenizer{session: randomSession()}
}

func randomSession() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "0000"
	}
	return fmt.Sprintf("%x", buf)
}

// Tokenize stringifies data if it is not already a string, then replaces
// every detected PII occurrence, category by category in the fixed
// detection order, with a freshly-minted token.
func (t *Tokenizer) Tokenize(data any) (*TokenizeResult, error) {
	s, err := stringify(data)
	if err != nil {
		return nil, err
	}

	tokenMap := make(TokenMap)
	var detected []Category
	seenCategory := make(map[Category]bool)

	for _, p := range orderedPatterns {
		s = p.re.ReplaceAllStringFunc(s, func(match string) string {
			token := t.nextToken(p.category)
			tokenMap[token] = match
			if !seenCategory[p.category] {
				seenCategory[p.category] = true
				detected = append(detected, p.category)
			}
			return token
		})
	}

	return &TokenizeResult{
		Tokenized:     s,
		TokenMap:      tokenMap,
		DetectedTypes: detected,
		TokenCount:    len(tokenMap),
	}, nil
}

func (t *Tokenizer) nextToken(cat Category) string {
	n := atomic.AddUint64(&t.counter, 1)
	return fmt.Sprintf("__%s_%s%d__", strings.ToUpper(string(cat)), t.session, n)
}

// Detokenize replaces every token in text with its original value from
// tokenMap via plain textual replace-all.
func Detokenize(text string, tokenMap TokenMap) string {
	for token, original := range tokenMap {
		text = strings.ReplaceAll(text, token, original)
	}
	return text
}

// ContainsPII is a non-mutating detection used for logging gates and
// policy attributes; it never allocates a TokenMap.
func ContainsPII(data any) (bool, []Category) {
	s, err := stringify(data)
	if err != nil {
		return false, nil
	}
	var detected []Category
	for _, p := range orderedPatterns {
		if p.re.MatchString(s) {
			detected = append(detected, p.category)
		}
	}
	return len(detected) > 0, detected
}

func stringify(data any) (string, error) {
	if s, ok := data.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("pii: stringify: %w", err)
	}
	return string(b), nil
}
