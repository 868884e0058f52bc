package pii

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize_RoundTrip(t *testing.T) {
	tk := New()
	original := `contact u@x.com or 555-123-4567`

	res, err := tk.Tokenize(original)
	require.NoError(t, err)

	assert.NotContains(t, res.Tokenized, "u@x.com")
	assert.NotContains(t, res.Tokenized, "555-123-4567")
	assert.Contains(t, res.DetectedTypes, CategoryEmail)
	assert.Contains(t, res.DetectedTypes, CategoryPhone)

	restored := Detokenize(res.Tokenized, res.TokenMap)
	assert.Equal(t, original, restored)
}

func TestTokenize_TokensAreUniquePerCall(t *testing.T) {
	tk := New()
	res, err := tk.Tokenize("a@x.com b@x.com")
	require.NoError(t, err)
	assert.Equal(t, 2, res.TokenCount)
}

func TestContainsPII_NonMutating(t *testing.T) {
	found, cats := ContainsPII("email me at a@x.com")
	assert.True(t, found)
	assert.Contains(t, cats, CategoryEmail)

	found, _ = ContainsPII("nothing sensitive here")
	assert.False(t, found)
}

func TestScope_AccumulatesAcrossCalls(t *testing.T) {
	scope := NewScope()

	res1, err := scope.Tokenize("first a@x.com")
	require.NoError(t, err)
	res2, err := scope.Tokenize("second b@x.com")
	require.NoError(t, err)

	assert.Equal(t, 2, scope.TokenCount())

	restored1 := scope.Detokenize(res1.Tokenized)
	restored2 := scope.Detokenize(res2.Tokenized)
	assert.Equal(t, "first a@x.com", restored1)
	assert.Equal(t, "second b@x.com", restored2)
}

func TestScope_OriginalLookup(t *testing.T) {
	scope := NewScope()
	res, err := scope.Tokenize("a@x.com")
	require.NoError(t, err)

	var token string
	for tok := range res.TokenMap {
		token = tok
	}
	original, ok := scope.Original(token)
	assert.True(t, ok)
	assert.Equal(t, "a@x.com", original)

	_, ok = scope.Original("__MISSING_TOKEN__")
	assert.False(t, ok)
}
