package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "+15551234567", Normalize("555-123-4567"))
	assert.Equal(t, "+15551234567", Normalize("(555) 123-4567"))
	assert.Equal(t, "+15551234567", Normalize("+1 555 123 4567"))
	assert.Equal(t, "+15551234567", Normalize("15551234567"))
}

func TestNormalize_Idempotent(t *testing.T) {
	once := Normalize("555-123-4567")
	twice := Normalize(once)
	assert.Equal(t, once, twice)
}

func TestSuffixMatch(t *testing.T) {
	assert.True(t, SuffixMatch("+15551234567", "555-123-4567"))
	assert.True(t, SuffixMatch("15551234567", "(555) 123-4567"))
	assert.False(t, SuffixMatch("+15551234567", "+15559876543"))
}

func TestSuffixMatch_EmptyInputNeverMatches(t *testing.T) {
	assert.False(t, SuffixMatch("", ""))
	assert.False(t, SuffixMatch("abc", "def"))
}
