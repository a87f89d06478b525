package inbound

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsOptOut(t *testing.T) {
	for _, kw := range []string{"stop", "STOP", " Stop ", "unsubscribe", "cancel", "end", "quit", "stopall"} {
		assert.True(t, isOptOut(kw), kw)
	}
	assert.False(t, isOptOut("stop please"))
	assert.False(t, isOptOut("hello"))
}

func TestIsOptIn(t *testing.T) {
	for _, kw := range []string{"start", "START", " unstop ", "subscribe", "yes"} {
		assert.True(t, isOptIn(kw), kw)
	}
	assert.False(t, isOptIn("yes please"))
}

func TestKeywordSetsAreDisjoint(t *testing.T) {
	for kw := range optOutKeywords {
		assert.False(t, optInKeywords[kw], kw)
	}
}
