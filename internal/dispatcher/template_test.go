package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPersonalize_SquareAndCurlyBrackets(t *testing.T) {
	vars := Variables{Phone: "+15551234567", Campaign: "spring-sale"}

	assert.Equal(t, "Hi +15551234567, re: spring-sale", Personalize("Hi [phone], re: [campaign]", vars))
	assert.Equal(t, "Hi +15551234567, re: spring-sale", Personalize("Hi {phone}, re: {campaign}", vars))
}

func TestPersonalize_CaseInsensitive(t *testing.T) {
	vars := Variables{Name: "Jordan"}
	assert.Equal(t, "Hey Jordan", Personalize("Hey [NAME]", vars))
}

func TestPersonalize_MissingValueSubstitutesEmpty(t *testing.T) {
	vars := Variables{}
	assert.Equal(t, "Hi , welcome", Personalize("Hi [first], welcome", vars))
}

func TestPersonalize_TrimsResult(t *testing.T) {
	vars := Variables{Name: "Jordan"}
	assert.Equal(t, "Hi Jordan", Personalize("  Hi [name]  ", vars))
}

func TestPersonalize_UnknownPlaceholderLeftAsIs(t *testing.T) {
	vars := Variables{}
	assert.Equal(t, "Hi [unknown]", Personalize("Hi [unknown]", vars))
}
