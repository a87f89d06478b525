package dispatcher

import (
	"regexp"
	"strings"
)

// Variables holds the per-contact substitution values for body
// personalization.
type Variables struct {
	First    string
	Name     string
	Phone    string
	Email    string
	Campaign string
}

var placeholderRE = regexp.MustCompile(`(?i)[\[\{](first|name|phone|email|campaign)[\]\}]`)

// Personalize substitutes [first]/{first}-style placeholders (and the
// other four variables), case-insensitive, and trims the result.
func Personalize(body string, vars Variables) string {
	values := map[string]string{
		"first":    vars.First,
		"name":     vars.Name,
		"phone":    vars.Phone,
		"email":    vars.Email,
		"campaign": vars.Campaign,
	}

	out := placeholderRE.ReplaceAllStringFunc(body, func(match string) string {
		key := strings.ToLower(strings.Trim(match, "[]{}"))
		return values[key]
	})

	return strings.TrimSpace(out)
}
