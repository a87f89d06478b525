package inbound

import "strings"

var optOutKeywords = map[string]bool{
	"stop": true, "unsubscribe": true, "cancel": true,
	"end": true, "quit": true, "stopall": true,
}

var optInKeywords = map[string]bool{
	"start": true, "unstop": true, "subscribe": true, "yes": true,
}

func normalizeKeyword(body string) string {
	return strings.ToLower(strings.TrimSpace(body))
}

func isOptOut(body string) bool { return optOutKeywords[normalizeKeyword(body)] }
func isOptIn(body string) bool  { return optInKeywords[normalizeKeyword(body)] }
