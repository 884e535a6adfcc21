package ledger

import "strings"

// Categories is the fixed expense category set.
var Categories = []string{
	"food", "groceries", "transport", "entertainment", "travel",
	"utilities", "health", "rent", "other",
}

// CategoryEmoji decorates category names in chat output.
var CategoryEmoji = map[string]string{
	"food":          "🍽️",
	"groceries":     "🛒",
	"transport":     "🚕",
	"entertainment": "🎉",
	"travel":        "✈️",
	"utilities":     "💡",
	"health":        "💊",
	"rent":          "🏠",
	"other":         "📦",
}

var categorySynonyms = map[string]string{
	"meal":      "food",
	"dinner":    "food",
	"lunch":     "food",
	"breakfast": "food",
	"uber":      "transport",
	"taxi":      "transport",
	"bus":       "transport",
	"flight":    "travel",
	"hotel":     "travel",
	"movie":     "entertainment",
	"cinema":    "entertainment",
	"pharmacy":  "health",
	"medicine":  "health",
}

var categorySet = func() map[string]bool {
	m := make(map[string]bool, len(Categories))
	for _, c := range Categories {
		m[c] = true
	}
	return m
}()

// NormalizeCategory maps raw input to a known category, via exact match,
// synonym, or synonym substring. Anything unrecognized becomes "other".
func NormalizeCategory(raw string) string {
	r := strings.ToLower(strings.TrimSpace(raw))
	if r == "" {
		return "other"
	}
	if categorySet[r] {
		return r
	}
	if c, ok := categorySynonyms[r]; ok {
		return c
	}
	for k, v := range categorySynonyms {
		if strings.Contains(r, k) {
			return v
		}
	}
	return "other"
}
