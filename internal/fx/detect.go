package fx

import (
	"regexp"
	"sort"
	"strings"
)

// CommonCurrencies is the ISO-4217 allow-list for code detection.
var CommonCurrencies = []string{
	"USD", "EUR", "GBP", "ILS", "JPY", "CHF", "CAD", "AUD", "NZD", "SEK",
	"NOK", "DKK", "ZAR", "PLN", "TRY", "MXN", "BRL", "INR", "RUB", "CNY",
	"HKD", "SGD", "AED", "SAR", "EGP",
}

// Synonyms maps lowercase tokens and symbols to ISO codes. Hebrew shekel
// forms include quote-mark variants users actually type.
var synonyms = map[string]string{
	"₪":            "ILS",
	"שח":           "ILS",
	"ש\"ח":         "ILS",
	"שקל":          "ILS",
	"שקלים":        "ILS",
	"שקל חדש":      "ILS",
	"nis":          "ILS",
	"n.i.s":        "ILS",
	"ils":          "ILS",
	"$":            "USD",
	"usd$":         "USD",
	"eur":          "EUR",
	"€":            "EUR",
	"£":            "GBP",
	"gbp":          "GBP",
	"aud":          "AUD",
	"cad":          "CAD",
	"fr":           "CHF",
	"chf":          "CHF",
	"yen":          "JPY",
	"jpy":          "JPY",
	"inr":          "INR",
	"rs":           "INR",
	"₹":            "INR",
	"brl":          "BRL",
	"real":         "BRL",
	"mxn":          "MXN",
	"peso":         "MXN",
	"zar":          "ZAR",
	"rand":         "ZAR",
	"rub":          "RUB",
	"руб":          "RUB",
	"cny":          "CNY",
	"rmb":          "CNY",
	"元":            "CNY",
	"sgd":          "SGD",
	"hkd":          "HKD",
	"aed":          "AED",
	"درهم":         "AED",
	"sar":          "SAR",
	"ريال":         "SAR",
	"egp":          "EGP",
	"דולר":         "USD",
	"דולרים":       "USD",
	"דולר אמריקאי": "USD",
	"יורו":         "EUR",
	"אירו":         "EUR",
	"פאונד":        "GBP",
	"לירה":         "GBP",
	"לירה שטרלינג": "GBP",
	"רופי":         "INR",
	"פסו":          "MXN",
	"ריאל":         "BRL",
	"יואן":         "CNY",
	"דירהם":        "AED",
	"ריאל סעודי":   "SAR",
	"לירה טורקית":  "TRY",
}

// synonymKeys holds the synonym keys sorted longest first so a longer,
// more specific phrase wins over any of its substrings.
var synonymKeys = func() []string {
	keys := make([]string, 0, len(synonyms))
	for k := range synonyms {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

var allowListed = func() map[string]bool {
	m := make(map[string]bool, len(CommonCurrencies))
	for _, c := range CommonCurrencies {
		m[strings.ToLower(c)] = true
	}
	return m
}()

var (
	numCodePattern = regexp.MustCompile(`(?:(\d+[.,]?\d*)\s*([a-z]{3}))|(?:([a-z]{3})\s*(\d+[.,]?\d*))`)
	shekelPattern  = regexp.MustCompile(`\d+\s*₪`)
)

var standaloneCodePatterns = func() map[string]*regexp.Regexp {
	m := make(map[string]*regexp.Regexp, len(CommonCurrencies))
	for _, c := range CommonCurrencies {
		m[c] = regexp.MustCompile(`\b` + strings.ToLower(c) + `\b`)
	}
	return m
}()

// DetectCurrency extracts a currency code from free text. Heuristics run in
// strict order, first match wins:
//  1. digits adjacent to an allow-listed ISO3 code ("120usd", "usd 120")
//  2. digits immediately followed by ₪
//  3. synonym/symbol substring, longest key first
//  4. standalone allow-listed ISO3 word
//
// Case-insensitive; the returned code is uppercase.
func DetectCurrency(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	lower := strings.ToLower(text)
	// Normalize the Hebrew gershayim shekel form to the straight-quote key.
	lower = strings.ReplaceAll(lower, "ש״ח", "ש\"ח")

	for _, m := range numCodePattern.FindAllStringSubmatch(lower, -1) {
		for _, g := range m[1:] {
			g = strings.TrimSpace(g)
			if len(g) == 3 && allowListed[g] {
				return strings.ToUpper(g), true
			}
		}
	}

	if shekelPattern.MatchString(lower) {
		return "ILS", true
	}

	for _, key := range synonymKeys {
		if strings.Contains(lower, key) {
			return synonyms[key], true
		}
	}

	for _, iso := range CommonCurrencies {
		if standaloneCodePatterns[iso].MatchString(lower) {
			return iso, true
		}
	}

	return "", false
}

// IsCurrencyToken reports whether token reads as a currency mention: either
// a known synonym or an allow-listed ISO3 code. Used to strip trailing
// currency words from extracted descriptions.
func IsCurrencyToken(token string) bool {
	lower := strings.ToLower(strings.TrimSpace(token))
	lower = strings.ReplaceAll(lower, "ש״ח", "ש\"ח")
	if _, ok := synonyms[lower]; ok {
		return true
	}
	return allowListed[lower]
}

// IsCode reports whether s looks like a 3-letter currency code.
func IsCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}
