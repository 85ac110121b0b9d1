// Package phone normalizes dialed numbers to international form before
// they reach the softphone transport.
package phone

import "strings"

// shortCodeMaxLen: anything shorter passes through untouched (internal
// extensions and emergency short codes like "000").
const shortCodeMaxLen = 5

// Normalize rewrites a dialed number to +<countryCode> international form
// where it can do so safely, and passes everything else through unchanged.
// countryCode is bare digits (e.g. "61"). Normalize is idempotent.
//
// Rules, in order:
//   - strip spaces and dashes
//   - fewer than 5 characters: pass through (extension / short code)
//   - already "+...": pass through
//   - leading national trunk "0": drop it, prefix "+CC"
//   - 8-10 digits with no leading "0" and not already starting with CC:
//     prefix "+CC"
//   - bare CC prefix: prefix "+"
//   - anything else: returned as given
func Normalize(input, countryCode string) string {
	cleaned := strings.ReplaceAll(input, " ", "")
	cleaned = strings.ReplaceAll(cleaned, "-", "")

	if len(cleaned) < shortCodeMaxLen {
		return cleaned
	}
	if strings.HasPrefix(cleaned, "+") {
		return cleaned
	}
	if strings.HasPrefix(cleaned, "0") {
		return "+" + countryCode + cleaned[1:]
	}
	if len(cleaned) >= 8 && len(cleaned) <= 10 && !strings.HasPrefix(cleaned, countryCode) {
		return "+" + countryCode + cleaned
	}
	if strings.HasPrefix(cleaned, countryCode) {
		return "+" + cleaned
	}
	return input
}
