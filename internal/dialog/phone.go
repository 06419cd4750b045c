package dialog

import "strings"

// Phone number shapes accepted for callback capture: at least 10 and at
// most 13 digits once separators are stripped, starting with the local
// mobile prefix 03, the country code 92, or a bare 3.
const (
	phoneMinDigits = 10
	phoneMaxDigits = 13
)

// ParsePhoneNumber extracts a plausible callback number from a transcript.
// Digits may be separated by spaces, dashes or dots ("0300 1234567"). The
// returned value is the digit string.
func ParsePhoneNumber(text string) (string, bool) {
	var b strings.Builder
	for _, r := range text {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '+' || r == '(' || r == ')':
			// separator, skip
		default:
			// Words between digit groups are fine ("my number is ...");
			// they simply contribute nothing.
		}
	}
	digits := b.String()
	if len(digits) < phoneMinDigits || len(digits) > phoneMaxDigits {
		return "", false
	}
	if !strings.HasPrefix(digits, "03") && !strings.HasPrefix(digits, "92") && !strings.HasPrefix(digits, "3") {
		return "", false
	}
	return digits, true
}
