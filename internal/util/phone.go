package util

import (
	"regexp"
	"strings"
)

var nonPhoneRe = regexp.MustCompile(`[^\d\+]+`)

// NormalizePhone tries to normalize user input into E.164-like format.
// Bare national numbers are assumed Brazilian (+55).
func NormalizePhone(raw string) string {
	s := strings.TrimSpace(raw)
	s = nonPhoneRe.ReplaceAllString(s, "")

	if strings.HasPrefix(s, "00") {
		s = "+" + s[2:]
	} else if strings.HasPrefix(s, "55") && len(s) >= 12 {
		s = "+" + s
	} else if !strings.HasPrefix(s, "+") && (len(s) == 10 || len(s) == 11) {
		s = "+55" + s
	}

	return s
}
