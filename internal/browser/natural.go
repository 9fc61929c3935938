package browser

import (
	"strings"

	"golang.org/x/text/cases"
)

// NaturalLess compares two strings treating digit runs as numbers, so
// "1. a poly" < "9. a marker" < "100. a line". Text runs compare
// case-insensitively.
func NaturalLess(a, b string) bool {
	return naturalCompare(a, b) < 0
}

func naturalCompare(a, b string) int {
	ca, cb := splitNatural(a), splitNatural(b)
	fold := cases.Fold()
	for i := 0; i < len(ca) && i < len(cb); i++ {
		x, y := ca[i], cb[i]
		if isDigits(x) && isDigits(y) {
			if c := compareDigits(x, y); c != 0 {
				return c
			}
			continue
		}
		if c := strings.Compare(fold.String(x), fold.String(y)); c != 0 {
			return c
		}
	}
	switch {
	case len(ca) < len(cb):
		return -1
	case len(ca) > len(cb):
		return 1
	}
	return strings.Compare(a, b)
}

// compareDigits compares two digit runs by value without parsing, so runs
// longer than an int still order correctly.
func compareDigits(x, y string) int {
	x = strings.TrimLeft(x, "0")
	y = strings.TrimLeft(y, "0")
	if len(x) != len(y) {
		if len(x) < len(y) {
			return -1
		}
		return 1
	}
	return strings.Compare(x, y)
}

func splitNatural(s string) []string {
	var chunks []string
	start := 0
	for i := 1; i < len(s); i++ {
		if isDigit(s[i]) != isDigit(s[i-1]) {
			chunks = append(chunks, s[start:i])
			start = i
		}
	}
	if start < len(s) {
		chunks = append(chunks, s[start:])
	}
	return chunks
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isDigits(s string) bool {
	return s != "" && isDigit(s[0])
}
