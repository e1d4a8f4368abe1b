// Package vnnum parses Vietnamese-formatted numerals and their unit
// suffixes into canonical doubles. Vietnamese convention uses "." as the
// thousands separator and "," as the decimal separator, but scraped HTML
// frequently carries the reversed usage, so disambiguation is by digit
// group shape rather than by separator character alone.
package vnnum

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ParseError reports a numeral that could not be normalized. It is a
// first-class result: callers decide whether to drop the field or record
// a warning, it never aborts a document.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("vnnum: cannot parse %q: %s", e.Input, e.Reason)
}

// Value is a normalized numeral plus the unit tag found next to it. The
// unit is not folded into the number (a validator checks it against the
// field's expected unit); the one exception is "nghìn tỷ", which
// normalizes to "tỷ" with the number scaled accordingly.
type Value struct {
	Number float64
	Unit   string
	Raw    string
}

// numeralRe matches a digit sequence with optional . or , group
// separators. Kept conservative: letters glued to digits do not match.
var numeralRe = regexp.MustCompile(`\d+(?:[.,]\d+)*`)

// unitRe matches a recognized unit suffix directly after a numeral.
// Longer alternatives come first so "tỷ đồng" beats "tỷ".
var unitRe = regexp.MustCompile(`^\s*(%|nghìn tỷ đồng|nghìn tỷ|tỷ đồng|tỷ USD|tỷ|triệu USD|triệu đồng|triệu|nghìn|USD|VNĐ|VND|đô la|người|lao động|vụ|tấn|điểm|tuổi|ha|giường|bác sĩ)`)

// Parse extracts the first numeral in s, strips surrounding narrative
// text, and returns the canonical value with its unit tag.
func Parse(s string) (Value, error) {
	loc := numeralRe.FindStringIndex(s)
	if loc == nil {
		return Value{}, &ParseError{Input: s, Reason: "no numeral"}
	}
	numeral := s[loc[0]:loc[1]]

	n, err := parseNumeral(numeral)
	if err != nil {
		return Value{}, err
	}

	raw := numeral
	unit := ""
	if m := unitRe.FindStringSubmatch(s[loc[1]:]); m != nil {
		unit = m[1]
		raw = strings.TrimSpace(s[loc[0] : loc[1]+len(m[0])])
	}

	// "nghìn tỷ" is a compound multiplier, not a distinct unit: scale to
	// the canonical "tỷ" so family ranges stay in one unit.
	switch unit {
	case "nghìn tỷ", "nghìn tỷ đồng":
		n *= 1000
		unit = "tỷ đồng"
	case "VND":
		unit = "VNĐ"
	case "đô la":
		unit = "USD"
	}

	return Value{Number: n, Unit: unit, Raw: raw}, nil
}

// parseNumeral normalizes a bare digit-and-separator token.
//
// Disambiguation rules, in order:
//   - mixed separators: the last separator is the decimal mark, all
//     earlier ones are group separators ("4.786,5" and "4,786.5" both
//     parse as 4786.5);
//   - one separator kind, every following group exactly 3 digits: group
//     separator ("114.792" → 114792, "1,234,567" → 1234567);
//   - one separator, trailing group of 1–2 digits: decimal mark
//     ("8,01" → 8.01, "7.7" → 7.7);
//   - anything else is malformed.
func parseNumeral(numeral string) (float64, error) {
	if !strings.ContainsAny(numeral, ".,") {
		n, err := strconv.ParseFloat(numeral, 64)
		if err != nil {
			return 0, &ParseError{Input: numeral, Reason: "not a number"}
		}
		return n, nil
	}

	lastDot := strings.LastIndexByte(numeral, '.')
	lastComma := strings.LastIndexByte(numeral, ',')

	if lastDot >= 0 && lastComma >= 0 {
		decimalIx := lastDot
		if lastComma > lastDot {
			decimalIx = lastComma
		}
		intPart := stripSeparators(numeral[:decimalIx])
		fracPart := numeral[decimalIx+1:]
		if strings.ContainsAny(fracPart, ".,") || fracPart == "" {
			return 0, &ParseError{Input: numeral, Reason: "malformed decimal part"}
		}
		n, err := strconv.ParseFloat(intPart+"."+fracPart, 64)
		if err != nil {
			return 0, &ParseError{Input: numeral, Reason: "not a number"}
		}
		return n, nil
	}

	sep := byte('.')
	if lastComma >= 0 {
		sep = ','
	}
	groups := strings.Split(numeral, string(sep))

	if len(groups[0]) == 0 || len(groups[0]) > 3 {
		return 0, &ParseError{Input: numeral, Reason: "malformed leading group"}
	}

	allThousands := true
	for _, g := range groups[1:] {
		if len(g) != 3 {
			allThousands = false
			break
		}
	}
	if allThousands {
		n, err := strconv.ParseFloat(strings.Join(groups, ""), 64)
		if err != nil {
			return 0, &ParseError{Input: numeral, Reason: "not a number"}
		}
		return n, nil
	}

	// Single separator with a short trailing group reads as a decimal
	// mark regardless of which character it is.
	if len(groups) == 2 && len(groups[1]) >= 1 && len(groups[1]) <= 2 {
		n, err := strconv.ParseFloat(groups[0]+"."+groups[1], 64)
		if err != nil {
			return 0, &ParseError{Input: numeral, Reason: "not a number"}
		}
		return n, nil
	}

	return 0, &ParseError{Input: numeral, Reason: "ambiguous separators"}
}

func stripSeparators(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '.' || r == ',' {
			return -1
		}
		return r
	}, s)
}
