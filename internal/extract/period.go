package extract

import (
	"regexp"
	"strconv"
)

// Vietnamese statistical bulletins write cumulative periods as "N
// tháng" ("9 tháng năm 2025" covers January through September). The
// cumulative figure is filed under the closing quarter, matching how
// the statistics office publishes it.
var (
	quarterPatterns = []struct {
		re *regexp.Regexp
		q  int
	}{
		// Roman numerals ordered longest first: RE2 has no lookahead,
		// so "quý IV" must not match the "quý I" pattern.
		{regexp.MustCompile(`(?i)quý\s*(?:IV|4)`), 4},
		{regexp.MustCompile(`(?i)quý\s*(?:III|3)`), 3},
		{regexp.MustCompile(`(?i)quý\s*(?:II|2)`), 2},
		{regexp.MustCompile(`(?i)quý\s*(?:I|1)`), 1},
	}

	cumulativeRe = regexp.MustCompile(`(?i)\b(3|6|9|12)\s*tháng(?:\s*đầu năm)?`)
	monthRe      = regexp.MustCompile(`(?i)tháng\s*(\d{1,2})\b`)
	// The year must not be a slice of a longer number, so both sides
	// are anchored on non-digits. \b cannot do that between digits.
	yearRe = regexp.MustCompile(`(?:^|\D)(20\d{2})(?:\D|$)`)
)

// Period derives (year, quarter, month) from the text of a chunk plus
// its section heading. Precedence: an explicit quarter marker, then a
// cumulative "N tháng" span, then a calendar month, then a bare year.
// defaultYear fills in when the text names no year.
func Period(text string, defaultYear int) (year, quarter, month int) {
	year = defaultYear
	if m := yearRe.FindStringSubmatch(text); m != nil {
		if y, err := strconv.Atoi(m[1]); err == nil {
			year = y
		}
	}

	for _, p := range quarterPatterns {
		if p.re.MatchString(text) {
			return year, p.q, 0
		}
	}

	if m := cumulativeRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return year, n / 3, 0
	}

	if m := monthRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n >= 1 && n <= 12 {
			return year, 0, n
		}
	}

	return year, 0, 0
}
