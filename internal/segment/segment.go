// Package segment splits raw article text into ordered chunks suitable
// for classification. Chunks carry the character offset into the
// normalized document so every extracted span stays traceable.
package segment

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/gso-insight/indicator-cli/internal/model"
)

// DefaultMaxChunkLen bounds classifier prompt size. Paragraphs longer
// than this are split on sentence boundaries.
const DefaultMaxChunkLen = 1800

// Segmenter splits documents into chunks.
type Segmenter struct {
	maxChunkLen int
}

// New returns a Segmenter. maxChunkLen <= 0 selects DefaultMaxChunkLen.
func New(maxChunkLen int) *Segmenter {
	if maxChunkLen <= 0 {
		maxChunkLen = DefaultMaxChunkLen
	}
	return &Segmenter{maxChunkLen: maxChunkLen}
}

var headingPatterns = []*regexp.Regexp{
	// Numbered headings: "1.", "2.1.", "3)".
	regexp.MustCompile(`^\s*\d+(\.\d+)*[.)]\s+\S`),
	// Roman-numeral section markers common in statistical reports: "I.", "IV.".
	regexp.MustCompile(`^\s*[IVX]+[.)]\s+\S`),
	// Lettered subsections: "a)", "b.".
	regexp.MustCompile(`^\s*[a-zđ][.)]\s+\S`),
}

// Normalize applies NFC and canonicalizes line endings. The pipeline
// normalizes exactly once so that all recorded offsets refer to the same
// string.
func Normalize(text string) string {
	text = norm.NFC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

// Split segments normalized text into chunks, tagging each with the most
// recent recognized heading. Offsets index into the string Normalize
// returned, so callers must pass normalized text through unchanged.
func (s *Segmenter) Split(text string) []model.Chunk {
	var chunks []model.Chunk
	section := ""

	for _, block := range blocks(text) {
		trimmed := strings.TrimSpace(block.text)
		if trimmed == "" {
			continue
		}
		if isHeading(trimmed) {
			section = trimmed
			// Headings frequently carry the lead figure of the section
			// ("1. GRDP đạt ..."), so they are kept as chunks too.
		}
		lead := len(block.text) - len(strings.TrimLeft(block.text, " \t\n"))
		for _, piece := range splitLong(trimmed, s.maxChunkLen) {
			rel := strings.Index(trimmed[piece.start:], piece.text)
			chunks = append(chunks, model.Chunk{
				Index:   len(chunks),
				Text:    piece.text,
				Offset:  block.offset + lead + piece.start + rel,
				Section: section,
			})
		}
	}
	return chunks
}

type block struct {
	text   string
	offset int
}

// blocks splits on blank lines, keeping the offset of each block.
func blocks(text string) []block {
	var out []block
	start := 0
	for start < len(text) {
		end := strings.Index(text[start:], "\n\n")
		if end < 0 {
			out = append(out, block{text: text[start:], offset: start})
			break
		}
		out = append(out, block{text: text[start : start+end], offset: start})
		start += end
		for start < len(text) && text[start] == '\n' {
			start++
		}
	}
	return out
}

func isHeading(line string) bool {
	if strings.ContainsRune(line, '\n') {
		return false
	}
	for _, re := range headingPatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return isAllCapsLine(line)
}

// isAllCapsLine reports whether a short line is written entirely in
// upper case, the style Vietnamese statistical bulletins use for section
// titles. Lines with no letters at all do not qualify.
func isAllCapsLine(line string) bool {
	if len(line) > 120 {
		return false
	}
	hasLetter := false
	for _, r := range line {
		if unicode.IsLetter(r) {
			hasLetter = true
			if unicode.IsLower(r) {
				return false
			}
		}
	}
	return hasLetter
}

type piece struct {
	text  string
	start int
}

var sentenceEndRe = regexp.MustCompile(`[.!?;]\s`)

// splitLong cuts text into pieces no longer than maxLen, preferring
// sentence boundaries and never cutting inside a numeral expression
// (digits, separators, and the unit word glued to them).
func splitLong(text string, maxLen int) []piece {
	if len(text) <= maxLen {
		return []piece{{text: text, start: 0}}
	}
	var out []piece
	start := 0
	for len(text)-start > maxLen {
		window := text[start : start+maxLen]
		cut := -1
		for _, loc := range sentenceEndRe.FindAllStringIndex(window, -1) {
			cut = loc[0] + 1
		}
		if cut <= 0 {
			cut = lastSafeCut(window)
		}
		p := strings.TrimSpace(text[start : start+cut])
		if p != "" {
			out = append(out, piece{text: p, start: start})
		}
		start += cut
		for start < len(text) && (text[start] == ' ' || text[start] == '\n') {
			start++
		}
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		out = append(out, piece{text: rest, start: start})
	}
	return out
}

// lastSafeCut finds the rightmost whitespace cut point that does not sit
// inside or immediately after a numeral expression.
func lastSafeCut(window string) int {
	for i := len(window) - 1; i > 0; i-- {
		if window[i] != ' ' {
			continue
		}
		if insideNumeral(window, i) {
			continue
		}
		return i
	}
	return len(window)
}

func insideNumeral(s string, i int) bool {
	// A space between a digit run and its unit word ("114.792 tỷ") or
	// between two digit-adjacent tokens counts as inside the expression.
	before := i - 1
	for before >= 0 && s[before] != ' ' {
		before--
	}
	after := i + 1
	end := after
	for end < len(s) && s[end] != ' ' {
		end++
	}
	prevTok := s[before+1 : i]
	nextTok := s[after:end]
	return hasDigit(prevTok) && (hasDigit(nextTok) || isUnitWord(nextTok))
}

func hasDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

var unitWords = map[string]struct{}{
	"tỷ": {}, "triệu": {}, "nghìn": {}, "USD": {}, "VNĐ": {}, "VND": {},
	"đồng": {}, "người": {}, "vụ": {}, "tấn": {}, "điểm": {}, "%": {},
}

func isUnitWord(tok string) bool {
	tok = strings.TrimRight(tok, ".,;")
	_, ok := unitWords[tok]
	return ok
}
