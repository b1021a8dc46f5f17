// Package processing holds text helpers shared by discovery, scouting and
// content generation.
package processing

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

var (
	whitespace = regexp.MustCompile(`\s+`)
	slugStrip  = regexp.MustCompile(`[^a-z0-9]+`)
	kebabCase  = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
)

// WordsPerMinute is the reading speed used for ReadingTime.
const WordsPerMinute = 200

// NormalizeKeyword trims, lowercases and squeezes inner whitespace.
func NormalizeKeyword(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return whitespace.ReplaceAllString(s, " ")
}

// TitleTerms splits title on whitespace, keeps words longer than minWord
// runes, takes the first take of them, strips everything but letters and
// digits, lowercases, and keeps results of at least minLen runes.
func TitleTerms(title string, minWord, take, minLen int) []string {
	var words []string
	for _, w := range strings.Fields(title) {
		if len([]rune(w)) > minWord {
			words = append(words, w)
		}
	}
	if take >= 0 && len(words) > take {
		words = words[:take]
	}

	var out []string
	for _, w := range words {
		cleaned := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return unicode.ToLower(r)
			}
			return -1
		}, w)
		if len([]rune(cleaned)) >= minLen {
			out = append(out, cleaned)
		}
	}
	return out
}

// ContainsAnyFold reports whether text contains any of terms, ignoring case.
func ContainsAnyFold(text string, terms []string) bool {
	lower := strings.ToLower(text)
	for _, t := range terms {
		if t != "" && strings.Contains(lower, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

// Slugify lowercases s and joins its alphanumeric runs with hyphens.
func Slugify(s string) string {
	s = slugStrip.ReplaceAllString(strings.ToLower(s), "-")
	return strings.Trim(s, "-")
}

// IsKebabCase reports whether s is a non-empty lowercase hyphenated slug.
func IsKebabCase(s string) bool {
	return kebabCase.MatchString(s)
}

// PlainText returns the visible text of content, which may be HTML or
// Markdown. Unparseable input is returned unchanged.
func PlainText(content string) string {
	if !strings.Contains(content, "<") {
		return content
	}
	// Pad tags so text from adjacent elements does not run together.
	padded := strings.ReplaceAll(content, "<", " <")
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(padded))
	if err != nil {
		return content
	}
	doc.Find("script, style").Remove()
	return doc.Text()
}

// WordCount counts whitespace-separated words in the visible text of content.
func WordCount(content string) int {
	return len(strings.Fields(PlainText(content)))
}

// ReadingTime returns whole minutes to read words at WordsPerMinute, at least 1.
func ReadingTime(words int) int {
	minutes := (words + WordsPerMinute - 1) / WordsPerMinute
	if minutes < 1 {
		return 1
	}
	return minutes
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
