// Package filter implements the niche pre-filter applied to scouted headlines.
package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind selects how a rule participates in matching.
type Kind string

// Rule kinds. Plain rules match substrings, _re rules match case-insensitive
// regular expressions.
const (
	Include   Kind = "include"
	Exclude   Kind = "exclude"
	IncludeRe Kind = "include_re"
	ExcludeRe Kind = "exclude_re"
)

// regexPrefix marks a configured term as a regular expression.
const regexPrefix = "re:"

// Rule is a single include or exclude condition on a headline. Regex rules
// are only built by NicheRules, which compiles them.
type Rule struct {
	Kind  Kind
	Value string

	re *regexp.Regexp
}

// Match checks whether a headline passes the given set of rules.
// If no rules are provided, the headline always passes.
// Include rules use OR logic (at least one must match).
// Exclude rules use AND logic (none must match).
func Match(title string, rules []Rule) bool {
	if len(rules) == 0 {
		return true
	}

	text := strings.ToLower(title)
	hasIncludes := false
	anyIncludeMatched := false

	for _, r := range rules {
		switch r.Kind {
		case Include, IncludeRe:
			hasIncludes = true
			if matchesRule(text, r) {
				anyIncludeMatched = true
			}
		case Exclude, ExcludeRe:
			if matchesRule(text, r) {
				return false
			}
		}
	}

	if hasIncludes && !anyIncludeMatched {
		return false
	}
	return true
}

func matchesRule(text string, r Rule) bool {
	switch r.Kind {
	case Include, Exclude:
		return strings.Contains(text, strings.ToLower(r.Value))
	case IncludeRe, ExcludeRe:
		return r.re != nil && r.re.MatchString(text)
	}
	return false
}

// NicheRules builds headline rules from niche keywords and exclude terms.
// Terms prefixed with "re:" are compiled as regular expressions.
func NicheRules(includes, excludes []string) ([]Rule, error) {
	var rules []Rule
	add := func(term string, plain, re Kind) error {
		term = strings.TrimSpace(term)
		if term == "" {
			return nil
		}
		if pattern, ok := strings.CutPrefix(term, regexPrefix); ok {
			compiled, err := compileRegex(pattern)
			if err != nil {
				return fmt.Errorf("term %q: %w", term, err)
			}
			rules = append(rules, Rule{Kind: re, Value: pattern, re: compiled})
			return nil
		}
		rules = append(rules, Rule{Kind: plain, Value: term})
		return nil
	}

	for _, t := range includes {
		if err := add(t, Include, IncludeRe); err != nil {
			return nil, err
		}
	}
	for _, t := range excludes {
		if err := add(t, Exclude, ExcludeRe); err != nil {
			return nil, err
		}
	}
	return rules, nil
}

func compileRegex(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return re, nil
}
