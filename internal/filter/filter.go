// Package filter decides which steps apply to a relative path.
//
// Patterns are shell-style globs matched against the whole relative path:
// "*" spans any characters including "/", "?" matches one character, and
// "[...]" is a character class. Exclusion always wins over inclusion.
package filter

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Rule is the declarative include/exclude pair attached to a step.
type Rule struct {
	Include []string
	Exclude []string
}

// Verdict is the outcome of evaluating a rule.
type Verdict int

const (
	Included Verdict = iota
	Excluded
	NoMatch
)

func (v Verdict) String() string {
	switch v {
	case Included:
		return "included"
	case Excluded:
		return "excluded"
	default:
		return "no-match"
	}
}

// Decision carries the verdict and the reason it was reached.
type Decision struct {
	Verdict Verdict
	Reason  string
}

// Runs reports whether the step should execute.
func (d Decision) Runs() bool { return d.Verdict == Included }

// Pattern is a compiled glob that remembers its source text.
type Pattern struct {
	Source string
	glob   glob.Glob
}

// Match reports whether the whole of s matches the pattern.
func (p Pattern) Match(s string) bool { return p.glob.Match(s) }

// CompilePatterns compiles every pattern without path separators so that
// "*" crosses directory boundaries. Patterns use fnmatch syntax: "*", "?"
// and "[...]" classes are special; braces and backslashes match literally.
func CompilePatterns(patterns []string) ([]Pattern, error) {
	out := make([]Pattern, 0, len(patterns))
	for _, src := range patterns {
		g, err := glob.Compile(fnmatchToGlob(src))
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", src, err)
		}
		out = append(out, Pattern{Source: src, glob: g})
	}
	return out, nil
}

// fnmatchToGlob escapes the characters gobwas/glob treats as alternation
// or escapes. Characters inside a class are left alone.
func fnmatchToGlob(src string) string {
	if !strings.ContainsAny(src, `{}\`) {
		return src
	}
	var b strings.Builder
	inClass := false
	for _, r := range src {
		switch {
		case inClass:
			inClass = r != ']'
		case r == '[':
			inClass = true
		case r == '{' || r == '}' || r == '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// MustCompilePatterns is CompilePatterns for patterns validated at load time.
func MustCompilePatterns(patterns []string) []Pattern {
	out, err := CompilePatterns(patterns)
	if err != nil {
		panic(err)
	}
	return out
}

// FirstMatch returns the first pattern matching s.
func FirstMatch(patterns []Pattern, s string) (Pattern, bool) {
	for _, p := range patterns {
		if p.Match(s) {
			return p, true
		}
	}
	return Pattern{}, false
}

// MatchAny reports whether any pattern matches s.
func MatchAny(patterns []Pattern, s string) bool {
	_, ok := FirstMatch(patterns, s)
	return ok
}

// Compiled is a rule ready for evaluation. It holds no mutable state and is
// safe for concurrent use.
type Compiled struct {
	include []Pattern
	exclude []Pattern
}

// Compile validates and compiles a rule.
func Compile(rule Rule) (*Compiled, error) {
	include, err := CompilePatterns(rule.Include)
	if err != nil {
		return nil, fmt.Errorf("include: %w", err)
	}
	exclude, err := CompilePatterns(rule.Exclude)
	if err != nil {
		return nil, fmt.Errorf("exclude: %w", err)
	}
	return &Compiled{include: include, exclude: exclude}, nil
}

// Evaluate applies the rule to rel:
//  1. no patterns at all: included
//  2. any exclude match: excluded
//  3. no include patterns: included
//  4. any include match: included
//  5. otherwise: no match
func (c *Compiled) Evaluate(rel string) Decision {
	if len(c.include) == 0 && len(c.exclude) == 0 {
		return Decision{Verdict: Included, Reason: "no-filters"}
	}
	if p, ok := FirstMatch(c.exclude, rel); ok {
		return Decision{Verdict: Excluded, Reason: "exclude:" + p.Source}
	}
	if len(c.include) == 0 {
		return Decision{Verdict: Included, Reason: "no-include"}
	}
	if p, ok := FirstMatch(c.include, rel); ok {
		return Decision{Verdict: Included, Reason: "include:" + p.Source}
	}
	return Decision{Verdict: NoMatch, Reason: "no-include-match"}
}
