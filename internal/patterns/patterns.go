// Package patterns compiles the regex sets used by the packet filter and
// the username check. Invalid expressions are skipped so one bad pattern
// degrades a check instead of disabling it.
package patterns

import "regexp"

// Bad is one expression that failed to compile.
type Bad struct {
	Source string
	Err    error
}

// Set is an immutable compiled pattern set tied to one config
// generation. Callers compare Generation against the current config
// pointer to decide whether to recompile.
type Set struct {
	gen       any
	regexes   []*regexp.Regexp
	whitelist map[string]struct{}
	degraded  bool
}

// Compile builds a set from exprs, skipping the ones that do not
// compile and reporting them. gen tags the set with its config
// generation.
func Compile(gen any, exprs []string, whitelist []string) (*Set, []Bad) {
	s := &Set{gen: gen}
	var bad []Bad

	for _, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			bad = append(bad, Bad{Source: expr, Err: err})
			continue
		}
		s.regexes = append(s.regexes, re)
	}
	if len(whitelist) > 0 {
		s.whitelist = make(map[string]struct{}, len(whitelist))
		for _, w := range whitelist {
			s.whitelist[w] = struct{}{}
		}
	}
	s.degraded = len(bad) > 0
	return s, bad
}

// Generation returns the tag the set was compiled for.
func (s *Set) Generation() any { return s.gen }

// Degraded reports whether any expression was skipped at compile time.
func (s *Set) Degraded() bool { return s.degraded }

// Size returns the number of usable patterns.
func (s *Set) Size() int { return len(s.regexes) }

// Match scans payload and returns the first matching pattern.
func (s *Set) Match(payload []byte) (pattern string, hit bool) {
	for _, re := range s.regexes {
		if re.Match(payload) {
			return re.String(), true
		}
	}
	return "", false
}

// MatchString scans v and returns the first matching pattern.
func (s *Set) MatchString(v string) (pattern string, hit bool) {
	for _, re := range s.regexes {
		if re.MatchString(v) {
			return re.String(), true
		}
	}
	return "", false
}

// Whitelisted reports whether name is on the whitelist.
func (s *Set) Whitelisted(name string) bool {
	_, ok := s.whitelist[name]
	return ok
}
