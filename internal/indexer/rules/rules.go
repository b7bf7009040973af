// Package rules holds the declarative membership rules of rule-governed
// indexes. A rule-governed index is populated from the keyspace: every key
// whose name or fields match one of its rules is indexed, and nothing else.
package rules

import (
	"fmt"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/errors"
)

type MatchType string

const (
	// MatchPrefix matches keys starting with Expr.
	MatchPrefix MatchType = "PREFIX"
	// MatchHasField matches objects carrying the field named by Expr.
	MatchHasField MatchType = "HASFIELD"
)

// ParseMatchType accepts match types case-insensitively.
func ParseMatchType(s string) (MatchType, error) {
	switch MatchType(strings.ToUpper(strings.TrimSpace(s))) {
	case MatchPrefix:
		return MatchPrefix, nil
	case MatchHasField:
		return MatchHasField, nil
	}
	return "", apperrors.Newf(apperrors.ErrInvalidInput, 400, "unknown match type %q", s)
}

type Rule struct {
	Name  string    `json:"name"`
	Type  MatchType `json:"type"`
	Expr  string    `json:"expr"`
	Score float64   `json:"score,omitempty"`
}

func (r Rule) Validate() error {
	if r.Name == "" {
		return apperrors.New(apperrors.ErrInvalidInput, 400, "rule name cannot be empty")
	}
	if _, err := ParseMatchType(string(r.Type)); err != nil {
		return err
	}
	if r.Expr == "" {
		return apperrors.New(apperrors.ErrInvalidInput, 400, "rule expression cannot be empty")
	}
	return nil
}

// Matches reports whether the object at key with the given fields satisfies
// the rule.
func (r Rule) Matches(key string, fields map[string]string) bool {
	switch r.Type {
	case MatchPrefix:
		return strings.HasPrefix(key, r.Expr)
	case MatchHasField:
		_, ok := fields[r.Expr]
		return ok
	}
	return false
}

// Set is the ordered rule list of one index. The first matching rule wins.
type Set struct {
	rules []Rule
}

func (s *Set) Add(r Rule) error {
	mt, err := ParseMatchType(string(r.Type))
	if err != nil {
		return err
	}
	r.Type = mt
	if err := r.Validate(); err != nil {
		return err
	}
	for _, existing := range s.rules {
		if existing.Name == r.Name {
			return fmt.Errorf("rule %q: %w", r.Name, apperrors.ErrRuleExists)
		}
	}
	s.rules = append(s.rules, r)
	return nil
}

// Match returns the first rule accepting the object.
func (s *Set) Match(key string, fields map[string]string) (Rule, bool) {
	if s == nil {
		return Rule{}, false
	}
	for _, r := range s.rules {
		if r.Matches(key, fields) {
			return r, true
		}
	}
	return Rule{}, false
}

func (s *Set) Rules() []Rule {
	if s == nil {
		return nil
	}
	return append([]Rule(nil), s.rules...)
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}
