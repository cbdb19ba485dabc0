// Package router implements the pattern-based routing engine of spec.md
// §4.1: exact / wildcard (reversed-suffix ordered map) / regex (TLD+SLD
// pre-filtered) / global-wildcard tiers, in strict priority order, with
// last-inserted-wins semantics within a tier.
//
// A Router is immutable once built by Compile — find_match is pure,
// non-blocking and holds no lock. Replacing the active rule set (e.g. after
// a remote rule refresh) means building a new Router and atomically
// swapping the pointer the handler holds, the "shared immutable graph +
// atomic replacement" pattern of spec.md §9; it is grounded on the
// teacher's internal/filtering trie/policy's locking idiom for a read-heavy
// lookup structure, generalized here to swap-the-whole-structure instead of
// locking inside it, since spec.md requires in-flight requests to keep
// using the previous generation.
package router

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jroosing/loadants/internal/apperrors"
)

// Action is the outcome a matched rule prescribes.
type Action int

const (
	ActionForward Action = iota
	ActionBlock
)

func (a Action) String() string {
	if a == ActionBlock {
		return "block"
	}
	return "forward"
}

// MatchType is the kind of pattern a Rule compiles.
type MatchType int

const (
	MatchExact MatchType = iota
	MatchWildcard
	MatchRegex
)

// Rule is one configured routing rule, as described in spec.md §3.
type Rule struct {
	MatchType MatchType
	Patterns  []string
	Action    Action
	Target    string // required when Action == ActionForward
}

// Match is the result of a successful find_match.
type Match struct {
	Domain   string
	Action   Action
	Target   string
	RuleType string // "exact", "wildcard", "regex"
	Pattern  string
}

const globalWildcard = "*"
const wildcardPrefix = "*."

type wildcardEntry struct {
	action  Action
	target  string
	pattern string
}

type compiledRegex struct {
	pattern string
	re      *regexp.Regexp
	action  Action
	target  string
}

type exactEntry struct {
	action Action
	target string
}

// Router answers domain -> (action, target) lookups. See package doc for
// its immutability/concurrency contract.
type Router struct {
	exact    map[string]exactEntry
	wildcard map[string]wildcardEntry // key: reversed suffix labels, e.g. "local.corp" for "*.corp.local"

	globalWildcard   *wildcardEntry
	regexRules       []compiledRegex
	regexPrefilter   map[string]map[int]struct{} // candidate key -> rule indices
	sortedRuleCounts map[string]int              // rule_type -> count, for introspection
}

// GroupExists is satisfied by the upstream manager; Compile uses it to
// validate that every Forward rule's target names a real group.
type GroupExists interface {
	GroupExists(name string) bool
}

// Compile builds an immutable Router from rules, validating every invariant
// in spec.md §4.1's "Errors" clause: invalid regex, malformed wildcard,
// a Forward rule with no target, or a target naming no known group.
func Compile(rules []Rule, groups GroupExists) (*Router, error) {
	r := &Router{
		exact:          make(map[string]exactEntry),
		wildcard:       make(map[string]wildcardEntry),
		regexPrefilter: make(map[string]map[int]struct{}),
	}

	for _, rule := range rules {
		if rule.Action == ActionForward {
			if rule.Target == "" {
				return nil, fmt.Errorf("forward rule with no target: %w", apperrors.ErrConfig)
			}
			if groups != nil && !groups.GroupExists(rule.Target) {
				return nil, fmt.Errorf("forward rule targets unknown group %q: %w", rule.Target, apperrors.ErrConfig)
			}
		}

		switch rule.MatchType {
		case MatchExact:
			for _, p := range rule.Patterns {
				r.exact[strings.ToLower(p)] = exactEntry{action: rule.Action, target: rule.Target}
			}
		case MatchWildcard:
			for _, p := range rule.Patterns {
				p = strings.ToLower(p)
				if p == globalWildcard {
					e := wildcardEntry{action: rule.Action, target: rule.Target, pattern: p}
					r.globalWildcard = &e
					continue
				}
				suffix, ok := strings.CutPrefix(p, wildcardPrefix)
				if !ok || suffix == "" || strings.HasPrefix(suffix, ".") {
					return nil, fmt.Errorf("malformed wildcard pattern %q: %w", p, apperrors.ErrConfig)
				}
				key := reverseLabels(suffix)
				r.wildcard[key] = wildcardEntry{action: rule.Action, target: rule.Target, pattern: p}
			}
		case MatchRegex:
			for _, p := range rule.Patterns {
				re, err := regexp.Compile(p)
				if err != nil {
					return nil, fmt.Errorf("invalid regex %q: %w: %v", p, apperrors.ErrConfig, err)
				}
				r.regexRules = append(r.regexRules, compiledRegex{
					pattern: p,
					re:      re,
					action:  rule.Action,
					target:  rule.Target,
				})
			}
		}
	}

	r.regexPrefilter = buildRegexPrefilter(r.regexRules)
	r.sortedRuleCounts = r.countByTier()
	return r, nil
}

// reverseLabels reverses the dot-separated labels of domain, e.g.
// "a.b.c" -> "c.b.a", matching the Rust original's reverse_domain_labels.
func reverseLabels(domain string) string {
	if domain == "" {
		return ""
	}
	labels := strings.Split(domain, ".")
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}
	return strings.Join(labels, ".")
}

// buildRegexPrefilter indexes each regex rule's trailing ".tld" and
// ".sld.tld" literal suffixes (taken from the pattern's raw text, a
// heuristic, not a semantic regex analysis) plus a catch-all "*" key under
// which every regex rule is also indexed. find_match always merges the "*"
// set, so every regex rule is a candidate for every query; the suffix keys
// do not narrow the scan.
func buildRegexPrefilter(rules []compiledRegex) map[string]map[int]struct{} {
	prefilter := make(map[string]map[int]struct{})
	add := func(key string, idx int) {
		set := prefilter[key]
		if set == nil {
			set = make(map[int]struct{})
			prefilter[key] = set
		}
		set[idx] = struct{}{}
	}

	for idx, rule := range rules {
		pattern := rule.pattern
		if tldPos := strings.LastIndex(pattern, "."); tldPos >= 0 {
			tld := pattern[tldPos:]
			add(tld, idx)
			if sldPos := strings.LastIndex(pattern[:tldPos], "."); sldPos >= 0 {
				add(pattern[sldPos:], idx)
			}
		}
		add(globalWildcard, idx)
	}
	return prefilter
}

// FindMatch implements spec.md §4.1's priority search: exact, then
// most-specific-suffix-first wildcard, then pre-filtered regex in
// insertion order, then the global wildcard.
func (r *Router) FindMatch(name string) (Match, error) {
	domain := strings.ToLower(name)
	domain = strings.TrimSuffix(domain, ".")

	if e, ok := r.exact[domain]; ok {
		return Match{Domain: domain, Action: e.action, Target: e.target, RuleType: "exact", Pattern: domain}, nil
	}

	if domain != "" {
		labels := strings.Split(domain, ".")
		n := len(labels)
		for k := n; k >= 1; k-- {
			suffix := strings.Join(labels[n-k:], ".")
			key := reverseLabels(suffix)
			if e, ok := r.wildcard[key]; ok {
				return Match{Domain: domain, Action: e.action, Target: e.target, RuleType: "wildcard", Pattern: e.pattern}, nil
			}
		}

		if m, ok := r.matchRegex(domain, labels); ok {
			return m, nil
		}
	}

	if r.globalWildcard != nil {
		e := r.globalWildcard
		return Match{Domain: domain, Action: e.action, Target: e.target, RuleType: "wildcard", Pattern: e.pattern}, nil
	}

	return Match{}, apperrors.ErrNoRouteMatch
}

func (r *Router) matchRegex(domain string, labels []string) (Match, bool) {
	candidates := make(map[int]struct{})
	mergeKey := func(key string) {
		for idx := range r.regexPrefilter[key] {
			candidates[idx] = struct{}{}
		}
	}
	mergeKey(globalWildcard)
	n := len(labels)
	if n >= 1 {
		mergeKey("." + labels[n-1])
	}
	if n >= 2 {
		mergeKey("." + labels[n-2] + "." + labels[n-1])
	}

	for idx, rule := range r.regexRules {
		if _, ok := candidates[idx]; !ok {
			continue
		}
		if rule.re.MatchString(domain) {
			return Match{Domain: domain, Action: rule.action, Target: rule.target, RuleType: "regex", Pattern: rule.pattern}, true
		}
	}
	return Match{}, false
}

// countByTier counts compiled rules per tier, for RuleCounts/introspection.
func (r *Router) countByTier() map[string]int {
	counts := map[string]int{"exact": len(r.exact), "regex": len(r.regexRules)}
	wc := len(r.wildcard)
	if r.globalWildcard != nil {
		wc++
	}
	counts["wildcard"] = wc
	return counts
}

// RuleCounts returns the number of compiled rules per tier ("exact",
// "wildcard", "regex"), used by the admin stats endpoint and the route
// rule count metric.
func (r *Router) RuleCounts() map[string]int {
	out := make(map[string]int, len(r.sortedRuleCounts))
	for k, v := range r.sortedRuleCounts {
		out[k] = v
	}
	return out
}

// Size returns the total number of compiled rules across all tiers.
func (r *Router) Size() int {
	total := 0
	for _, v := range r.sortedRuleCounts {
		total += v
	}
	return total
}

// String summarises the router for logging, in the teacher's
// trie.String()-style "N exact, N wildcard, N regex" form.
func (r *Router) String() string {
	c := r.sortedRuleCounts
	return fmt.Sprintf("router(exact=%d wildcard=%d regex=%d)", c["exact"], c["wildcard"], c["regex"])
}

// SortedSummary lists every compiled rule's (action, target) ordered by
// priority tier and, within wildcards, by specificity (most labels first),
// for the admin /api/v1/rules introspection endpoint.
func (r *Router) SortedSummary() []Match {
	var out []Match
	for pattern, e := range r.exact {
		out = append(out, Match{Action: e.action, Target: e.target, RuleType: "exact", Pattern: pattern})
	}

	type wc struct {
		Match
		specificity int
	}
	var wildcards []wc
	for _, e := range r.wildcard {
		wildcards = append(wildcards, wc{
			Match:       Match{Action: e.action, Target: e.target, RuleType: "wildcard", Pattern: e.pattern},
			specificity: strings.Count(e.pattern, "."),
		})
	}
	sort.Slice(wildcards, func(i, j int) bool { return wildcards[i].specificity > wildcards[j].specificity })
	for _, w := range wildcards {
		out = append(out, w.Match)
	}

	for _, rule := range r.regexRules {
		out = append(out, Match{Action: rule.action, Target: rule.target, RuleType: "regex", Pattern: rule.pattern})
	}

	if r.globalWildcard != nil {
		e := r.globalWildcard
		out = append(out, Match{Action: e.action, Target: e.target, RuleType: "wildcard", Pattern: e.pattern})
	}
	return out
}
