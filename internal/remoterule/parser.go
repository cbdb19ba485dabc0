// Package remoterule implements the remote rule loader of spec.md §4.8:
// per-source HTTP fetch with a max body size, the V2Ray line grammar, and
// periodic refresh with an atomic Router hot-swap. Grounded on the Rust
// original's src/remote_rule/parser.rs and src/remote_rule/loader.rs, and
// on the teacher's internal/filtering/parser.go (HTTP-timeout-guarded
// fetch) and internal/cluster/cluster.go (periodic-poll-then-swap).
package remoterule

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/jroosing/loadants/internal/router"
)

// ParseV2Ray parses the V2Ray text rule format of spec.md §4.8: blank
// lines and lines starting with '#' are ignored; "full:<domain>" is an
// Exact pattern; "regexp:<pattern>" is a Regex pattern; "*" is the
// wildcard pattern itself; anything else is a bare domain turned into
// "*.<domain>". Parsed patterns are grouped into up to three router.Rule
// values (one per match type), each carrying action/target.
func ParseV2Ray(body []byte, action router.Action, target string) []router.Rule {
	var exact, wildcard, regex []string

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		switch {
		case strings.HasPrefix(line, "full:"):
			domain := strings.TrimSpace(strings.TrimPrefix(line, "full:"))
			if domain != "" {
				exact = append(exact, domain)
			}
		case strings.HasPrefix(line, "regexp:"):
			pattern := strings.TrimSpace(strings.TrimPrefix(line, "regexp:"))
			if pattern != "" {
				regex = append(regex, pattern)
			}
		default:
			if line == "*" {
				wildcard = append(wildcard, line)
			} else {
				wildcard = append(wildcard, "*."+line)
			}
		}
	}

	var rules []router.Rule
	if len(exact) > 0 {
		rules = append(rules, router.Rule{MatchType: router.MatchExact, Patterns: exact, Action: action, Target: target})
	}
	if len(wildcard) > 0 {
		rules = append(rules, router.Rule{MatchType: router.MatchWildcard, Patterns: wildcard, Action: action, Target: target})
	}
	if len(regex) > 0 {
		rules = append(rules, router.Rule{MatchType: router.MatchRegex, Patterns: regex, Action: action, Target: target})
	}
	return rules
}
