package router

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// compilePattern turns a spec.md §3 URL pattern into an anchored regex with
// named capture groups. Literal segments are matched verbatim; ":name"
// captures a single path segment ([^/]+); ":name+" greedily captures the
// remainder of the path (.+), including embedded slashes.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	segments := strings.Split(strings.Trim(pattern, "/"), "/")
	var sb strings.Builder
	sb.WriteString("^")
	for i, seg := range segments {
		if i > 0 {
			sb.WriteString("/")
		}
		if strings.HasPrefix(seg, ":") {
			name := strings.TrimPrefix(seg, ":")
			greedy := strings.HasSuffix(name, "+")
			name = strings.TrimSuffix(name, "+")
			if name == "" {
				return nil, fmt.Errorf("router: empty capture name in pattern %q", pattern)
			}
			if greedy {
				sb.WriteString(fmt.Sprintf("(?P<%s>.+)", name))
			} else {
				sb.WriteString(fmt.Sprintf("(?P<%s>[^/]+)", name))
			}
			continue
		}
		sb.WriteString(regexp.QuoteMeta(seg))
	}
	sb.WriteString("$")
	return regexp.Compile(sb.String())
}

// ClassifierFromPatterns builds a ClassifierFunc from the "router" config
// key's manual map (SPEC_FULL.md §6: `{context_name: [url_patterns]}`),
// trying each context's patterns in ascending kind-name order (not Go's
// randomized map order) and falling back to fallback when nothing matches,
// so which kind wins an ambiguous URL is reproducible across runs of the
// same config. Intended for NewManual, as an alternative to the auto-built
// classifier when a deployment needs routing rules that outlive handler
// registration order.
func ClassifierFromPatterns(patterns map[ContextKind][]string, fallback ContextKind) (ClassifierFunc, error) {
	type compiled struct {
		kind  ContextKind
		regex *regexp.Regexp
	}

	kinds := make([]ContextKind, 0, len(patterns))
	for kind := range patterns {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	var routes []compiled
	for _, kind := range kinds {
		for _, pat := range patterns[kind] {
			re, err := compilePattern(pat)
			if err != nil {
				return nil, fmt.Errorf("router: config pattern %q for %q: %w", pat, kind, err)
			}
			routes = append(routes, compiled{kind: kind, regex: re})
		}
	}
	return func(url string) ContextKind {
		trimmed := strings.Trim(url, "/")
		for _, route := range routes {
			if route.regex.MatchString(trimmed) {
				return route.kind
			}
		}
		return fallback
	}, nil
}

// extractSegments runs a compiled pattern regex against url and returns the
// named-capture map, or nil if it does not match.
func extractSegments(re *regexp.Regexp, url string) (map[string]string, bool) {
	match := re.FindStringSubmatch(strings.Trim(url, "/"))
	if match == nil {
		return nil, false
	}
	names := re.SubexpNames()
	segments := make(map[string]string, len(names))
	for i, name := range names {
		if i == 0 || name == "" {
			continue
		}
		segments[name] = match[i]
	}
	return segments, true
}
