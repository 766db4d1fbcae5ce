package router

import (
	"fmt"
	"regexp"
)

// Context is the minimal view of an inbound request a Predicate needs. The
// concrete reqcontext.Context types implement this without router importing
// them back.
type Context interface {
	URL() string
	SetURLSegments(segments map[string]string)
	Value(key string) (any, bool)
}

// Predicate is a pure function over a Context. It never mutates anything
// except, for Url, the url_segments captured on a match.
type Predicate interface {
	Evaluate(ctx Context) bool
	Expression() string
}

type urlPredicate struct {
	pattern string
	regex   *regexp.Regexp
}

// Url compiles pattern (see pattern.go) and matches it against the
// context's URL, storing any named captures into the context's url_segments
// on success.
func Url(pattern string) Predicate {
	re, err := compilePattern(pattern)
	if err != nil {
		// A malformed pattern is a programmer error caught at registration
		// time; fail closed rather than panic mid-dispatch.
		return &callbackPredicate{expr: pattern, fn: func(Context) bool { return false }}
	}
	return &urlPredicate{pattern: pattern, regex: re}
}

func (p *urlPredicate) Evaluate(ctx Context) bool {
	segments, ok := extractSegments(p.regex, ctx.URL())
	if !ok {
		return false
	}
	ctx.SetURLSegments(segments)
	return true
}

func (p *urlPredicate) Expression() string { return p.pattern }

type equalPredicate struct {
	key  string
	want any
}

// Equal matches when ctx.Value(key) == want.
func Equal(key string, want any) Predicate {
	return &equalPredicate{key: key, want: want}
}

func (p *equalPredicate) Evaluate(ctx Context) bool {
	v, ok := ctx.Value(p.key)
	return ok && v == p.want
}

func (p *equalPredicate) Expression() string {
	return fmt.Sprintf("%s == %v", p.key, p.want)
}

type betweenPredicate struct {
	key    string
	lo, hi float64
}

// Between matches when ctx.Value(key) is numeric and lo <= v <= hi.
func Between(key string, lo, hi float64) Predicate {
	return &betweenPredicate{key: key, lo: lo, hi: hi}
}

func (p *betweenPredicate) Evaluate(ctx Context) bool {
	v, ok := ctx.Value(p.key)
	if !ok {
		return false
	}
	f, ok := toFloat(v)
	return ok && f >= p.lo && f <= p.hi
}

func (p *betweenPredicate) Expression() string {
	return fmt.Sprintf("%s between %v and %v", p.key, p.lo, p.hi)
}

type inListPredicate struct {
	key  string
	list []any
}

// InList matches when ctx.Value(key) equals one of list.
func InList(key string, list ...any) Predicate {
	return &inListPredicate{key: key, list: list}
}

func (p *inListPredicate) Evaluate(ctx Context) bool {
	v, ok := ctx.Value(p.key)
	if !ok {
		return false
	}
	for _, candidate := range p.list {
		if v == candidate {
			return true
		}
	}
	return false
}

func (p *inListPredicate) Expression() string {
	return fmt.Sprintf("%s in %v", p.key, p.list)
}

type matchPredicate struct {
	key   string
	regex *regexp.Regexp
}

// Match matches when ctx.Value(key) is a string matching pattern.
func Match(key string, pattern string) Predicate {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return &callbackPredicate{expr: pattern, fn: func(Context) bool { return false }}
	}
	return &matchPredicate{key: key, regex: re}
}

func (p *matchPredicate) Evaluate(ctx Context) bool {
	v, ok := ctx.Value(p.key)
	if !ok {
		return false
	}
	s, ok := v.(string)
	return ok && p.regex.MatchString(s)
}

func (p *matchPredicate) Expression() string {
	return fmt.Sprintf("%s matches %s", p.key, p.regex.String())
}

type hasValuePredicate struct {
	key string
}

// HasValue matches when ctx.Value(key) is present, non-nil, and not an
// empty string. Other zero values (0, false) match.
func HasValue(key string) Predicate {
	return &hasValuePredicate{key: key}
}

func (p *hasValuePredicate) Evaluate(ctx Context) bool {
	v, ok := ctx.Value(p.key)
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return s != ""
	}
	return true
}

func (p *hasValuePredicate) Expression() string {
	return fmt.Sprintf("has(%s)", p.key)
}

type allPredicate struct {
	preds []Predicate
}

// All matches when every sub-predicate matches (logical AND).
func All(preds ...Predicate) Predicate {
	return &allPredicate{preds: preds}
}

func (p *allPredicate) Evaluate(ctx Context) bool {
	for _, sub := range p.preds {
		if !sub.Evaluate(ctx) {
			return false
		}
	}
	return true
}

func (p *allPredicate) Expression() string {
	return joinExpressions(p.preds, " && ")
}

type anyPredicate struct {
	preds []Predicate
}

// Any matches when at least one sub-predicate matches (logical OR). Unlike
// All, a failed branch must not leave partial url_segments behind: Any only
// commits captures from the branch that actually matched, which falls out
// naturally since non-matching Url predicates never call SetURLSegments.
func Any(preds ...Predicate) Predicate {
	return &anyPredicate{preds: preds}
}

func (p *anyPredicate) Evaluate(ctx Context) bool {
	for _, sub := range p.preds {
		if sub.Evaluate(ctx) {
			return true
		}
	}
	return false
}

func (p *anyPredicate) Expression() string {
	return joinExpressions(p.preds, " || ")
}

type callbackPredicate struct {
	expr string
	fn   func(ctx Context) bool
}

// Callback is the extensibility escape hatch: any predicate expressible as
// Equal/Between/InList/Match/HasValue/All/Any should be, but arbitrary
// application logic can still gate a handler via a plain function.
func Callback(fn func(ctx Context) bool) Predicate {
	return &callbackPredicate{expr: "callback", fn: fn}
}

func (p *callbackPredicate) Evaluate(ctx Context) bool { return p.fn(ctx) }
func (p *callbackPredicate) Expression() string        { return p.expr }

func joinExpressions(preds []Predicate, sep string) string {
	out := ""
	for i, p := range preds {
		if i > 0 {
			out += sep
		}
		out += p.Expression()
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
