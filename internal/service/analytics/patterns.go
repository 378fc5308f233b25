package analytics

import (
	"fmt"
	"regexp"
	"regexp/syntax"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultPatternCacheSize = 512

// Pattern is a regular expression that must match a whole message, the way
// every message test in a query is evaluated.
type Pattern struct {
	source string
	re     *regexp.Regexp
}

// String returns the expression as supplied by the caller
func (p *Pattern) String() string {
	return p.source
}

// Matches reports whether the whole of s matches
func (p *Pattern) Matches(s string) bool {
	return p.re.MatchString(s)
}

// Group returns capture group 1 of a whole-string match
func (p *Pattern) Group(s string) (string, bool) {
	m := p.re.FindStringSubmatch(s)
	if m == nil || len(m) < 2 {
		return "", false
	}
	return m[1], true
}

// Groups is the number of capturing groups in the expression
func (p *Pattern) Groups() int {
	return p.re.NumSubexp()
}

// PatternCompiler compiles anchored patterns and keeps recently used ones in
// an LRU. Compiled patterns are immutable, so sharing them across concurrent
// requests does not leak request state.
type PatternCompiler struct {
	cache *lru.Cache[string, *Pattern]
}

// NewPatternCompiler creates a compiler caching up to size patterns
func NewPatternCompiler(size int) (*PatternCompiler, error) {
	if size <= 0 {
		size = defaultPatternCacheSize
	}

	cache, err := lru.New[string, *Pattern](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern cache: %w", err)
	}

	return &PatternCompiler{cache: cache}, nil
}

// Compile returns the whole-string pattern for expr
func (c *PatternCompiler) Compile(expr string) (*Pattern, error) {
	if p, ok := c.cache.Get(expr); ok {
		return p, nil
	}

	// expr must parse on its own so a stray ")" cannot close the anchor group
	if _, err := syntax.Parse(expr, syntax.Perl); err != nil {
		return nil, err
	}

	re, err := regexp.Compile(`^(?:` + expr + `)$`)
	if err != nil {
		return nil, err
	}

	p := &Pattern{source: expr, re: re}
	c.cache.Add(expr, p)
	return p, nil
}
