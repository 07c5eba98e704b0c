// Package expression compiles user query expressions into Elasticsearch
// filter trees. Per spec §1 the expression grammar itself is an external
// collaborator ("treated as a black-box compiler from expression strings
// to Elasticsearch filter trees"); this package owns the seam around that
// black box: combining a user's forced expression with their query
// expression, injecting the lastPacket time range (spec §2 ExpressionCompiler),
// and the LookupTable fast-reject membership test used by shortcut/lookup
// tables referenced from an expression (spec §9 "dynamic config objects").
package expression

import (
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Filter is one node of the compiled Elasticsearch filter tree. It is
// intentionally minimal: real query-string grammar lives in the
// black-box compiler this package wraps; Filter is the shape that
// grammar is expected to emit and that SessionStore's Search/Scroll
// accept directly as an Elasticsearch query DSL fragment.
type Filter map[string]any

// And combines filters with a bool/must clause, the Elasticsearch
// idiom for conjunction.
func And(filters ...Filter) Filter {
	must := make([]Filter, 0, len(filters))
	for _, f := range filters {
		if len(f) > 0 {
			must = append(must, f)
		}
	}
	return Filter{"bool": map[string]any{"must": must}}
}

// TimeRange builds the lastPacket range filter ExpressionCompiler injects
// into every compiled query (spec §2, §4.3 step 3, §4.4 step 2d). Bounds
// are milliseconds since epoch; gte is inclusive, lt is exclusive when
// exclusiveUpper is set (cron's half-open window), inclusive otherwise.
func TimeRange(field string, gteMs, upperMs int64, exclusiveUpper bool) Filter {
	rng := map[string]any{"gte": gteMs}
	if exclusiveUpper {
		rng["lt"] = upperMs
	} else {
		rng["lte"] = upperMs
	}
	return Filter{"range": map[string]any{field: rng}}
}

// Grammar is the black-box expression-string-to-Filter compiler.
// Production deployments plug in the real session query-expression
// parser; Basic below is a substring-friendly stand-in used by tests
// and the admin CLI's dry-run mode.
type Grammar interface {
	Compile(expr string) (Filter, error)
}

// CompileError wraps a Grammar failure with the offending expression,
// matching spec §4.3 step 1/2's "fails -> paused with unrunnable=true"
// and §7's Fatal/unrunnable taxonomy entry.
type CompileError struct {
	Expression string
	Err        error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile expression %q: %v", e.Expression, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// Compiler is the ExpressionCompiler component (spec §2): it composes a
// user's query expression with their account's forced expression and a
// time range, via the injected Grammar.
type Compiler struct {
	Grammar Grammar
}

// New builds a Compiler around grammar.
func New(grammar Grammar) *Compiler {
	return &Compiler{Grammar: grammar}
}

// Compile produces the final filter tree: forcedExpr (if non-empty) AND
// userExpr AND the lastPacket time range. An empty forcedExpr is omitted
// entirely rather than compiled, since spec §3 describes it as optional
// per-user.
func (c *Compiler) Compile(userExpr, forcedExpr string, startMs, endMs int64, exclusiveUpper bool) (Filter, error) {
	parts := make([]Filter, 0, 3)

	if userExpr != "" {
		f, err := c.Grammar.Compile(userExpr)
		if err != nil {
			return nil, &CompileError{Expression: userExpr, Err: err}
		}
		parts = append(parts, f)
	}
	if forcedExpr != "" {
		f, err := c.Grammar.Compile(forcedExpr)
		if err != nil {
			return nil, &CompileError{Expression: forcedExpr, Err: err}
		}
		parts = append(parts, f)
	}
	parts = append(parts, TimeRange("lastPacket", startMs, endMs, exclusiveUpper))

	return And(parts...), nil
}

// BasicGrammar is a minimal Grammar used where no richer session-query
// parser is wired in: it treats the whole expression as a query_string
// query, letting Elasticsearch's own Lucene-syntax parser do the work.
// It never errors on syntax it doesn't understand itself — only on an
// empty expression, which the caller should have filtered out already.
type BasicGrammar struct{}

func (BasicGrammar) Compile(expr string) (Filter, error) {
	if expr == "" {
		return nil, fmt.Errorf("empty expression")
	}
	return Filter{"query_string": map[string]any{"query": expr}}, nil
}

// LookupTable is a large shortcut/lookup table injected into compiled
// expressions (e.g. "ip.src == $mylist"). It fast-rejects non-members
// with a bloom filter before the authoritative check against the full
// set, the technique internal/pkg/phonematcher uses for watchlist
// suffix matching, sized here for exact-string membership instead of
// phone-number suffixes.
type LookupTable struct {
	mu     sync.RWMutex
	bloom  *bloom.BloomFilter
	values map[string]struct{}
}

// NewLookupTable builds a table sized for n expected entries at the
// given false-positive rate.
func NewLookupTable(n uint, fpRate float64) *LookupTable {
	return &LookupTable{
		bloom:  bloom.NewWithEstimates(n, fpRate),
		values: make(map[string]struct{}, n),
	}
}

// Add inserts a value into the table.
func (t *LookupTable) Add(value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bloom.AddString(value)
	t.values[value] = struct{}{}
}

// Contains reports whether value is a member: a bloom miss short-circuits
// to false, a bloom hit is confirmed against the exact set so the bloom
// filter's false-positive rate never leaks into the result.
func (t *LookupTable) Contains(value string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.bloom.TestString(value) {
		return false
	}
	_, ok := t.values[value]
	return ok
}

// Len returns the number of entries in the authoritative set.
func (t *LookupTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.values)
}

// Replace atomically swaps the table's contents for values, rebuilding
// the bloom filter sized to len(values). Used when a shortcut/lookup
// document is re-saved (spec §9's lookup cache invalidation).
func (t *LookupTable) Replace(values []string) {
	nb := bloom.NewWithEstimates(uint(len(values))+1, 0.001)
	nm := make(map[string]struct{}, len(values))
	for _, v := range values {
		nb.AddString(v)
		nm[v] = struct{}{}
	}
	t.mu.Lock()
	t.bloom = nb
	t.values = nm
	t.mu.Unlock()
}
