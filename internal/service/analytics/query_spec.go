package analytics

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/davidleathers/interaction-analytics/internal/domain/errors"
	"github.com/davidleathers/interaction-analytics/internal/domain/interaction"
)

// Request parameter names with fixed meaning. Every other parameter names an
// aggregation pattern.
const (
	ParamSubject    = "subject"
	ParamObject     = "object"
	ParamAction     = "action"
	ParamMessage    = "message"
	ParamTimestamp  = "timestamp"
	ParamAggregate  = "aggregate"
	ParamHistogram  = "histogram"
	ParamCorrelate  = "correlate"
	ParamFilters    = "filters"
	ParamMultiplier = "multiplier"
)

// Separator splits the parts of correlate and the list in filters
const Separator = "::"

var reservedParams = map[string]struct{}{
	ParamSubject:    {},
	ParamObject:     {},
	ParamAction:     {},
	ParamMessage:    {},
	ParamTimestamp:  {},
	ParamAggregate:  {},
	ParamHistogram:  {},
	ParamCorrelate:  {},
	ParamFilters:    {},
	ParamMultiplier: {},
}

// IsReservedParam reports whether name has a fixed meaning in a query
func IsReservedParam(name string) bool {
	_, ok := reservedParams[name]
	return ok
}

var timeRangeExpr = regexp.MustCompile(`^\[\s*(\S+)\s+TO\s+(\S+)\s*\]$`)

// Operator selects how a correlated event is matched against the index
type Operator string

const (
	OperatorAnd        Operator = "and"
	OperatorAndSubject Operator = "andSubject"
	OperatorAndObject  Operator = "andObject"
	OperatorNot        Operator = "not"
)

// Correlation is the parsed form of action::operator::pattern. Operator and
// Pattern are optional; without both the subject+object fallback applies.
type Correlation struct {
	Action   string
	Operator Operator
	Pattern  *Pattern
}

// NamedPattern is one user supplied aggregation counter
type NamedPattern struct {
	Name    string
	Pattern *Pattern
}

// QuerySpec is the normalised description of one request
type QuerySpec struct {
	SubjectID string
	ObjectID  string
	// Inverse is set when only the object was given; subject and object swap
	// roles in every entry produced.
	Inverse bool
	Action  string

	TimeRange *interaction.TimeRange
	Filters   []*Pattern

	Correlation *Correlation

	AggregateFormat string
	NamedPatterns   []NamedPattern
	Histogram       *Pattern
	Multiplier      *Pattern
}

// IsOverview reports whether the query only asks for action frequencies
func (q *QuerySpec) IsOverview() bool {
	return q.Action == "" && q.Correlation == nil && q.AggregateFormat == "" && q.Histogram == nil
}

// IsBucketed reports whether the query produces a bucket series
func (q *QuerySpec) IsBucketed() bool {
	return q.AggregateFormat != ""
}

// ParseQuerySpec turns raw request parameters into a QuerySpec. Only
// contradictory or uncompilable input is an error; a malformed time range or a
// partial correlate value silently leaves the corresponding field unset.
func ParseQuerySpec(params url.Values, compiler *PatternCompiler) (*QuerySpec, error) {
	if first(params, ParamHistogram) != "" && first(params, ParamAggregate) == "" {
		return nil, errors.NewValidationError("HISTOGRAM_REQUIRES_AGGREGATE",
			"histogram requires an aggregation pattern")
	}

	spec := &QuerySpec{
		SubjectID:       first(params, ParamSubject),
		ObjectID:        first(params, ParamObject),
		Action:          first(params, ParamAction),
		AggregateFormat: first(params, ParamAggregate),
		TimeRange:       parseTimeRange(first(params, ParamTimestamp)),
	}
	spec.Inverse = spec.ObjectID != "" && spec.SubjectID == ""

	var err error

	if raw := first(params, ParamFilters); raw != "" {
		for _, expr := range strings.Split(raw, Separator) {
			if expr == "" {
				continue
			}
			p, err := compilePattern(compiler, ParamFilters, expr, false)
			if err != nil {
				return nil, err
			}
			spec.Filters = append(spec.Filters, p)
		}
	}

	if raw := first(params, ParamMessage); raw != "" {
		p, err := compilePattern(compiler, ParamMessage, raw, false)
		if err != nil {
			return nil, err
		}
		spec.Filters = append(spec.Filters, p)
	}

	if raw := first(params, ParamCorrelate); raw != "" {
		if spec.Correlation, err = parseCorrelation(raw, compiler); err != nil {
			return nil, err
		}
	}

	if raw := first(params, ParamHistogram); raw != "" {
		if spec.Histogram, err = compilePattern(compiler, ParamHistogram, raw, true); err != nil {
			return nil, err
		}
	}

	if raw := first(params, ParamMultiplier); raw != "" {
		if spec.Multiplier, err = compilePattern(compiler, ParamMultiplier, raw, true); err != nil {
			return nil, err
		}
	}

	if spec.AggregateFormat != "" {
		if spec.NamedPatterns, err = parseNamedPatterns(params, compiler); err != nil {
			return nil, err
		}
	}

	return spec, nil
}

func parseCorrelation(raw string, compiler *PatternCompiler) (*Correlation, error) {
	parts := strings.SplitN(raw, Separator, 3)
	if parts[0] == "" {
		return nil, nil
	}

	c := &Correlation{Action: parts[0]}
	if len(parts) > 1 {
		c.Operator = Operator(parts[1])
	}
	if len(parts) > 2 && parts[2] != "" {
		p, err := compilePattern(compiler, ParamCorrelate, parts[2], true)
		if err != nil {
			return nil, err
		}
		c.Pattern = p
	}
	return c, nil
}

// parseNamedPatterns collects every non-reserved parameter. Names are sorted so
// the same request always yields the same counter order.
func parseNamedPatterns(params url.Values, compiler *PatternCompiler) ([]NamedPattern, error) {
	names := make([]string, 0, len(params))
	for name := range params {
		if IsReservedParam(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	patterns := make([]NamedPattern, 0, len(names))
	for _, name := range names {
		p, err := compilePattern(compiler, name, first(params, name), false)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, NamedPattern{Name: name, Pattern: p})
	}
	return patterns, nil
}

func compilePattern(compiler *PatternCompiler, param, expr string, capture bool) (*Pattern, error) {
	p, err := compiler.Compile(expr)
	if err != nil {
		return nil, errors.NewValidationError("INVALID_PATTERN",
			fmt.Sprintf("parameter %q is not a valid regular expression", param)).
			WithCause(err).
			WithDetails(map[string]interface{}{"parameter": param})
	}

	if capture && p.Groups() != 1 {
		return nil, errors.NewValidationError("INVALID_PATTERN",
			fmt.Sprintf("parameter %q must have exactly one capture group", param)).
			WithDetails(map[string]interface{}{"parameter": param, "groups": p.Groups()})
	}

	return p, nil
}

// parseTimeRange accepts "[start TO end]" with ISO 8601 offset dates. Anything else
// means the range is derived from the data.
func parseTimeRange(raw string) *interaction.TimeRange {
	m := timeRangeExpr.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return nil
	}

	start, err := parseRangeDate(m[1])
	if err != nil {
		return nil
	}
	end, err := parseRangeDate(m[2])
	if err != nil {
		return nil
	}

	return &interaction.TimeRange{Start: start.UnixMilli(), End: end.UnixMilli()}
}

// rangeLayouts are the ISO 8601 offset forms accepted in a range, with and
// without seconds. time.RFC3339 also accepts fractional seconds.
var rangeLayouts = []string{time.RFC3339, "2006-01-02T15:04Z07:00"}

func parseRangeDate(s string) (time.Time, error) {
	var err error
	for _, layout := range rangeLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

func first(params url.Values, key string) string {
	if v := params[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}
