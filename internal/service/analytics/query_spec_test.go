package analytics

import (
	"net/url"
	"testing"
	"time"

	"github.com/davidleathers/interaction-analytics/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCompiler(t *testing.T) *PatternCompiler {
	t.Helper()
	c, err := NewPatternCompiler(16)
	require.NoError(t, err)
	return c
}

func TestPatternCompiler(t *testing.T) {
	c := newTestCompiler(t)

	p, err := c.Compile(`buy:\d+`)
	require.NoError(t, err)
	assert.True(t, p.Matches("buy:12"))
	assert.False(t, p.Matches("buy:12 extra"), "match must cover the whole message")
	assert.False(t, p.Matches("xbuy:12"))
	assert.Equal(t, `buy:\d+`, p.String())

	again, err := c.Compile(`buy:\d+`)
	require.NoError(t, err)
	assert.Same(t, p, again)

	alt, err := c.Compile(`a|b`)
	require.NoError(t, err)
	assert.True(t, alt.Matches("a"))
	assert.False(t, alt.Matches("ab"), "alternation is anchored as a whole")

	group, err := c.Compile(`session=(\w+)`)
	require.NoError(t, err)
	v, ok := group.Group("session=abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", v)
	_, ok = group.Group("session=abc!")
	assert.False(t, ok)

	_, err = c.Compile(`(`)
	assert.Error(t, err)

	for _, expr := range []string{`a)|(b`, `x)(y`, `a)`} {
		_, err = c.Compile(expr)
		assert.Error(t, err, "%q must not escape the anchors", expr)
	}
}

func TestParseQuerySpec(t *testing.T) {
	dayStart := time.Date(2023, 11, 14, 0, 0, 0, 0, time.UTC).UnixMilli()
	dayEnd := time.Date(2023, 11, 15, 0, 0, 0, 0, time.UTC).UnixMilli()

	tests := []struct {
		name    string
		params  url.Values
		wantErr string
		check   func(t *testing.T, spec *QuerySpec)
	}{
		{
			name:   "empty request is an overview",
			params: url.Values{},
			check: func(t *testing.T, spec *QuerySpec) {
				assert.True(t, spec.IsOverview())
				assert.False(t, spec.IsBucketed())
				assert.Nil(t, spec.TimeRange)
				assert.Nil(t, spec.Correlation)
			},
		},
		{
			name:   "object only turns on inverse mode",
			params: url.Values{"object": {"S1"}, "action": {"click"}},
			check: func(t *testing.T, spec *QuerySpec) {
				assert.True(t, spec.Inverse)
				assert.Equal(t, "S1", spec.ObjectID)
				assert.False(t, spec.IsOverview())
			},
		},
		{
			name:   "subject and object is not inverse",
			params: url.Values{"subject": {"U1"}, "object": {"S1"}},
			check: func(t *testing.T, spec *QuerySpec) {
				assert.False(t, spec.Inverse)
			},
		},
		{
			name:   "explicit time range",
			params: url.Values{"timestamp": {"[2023-11-14T00:00:00Z TO 2023-11-15T00:00:00Z]"}},
			check: func(t *testing.T, spec *QuerySpec) {
				require.NotNil(t, spec.TimeRange)
				assert.Equal(t, dayStart, spec.TimeRange.Start)
				assert.Equal(t, dayEnd, spec.TimeRange.End)
			},
		},
		{
			name:   "offset dates are honoured",
			params: url.Values{"timestamp": {"[2023-11-14T01:00:00+01:00 TO 2023-11-15T01:00:00+01:00]"}},
			check: func(t *testing.T, spec *QuerySpec) {
				require.NotNil(t, spec.TimeRange)
				assert.Equal(t, dayStart, spec.TimeRange.Start)
				assert.Equal(t, dayEnd, spec.TimeRange.End)
			},
		},
		{
			name:   "dates without seconds",
			params: url.Values{"timestamp": {"[2023-11-14T01:00+01:00 TO 2023-11-15T00:00Z]"}},
			check: func(t *testing.T, spec *QuerySpec) {
				require.NotNil(t, spec.TimeRange)
				assert.Equal(t, dayStart, spec.TimeRange.Start)
				assert.Equal(t, dayEnd, spec.TimeRange.End)
			},
		},
		{
			name:   "malformed time range is ignored",
			params: url.Values{"timestamp": {"2023-11-14T00:00:00Z TO 2023-11-15T00:00:00Z"}},
			check: func(t *testing.T, spec *QuerySpec) {
				assert.Nil(t, spec.TimeRange)
			},
		},
		{
			name:   "unparseable dates are ignored",
			params: url.Values{"timestamp": {"[yesterday TO today]"}},
			check: func(t *testing.T, spec *QuerySpec) {
				assert.Nil(t, spec.TimeRange)
			},
		},
		{
			name:   "filters split on the separator and message joins them",
			params: url.Values{"action": {"click"}, "filters": {"buy.*::.*:\\d+"}, "message": {"buy:1"}},
			check: func(t *testing.T, spec *QuerySpec) {
				require.Len(t, spec.Filters, 3)
				assert.Equal(t, "buy.*", spec.Filters[0].String())
				assert.Equal(t, ".*:\\d+", spec.Filters[1].String())
				assert.Equal(t, "buy:1", spec.Filters[2].String())
			},
		},
		{
			name:   "correlate action only",
			params: url.Values{"action": {"click"}, "correlate": {"login"}},
			check: func(t *testing.T, spec *QuerySpec) {
				require.NotNil(t, spec.Correlation)
				assert.Equal(t, "login", spec.Correlation.Action)
				assert.Empty(t, spec.Correlation.Operator)
				assert.Nil(t, spec.Correlation.Pattern)
			},
		},
		{
			name:   "correlate action and operator",
			params: url.Values{"action": {"click"}, "correlate": {"login::and"}},
			check: func(t *testing.T, spec *QuerySpec) {
				require.NotNil(t, spec.Correlation)
				assert.Equal(t, OperatorAnd, spec.Correlation.Operator)
				assert.Nil(t, spec.Correlation.Pattern)
			},
		},
		{
			name:   "full correlate keeps separators inside the pattern",
			params: url.Values{"correlate": {"login::andSubject::sid::(\\w+)"}},
			check: func(t *testing.T, spec *QuerySpec) {
				require.NotNil(t, spec.Correlation)
				assert.Equal(t, OperatorAndSubject, spec.Correlation.Operator)
				require.NotNil(t, spec.Correlation.Pattern)
				assert.Equal(t, "sid::(\\w+)", spec.Correlation.Pattern.String())
				assert.False(t, spec.IsOverview(), "correlation disables overview")
			},
		},
		{
			name:   "correlate without action is ignored",
			params: url.Values{"correlate": {"::and::(x)"}},
			check: func(t *testing.T, spec *QuerySpec) {
				assert.Nil(t, spec.Correlation)
			},
		},
		{
			name: "named patterns come from non reserved parameters",
			params: url.Values{
				"action":     {"click"},
				"aggregate":  {"2006-01-02 15:04"},
				"view":       {"view"},
				"buy":        {"buy:.*"},
				"multiplier": {"buy:(\\d+)"},
			},
			check: func(t *testing.T, spec *QuerySpec) {
				assert.True(t, spec.IsBucketed())
				require.Len(t, spec.NamedPatterns, 2)
				assert.Equal(t, "buy", spec.NamedPatterns[0].Name)
				assert.Equal(t, "view", spec.NamedPatterns[1].Name)
				require.NotNil(t, spec.Multiplier)
			},
		},
		{
			name:   "named patterns are ignored without aggregate",
			params: url.Values{"action": {"click"}, "buy": {"buy:.*"}},
			check: func(t *testing.T, spec *QuerySpec) {
				assert.Empty(t, spec.NamedPatterns)
			},
		},
		{
			name:    "histogram without aggregate",
			params:  url.Values{"action": {"click"}, "histogram": {"item=(\\w+)"}},
			wantErr: "HISTOGRAM_REQUIRES_AGGREGATE",
		},
		{
			name:    "invalid named pattern",
			params:  url.Values{"aggregate": {"2006"}, "broken": {"("}},
			wantErr: "INVALID_PATTERN",
		},
		{
			name:    "invalid filter",
			params:  url.Values{"filters": {"ok::[z-a]"}},
			wantErr: "INVALID_PATTERN",
		},
		{
			name:    "correlation pattern needs one group",
			params:  url.Values{"correlate": {"login::and::session=\\w+"}},
			wantErr: "INVALID_PATTERN",
		},
		{
			name:    "histogram pattern needs exactly one group",
			params:  url.Values{"aggregate": {"2006"}, "histogram": {"(a)(b)"}},
			wantErr: "INVALID_PATTERN",
		},
		{
			name:    "filter closing the anchor group",
			params:  url.Values{"filters": {"a)|(b"}},
			wantErr: "INVALID_PATTERN",
		},
		{
			name:    "histogram with an unbalanced group",
			params:  url.Values{"aggregate": {"2006"}, "histogram": {"x)(y"}},
			wantErr: "INVALID_PATTERN",
		},
		{
			name:    "multiplier needs one group",
			params:  url.Values{"action": {"click"}, "multiplier": {"\\d+"}},
			wantErr: "INVALID_PATTERN",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := ParseQuerySpec(tt.params, newTestCompiler(t))

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, errors.HasCode(err, tt.wantErr), "got %v", err)
				assert.Equal(t, 400, errors.GetStatusCode(err))
				assert.Nil(t, spec)
				return
			}

			require.NoError(t, err)
			tt.check(t, spec)
		})
	}
}

func TestIsReservedParam(t *testing.T) {
	for _, name := range []string{"subject", "object", "action", "message", "timestamp",
		"aggregate", "histogram", "correlate", "filters", "multiplier"} {
		assert.True(t, IsReservedParam(name), name)
	}
	assert.False(t, IsReservedParam("buy"))
	assert.False(t, IsReservedParam("total"))
}
