package analytics

import (
	"strconv"
	"time"
)

// Probe parameters for interval detection, all in milliseconds
const (
	probeBaseline int64 = 3600
	probeStep     int64 = 60_000
	probeCeiling  int64 = 365 * 24 * 60 * 60 * 1000
)

// DateFormat is a Go reference layout evaluated in a fixed location. The
// layout is treated as opaque: its granularity is discovered by probing.
type DateFormat struct {
	Layout   string
	Location *time.Location
}

// NewDateFormat binds layout to loc, defaulting to UTC
func NewDateFormat(layout string, loc *time.Location) DateFormat {
	if loc == nil {
		loc = time.UTC
	}
	return DateFormat{Layout: layout, Location: loc}
}

// Format renders ms since epoch with the layout
func (f DateFormat) Format(ms int64) string {
	return time.UnixMilli(ms).In(f.location()).Format(f.Layout)
}

// Parse reads text written by Format back to ms since epoch
func (f DateFormat) Parse(text string) (int64, error) {
	t, err := time.ParseInLocation(f.Layout, text, f.location())
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

// Align rounds ms down to the closest instant the layout can express. A
// layout that cannot read its own output aligns to the epoch.
func (f DateFormat) Align(ms int64) int64 {
	aligned, err := f.Parse(f.Format(ms))
	if err != nil {
		return 0
	}
	return aligned
}

// Interval is the smallest probe offset at which the layout tells two
// instants apart. A layout that never changes within a year yields a year.
func (f DateFormat) Interval() int64 {
	base := f.representation(probeBaseline)
	for offset := probeStep; offset <= probeCeiling; offset += probeStep {
		if f.representation(probeBaseline+offset) != base {
			return offset
		}
	}
	return probeCeiling
}

// representation is the parsed instant when the layout round-trips and the
// formatted text otherwise.
func (f DateFormat) representation(ms int64) string {
	text := f.Format(ms)
	if parsed, err := f.Parse(text); err == nil {
		return strconv.FormatInt(parsed, 10)
	}
	return text
}

func (f DateFormat) location() *time.Location {
	if f.Location == nil {
		return time.UTC
	}
	return f.Location
}
