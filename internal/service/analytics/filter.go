package analytics

import (
	"math"

	"github.com/davidleathers/interaction-analytics/internal/domain/interaction"
)

// nullAction is the overview key for events recorded without an action
const nullAction = "null"

// PassResult is the output of one filter and correlate pass
type PassResult struct {
	Entries      []interaction.EntryRecord
	ActionCounts map[string]int64
	Visited      int64

	// ObservedStart > ObservedEnd when no event was visited
	ObservedStart int64
	ObservedEnd   int64
}

// Empty reports whether the pass saw no events at all
func (r *PassResult) Empty() bool {
	return r.ObservedStart > r.ObservedEnd
}

// PassesFilter is true when every filter matches the whole message
func PassesFilter(filters []*Pattern, message string) bool {
	for _, f := range filters {
		if !f.Matches(message) {
			return false
		}
	}
	return true
}

// FilterAndCorrelate walks the candidate events in the order the store
// returned them. In overview mode it only counts actions; otherwise it keeps
// every event that passes the filters and the correlation.
func FilterAndCorrelate(spec *QuerySpec, index CorrelationIndex, events []*interaction.Event) *PassResult {
	res := &PassResult{
		ObservedStart: math.MaxInt64,
		ObservedEnd:   0,
	}

	overview := spec.IsOverview()
	if overview {
		res.ActionCounts = make(map[string]int64)
	}

	for _, e := range events {
		if !spec.TimeRange.Contains(e.Timestamp) {
			continue
		}

		res.Visited++
		if e.Timestamp < res.ObservedStart {
			res.ObservedStart = e.Timestamp
		}
		if e.Timestamp > res.ObservedEnd {
			res.ObservedEnd = e.Timestamp
		}

		if overview {
			action := e.Action
			if action == "" {
				action = nullAction
			}
			res.ActionCounts[action]++
			continue
		}

		subjectID, objectID := pathIDs(e, spec.Inverse)

		if !PassesFilter(spec.Filters, e.Message) {
			continue
		}
		if !index.Correlates(spec.Correlation, subjectID, objectID, e.Message) {
			continue
		}

		res.Entries = append(res.Entries, interaction.EntryRecord{
			SubjectID: subjectID,
			ObjectID:  objectID,
			Action:    e.Action,
			Message:   e.Message,
			Timestamp: e.Timestamp,
		})
	}

	return res
}
