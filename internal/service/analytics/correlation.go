package analytics

import (
	"github.com/davidleathers/interaction-analytics/internal/domain/interaction"
)

// missingIDKey stands in for a subject+object key when either id is empty
const missingIDKey = "NULLNULL"

// CorrelationIndex maps a correlation key to the events that produced it, in
// the order they were seen. It is built and read by a single request.
type CorrelationIndex map[string][]*interaction.Event

// pathIDs orients an event for the query. In inverse mode the caller asked
// from the object's point of view, so the roles swap.
func pathIDs(e *interaction.Event, inverse bool) (subjectID, objectID string) {
	if inverse {
		return e.ObjectID, e.SubjectID
	}
	return e.SubjectID, e.ObjectID
}

func fallbackKey(subjectID, objectID string) string {
	if subjectID == "" || objectID == "" {
		return missingIDKey
	}
	return subjectID + objectID
}

// BuildCorrelationIndex keys every event by the correlation pattern's capture
// group, or by its subject+object ids when no pattern is given. Events the
// pattern does not match are left out.
func BuildCorrelationIndex(events []*interaction.Event, pattern *Pattern, inverse bool) CorrelationIndex {
	index := make(CorrelationIndex)

	for _, e := range events {
		var key string
		if pattern != nil {
			value, ok := pattern.Group(e.Message)
			if !ok {
				continue
			}
			key = value
		} else {
			key = fallbackKey(pathIDs(e, inverse))
		}
		index[key] = append(index[key], e)
	}

	return index
}

// Correlates decides whether an event oriented as subjectID/objectID with
// message passes the correlation. An empty index means nothing to correlate
// against and always passes.
func (idx CorrelationIndex) Correlates(c *Correlation, subjectID, objectID, message string) bool {
	if len(idx) == 0 || c == nil {
		return true
	}

	if c.Operator == "" || c.Pattern == nil {
		_, ok := idx[fallbackKey(subjectID, objectID)]
		return ok
	}

	value, ok := c.Pattern.Group(message)
	if !ok {
		return c.Operator == OperatorNot
	}

	switch c.Operator {
	case OperatorAnd:
		_, found := idx[value]
		return found
	case OperatorAndSubject:
		for _, e := range idx[value] {
			if e.SubjectID == subjectID {
				return true
			}
		}
		return false
	case OperatorAndObject:
		for _, e := range idx[value] {
			if e.ObjectID == objectID {
				return true
			}
		}
		return false
	case OperatorNot:
		_, found := idx[value]
		return !found
	default:
		return false
	}
}
