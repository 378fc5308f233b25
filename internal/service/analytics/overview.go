package analytics

import "github.com/davidleathers/interaction-analytics/internal/domain/interaction"

// BuildOverview summarises an overview pass. With no visited events the span
// is reported as zero rather than the inverted seeds.
func BuildOverview(pass *PassResult) *interaction.Overview {
	overview := &interaction.Overview{
		Actions:    pass.ActionCounts,
		EntryCount: pass.Visited,
	}
	if overview.Actions == nil {
		overview.Actions = map[string]int64{}
	}

	if !pass.Empty() {
		overview.FirstEntry = pass.ObservedStart
		overview.LastEntry = pass.ObservedEnd
	}

	return overview
}
