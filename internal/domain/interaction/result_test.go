package interaction

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResult_JSON(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		want   string
	}{
		{
			name:   "empty entries are an array",
			result: Result{Kind: ResultEntries, Entries: []EntryRecord{}},
			want:   `{"kind":"entries","entries":[]}`,
		},
		{
			name: "entries",
			result: Result{Kind: ResultEntries, Entries: []EntryRecord{
				{SubjectID: "U1", ObjectID: "S1", Action: "click", Message: "buy:5", Timestamp: 42},
			}},
			want: `{"kind":"entries","entries":[{"subjectId":"U1","objectId":"S1","action":"click","message":"buy:5","timestamp":42}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.result)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}
