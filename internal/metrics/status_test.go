package metrics

import (
	"reflect"
	"testing"
)

func TestFlattenStatusBuckets(t *testing.T) {
	tests := []struct {
		name    string
		buckets map[string]map[string]int
		want    []StatusBucket
	}{
		{
			name:    "nil buckets",
			buckets: nil,
			want:    nil,
		},
		{
			name:    "empty buckets",
			buckets: map[string]map[string]int{},
			want:    nil,
		},
		{
			name: "sorted by count desc",
			buckets: map[string]map[string]int{
				"status": {
					"HTTP 503":        5,
					"Transport error": 10,
				},
				"start": {
					"HTTP 409": 20,
				},
			},
			want: []StatusBucket{
				{Operation: "start", Label: "HTTP 409", Count: 20},
				{Operation: "status", Label: "Transport error", Count: 10},
				{Operation: "status", Label: "HTTP 503", Count: 5},
			},
		},
		{
			name: "tie breaking by operation then label",
			buckets: map[string]map[string]int{
				"status": {
					"HTTP 500": 3,
					"HTTP 404": 3,
				},
				"continue": {
					"HTTP 418": 3,
				},
			},
			want: []StatusBucket{
				{Operation: "continue", Label: "HTTP 418", Count: 3},
				{Operation: "status", Label: "HTTP 404", Count: 3},
				{Operation: "status", Label: "HTTP 500", Count: 3},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FlattenStatusBuckets(tt.buckets)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FlattenStatusBuckets() = %v, want %v", got, tt.want)
			}
		})
	}
}
