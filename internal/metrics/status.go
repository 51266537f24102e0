package metrics

import "sort"

// StatusBucket is the failure count for one operation and error label.
type StatusBucket struct {
	Operation string `json:"operation" yaml:"operation"`
	Label     string `json:"label" yaml:"label"`
	Count     int    `json:"count" yaml:"count"`
}

// FlattenStatusBuckets converts a nested operation->label map into a sorted slice of StatusBucket rows.
// Rows are sorted by descending count, then by operation/label for stability.
func FlattenStatusBuckets(buckets map[string]map[string]int) []StatusBucket {
	if len(buckets) == 0 {
		return nil
	}
	rows := make([]StatusBucket, 0)
	for op, labels := range buckets {
		for label, count := range labels {
			rows = append(rows, StatusBucket{Operation: op, Label: label, Count: count})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			if rows[i].Operation == rows[j].Operation {
				return rows[i].Label < rows[j].Label
			}
			return rows[i].Operation < rows[j].Operation
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}
