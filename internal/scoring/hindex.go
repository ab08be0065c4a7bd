// Package scoring computes the h-index style impact score of an entity.
package scoring

import (
	"sort"

	"github.com/JakeFAU/impact-crawler/internal/impact"
)

// HIndex returns the largest n such that at least n records have a metric of
// at least n, together with the sum of all metrics. The input slice is not
// modified; equal metrics keep their input order.
func HIndex(records []impact.Record) (int, int64) {
	var total int64
	metrics := make([]int64, len(records))
	for i, r := range records {
		metrics[i] = r.Metric
		total += r.Metric
	}
	sort.SliceStable(metrics, func(i, j int) bool {
		return metrics[i] > metrics[j]
	})
	for i, m := range metrics {
		if m < int64(i+1) {
			return i, total
		}
	}
	return len(metrics), total
}
