package scoring

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/impact-crawler/internal/impact"
)

func recordsOf(metrics ...int64) []impact.Record {
	out := make([]impact.Record, len(metrics))
	for i, m := range metrics {
		out[i] = impact.Record{Metric: m, MetricType: "stars"}
	}
	return out
}

func TestHIndex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		metrics   []int64
		wantScore int
		wantTotal int64
	}{
		{name: "descending sample", metrics: []int64{10, 8, 5, 4, 3}, wantScore: 4, wantTotal: 30},
		{name: "empty", metrics: nil, wantScore: 0, wantTotal: 0},
		{name: "all zero", metrics: []int64{0, 0, 0}, wantScore: 0, wantTotal: 0},
		{name: "unsorted input", metrics: []int64{3, 10, 4, 8, 5}, wantScore: 4, wantTotal: 30},
		{name: "every record qualifies", metrics: []int64{100, 100, 100}, wantScore: 3, wantTotal: 300},
		{name: "single record", metrics: []int64{1}, wantScore: 1, wantTotal: 1},
		{name: "negative metrics", metrics: []int64{-5, 2, 2}, wantScore: 2, wantTotal: -1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			score, total := HIndex(recordsOf(tt.metrics...))
			require.Equal(t, tt.wantScore, score)
			require.Equal(t, tt.wantTotal, total)
		})
	}
}

func TestHIndexDoesNotReorderInput(t *testing.T) {
	t.Parallel()

	records := recordsOf(1, 9, 3)
	HIndex(records)
	require.Equal(t, []int64{1, 9, 3}, []int64{records[0].Metric, records[1].Metric, records[2].Metric})
}

func TestHIndexMonotonic(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 200; iter++ {
		n := rng.Intn(20)
		metrics := make([]int64, n)
		for i := range metrics {
			metrics[i] = int64(rng.Intn(30))
		}
		base, _ := HIndex(recordsOf(metrics...))

		below, _ := HIndex(recordsOf(append(append([]int64(nil), metrics...), int64(rng.Intn(base+1)))...))
		require.Equal(t, base, below, "metrics=%v", metrics)

		high, _ := HIndex(recordsOf(append(append([]int64(nil), metrics...), 1000)...))
		require.GreaterOrEqual(t, high, base)
	}
}
