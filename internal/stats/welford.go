// Package stats maintains the per-platform score distribution (count, mean,
// median, standard deviation, min and max) as new scores are committed.
//
// Mean and variance follow Welford's online algorithm: the running sum of
// squared deviations (M2) is persisted with the stats so every update is O(1)
// and numerically stable. The median is an order statistic and is re-read from
// the store after every commit.
package stats

import (
	"math"
	"sort"
	"time"

	"github.com/JakeFAU/impact-crawler/internal/impact"
)

// Bootstrap computes stats from scratch over every stored score of a platform.
// StdDev is the population standard deviation.
func Bootstrap(platform impact.Platform, scores []int, now time.Time) impact.PlatformStats {
	out := impact.PlatformStats{Platform: platform, UpdatedAt: now}
	if len(scores) == 0 {
		return out
	}
	sorted := append([]int(nil), scores...)
	sort.Ints(sorted)

	var sum float64
	for _, s := range sorted {
		sum += float64(s)
	}
	n := float64(len(sorted))
	mean := sum / n
	var m2 float64
	for _, s := range sorted {
		d := float64(s) - mean
		m2 += d * d
	}

	out.Count = int64(len(sorted))
	out.Mean = mean
	out.M2 = m2
	out.StdDev = math.Sqrt(m2 / n)
	out.Median = Median(sorted)
	out.Min = sorted[0]
	out.Max = sorted[len(sorted)-1]
	return out
}

// Observe folds one new score into s. The median is left untouched.
func Observe(s impact.PlatformStats, score int) impact.PlatformStats {
	x := float64(score)
	if s.Count == 0 {
		s.Min, s.Max = score, score
	} else {
		s.Min = min(s.Min, score)
		s.Max = max(s.Max, score)
	}
	s.Count++
	delta := x - s.Mean
	s.Mean += delta / float64(s.Count)
	s.M2 += delta * (x - s.Mean)
	if s.M2 < 0 {
		s.M2 = 0
	}
	s.StdDev = sampleStdDev(s.Count, s.M2)
	return s
}

// Replace swaps a previously observed score for its new value, keeping Count.
// Min, Max and Median are left to the caller, which must consult the full score set.
func Replace(s impact.PlatformStats, previous, score int) impact.PlatformStats {
	if s.Count <= 1 {
		s.Mean = float64(score)
		s.M2 = 0
		s.StdDev = 0
		return s
	}
	old := float64(previous)
	n := float64(s.Count)
	delta := old - s.Mean
	mean := s.Mean - delta/(n-1)
	m2 := s.M2 - delta*(old-mean)

	x := float64(score)
	delta = x - mean
	mean += delta / n
	m2 += delta * (x - mean)
	if m2 < 0 {
		m2 = 0
	}
	s.Mean = mean
	s.M2 = m2
	s.StdDev = sampleStdDev(s.Count, m2)
	return s
}

// Median returns the median of an ascending slice, 0 when empty.
func Median(sorted []int) float64 {
	n := len(sorted)
	switch {
	case n == 0:
		return 0
	case n%2 == 1:
		return float64(sorted[n/2])
	default:
		return (float64(sorted[n/2-1]) + float64(sorted[n/2])) / 2
	}
}

func sampleStdDev(count int64, m2 float64) float64 {
	if count <= 1 {
		return 0
	}
	return math.Sqrt(m2 / float64(count-1))
}
