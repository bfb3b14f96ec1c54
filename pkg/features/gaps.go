package features

import (
	"sort"
	"time"

	"github.com/obrunao/tech-challenge-fase3/pkg/storage"
)

// Gap is a run of missing hours between two consecutive observations.
type Gap struct {
	After   time.Time
	Before  time.Time
	Missing int
}

// FindGaps returns the holes in an hourly series of one location. The input
// need not be sorted.
func FindGaps(obs []storage.Observation) []Gap {
	ts := make([]time.Time, len(obs))
	for i, o := range obs {
		ts[i] = o.Timestamp
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })

	var gaps []Gap
	for i := 1; i < len(ts); i++ {
		step := ts[i].Sub(ts[i-1])
		if step > time.Hour {
			gaps = append(gaps, Gap{
				After:   ts[i-1],
				Before:  ts[i],
				Missing: int(step/time.Hour) - 1 + boolToInt(step%time.Hour != 0),
			})
		}
	}
	return gaps
}

// CountGaps returns the total number of missing hours in the series.
func CountGaps(obs []storage.Observation) int {
	total := 0
	for _, g := range FindGaps(obs) {
		total += g.Missing
	}
	return total
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
