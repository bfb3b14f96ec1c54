package ingest

import (
	"fmt"
	"sort"
	"time"
	_ "time/tzdata"
)

var wallLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
}

// parseWall parses a provider timestamp as a wall-clock reading. The returned
// value is in UTC only as a carrier for its fields.
func parseWall(s string) (time.Time, error) {
	for _, layout := range wallLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// Localize turns ordered wall-clock readings of loc into instants.
//
// A wall time repeated by a fall-back transition maps to two instants; the
// earliest one that keeps the series strictly increasing is chosen, so a
// repeated 01:00 resolves to daylight time first and standard time second.
// Ambiguous rows leading the series are resolved backwards from the first
// unambiguous row, each taking the latest instant before its successor.
// A wall time skipped by a spring-forward transition is shifted forward by
// the size of the gap.
func Localize(walls []time.Time, loc *time.Location) []time.Time {
	out := make([]time.Time, len(walls))
	cands := make([][]time.Time, len(walls))
	for i, w := range walls {
		cands[i] = candidates(w, loc)
	}

	lead := 0
	for lead < len(walls) && len(cands[lead]) > 1 {
		lead++
	}
	if lead == len(walls) {
		lead = 0
	}

	var prev time.Time
	for i := lead; i < len(walls); i++ {
		var pick time.Time
		switch len(cands[i]) {
		case 0:
			pick = skipForward(walls[i], loc)
		case 1:
			pick = cands[i][0]
		default:
			pick = cands[i][0]
			if !prev.IsZero() {
				for _, c := range cands[i] {
					if c.After(prev) {
						pick = c
						break
					}
				}
			}
		}
		out[i] = pick
		prev = pick
	}

	for i := lead - 1; i >= 0; i-- {
		out[i] = cands[i][0]
		for _, c := range cands[i] {
			if c.Before(out[i+1]) {
				out[i] = c
			}
		}
	}
	return out
}

// candidates returns, in ascending order, every instant whose wall clock in
// loc equals w. Zone offsets never exceed 14h, so probing the offsets in
// effect 14h either side of w covers every transition around it.
func candidates(w time.Time, loc *time.Location) []time.Time {
	seen := make(map[int]bool, 3)
	var out []time.Time
	for _, probe := range []time.Time{w.Add(-14 * time.Hour), w, w.Add(14 * time.Hour)} {
		_, off := probe.In(loc).Zone()
		if seen[off] {
			continue
		}
		seen[off] = true

		c := w.Add(-time.Duration(off) * time.Second)
		if sameWall(c.In(loc), w) {
			out = append(out, c.In(loc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func skipForward(w time.Time, loc *time.Location) time.Time {
	_, before := w.Add(-14 * time.Hour).In(loc).Zone()
	return w.Add(-time.Duration(before) * time.Second).In(loc)
}

func sameWall(t, w time.Time) bool {
	y1, m1, d1 := t.Date()
	y2, m2, d2 := w.Date()
	return y1 == y2 && m1 == m2 && d1 == d2 &&
		t.Hour() == w.Hour() && t.Minute() == w.Minute() && t.Second() == w.Second()
}

// floorHour truncates t to the start of its local hour in t's location.
func floorHour(t time.Time) time.Time {
	return t.Add(-time.Duration(t.Minute())*time.Minute -
		time.Duration(t.Second())*time.Second -
		time.Duration(t.Nanosecond()))
}
