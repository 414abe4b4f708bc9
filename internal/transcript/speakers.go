package transcript

// AssignSpeakers labels segments with the diarization turn they overlap most.
//
// Segments must be in ascending start order and turns sorted by end time
// (see SortTurns). A single forward pointer skips turns ending before a
// segment's midpoint; the turn at the pointer and the one before it are the
// only candidates. A segment that overlaps neither keeps its current label.
// The slice is modified in place and returned.
func AssignSpeakers(segments []Segment, turns []Turn) []Segment {
	if len(turns) == 0 {
		return segments
	}

	j := 0
	for i := range segments {
		seg := &segments[i]
		mid := (seg.Start + seg.End) / 2
		for j < len(turns) && turns[j].End < mid {
			j++
		}

		best := ""
		bestOverlap := 0.0
		for _, k := range [2]int{j, j - 1} {
			if k < 0 || k >= len(turns) {
				continue
			}
			if ov := overlap(seg.Start, seg.End, turns[k].Start, turns[k].End); ov > bestOverlap {
				bestOverlap = ov
				best = turns[k].Speaker
			}
		}
		if bestOverlap > 0 {
			seg.Speaker = best
		}
	}
	return segments
}

func overlap(aStart, aEnd, bStart, bEnd float64) float64 {
	return max(0, min(aEnd, bEnd)-max(aStart, bStart))
}
