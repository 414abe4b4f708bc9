package transcript

// Timeline threads the running offset through chunks processed in index
// order. It is not safe for concurrent use.
type Timeline struct {
	offset   float64
	fallback float64
}

// NewTimeline starts at zero. fallback is the duration assumed for a chunk
// whose length could not be measured.
func NewTimeline(fallback float64) *Timeline {
	return &Timeline{fallback: fallback}
}

// Offset is the global start time of the next chunk.
func (t *Timeline) Offset() float64 {
	return t.offset
}

// Apply returns copies of chunk-relative segments shifted onto the global timeline.
func (t *Timeline) Apply(segments []Segment) []Segment {
	out := make([]Segment, len(segments))
	for i, s := range segments {
		s.Start += t.offset
		s.End += t.offset
		out[i] = s
	}
	return out
}

// Advance moves the offset past a chunk and returns the duration that was
// added. Negative measurements are treated as unmeasured.
func (t *Timeline) Advance(measured float64, ok bool) float64 {
	d := t.fallback
	if ok && measured >= 0 {
		d = measured
	}
	t.offset += d
	return d
}

// ChunkLength is the duration Advance would add for the given measurement.
func (t *Timeline) ChunkLength(measured float64, ok bool) float64 {
	if ok && measured >= 0 {
		return measured
	}
	return t.fallback
}
