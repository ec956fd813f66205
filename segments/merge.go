package segments

// Filter returns the segments flagged with l.
func Filter(segs []Segment, l Label) []Segment {
	out := make([]Segment, 0, len(segs))
	for _, s := range segs {
		if l.Of(s) {
			out = append(out, s)
		}
	}
	return out
}

// Merge fuses consecutive segments whose boundaries touch exactly. The
// fused segment keeps the earlier start and takes the later end; confidences
// are averaged only when both label flags agree.
func Merge(segs []Segment) []Segment {
	out := make([]Segment, 0, len(segs))
	if len(segs) == 0 {
		return out
	}

	cur := segs[0]
	for _, next := range segs[1:] {
		if cur.EndTime != next.StartTime {
			out = append(out, cur)
			cur = next
			continue
		}
		cur.EndTime = next.EndTime
		// mismatched labels still extend the run but keep cur's confidences
		if cur.Crackles == next.Crackles && cur.Wheezes == next.Wheezes {
			cur.CracklesConfidence = (cur.CracklesConfidence + next.CracklesConfidence) / 2
			cur.WheezesConfidence = (cur.WheezesConfidence + next.WheezesConfidence) / 2
		}
	}
	return append(out, cur)
}

// Regions returns the merged runs per label, as drawn on the timeline.
func Regions(segs []Segment) map[Label][]Segment {
	out := make(map[Label][]Segment, len(Labels))
	for _, l := range Labels {
		out[l] = Merge(Filter(segs, l))
	}
	return out
}
