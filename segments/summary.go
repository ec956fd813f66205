package segments

type DetectionSummary string

const (
	DetectedNone     DetectionSummary = "None"
	DetectedCrackles DetectionSummary = "Crackles"
	DetectedWheezes  DetectionSummary = "Wheezes"
	DetectedBoth     DetectionSummary = "Wheezes, Crackles"
)

// Summary holds the headline statistics over an unfiltered segment list.
type Summary struct {
	TotalSegments         int              `json:"total_segments"`
	AvgCracklesConfidence Percentage       `json:"avg_crackles_confidence"`
	AvgWheezesConfidence  Percentage       `json:"avg_wheezes_confidence"`
	Detection             DetectionSummary `json:"detection_summary"`
}

// Summarize averages each confidence over all segments, flagged or not.
func Summarize(segs []Segment) Summary {
	sum := Summary{
		TotalSegments:         len(segs),
		AvgCracklesConfidence: NoData,
		AvgWheezesConfidence:  NoData,
		Detection:             DetectedNone,
	}
	if len(segs) == 0 {
		return sum
	}

	var cc, wc float64
	var anyC, anyW bool
	for _, s := range segs {
		cc += s.CracklesConfidence
		wc += s.WheezesConfidence
		anyC = anyC || s.Crackles
		anyW = anyW || s.Wheezes
	}
	n := float64(len(segs))
	sum.AvgCracklesConfidence = Percent(cc / n * 100)
	sum.AvgWheezesConfidence = Percent(wc / n * 100)
	sum.Detection = detection(anyC, anyW)
	return sum
}

func detection(crackles, wheezes bool) DetectionSummary {
	switch {
	case crackles && wheezes:
		return DetectedBoth
	case crackles:
		return DetectedCrackles
	case wheezes:
		return DetectedWheezes
	}
	return DetectedNone
}

// Row is one line of the per-segment results table.
type Row struct {
	StartTime          float64    `json:"start_time"`
	EndTime            float64    `json:"end_time"`
	Crackles           bool       `json:"crackles"`
	CracklesConfidence Percentage `json:"crackles_confidence"`
	Wheezes            bool       `json:"wheezes"`
	WheezesConfidence  Percentage `json:"wheezes_confidence"`
	Both               bool       `json:"both"`
	AvgConfidence      Percentage `json:"avg_confidence"`
}

// Table builds one row per segment. AvgConfidence is only set when both
// sounds were detected in the segment.
func Table(segs []Segment) []Row {
	rows := make([]Row, 0, len(segs))
	for _, s := range segs {
		r := Row{
			StartTime:          s.StartTime,
			EndTime:            s.EndTime,
			Crackles:           s.Crackles,
			CracklesConfidence: Percent(s.CracklesConfidence * 100),
			Wheezes:            s.Wheezes,
			WheezesConfidence:  Percent(s.WheezesConfidence * 100),
			Both:               s.Crackles && s.Wheezes,
			AvgConfidence:      NoData,
		}
		if r.Both {
			r.AvgConfidence = Percent((s.CracklesConfidence + s.WheezesConfidence) / 2 * 100)
		}
		rows = append(rows, r)
	}
	return rows
}
