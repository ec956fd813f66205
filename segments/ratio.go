package segments

// Ratio is the crackle/wheeze share among positive detections.
type Ratio struct {
	CracklesCount      int     `json:"crackles_count"`
	WheezesCount       int     `json:"wheezes_count"`
	Total              int     `json:"total"`
	CracklesPercentage float64 `json:"crackles_percentage"`
	WheezesPercentage  float64 `json:"wheezes_percentage"`
	Active             Label   `json:"active"`
}

// ComputeRatio counts each flag independently, so a segment with both
// flags set counts twice in Total.
// TODO: confirm with product whether Total should be the segment count.
func ComputeRatio(segs []Segment) Ratio {
	var r Ratio
	for _, s := range segs {
		if s.Crackles {
			r.CracklesCount++
		}
		if s.Wheezes {
			r.WheezesCount++
		}
	}
	r.Total = r.CracklesCount + r.WheezesCount
	if r.Total > 0 {
		r.CracklesPercentage = float64(r.CracklesCount) / float64(r.Total) * 100
		r.WheezesPercentage = float64(r.WheezesCount) / float64(r.Total) * 100
	}

	r.Active = Crackles
	if r.WheezesPercentage > r.CracklesPercentage {
		r.Active = Wheezes
	}
	return r
}

// Percentage returns the share for l.
func (r Ratio) Percentage(l Label) float64 {
	if l == Wheezes {
		return r.WheezesPercentage
	}
	return r.CracklesPercentage
}
