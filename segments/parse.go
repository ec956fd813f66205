package segments

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformed = errors.New("malformed segment list")

// wireSegment keeps every field optional so missing keys can be told apart
// from zero values.
type wireSegment struct {
	StartTime          *float64 `json:"start_time"`
	EndTime            *float64 `json:"end_time"`
	Crackles           *bool    `json:"crackles"`
	CracklesConfidence *float64 `json:"crackles_confidence"`
	Wheezes            *bool    `json:"wheezes"`
	WheezesConfidence  *float64 `json:"wheezes_confidence"`
}

func (w wireSegment) missing() string {
	switch {
	case w.StartTime == nil:
		return "start_time"
	case w.EndTime == nil:
		return "end_time"
	case w.Crackles == nil:
		return "crackles"
	case w.CracklesConfidence == nil:
		return "crackles_confidence"
	case w.Wheezes == nil:
		return "wheezes"
	case w.WheezesConfidence == nil:
		return "wheezes_confidence"
	}
	return ""
}

// Parse decodes a JSON array of segments and validates it.
func Parse(data []byte) ([]Segment, error) {
	var raw []wireSegment
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	out := make([]Segment, 0, len(raw))
	for i, w := range raw {
		if f := w.missing(); f != "" {
			return nil, fmt.Errorf("%w: segment %d: missing %s", ErrMalformed, i, f)
		}
		out = append(out, Segment{
			StartTime:          *w.StartTime,
			EndTime:            *w.EndTime,
			Crackles:           *w.Crackles,
			CracklesConfidence: *w.CracklesConfidence,
			Wheezes:            *w.Wheezes,
			WheezesConfidence:  *w.WheezesConfidence,
		})
	}
	if err := Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate checks bounds and ordering. Gaps between segments are allowed.
func Validate(segs []Segment) error {
	for i, s := range segs {
		if s.StartTime < 0 {
			return fmt.Errorf("%w: segment %d: negative start_time %v", ErrMalformed, i, s.StartTime)
		}
		if s.EndTime <= s.StartTime {
			return fmt.Errorf("%w: segment %d: end_time %v not after start_time %v", ErrMalformed, i, s.EndTime, s.StartTime)
		}
		if !unit(s.CracklesConfidence) {
			return fmt.Errorf("%w: segment %d: crackles_confidence %v out of [0,1]", ErrMalformed, i, s.CracklesConfidence)
		}
		if !unit(s.WheezesConfidence) {
			return fmt.Errorf("%w: segment %d: wheezes_confidence %v out of [0,1]", ErrMalformed, i, s.WheezesConfidence)
		}
		if i > 0 && s.StartTime < segs[i-1].StartTime {
			return fmt.Errorf("%w: segment %d: start_time %v before previous %v", ErrMalformed, i, s.StartTime, segs[i-1].StartTime)
		}
	}
	return nil
}

// NaN fails both comparisons.
func unit(v float64) bool { return v >= 0 && v <= 1 }
