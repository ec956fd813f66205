package segments

import (
	"encoding/json"
	"fmt"
	"math"
)

// Segment is one inference window returned by the /timestamp endpoint.
type Segment struct {
	StartTime          float64 `json:"start_time"`
	EndTime            float64 `json:"end_time"`
	Crackles           bool    `json:"crackles"`
	CracklesConfidence float64 `json:"crackles_confidence"`
	Wheezes            bool    `json:"wheezes"`
	WheezesConfidence  float64 `json:"wheezes_confidence"`
}

type Label int

const (
	Crackles Label = iota
	Wheezes
)

// Labels is the display order; crackles come first.
var Labels = []Label{Crackles, Wheezes}

func (l Label) String() string {
	switch l {
	case Crackles:
		return "crackles"
	case Wheezes:
		return "wheezes"
	}
	return fmt.Sprintf("label(%d)", int(l))
}

func (l Label) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *Label) UnmarshalText(b []byte) error {
	switch string(b) {
	case "crackles":
		*l = Crackles
	case "wheezes":
		*l = Wheezes
	default:
		return fmt.Errorf("unknown label %q", b)
	}
	return nil
}

// Of reports whether s is flagged with l.
func (l Label) Of(s Segment) bool {
	if l == Wheezes {
		return s.Wheezes
	}
	return s.Crackles
}

// Percentage is a statistic that may have no data behind it.
type Percentage struct {
	value float64
	valid bool
}

// NoData is the sentinel reported instead of NaN when nothing was measured.
var NoData = Percentage{}

func Percent(v float64) Percentage {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return NoData
	}
	return Percentage{value: v, valid: true}
}

func (p Percentage) Value() (float64, bool) { return p.value, p.valid }

func (p Percentage) String() string {
	if !p.valid {
		return "no data"
	}
	return fmt.Sprintf("%.2f", p.value)
}

func (p Percentage) MarshalJSON() ([]byte, error) {
	if !p.valid {
		return []byte("null"), nil
	}
	return json.Marshal(p.value)
}

func (p *Percentage) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*p = NoData
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*p = Percent(v)
	return nil
}
