package segments

import "sort"

// Condition is one class probability from the /diagnose endpoint.
type Condition struct {
	Name        string  `json:"name"`
	Probability float64 `json:"probability"`
}

// Diagnosis is sorted most likely first.
type Diagnosis []Condition

// Rank orders raw class probabilities, highest first, ties by name.
func Rank(probs map[string]float64) Diagnosis {
	out := make(Diagnosis, 0, len(probs))
	for name, p := range probs {
		out = append(out, Condition{Name: name, Probability: p})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Probability != out[j].Probability {
			return out[i].Probability > out[j].Probability
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (d Diagnosis) Top() (Condition, bool) {
	if len(d) == 0 {
		return Condition{}, false
	}
	return d[0], true
}

// Map converts back to the wire shape.
func (d Diagnosis) Map() map[string]float64 {
	m := make(map[string]float64, len(d))
	for _, c := range d {
		m[c.Name] = c.Probability
	}
	return m
}
