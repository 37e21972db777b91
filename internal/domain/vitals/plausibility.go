package vitals

import "strconv"

// Range is an inclusive physiological bound.
type Range struct {
	Min, Max float64
}

func (r Range) Contains(v float64) bool { return v >= r.Min && v <= r.Max }

// String renders the range as "min-max", e.g. "80-200".
func (r Range) String() string {
	return strconv.FormatFloat(r.Min, 'f', -1, 64) + "-" + strconv.FormatFloat(r.Max, 'f', -1, 64)
}

// PlausibilityRanges are fixed neonatal bounds, in the order they are checked.
var PlausibilityRanges = []struct {
	Param string
	Range Range
}{
	{ParamHR, Range{80, 200}},
	{ParamSpO2, Range{70, 100}},
	{ParamRR, Range{20, 80}},
	{ParamTemp, Range{35.0, 39.0}},
	{ParamSystolic, Range{30, 100}},
	{ParamDiastolic, Range{15, 70}},
	{ParamMAP, Range{20, 80}},
}

// Violation describes the first out-of-range parameter found.
type Violation struct {
	Parameter string  `json:"parameter"`
	Value     float64 `json:"value"`
	Range     string  `json:"range"`
}

// CheckPlausibility returns the first parameter outside its range, or nil.
// Absent parameters are not checked.
func CheckPlausibility(values map[string]float64) *Violation {
	for _, pr := range PlausibilityRanges {
		v, ok := values[pr.Param]
		if !ok {
			continue
		}
		if !pr.Range.Contains(v) {
			return &Violation{Parameter: pr.Param, Value: v, Range: pr.Range.String()}
		}
	}
	return nil
}
