package vitals

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Smoother applies a running median over the current reading and the raw
// values of up to WindowSize-1 previous accepted readings from the same
// patient and source device.
//
// The window is read from the database, not held in memory, so any instance
// can serve any device. Two submissions for the same patient and source
// that race may both read the same prior window and neither sees the
// other; this is accepted for a statistical filter.
type Smoother struct {
	Enabled    bool
	WindowSize int
}

// HistoryLen is how many previous records the smoother needs.
func (s Smoother) HistoryLen() int {
	if !s.Enabled || s.WindowSize <= 1 {
		return 0
	}
	return s.WindowSize - 1
}

// Smooth returns the values to store and, per smoothed parameter, the
// window that produced them. history holds raw values newest first. Only
// primary parameters are smoothed; blood pressure passes through.
func (s Smoother) Smooth(current map[string]float64, history []map[string]float64) (map[string]float64, map[string]WindowStats) {
	out := make(map[string]float64, len(current))
	for k, v := range current {
		out[k] = v
	}
	if !s.Enabled {
		return out, nil
	}

	if n := s.HistoryLen(); len(history) > n {
		history = history[:n]
	}

	windows := make(map[string]WindowStats)
	for _, param := range PrimaryParams {
		cur, ok := current[param]
		if !ok {
			continue
		}
		inputs := make([]float64, 0, len(history)+1)
		for i := len(history) - 1; i >= 0; i-- {
			if v, ok := history[i][param]; ok {
				inputs = append(inputs, v)
			}
		}
		inputs = append(inputs, cur)

		ws := windowStats(inputs)
		out[param] = ws.Median
		windows[param] = ws
	}
	return out, windows
}

func windowStats(inputs []float64) WindowStats {
	ws := WindowStats{Inputs: inputs, Count: len(inputs), Median: median(inputs)}
	if len(inputs) > 1 {
		ws.Mean, ws.StdDev = stat.MeanStdDev(inputs, nil)
	} else {
		ws.Mean = inputs[0]
	}
	return ws
}

// median of a non-empty slice; an even count averages the two middle values.
func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
