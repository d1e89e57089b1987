package calibration

import (
	"fmt"
	"sort"
)

// Isotonic is a non-decreasing step calibrator fitted with pool adjacent
// violators. Predictions interpolate linearly between fitted points and clip
// outside the fitted range.
type Isotonic struct {
	xs []float64
	ys []float64
}

func FitIsotonic(x, y []float64) (*Isotonic, error) {
	if len(x) == 0 || len(x) != len(y) {
		return nil, fmt.Errorf("isotonic fit needs matching non-empty inputs, got %d and %d", len(x), len(y))
	}
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })

	// collapse equal x into weighted points
	type block struct {
		x      []float64
		sumWY  float64
		weight float64
	}
	var points []block
	for _, i := range idx {
		n := len(points)
		if n > 0 && points[n-1].x[0] == x[i] {
			points[n-1].sumWY += y[i]
			points[n-1].weight++
			continue
		}
		points = append(points, block{x: []float64{x[i]}, sumWY: y[i], weight: 1})
	}

	var stack []block
	for _, p := range points {
		stack = append(stack, p)
		for len(stack) > 1 {
			last := stack[len(stack)-1]
			prev := stack[len(stack)-2]
			if prev.sumWY/prev.weight <= last.sumWY/last.weight {
				break
			}
			merged := block{
				x:      append(append([]float64(nil), prev.x...), last.x...),
				sumWY:  prev.sumWY + last.sumWY,
				weight: prev.weight + last.weight,
			}
			stack = append(stack[:len(stack)-2], merged)
		}
	}

	iso := &Isotonic{}
	for _, b := range stack {
		mean := b.sumWY / b.weight
		for _, xv := range b.x {
			iso.xs = append(iso.xs, xv)
			iso.ys = append(iso.ys, mean)
		}
	}
	return iso, nil
}

func (iso *Isotonic) Predict(v float64) float64 {
	n := len(iso.xs)
	if n == 0 {
		return v
	}
	if v <= iso.xs[0] {
		return iso.ys[0]
	}
	if v >= iso.xs[n-1] {
		return iso.ys[n-1]
	}
	i := sort.SearchFloat64s(iso.xs, v)
	if iso.xs[i] == v {
		return iso.ys[i]
	}
	x0, x1 := iso.xs[i-1], iso.xs[i]
	y0, y1 := iso.ys[i-1], iso.ys[i]
	return y0 + (y1-y0)*(v-x0)/(x1-x0)
}

func (iso *Isotonic) PredictAll(vs []float64) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = iso.Predict(v)
	}
	return out
}
