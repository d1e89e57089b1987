// Package calibration audits how well predicted probabilities match realised
// outcomes and locks trading when they drift apart.
package calibration

import "math"

const DefaultBins = 10

type Bin struct {
	Index        int     `json:"bin_index"`
	Lower        float64 `json:"lower"`
	Upper        float64 `json:"upper"`
	Confidence   float64 `json:"confidence"`
	Accuracy     float64 `json:"accuracy"`
	Count        int     `json:"count"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// binEdges splits [0,1] into n equal-width bins. The last edge is exactly 1.
func binEdges(n int) []float64 {
	edges := make([]float64, n+1)
	step := 1.0 / float64(n)
	for i := 0; i < n; i++ {
		edges[i] = float64(i) * step
	}
	edges[n] = 1
	return edges
}

// ECE is the Expected Calibration Error over an equal-width reliability
// histogram: the count-weighted sum of |mean outcome − mean prediction| per
// non-empty bin. Bins are half-open [lo, hi) except the last, which is
// closed.
func ECE(predictions, outcomes []float64, nBins int) (float64, []Bin) {
	if nBins <= 0 {
		nBins = DefaultBins
	}
	total := len(predictions)
	if total == 0 || len(outcomes) != total {
		return 0, nil
	}
	edges := binEdges(nBins)
	var (
		ece  float64
		bins []Bin
	)
	for i := 0; i < nBins; i++ {
		lo, hi := edges[i], edges[i+1]
		var sumP, sumO float64
		count := 0
		for j, p := range predictions {
			in := p >= lo && p < hi
			if i == nBins-1 {
				in = p >= lo && p <= hi
			}
			if !in {
				continue
			}
			sumP += p
			sumO += outcomes[j]
			count++
		}
		if count == 0 {
			continue
		}
		conf := sumP / float64(count)
		acc := sumO / float64(count)
		weight := float64(count) / float64(total)
		contrib := math.Abs(acc-conf) * weight
		ece += contrib
		bins = append(bins, Bin{
			Index:        i,
			Lower:        lo,
			Upper:        hi,
			Confidence:   conf,
			Accuracy:     acc,
			Count:        count,
			Weight:       weight,
			Contribution: contrib,
		})
	}
	return ece, bins
}
