package metrics

import (
	"math"

	"golang.org/x/exp/slices"
)

// Statistics summarises a set of latencies, all in milliseconds.
type Statistics struct {
	Min               float64 `json:"min" yaml:"min"`
	Max               float64 `json:"max" yaml:"max"`
	Average           float64 `json:"average" yaml:"average"`
	Variance          float64 `json:"variance" yaml:"variance"`
	StandardDeviation float64 `json:"standardDeviation" yaml:"standardDeviation"`
	P50               float64 `json:"p50" yaml:"p50"`
	P95               float64 `json:"p95" yaml:"p95"`
	P99               float64 `json:"p99" yaml:"p99"`
}

func statistics(values []float64) *Statistics {
	sorted := append([]float64{}, values...)
	slices.Sort(sorted)
	return &Statistics{
		Min:               minFloat64(values),
		Max:               maxFloat64(values),
		Average:           avgFloat64(values),
		Variance:          varianceFloat64(values),
		StandardDeviation: standardDeviationFloat64(values),
		P50:               percentile(sorted, 50),
		P95:               percentile(sorted, 95),
		P99:               percentile(sorted, 99),
	}
}

func minFloat64(input []float64) float64 {
	var m float64
	for i, e := range input {
		if i == 0 || e < m {
			m = e
		}
	}
	return m
}

func maxFloat64(input []float64) float64 {
	var m float64
	for i, e := range input {
		if i == 0 || e > m {
			m = e
		}
	}
	return m
}

func avgFloat64(input []float64) float64 {
	if len(input) == 0 {
		return 0
	}
	var sum float64
	for _, e := range input {
		sum += e
	}
	return sum / float64(len(input))
}

// varianceFloat64 is the sample variance.
func varianceFloat64(numbers []float64) float64 {
	if len(numbers) < 2 {
		return 0
	}
	var total float64
	avg := avgFloat64(numbers)
	for _, number := range numbers {
		total += math.Pow(number-avg, 2)
	}
	return total / float64(len(numbers)-1)
}

func standardDeviationFloat64(numbers []float64) float64 {
	return math.Sqrt(varianceFloat64(numbers))
}

// percentile uses the nearest-rank method on an ascending slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
