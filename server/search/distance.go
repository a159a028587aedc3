package search

import (
	"math"
	"strings"

	"github.com/gear6io/annolake/pkg/errors"
)

// Metric names a vector distance
type Metric string

const (
	MetricL2     Metric = "l2"
	MetricCosine Metric = "cosine"
)

// DistanceFunc returns the distance between two vectors of equal length.
// Smaller is closer.
type DistanceFunc func(a, b []float32) float64

// ParseMetric validates a metric name. The empty name is l2.
func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case "", MetricL2:
		return MetricL2, nil
	case MetricCosine:
		return MetricCosine, nil
	default:
		return "", errors.New(ErrUnknownMetric, "unknown distance metric", nil).AddContext("metric", s)
	}
}

// Func returns the distance function of the metric
func (m Metric) Func() DistanceFunc {
	if m == MetricCosine {
		return Cosine
	}
	return L2
}

// L2 is the Euclidean distance
func L2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Cosine is 1 - cos(a, b). A zero vector is at distance 1 from everything.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
