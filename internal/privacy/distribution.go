package privacy

import (
	"math"
	"sort"
)

// Distribution maps a category to its relative frequency.
type Distribution map[string]float64

// NewDistribution computes relative frequencies of labels.
func NewDistribution(labels []string) Distribution {
	dist := make(Distribution)
	if len(labels) == 0 {
		return dist
	}

	counts := make(map[string]int)
	for _, label := range labels {
		counts[label]++
	}

	total := float64(len(labels))
	for label, count := range counts {
		dist[label] = float64(count) / total
	}
	return dist
}

// TotalVariationDistance returns half the L1 distance between p and q over
// the union of their categories. Absent categories count as zero.
func TotalVariationDistance(p, q Distribution) float64 {
	keys := make([]string, 0, len(p)+len(q))
	for k := range p {
		keys = append(keys, k)
	}
	for k := range q {
		if _, ok := p[k]; !ok {
			keys = append(keys, k)
		}
	}
	// fixed summation order keeps results reproducible
	sort.Strings(keys)

	sum := 0.0
	for _, k := range keys {
		sum += math.Abs(p[k] - q[k])
	}

	return math.Min(1, math.Max(0, sum/2))
}
