// Package cluster partitions transaction embeddings into dense groups.
// The algorithm is DBSCAN over (optionally standardized) vectors: points
// with enough close neighbors seed clusters, everything else is noise.
package cluster

import (
	"math"

	"github.com/dvoronkov/ledgerlens/internal/domain"
	"github.com/dvoronkov/ledgerlens/internal/stats"
)

// Config contains the clustering parameters.
type Config struct {
	// MinClusterSize is the smallest group reported as a cluster.
	MinClusterSize int
	// MinSamples is the neighborhood size required for a point to seed
	// or extend a cluster.
	MinSamples int
	// Epsilon is the neighborhood radius in the (standardized) embedding
	// space.
	Epsilon float64
	// Standardize toggles per-dimension mean/stddev normalization before
	// clustering.
	Standardize bool
}

// DefaultConfig returns the production clustering configuration.
func DefaultConfig() Config {
	return Config{
		MinClusterSize: 5,
		MinSamples:     3,
		Epsilon:        0.9,
		Standardize:    true,
	}
}

// Standardize normalizes vectors per dimension: subtract the dimension
// mean and divide by its standard deviation. Zero-variance dimensions
// map to 0. The input is not modified.
func Standardize(vectors [][]float64) [][]float64 {
	if len(vectors) == 0 {
		return nil
	}
	dims := len(vectors[0])
	out := make([][]float64, len(vectors))

	col := make([]float64, len(vectors))
	means := make([]float64, dims)
	stddevs := make([]float64, dims)
	for d := 0; d < dims; d++ {
		for i, v := range vectors {
			col[i] = v[d]
		}
		means[d] = stats.Mean(col)
		stddevs[d] = stats.StdDev(col)
	}

	for i, v := range vectors {
		row := make([]float64, dims)
		for d := 0; d < dims; d++ {
			if stddevs[d] == 0 {
				row[d] = 0
				continue
			}
			row[d] = (v[d] - means[d]) / stddevs[d]
		}
		out[i] = row
	}
	return out
}

// Labels runs density-based clustering and returns one label per input
// vector: a small nonnegative cluster id, or domain.ClusterNoise for
// points that never reached the density requirements. Cluster ids are
// dense and assigned in discovery order; candidate groups dissolved by
// the minimum-size filter do not consume an id.
func Labels(vectors [][]float64, cfg Config) []int {
	n := len(vectors)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = domain.ClusterNoise
	}
	if n == 0 {
		return labels
	}

	pts := vectors
	if cfg.Standardize {
		pts = Standardize(vectors)
	}

	neighbors := func(i int) []int {
		var out []int
		for j := 0; j < n; j++ {
			if euclidean(pts[i], pts[j]) <= cfg.Epsilon {
				out = append(out, j)
			}
		}
		return out
	}

	visited := make([]bool, n)
	next := 0
	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true

		seed := neighbors(i)
		if len(seed) < cfg.MinSamples {
			continue // noise unless a later expansion reaches it
		}

		member := []int{i}
		labels[i] = next
		for k := 0; k < len(seed); k++ {
			j := seed[k]
			if !visited[j] {
				visited[j] = true
				reach := neighbors(j)
				if len(reach) >= cfg.MinSamples {
					seed = append(seed, reach...)
				}
			}
			if labels[j] == domain.ClusterNoise {
				labels[j] = next
				member = append(member, j)
			}
		}

		if len(member) < cfg.MinClusterSize {
			for _, j := range member {
				labels[j] = domain.ClusterNoise
			}
		} else {
			next++
		}
	}
	return labels
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for d := range a {
		diff := a[d] - b[d]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
