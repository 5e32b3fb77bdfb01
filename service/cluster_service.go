package service

import (
	"math"
)

// ClusterService partitions embedding vectors into density-based clusters.
// It is a DBSCAN over cosine distance on unit-normalized vectors: no preset
// cluster count, points without a dense-enough neighborhood stay unclustered.
//
// The implementation is fully deterministic for a fixed input order; the
// order of the input set plays the role of the random seed.
type ClusterService struct {
	epsilon        float64 // max cosine distance between neighbors
	minClusterSize int
}

// Noise marks a vector that belongs to no cluster.
const Noise = -1

func NewClusterService(epsilon float64, minClusterSize int) *ClusterService {
	if epsilon <= 0 {
		epsilon = 0.35
	}
	if minClusterSize < 2 {
		minClusterSize = 2
	}
	return &ClusterService{epsilon: epsilon, minClusterSize: minClusterSize}
}

// Cluster returns one label per vector: 0..k-1 for cluster membership, Noise
// for unclustered points. Inputs smaller than the minimum cluster size are
// all noise by policy, never an error.
func (c *ClusterService) Cluster(vectors [][]float32) []int {
	n := len(vectors)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = Noise
	}
	if n < c.minClusterSize {
		return labels
	}

	unit := make([][]float32, n)
	for i, v := range vectors {
		unit[i] = normalizeUnit(v)
	}

	visited := make([]bool, n)
	nextCluster := 0

	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true

		neighbors := c.regionQuery(unit, i)
		if len(neighbors) < c.minClusterSize {
			continue // stays noise unless pulled in by a later core point
		}

		labels[i] = nextCluster
		// expand the cluster breadth-first in index order
		for qi := 0; qi < len(neighbors); qi++ {
			j := neighbors[qi]
			if !visited[j] {
				visited[j] = true
				jNeighbors := c.regionQuery(unit, j)
				if len(jNeighbors) >= c.minClusterSize {
					neighbors = appendNew(neighbors, jNeighbors)
				}
			}
			if labels[j] == Noise {
				labels[j] = nextCluster
			}
		}
		nextCluster++
	}

	return labels
}

// regionQuery returns the indices within epsilon of point i, including i
// itself, in ascending index order.
func (c *ClusterService) regionQuery(unit [][]float32, i int) []int {
	var neighbors []int
	for j := range unit {
		if cosineDistance(unit[i], unit[j]) <= c.epsilon {
			neighbors = append(neighbors, j)
		}
	}
	return neighbors
}

func appendNew(base, extra []int) []int {
	present := make(map[int]bool, len(base))
	for _, v := range base {
		present[v] = true
	}
	for _, v := range extra {
		if !present[v] {
			present[v] = true
			base = append(base, v)
		}
	}
	return base
}

func normalizeUnit(v []float32) []float32 {
	if len(v) == 0 {
		return v
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum <= 0 {
		return v
	}
	den := float32(1.0 / math.Sqrt(sum))
	out := make([]float32, len(v))
	for i := range v {
		out[i] = v[i] * den
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func cosineDistance(a, b []float32) float64 {
	return 1.0 - cosineSimilarity(a, b)
}
