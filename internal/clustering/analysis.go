package clustering

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// maxSilhouetteSamples caps the points used for the silhouette score.
const maxSilhouetteSamples = 2000

// Silhouette returns the mean silhouette coefficient of the non-noise
// points, or false when fewer than two clusters exist. Large inputs are
// subsampled deterministically.
func Silhouette(X [][]float64, labels []int, seed uint64) (float64, bool) {
	idx := make([]int, 0, len(X))
	groups := make(map[int]bool)
	for i, l := range labels {
		if l != Noise {
			idx = append(idx, i)
			groups[l] = true
		}
	}
	if len(groups) < 2 || len(idx) < 3 {
		return 0, false
	}
	if len(idx) > maxSilhouetteSamples {
		rng := newRand(seed)
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		idx = idx[:maxSilhouetteSamples]
	}

	var total float64
	for _, i := range idx {
		sums := make(map[int]float64, len(groups))
		counts := make(map[int]int, len(groups))
		for _, j := range idx {
			if i == j {
				continue
			}
			sums[labels[j]] += math.Sqrt(sqDist(X[i], X[j]))
			counts[labels[j]]++
		}
		own := labels[i]
		if counts[own] == 0 {
			continue // singleton clusters score 0
		}
		a := sums[own] / float64(counts[own])
		b := math.Inf(1)
		for l, s := range sums {
			if l != own && counts[l] > 0 {
				b = math.Min(b, s/float64(counts[l]))
			}
		}
		if math.IsInf(b, 1) {
			continue
		}
		if m := math.Max(a, b); m > 0 {
			total += (b - a) / m
		}
	}
	return total / float64(len(idx)), true
}

// project2D returns the first two principal component scores of X. Inputs
// that cannot be decomposed map to the first two feature columns.
func project2D(X [][]float64) [][2]float64 {
	n := len(X)
	out := make([][2]float64, n)
	if n == 0 {
		return out
	}
	dim := len(X[0])
	data := mat.NewDense(n, dim, nil)
	for i, row := range X {
		data.SetRow(i, row)
	}
	for d := range dim {
		col := mat.Col(nil, d, data)
		mean := stat.Mean(col, nil)
		for i := range n {
			data.Set(i, d, col[i]-mean)
		}
	}

	var pc stat.PC
	if n >= 2 && pc.PrincipalComponents(data, nil) {
		var vecs mat.Dense
		pc.VectorsTo(&vecs)
		_, cols := vecs.Dims()
		k := min(2, cols)
		var proj mat.Dense
		proj.Mul(data, vecs.Slice(0, dim, 0, k))
		for i := range n {
			for c := range k {
				out[i][c] = proj.At(i, c)
			}
		}
		return out
	}
	for i, row := range X {
		for c := range min(2, dim) {
			out[i][c] = row[c]
		}
	}
	return out
}

// centroids returns the mean vector of each compact label 0..k-1.
func centroids(X [][]float64, labels []int, k int) [][]float64 {
	dim := len(X[0])
	out := make([][]float64, k)
	counts := make([]int, k)
	for c := range out {
		out[c] = make([]float64, dim)
	}
	for i, l := range labels {
		if l == Noise {
			continue
		}
		floats.Add(out[l], X[i])
		counts[l]++
	}
	for c := range out {
		if counts[c] > 0 {
			floats.Scale(1/float64(counts[c]), out[c])
		}
	}
	return out
}

// compact renumbers labels to 0..k-1 in order of first appearance and
// returns k.
func compact(labels []int) int {
	mapping := make(map[int]int)
	for i, l := range labels {
		if l == Noise {
			continue
		}
		c, ok := mapping[l]
		if !ok {
			c = len(mapping)
			mapping[l] = c
		}
		labels[i] = c
	}
	return len(mapping)
}
