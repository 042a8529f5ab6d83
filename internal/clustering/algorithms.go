package clustering

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Noise marks a point that belongs to no cluster.
const Noise = -1

// maxDenseSamples bounds algorithms that hold an n×n matrix.
const maxDenseSamples = 5000

// maxSpectralSamples bounds the eigen-decomposition of spectral clustering.
const maxSpectralSamples = 2000

// Assignment is the raw output of an algorithm. Labels are arbitrary
// non-negative integers or Noise; Confidence is the weight of the assigned
// label (1 for hard assignments).
type Assignment struct {
	Labels     []int
	Confidence []float64
}

func hard(labels []int) *Assignment {
	conf := make([]float64, len(labels))
	for i, l := range labels {
		if l != Noise {
			conf[i] = 1
		}
	}
	return &Assignment{Labels: labels, Confidence: conf}
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

// KMeans runs Lloyd's algorithm from a k-means++ seeding.
func KMeans(ctx context.Context, X [][]float64, p Params) (*Assignment, error) {
	labels, _, err := kmeans(ctx, X, p.NClusters, p.MaxIter, p.Tol, newRand(p.Seed))
	if err != nil {
		return nil, err
	}
	return hard(labels), nil
}

func kmeans(ctx context.Context, X [][]float64, k, maxIter int, tol float64, rng *rand.Rand) ([]int, [][]float64, error) {
	n := len(X)
	k = min(k, n)
	centers := seedPlusPlus(X, k, rng)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}
	dim := len(X[0])

	for range maxIter {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		changed := 0
		for i, x := range X {
			best, bestD := 0, math.Inf(1)
			for c, center := range centers {
				if d := sqDist(x, center); d < bestD {
					best, bestD = c, d
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed++
			}
		}

		next := make([][]float64, k)
		counts := make([]int, k)
		for c := range next {
			next[c] = make([]float64, dim)
		}
		for i, x := range X {
			floats.Add(next[labels[i]], x)
			counts[labels[i]]++
		}
		var shift float64
		for c := range next {
			if counts[c] == 0 {
				// Reseed an empty cluster at the point farthest from its center.
				far, farD := 0, -1.0
				for i, x := range X {
					if d := sqDist(x, centers[labels[i]]); d > farD {
						far, farD = i, d
					}
				}
				copy(next[c], X[far])
				labels[far] = c
				changed++
			} else {
				floats.Scale(1/float64(counts[c]), next[c])
			}
			shift += sqDist(next[c], centers[c])
		}
		centers = next
		if changed == 0 || shift <= tol*tol {
			break
		}
	}
	return labels, centers, nil
}

func seedPlusPlus(X [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(X)
	centers := make([][]float64, 0, k)
	centers = append(centers, append([]float64(nil), X[rng.IntN(n)]...))
	d2 := make([]float64, n)
	for len(centers) < k {
		var total float64
		for i, x := range X {
			d := math.Inf(1)
			for _, c := range centers {
				d = math.Min(d, sqDist(x, c))
			}
			d2[i] = d
			total += d
		}
		pick := 0
		if total > 0 {
			r := rng.Float64() * total
			for i, d := range d2 {
				r -= d
				if r <= 0 {
					pick = i
					break
				}
			}
		} else {
			pick = rng.IntN(n)
		}
		centers = append(centers, append([]float64(nil), X[pick]...))
	}
	return centers
}

// DBSCAN groups density-connected points. Points in no dense region are
// labeled Noise.
func DBSCAN(ctx context.Context, X [][]float64, p Params) (*Assignment, error) {
	n := len(X)
	const unvisited = 0
	labels := make([]int, n) // 0 unvisited, -1 noise, >0 cluster
	eps2 := p.Eps * p.Eps

	region := func(i int) []int {
		var out []int
		for j := range X {
			if sqDist(X[i], X[j]) <= eps2 {
				out = append(out, j)
			}
		}
		return out
	}

	cluster := 0
	for i := range n {
		if labels[i] != unvisited {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		neighbors := region(i)
		if len(neighbors) < p.MinSamples {
			labels[i] = Noise
			continue
		}
		cluster++
		labels[i] = cluster
		for q := 0; q < len(neighbors); q++ {
			j := neighbors[q]
			if labels[j] == Noise {
				labels[j] = cluster
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = cluster
			if more := region(j); len(more) >= p.MinSamples {
				neighbors = append(neighbors, more...)
			}
		}
	}

	for i := range labels {
		if labels[i] > 0 {
			labels[i]--
		}
	}
	return hard(labels), nil
}

// GaussianMixture fits a diagonal-covariance mixture by EM, initialised
// from k-means. Confidence is the responsibility of the chosen component.
func GaussianMixture(ctx context.Context, X [][]float64, p Params) (*Assignment, error) {
	n, dim := len(X), len(X[0])
	labels, centers, err := kmeans(ctx, X, p.NClusters, p.MaxIter, p.Tol, newRand(p.Seed))
	if err != nil {
		return nil, err
	}
	k := len(centers)
	const reg = 1e-6

	means := centers
	vars := make([][]float64, k)
	weights := make([]float64, k)
	counts := make([]float64, k)
	for c := range vars {
		vars[c] = make([]float64, dim)
	}
	for i, x := range X {
		c := labels[i]
		counts[c]++
		for d := range dim {
			diff := x[d] - means[c][d]
			vars[c][d] += diff * diff
		}
	}
	for c := range k {
		weights[c] = counts[c] / float64(n)
		for d := range dim {
			vars[c][d] = vars[c][d]/math.Max(counts[c], 1) + reg
		}
	}

	resp := make([][]float64, n)
	for i := range resp {
		resp[i] = make([]float64, k)
	}
	logp := make([]float64, k)
	prev := math.Inf(-1)
	for range p.MaxIter {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var ll float64
		for i, x := range X {
			for c := range k {
				logp[c] = math.Log(math.Max(weights[c], 1e-300)) + logGaussDiag(x, means[c], vars[c])
			}
			norm := floats.LogSumExp(logp)
			ll += norm
			for c := range k {
				resp[i][c] = math.Exp(logp[c] - norm)
			}
		}

		for c := range k {
			var nk float64
			mean := make([]float64, dim)
			for i, x := range X {
				nk += resp[i][c]
				floats.AddScaled(mean, resp[i][c], x)
			}
			if nk < 1e-10 {
				weights[c] = 0
				continue
			}
			floats.Scale(1/nk, mean)
			v := make([]float64, dim)
			for i, x := range X {
				for d := range dim {
					diff := x[d] - mean[d]
					v[d] += resp[i][c] * diff * diff
				}
			}
			for d := range dim {
				v[d] = v[d]/nk + reg
			}
			means[c], vars[c], weights[c] = mean, v, nk/float64(n)
		}

		if math.Abs(ll-prev) <= p.Tol*math.Max(1, math.Abs(ll)) {
			break
		}
		prev = ll
	}

	out := &Assignment{Labels: make([]int, n), Confidence: make([]float64, n)}
	for i := range X {
		best := floats.MaxIdx(resp[i])
		out.Labels[i] = best
		out.Confidence[i] = resp[i][best]
	}
	return out, nil
}

func logGaussDiag(x, mean, variance []float64) float64 {
	var s float64
	for d := range x {
		diff := x[d] - mean[d]
		s += math.Log(2*math.Pi*variance[d]) + diff*diff/variance[d]
	}
	return -0.5 * s
}

type merge struct {
	a, b   int
	height float64
}

// Hierarchical performs agglomerative clustering with the nearest-neighbor
// chain algorithm and cuts the dendrogram at n_clusters.
func Hierarchical(ctx context.Context, X [][]float64, p Params) (*Assignment, error) {
	n := len(X)
	if n > maxDenseSamples {
		return nil, invalid("hierarchical clustering supports at most %d segments, got %d", maxDenseSamples, n)
	}
	k := min(p.NClusters, n)

	dist := make([]float64, n*n)
	for i := range n {
		for j := i + 1; j < n; j++ {
			d := math.Sqrt(sqDist(X[i], X[j]))
			dist[i*n+j], dist[j*n+i] = d, d
		}
	}
	size := make([]float64, n)
	active := make([]bool, n)
	for i := range n {
		size[i], active[i] = 1, true
	}

	merges := make([]merge, 0, n-1)
	chain := make([]int, 0, n)
	remaining := n
	for remaining > 1 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(chain) == 0 {
			for i := range n {
				if active[i] {
					chain = append(chain, i)
					break
				}
			}
		}
		a := chain[len(chain)-1]
		prev := -1
		if len(chain) > 1 {
			prev = chain[len(chain)-2]
		}
		b, bd := prev, math.Inf(1)
		if prev >= 0 {
			bd = dist[a*n+prev]
		}
		for j := range n {
			if j == a || !active[j] {
				continue
			}
			if d := dist[a*n+j]; d < bd {
				b, bd = j, d
			}
		}

		if b != prev {
			chain = append(chain, b)
			continue
		}

		chain = chain[:len(chain)-2]
		merges = append(merges, merge{a: a, b: b, height: bd})
		for j := range n {
			if !active[j] || j == a || j == b {
				continue
			}
			da, db := dist[a*n+j], dist[b*n+j]
			var d float64
			switch p.Linkage {
			case LinkageSingle:
				d = math.Min(da, db)
			case LinkageComplete:
				d = math.Max(da, db)
			default:
				d = (size[a]*da + size[b]*db) / (size[a] + size[b])
			}
			dist[a*n+j], dist[j*n+a] = d, d
		}
		size[a] += size[b]
		active[b] = false
		remaining--
	}

	sort.SliceStable(merges, func(i, j int) bool { return merges[i].height < merges[j].height })
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	for _, m := range merges[:n-k] {
		parent[find(m.b)] = find(m.a)
	}

	labels := make([]int, n)
	for i := range labels {
		labels[i] = find(i)
	}
	return hard(labels), nil
}

// Spectral embeds points with the top eigenvectors of the normalized RBF
// affinity matrix and clusters the embedding with k-means.
func Spectral(ctx context.Context, X [][]float64, p Params) (*Assignment, error) {
	n := len(X)
	if n > maxSpectralSamples {
		return nil, invalid("spectral clustering supports at most %d segments, got %d", maxSpectralSamples, n)
	}
	k := min(p.NClusters, n)
	gamma := p.Gamma
	if gamma == 0 {
		gamma = 1 / float64(len(X[0]))
	}

	w := mat.NewSymDense(n, nil)
	degree := make([]float64, n)
	for i := range n {
		for j := i + 1; j < n; j++ {
			v := math.Exp(-gamma * sqDist(X[i], X[j]))
			w.SetSym(i, j, v)
			degree[i] += v
			degree[j] += v
		}
	}
	for i := range n {
		for j := i + 1; j < n; j++ {
			denom := math.Sqrt(degree[i] * degree[j])
			if denom == 0 {
				w.SetSym(i, j, 0)
				continue
			}
			w.SetSym(i, j, w.At(i, j)/denom)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var eig mat.EigenSym
	if !eig.Factorize(w, true) {
		return nil, invalid("spectral clustering: eigen-decomposition did not converge")
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// Eigenvalues are ascending; the last k columns span the embedding.
	embed := make([][]float64, n)
	for i := range n {
		row := make([]float64, k)
		for c := range k {
			row[c] = vecs.At(i, n-k+c)
		}
		if norm := floats.Norm(row, 2); norm > 0 {
			floats.Scale(1/norm, row)
		}
		embed[i] = row
	}

	labels, _, err := kmeans(ctx, embed, k, p.MaxIter, p.Tol, newRand(p.Seed))
	if err != nil {
		return nil, err
	}
	return hard(labels), nil
}
