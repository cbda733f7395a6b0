package vectorspace

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// ReduceMethod names a dimensionality-reduction algorithm.
type ReduceMethod string

const (
	// ReducePCA projects onto the top principal components. Deterministic.
	ReducePCA ReduceMethod = "pca"
	// ReduceTSNE is a stochastic neighbor embedding. Deterministic only
	// for a fixed seed.
	ReduceTSNE ReduceMethod = "tsne"
)

// ReduceDimensionality maps every vector into nComponents dimensions.
//
// PCA requires nComponents <= input dimensionality and fails with
// ErrInvalidDimension otherwise. The output always has exactly nComponents
// per vector.
func ReduceDimensionality(vectors [][]float32, method ReduceMethod, nComponents int, seed int64) ([][]float32, error) {
	dim, err := checkDimensions(vectors)
	if err != nil {
		return nil, err
	}
	if nComponents <= 0 {
		return nil, fmt.Errorf("reduce to %d components: %w", nComponents, ErrInvalidDimension)
	}
	if len(vectors) == 0 {
		return nil, nil
	}

	switch method {
	case ReducePCA:
		if nComponents > dim {
			return nil, fmt.Errorf("pca: %d components from %d dimensions: %w",
				nComponents, dim, ErrInvalidDimension)
		}
		return pca(vectors, nComponents), nil
	case ReduceTSNE:
		return tsne(vectors, nComponents, seed), nil
	default:
		return nil, fmt.Errorf("reduce method %q: %w", method, ErrUnknownMethod)
	}
}

// pca centers the data, eigendecomposes the covariance matrix with cyclic
// Jacobi rotations, and projects onto the eigenvectors with the largest
// eigenvalues.
func pca(vectors [][]float32, nComponents int) [][]float32 {
	n := len(vectors)
	dim := len(vectors[0])

	mean := make([]float64, dim)
	for _, v := range vectors {
		for d := 0; d < dim; d++ {
			mean[d] += float64(v[d])
		}
	}
	for d := range mean {
		mean[d] /= float64(n)
	}

	centered := make([][]float64, n)
	for i, v := range vectors {
		centered[i] = make([]float64, dim)
		for d := 0; d < dim; d++ {
			centered[i][d] = float64(v[d]) - mean[d]
		}
	}

	cov := make([][]float64, dim)
	for i := range cov {
		cov[i] = make([]float64, dim)
	}
	for _, row := range centered {
		for i := 0; i < dim; i++ {
			for j := i; j < dim; j++ {
				cov[i][j] += row[i] * row[j]
			}
		}
	}
	denom := float64(n - 1)
	if n == 1 {
		denom = 1
	}
	for i := 0; i < dim; i++ {
		for j := i; j < dim; j++ {
			cov[i][j] /= denom
			cov[j][i] = cov[i][j]
		}
	}

	values, basis := jacobiEigen(cov)

	// Order components by descending eigenvalue.
	order := make([]int, dim)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return values[order[a]] > values[order[b]] })

	out := make([][]float32, n)
	for i, row := range centered {
		proj := make([]float32, nComponents)
		for c := 0; c < nComponents; c++ {
			col := order[c]
			var sum float64
			for d := 0; d < dim; d++ {
				sum += row[d] * basis[d][col]
			}
			proj[c] = float32(sum)
		}
		out[i] = proj
	}
	return out
}

// jacobiEigen diagonalizes a symmetric matrix with cyclic Jacobi rotations.
// Returns the eigenvalues and a matrix whose columns are the eigenvectors.
func jacobiEigen(m [][]float64) ([]float64, [][]float64) {
	dim := len(m)

	a := make([][]float64, dim)
	v := make([][]float64, dim)
	for i := range a {
		a[i] = make([]float64, dim)
		v[i] = make([]float64, dim)
		copy(a[i], m[i])
		v[i][i] = 1
	}

	const (
		maxSweeps = 100
		eps       = 1e-12
	)
	for sweep := 0; sweep < maxSweeps; sweep++ {
		var off float64
		for i := 0; i < dim; i++ {
			for j := i + 1; j < dim; j++ {
				off += a[i][j] * a[i][j]
			}
		}
		if off < eps {
			break
		}

		for p := 0; p < dim; p++ {
			for q := p + 1; q < dim; q++ {
				if math.Abs(a[p][q]) < eps {
					continue
				}

				theta := (a[q][q] - a[p][p]) / (2 * a[p][q])
				t := math.Copysign(1, theta) / (math.Abs(theta) + math.Sqrt(theta*theta+1))
				c := 1 / math.Sqrt(t*t+1)
				s := t * c

				for i := 0; i < dim; i++ {
					aip, aiq := a[i][p], a[i][q]
					a[i][p] = c*aip - s*aiq
					a[i][q] = s*aip + c*aiq
				}
				for i := 0; i < dim; i++ {
					api, aqi := a[p][i], a[q][i]
					a[p][i] = c*api - s*aqi
					a[q][i] = s*api + c*aqi
				}
				for i := 0; i < dim; i++ {
					vip, viq := v[i][p], v[i][q]
					v[i][p] = c*vip - s*viq
					v[i][q] = s*vip + c*viq
				}
			}
		}
	}

	values := make([]float64, dim)
	for i := range values {
		values[i] = a[i][i]
	}
	return values, v
}

// tsne is an exact (non-tree) t-SNE: Gaussian affinities with a per-point
// perplexity search in the input space, Student-t affinities in the output
// space, gradient descent with momentum and early exaggeration.
func tsne(vectors [][]float32, nComponents int, seed int64) [][]float32 {
	n := len(vectors)
	rng := rand.New(rand.NewSource(seed))

	if n == 1 {
		return [][]float32{make([]float32, nComponents)}
	}

	perplexity := math.Min(30, float64(n-1)/3)
	if perplexity < 1 {
		perplexity = 1
	}

	p := affinities(vectors, perplexity)

	// Symmetrize and normalize.
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			pij := (p[i][j] + p[j][i]) / (2 * float64(n))
			if pij < 1e-12 {
				pij = 1e-12
			}
			p[i][j] = pij
			p[j][i] = pij
		}
		p[i][i] = 0
	}

	y := make([][]float64, n)
	for i := range y {
		y[i] = make([]float64, nComponents)
		for d := range y[i] {
			y[i][d] = rng.NormFloat64() * 1e-2
		}
	}

	const (
		iterations   = 300
		exaggeration = 4.0
		exaggerUntil = 60
		learningRate = 100.0
		momentum     = 0.8
	)

	velocity := make([][]float64, n)
	for i := range velocity {
		velocity[i] = make([]float64, nComponents)
	}

	grad := make([]float64, nComponents)
	for iter := 0; iter < iterations; iter++ {
		exag := 1.0
		if iter < exaggerUntil {
			exag = exaggeration
		}

		// Student-t affinities in the embedding space.
		q := make([][]float64, n)
		var qSum float64
		for i := 0; i < n; i++ {
			q[i] = make([]float64, n)
		}
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				var d float64
				for c := 0; c < nComponents; c++ {
					diff := y[i][c] - y[j][c]
					d += diff * diff
				}
				num := 1 / (1 + d)
				q[i][j] = num
				q[j][i] = num
				qSum += 2 * num
			}
		}

		for i := 0; i < n; i++ {
			for c := range grad {
				grad[c] = 0
			}
			for j := 0; j < n; j++ {
				if i == j {
					continue
				}
				qij := q[i][j] / qSum
				if qij < 1e-12 {
					qij = 1e-12
				}
				mult := (exag*p[i][j] - qij) * q[i][j]
				for c := 0; c < nComponents; c++ {
					grad[c] += 4 * mult * (y[i][c] - y[j][c])
				}
			}
			for c := 0; c < nComponents; c++ {
				velocity[i][c] = momentum*velocity[i][c] - learningRate*grad[c]
				y[i][c] += velocity[i][c]
			}
		}
	}

	out := make([][]float32, n)
	for i := range y {
		out[i] = make([]float32, nComponents)
		for c := 0; c < nComponents; c++ {
			out[i][c] = float32(y[i][c])
		}
	}
	return out
}

// affinities computes row-conditional Gaussian affinities, binary-searching
// each point's bandwidth to hit the target perplexity.
func affinities(vectors [][]float32, perplexity float64) [][]float64 {
	n := len(vectors)
	target := math.Log(perplexity)

	sq := make([][]float64, n)
	for i := range sq {
		sq[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			var d float64
			for k := range vectors[i] {
				diff := float64(vectors[i][k]) - float64(vectors[j][k])
				d += diff * diff
			}
			sq[i][j] = d
			sq[j][i] = d
		}
	}

	p := make([][]float64, n)
	for i := 0; i < n; i++ {
		p[i] = make([]float64, n)

		lo, hi := 0.0, math.Inf(1)
		beta := 1.0
		for attempt := 0; attempt < 50; attempt++ {
			var sum float64
			for j := 0; j < n; j++ {
				if j == i {
					continue
				}
				p[i][j] = math.Exp(-sq[i][j] * beta)
				sum += p[i][j]
			}
			if sum == 0 {
				sum = 1e-12
			}

			var entropy float64
			for j := 0; j < n; j++ {
				if j == i || p[i][j] == 0 {
					continue
				}
				pj := p[i][j] / sum
				entropy -= pj * math.Log(pj)
				p[i][j] = pj
			}

			diff := entropy - target
			if math.Abs(diff) < 1e-5 {
				break
			}
			if diff > 0 {
				lo = beta
				if math.IsInf(hi, 1) {
					beta *= 2
				} else {
					beta = (beta + hi) / 2
				}
			} else {
				hi = beta
				beta = (beta + lo) / 2
			}
		}
	}
	return p
}
