// business/optimizer/math.go
package optimizer

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
)

const fitDim = 3 // intercept, linear, quadratic

// y = A * x
func matVecMul(A [fitDim][fitDim]float64, x [fitDim]float64) [fitDim]float64 {
	var y [fitDim]float64
	for i := range fitDim {
		sum := 0.0
		for j := range fitDim {
			sum += A[i][j] * x[j]
		}
		y[i] = sum
	}
	return y
}

func dot(a, b [fitDim]float64) float64 {
	sum := 0.0
	for i := range fitDim {
		sum += a[i] * b[i]
	}
	return sum
}

// A := A + x x^T
func addOuter(A *[fitDim][fitDim]float64, x [fitDim]float64) {
	for i := range fitDim {
		for j := range fitDim {
			(*A)[i][j] += x[i] * x[j]
		}
	}
}

// b := b + r x
func addScaled(b *[fitDim]float64, x [fitDim]float64, r float64) {
	for i := range fitDim {
		(*b)[i] += r * x[i]
	}
}

// Invert using Gauss-Jordan with partial pivoting.
func invert(A [fitDim][fitDim]float64) ([fitDim][fitDim]float64, error) {
	var aug [fitDim][2 * fitDim]float64

	// Build augmented [A | I]
	for i := range fitDim {
		for j := range fitDim {
			aug[i][j] = A[i][j]
		}
		aug[i][fitDim+i] = 1.0
	}

	for col := range fitDim {
		// swap in the largest pivot; bid^2 columns are badly scaled otherwise
		best := col
		for r := col + 1; r < fitDim; r++ {
			if math.Abs(aug[r][col]) > math.Abs(aug[best][col]) {
				best = r
			}
		}
		aug[col], aug[best] = aug[best], aug[col]

		pivot := aug[col][col]
		if math.Abs(pivot) < 1e-12 {
			return [fitDim][fitDim]float64{}, fmt.Errorf("matrix is singular")
		}

		for j := range 2 * fitDim {
			aug[col][j] /= pivot
		}

		for i := range fitDim {
			if i == col {
				continue
			}
			factor := aug[i][col]
			for j := range 2 * fitDim {
				aug[i][j] -= factor * aug[col][j]
			}
		}
	}

	var inv [fitDim][fitDim]float64
	for i := range fitDim {
		for j := range fitDim {
			inv[i][j] = aug[i][fitDim+j]
		}
	}
	return inv, nil
}

// posteriorStdErr is the standard deviation of Beta(alpha, beta).
func posteriorStdErr(alpha, beta float64) float64 {
	sum := alpha + beta
	if sum <= 0 {
		return math.Inf(1)
	}
	return math.Sqrt((alpha * beta) / (sum * sum * (sum + 1)))
}

// PosteriorSampler draws conversion probabilities from the posterior.
type PosteriorSampler interface {
	SampleBeta(alpha, beta float64) float64
}

// RandSampler is a goroutine-safe Beta sampler.
type RandSampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandSampler(seed int64) *RandSampler {
	return &RandSampler{rng: rand.New(rand.NewSource(seed))}
}

func (s *RandSampler) SampleBeta(alpha, beta float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return betaSample(s.rng, alpha, beta)
}

// MeanSampler returns the posterior mean instead of a draw. Used for
// explanations and deterministic tests.
type MeanSampler struct{}

func (MeanSampler) SampleBeta(alpha, beta float64) float64 {
	if alpha+beta <= 0 {
		return 0
	}
	return alpha / (alpha + beta)
}

// betaSample draws Beta(a,b) as Ga/(Ga+Gb); very concentrated posteriors use
// the normal approximation.
func betaSample(rng *rand.Rand, alpha, beta float64) float64 {
	if alpha <= 0 {
		alpha = 1.0
	}
	if beta <= 0 {
		beta = 1.0
	}
	if alpha+beta > 1000 {
		mean := alpha / (alpha + beta)
		sample := mean + rng.NormFloat64()*posteriorStdErr(alpha, beta)
		return math.Max(0, math.Min(1, sample))
	}
	x := gammaSample(rng, alpha)
	y := gammaSample(rng, beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// gammaSample draws Gamma(alpha, 1) with Marsaglia-Tsang.
func gammaSample(rng *rand.Rand, alpha float64) float64 {
	if alpha < 1 {
		return gammaSample(rng, alpha+1) * math.Pow(rng.Float64(), 1.0/alpha)
	}
	d := alpha - 1.0/3.0
	c := 1.0 / math.Sqrt(9.0*d)
	for {
		var x, v float64
		for {
			x = rng.NormFloat64()
			v = 1.0 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1.0-0.0331*(x*x)*(x*x) {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1.0-v+math.Log(v)) {
			return d * v
		}
	}
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
