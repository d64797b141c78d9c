package optimizer

import (
	"math"

	"adsOptimizer/domain"
)

// Selection carries every intermediate of one bid decision.
type Selection struct {
	Sample                float64 `json:"sample"`
	PosteriorMean         float64 `json:"posterior_mean"`
	AOVMicros             float64 `json:"aov_micros"`
	RevenuePerClickMicros float64 `json:"revenue_per_click_micros"`
	CandidateMicros       float64 `json:"candidate_micros"`
	CurveOptimalMicros    *int64  `json:"curve_optimal_micros,omitempty"`
	CurveWeight           float64 `json:"curve_weight"`
	BlendedMicros         float64 `json:"blended_micros"`
	MinBidMicros          int64   `json:"min_bid_micros"`
	MaxBidMicros          int64   `json:"max_bid_micros"`
	RecommendedMicros     int64   `json:"recommended_micros"`
	IntervalLowerMicros   int64   `json:"interval_lower_micros"`
	IntervalUpperMicros   int64   `json:"interval_upper_micros"`

	ConfidenceLevel domain.ConfidenceLevel `json:"confidence_level"`
	ConfidencePct   float64                `json:"confidence_pct"`
}

// Selector turns a posterior and an optional curve fit into a bid.
type Selector struct {
	sampler PosteriorSampler
}

func NewSelector(sampler PosteriorSampler) *Selector {
	if sampler == nil {
		sampler = MeanSampler{}
	}
	return &Selector{sampler: sampler}
}

// Select runs one Thompson step:
//
//  1. p ~ Beta(alpha, beta)
//  2. revenue per click = p * AOV
//  3. candidate = revenue per click * target ACOS
//  4. blend with a trusted curve optimum using w = R^2 * confidence
//  5. limit the move from the current bid, then clamp to the bid policy
func (sel *Selector) Select(s *domain.BidState, fit *domain.CurveFitResult, cfg Config) Selection {
	out := Selection{}
	out.ConfidenceLevel, out.ConfidencePct = ScoreConfidence(s, cfg)

	out.Sample = sel.sampler.SampleBeta(s.Alpha, s.Beta)
	out.PosteriorMean = s.PosteriorMean()
	out.AOVMicros = s.AverageOrderValueMicros()
	out.RevenuePerClickMicros = out.Sample * out.AOVMicros
	out.CandidateMicros = out.RevenuePerClickMicros * cfg.TargetACOS

	out.BlendedMicros = out.CandidateMicros
	if fit.Trusted(cfg.CurveTrustR2) {
		opt := *fit.OptimalBidMicros
		out.CurveOptimalMicros = &opt
		out.CurveWeight = BlendWeight(fit.RSquared, out.ConfidencePct)
		out.BlendedMicros = Blend(out.CandidateMicros, float64(opt), out.CurveWeight)
	}

	out.MinBidMicros, out.MaxBidMicros = BidBounds(s, cfg)
	out.RecommendedMicros = limitBid(out.BlendedMicros, s.CurrentBidMicros, cfg.MaxBidChangePct, out.MinBidMicros, out.MaxBidMicros)

	// 95% interval of the posterior mean carried through the same bid formula
	se := posteriorStdErr(s.Alpha, s.Beta)
	scale := out.AOVMicros * cfg.TargetACOS
	out.IntervalLowerMicros = int64(math.Round(clampFloat(out.PosteriorMean-1.96*se, 0, 1) * scale))
	out.IntervalUpperMicros = int64(math.Round(clampFloat(out.PosteriorMean+1.96*se, 0, 1) * scale))

	return out
}

// BlendWeight is the share given to the curve optimum. It grows with the fit's
// R^2 and with posterior confidence: uncertain posteriors keep exploring via
// the Thompson sample.
func BlendWeight(rSquared, confidencePct float64) float64 {
	return clampFloat(rSquared, 0, 1) * clampFloat(confidencePct/100, 0, 1)
}

// Blend interpolates linearly; equal inputs return that value for any weight.
func Blend(candidate, optimal, w float64) float64 {
	return (1-w)*candidate + w*optimal
}

// BidBounds intersects entity bounds with the account bounds. Entity bounds
// that would leave an empty range are ignored.
func BidBounds(s *domain.BidState, cfg Config) (int64, int64) {
	lo, hi := cfg.MinBidMicros, cfg.MaxBidMicros
	if hi < lo {
		lo, hi = hi, lo
	}
	eLo, eHi := lo, hi
	if s.MinBidMicros != nil && *s.MinBidMicros > eLo {
		eLo = *s.MinBidMicros
	}
	if s.MaxBidMicros != nil && *s.MaxBidMicros < eHi {
		eHi = *s.MaxBidMicros
	}
	if eLo > eHi {
		return lo, hi
	}
	return eLo, eHi
}

// limitBid caps the move away from the current bid, then enforces the bounds.
// Bounds always win over the step limit.
func limitBid(target float64, current int64, maxChangePct float64, lo, hi int64) int64 {
	if math.IsNaN(target) || math.IsInf(target, 0) {
		target = float64(lo)
	}
	if current > 0 && maxChangePct > 0 {
		cur := float64(current)
		target = clampFloat(target, cur*(1-maxChangePct), cur*(1+maxChangePct))
	}
	bid := int64(math.Round(target))
	if bid < lo {
		bid = lo
	}
	if bid > hi {
		bid = hi
	}
	return bid
}
