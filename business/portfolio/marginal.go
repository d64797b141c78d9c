package portfolio

import (
	"math"
	"sort"
	"time"

	"adsOptimizer/business/optimizer"
	"adsOptimizer/domain"
)

const (
	// a campaign's spend must move at least this much between windows for the
	// finite difference to be trusted
	minSpendDeltaPct = 0.05

	defaultTopN   = 10
	defaultWindow = 7 * 24 * time.Hour
)

type Params struct {
	TargetACOS        float64
	MaxSpendChangePct float64
	Window            time.Duration
	TopN              int
}

func ParamsFrom(cfg optimizer.Config) Params {
	return Params{
		TargetACOS:        cfg.TargetACOS,
		MaxSpendChangePct: cfg.MaxSpendChangePct,
		Window:            defaultWindow,
		TopN:              defaultTopN,
	}
}

// CampaignInput is one campaign's spend in the evaluation window and the one
// before it, plus the curve-derived marginal ROAS when any entity has a fit.
type CampaignInput struct {
	CampaignID string
	Current    domain.CampaignSpend
	Previous   domain.CampaignSpend
	CurveMROAS *float64
}

func (c CampaignInput) currentROAS() float64 {
	if c.Current.SpendMicros <= 0 {
		return 0
	}
	return float64(c.Current.SalesMicros) / float64(c.Current.SpendMicros)
}

func (c CampaignInput) hasUsableDelta() bool {
	cur := float64(c.Current.SpendMicros)
	if cur <= 0 {
		return false
	}
	delta := math.Abs(cur - float64(c.Previous.SpendMicros))
	return delta >= minSpendDeltaPct*cur
}

// ChooseMethod picks one estimation method for the whole run: finite
// difference when at least half the spending campaigns moved enough.
func ChooseMethod(inputs []CampaignInput) domain.MarginalMethod {
	spending, usable := 0, 0
	for _, in := range inputs {
		if in.Current.SpendMicros <= 0 {
			continue
		}
		spending++
		if in.hasUsableDelta() {
			usable++
		}
	}
	if spending > 0 && 2*usable >= spending {
		return domain.MethodFiniteDifference
	}
	return domain.MethodCurveFit
}

// MarginalROAS estimates incremental sales per unit of spend at the current
// spend level. Inputs without usable data fall back to current ROAS.
func MarginalROAS(in CampaignInput, method domain.MarginalMethod) float64 {
	switch method {
	case domain.MethodFiniteDifference:
		if in.hasUsableDelta() {
			dSpend := float64(in.Current.SpendMicros - in.Previous.SpendMicros)
			dSales := float64(in.Current.SalesMicros - in.Previous.SalesMicros)
			return dSales / dSpend
		}
	case domain.MethodCurveFit:
		if in.CurveMROAS != nil {
			return *in.CurveMROAS
		}
	}
	return in.currentROAS()
}

// OptimalSpend moves spend toward the target ROAS, never by more than
// maxChangePct of current spend.
func OptimalSpend(currentMicros int64, mROAS, targetROAS, maxChangePct float64) int64 {
	if currentMicros <= 0 || targetROAS <= 0 {
		return currentMicros
	}
	ratio := mROAS / targetROAS
	step := 0.0
	switch {
	case ratio > 1:
		step = math.Min(maxChangePct, ratio-1)
	case ratio < 1:
		step = -math.Min(maxChangePct, 1-ratio)
	}
	return int64(math.Round(float64(currentMicros) * (1 + step)))
}

// EfficiencyScore is 100 * max(0, 1 - sum|cur-opt| / (2*sum cur)), and 100
// for a portfolio with no spend.
func EfficiencyScore(curves []domain.PortfolioMarginalCurve) float64 {
	var totalCur, totalDev float64
	for _, c := range curves {
		cur := float64(c.CurrentSpendMicros)
		if cur < 0 {
			cur = 0
		}
		opt := float64(c.OptimalSpendMicros)
		if opt < 0 {
			opt = 0
		}
		totalCur += cur
		totalDev += math.Abs(cur - opt)
	}
	if totalCur == 0 {
		return 100
	}
	score := 100 * math.Max(0, 1-totalDev/(2*totalCur))
	return math.Min(100, score)
}

// Compute builds the reallocation plan for one run.
func Compute(inputs []CampaignInput, p Params, now time.Time) domain.PortfolioPlan {
	method := ChooseMethod(inputs)

	targetACOS := p.TargetACOS
	if targetACOS <= 0 {
		targetACOS = optimizer.DefaultConfig().TargetACOS
	}
	targetROAS := 1 / targetACOS

	curves := make([]domain.PortfolioMarginalCurve, 0, len(inputs))
	for _, in := range inputs {
		mROAS := MarginalROAS(in, method)
		opt := OptimalSpend(in.Current.SpendMicros, mROAS, targetROAS, p.MaxSpendChangePct)
		gain := float64(opt-in.Current.SpendMicros) * mROAS

		curves = append(curves, domain.PortfolioMarginalCurve{
			CampaignID:            in.CampaignID,
			Method:                method,
			CurrentSpendMicros:    in.Current.SpendMicros,
			CurrentROAS:           in.currentROAS(),
			MarginalROASAtCurrent: mROAS,
			OptimalSpendMicros:    opt,
			PotentialGainMicros:   int64(math.Round(gain)),
			ComputedAt:            now,
		})
	}

	return domain.PortfolioPlan{
		Method:          method,
		EfficiencyScore: EfficiencyScore(curves),
		Curves:          curves,
		Opportunities:   TopOpportunities(curves, p.TopN),
	}
}

// TopOpportunities ranks campaigns whose spend should move by potential gain.
func TopOpportunities(curves []domain.PortfolioMarginalCurve, n int) []domain.ReallocationOpportunity {
	if n <= 0 {
		n = defaultTopN
	}
	out := make([]domain.ReallocationOpportunity, 0, len(curves))
	for _, c := range curves {
		if c.OptimalSpendMicros == c.CurrentSpendMicros {
			continue
		}
		out = append(out, domain.ReallocationOpportunity{
			CampaignID:         c.CampaignID,
			CurrentSpendMicros: c.CurrentSpendMicros,
			OptimalSpendMicros: c.OptimalSpendMicros,
			MarginalROAS:       c.MarginalROASAtCurrent,
			PotentialGain:      c.PotentialGainMicros,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PotentialGain == out[j].PotentialGain {
			return out[i].CampaignID < out[j].CampaignID
		}
		return out[i].PotentialGain > out[j].PotentialGain
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// CurveMROAS aggregates entity curve fits up to a campaign:
// 1 + spend-weighted mean of dV/dC, with dV/dC ~ v'(b) * b / mean cycle spend.
// It returns nil when no entity in the campaign has a usable fit.
func CurveMROAS(states []domain.BidState, fits map[uint64]*domain.CurveFitResult) *float64 {
	var weighted, weights float64
	for i := range states {
		s := &states[i]
		fit := fits[s.ID]
		if fit == nil || fit.Status != domain.FitStatusFitted || fit.MeanSpendMicros <= 0 || s.CurrentBidMicros <= 0 {
			continue
		}
		w := float64(s.TotalSpendMicros)
		if w <= 0 {
			continue
		}
		b := float64(s.CurrentBidMicros) / 1_000_000
		meanSpend := fit.MeanSpendMicros / 1_000_000
		dVdC := optimizer.CurveSlope(fit, s.CurrentBidMicros) * b / meanSpend
		if math.IsNaN(dVdC) || math.IsInf(dVdC, 0) {
			continue
		}
		weighted += w * dVdC
		weights += w
	}
	if weights == 0 {
		return nil
	}
	m := 1 + weighted/weights
	return &m
}
