package optimizer

import (
	"fmt"
	"math"
	"sort"
	"time"

	"adsOptimizer/domain"
)

const microsPerUnit = 1_000_000.0

// bidLevel is the mean outcome of every cycle run at one bid.
type bidLevel struct {
	bid   float64 // currency units
	value float64 // mean value per cycle, currency units
	spend float64 // mean spend per cycle, micros
}

// groupBidLevels collapses history into distinct bid levels. Cycles without a
// known bid are ignored. Value of a cycle is conversions*AOV - spend.
func groupBidLevels(history []domain.BidObservation, aovMicros float64) []bidLevel {
	type acc struct {
		value, spend float64
		n            int
	}
	byBid := make(map[int64]*acc)
	for _, h := range history {
		if h.BidMicros <= 0 {
			continue
		}
		a, ok := byBid[h.BidMicros]
		if !ok {
			a = &acc{}
			byBid[h.BidMicros] = a
		}
		a.value += float64(h.Conversions)*aovMicros - float64(h.SpendMicros)
		a.spend += float64(h.SpendMicros)
		a.n++
	}

	levels := make([]bidLevel, 0, len(byBid))
	for bid, a := range byBid {
		levels = append(levels, bidLevel{
			bid:   float64(bid) / microsPerUnit,
			value: a.value / float64(a.n) / microsPerUnit,
			spend: a.spend / float64(a.n),
		})
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].bid < levels[j].bid })
	return levels
}

func features(b float64) [fitDim]float64 {
	return [fitDim]float64{1, b, b * b}
}

// solveQuadratic is ordinary least squares on the normal equations, skipping
// index skip (-1 to use all points).
func solveQuadratic(levels []bidLevel, skip int) ([fitDim]float64, error) {
	var A [fitDim][fitDim]float64
	var B [fitDim]float64
	for i, l := range levels {
		if i == skip {
			continue
		}
		x := features(l.bid)
		addOuter(&A, x)
		addScaled(&B, x, l.value)
	}
	AInv, err := invert(A)
	if err != nil {
		return [fitDim]float64{}, err
	}
	return matVecMul(AInv, B), nil
}

// FitBidCurve fits v(b) = c0 + c1*b + c2*b^2 to the entity's bid history.
//
// Accuracy is leave-one-out over bid levels: RMSE = sqrt(PRESS/k) and
// R^2 = 1 - PRESS/SST clamped to [0, 1]. The optimum is the vertex for a
// concave fit, else the better end of the observed range, always inside the
// observed range, and is cleared when R^2 is below the trust threshold.
func FitBidCurve(history []domain.BidObservation, aovMicros float64, cfg Config, now time.Time) (domain.CurveFitResult, error) {
	levels := groupBidLevels(history, aovMicros)
	res := domain.CurveFitResult{
		BidLevels: len(levels),
		FittedAt:  now,
	}

	minLevels := cfg.MinBidLevels
	if minLevels < fitDim+1 {
		minLevels = fitDim + 1
	}
	if len(levels) < minLevels {
		res.Status = domain.FitStatusInsufficientData
		return res, fmt.Errorf("%w: %d distinct bid levels, need %d", ErrFitFailure, len(levels), minLevels)
	}

	mean := 0.0
	spend := 0.0
	for _, l := range levels {
		mean += l.value
		spend += l.spend
	}
	mean /= float64(len(levels))
	res.MeanSpendMicros = spend / float64(len(levels))

	sst := 0.0
	for _, l := range levels {
		sst += (l.value - mean) * (l.value - mean)
	}
	if sst == 0 {
		res.Status = domain.FitStatusFailure
		return res, fmt.Errorf("%w: value does not vary with bid", ErrFitFailure)
	}

	coef, err := solveQuadratic(levels, -1)
	if err != nil {
		res.Status = domain.FitStatusFailure
		return res, fmt.Errorf("%w: %v", ErrFitFailure, err)
	}

	press := 0.0
	for i, l := range levels {
		c, err := solveQuadratic(levels, i)
		if err != nil {
			res.Status = domain.FitStatusFailure
			return res, fmt.Errorf("%w: leave-one-out fold %d: %v", ErrFitFailure, i, err)
		}
		r := l.value - dot(c, features(l.bid))
		press += r * r
	}

	res.Status = domain.FitStatusFitted
	res.CoefIntercept, res.CoefLinear, res.CoefQuadratic = coef[0], coef[1], coef[2]
	res.RSquared = clampFloat(1-press/sst, 0, 1)
	res.RMSE = math.Sqrt(press/float64(len(levels))) * microsPerUnit

	lo, hi := levels[0].bid, levels[len(levels)-1].bid
	opt := hi
	if coef[2] < 0 {
		opt = clampFloat(-coef[1]/(2*coef[2]), lo, hi)
	} else if dot(coef, features(lo)) > dot(coef, features(hi)) {
		opt = lo
	}
	optMicros := int64(math.Round(opt * microsPerUnit))
	res.OptimalBidMicros = &optMicros
	res.Gate(cfg.CurveTrustR2)

	return res, nil
}

// CurveSlope is dv/db of the fitted curve at bid b (currency units).
func CurveSlope(fit *domain.CurveFitResult, bidMicros int64) float64 {
	b := float64(bidMicros) / microsPerUnit
	return fit.CoefLinear + 2*fit.CoefQuadratic*b
}

// SummarizeFits builds the model-accuracy aggregate. Means are over fitted
// entities only; total counts every entity eligible for a fit.
func SummarizeFits(fits []domain.CurveFitResult, totalEligible int) domain.ModelAccuracy {
	out := domain.ModelAccuracy{TotalModels: totalEligible}
	var sumR2, sumRMSE float64
	for i := range fits {
		if fits[i].Status != domain.FitStatusFitted {
			continue
		}
		out.ModelsFitted++
		sumR2 += fits[i].RSquared
		sumRMSE += fits[i].RMSE
		if fits[i].OptimalBidMicros != nil {
			out.ModelsWithOptimalBid++
		}
	}
	if out.ModelsFitted > 0 {
		out.AverageRSquared = sumR2 / float64(out.ModelsFitted)
		out.AverageRMSE = sumRMSE / float64(out.ModelsFitted)
	}
	return out
}
