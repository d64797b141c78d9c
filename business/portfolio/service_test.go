//go:build !integration

package portfolio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adsOptimizer/domain"
)

type windowLedger struct {
	windows map[time.Time][]domain.CampaignSpend
	err     error
}

func (l *windowLedger) CampaignSpend(ctx context.Context, profileID string, from, to time.Time) ([]domain.CampaignSpend, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.windows[from], nil
}

type staticEntities struct {
	states []domain.BidState
	fits   []domain.CurveFitResult
}

func (s staticEntities) States(ctx context.Context, profileID string) ([]domain.BidState, error) {
	return s.states, nil
}

func (s staticEntities) Fits(ctx context.Context, profileID string) ([]domain.CurveFitResult, error) {
	return s.fits, nil
}

type memCurves struct {
	saved []domain.PortfolioMarginalCurve
}

func (m *memCurves) ReplaceCurves(ctx context.Context, profileID string, curves []domain.PortfolioMarginalCurve) error {
	m.saved = append([]domain.PortfolioMarginalCurve(nil), curves...)
	return nil
}

func (m *memCurves) ListCurves(ctx context.Context, profileID string) ([]domain.PortfolioMarginalCurve, error) {
	return m.saved, nil
}

func spend(id string, s, sales int64) domain.CampaignSpend {
	return domain.CampaignSpend{CampaignID: id, SpendMicros: s * unit, SalesMicros: sales * unit}
}

func TestService_OptimizeReadsBothWindows(t *testing.T) {
	ledger := &windowLedger{windows: map[time.Time][]domain.CampaignSpend{
		planTime.Add(-defaultWindow): {spend("A", 100, 600), spend("B", 100, 200)},
		planTime.Add(-2 * defaultWindow): {
			spend("A", 80, 480),
			spend("B", 120, 260),
			spend("Z", 50, 100), // stopped spending
		},
	}}
	curves := &memCurves{}
	svc := NewService(ledger, staticEntities{}, curves)

	plan, err := svc.Optimize(context.Background(), "P1", "run-9", Params{TargetACOS: 0.3, MaxSpendChangePct: 0.2}, planTime)
	require.NoError(t, err)

	assert.Equal(t, "run-9", plan.RunID)
	assert.Equal(t, domain.MethodFiniteDifference, plan.Method)
	require.Len(t, plan.Curves, 3)
	assert.Equal(t, []string{"A", "B", "Z"}, []string{plan.Curves[0].CampaignID, plan.Curves[1].CampaignID, plan.Curves[2].CampaignID})

	z := plan.Curves[2]
	assert.Equal(t, int64(0), z.CurrentSpendMicros)
	assert.Equal(t, int64(0), z.OptimalSpendMicros)

	require.Len(t, curves.saved, 3)
	for _, c := range curves.saved {
		assert.Equal(t, "P1", c.ProfileID)
		assert.Equal(t, "run-9", c.RunID)
	}

	latest, err := svc.Latest(context.Background(), "P1", 1)
	require.NoError(t, err)
	assert.Equal(t, "run-9", latest.RunID)
	assert.Equal(t, plan.EfficiencyScore, latest.EfficiencyScore)
	require.Len(t, latest.Opportunities, 1)
	assert.Equal(t, "A", latest.Opportunities[0].CampaignID)
}

func TestService_OptimizeUsesCurvesWhenSpendIsFlat(t *testing.T) {
	ledger := &windowLedger{windows: map[time.Time][]domain.CampaignSpend{
		planTime.Add(-defaultWindow):     {spend("A", 100, 300)},
		planTime.Add(-2 * defaultWindow): {spend("A", 100, 300)},
	}}
	entities := staticEntities{
		states: []domain.BidState{
			{ID: 1, CampaignID: "A", OptimizationEnabled: true, CurrentBidMicros: 500_000, TotalSpendMicros: 40 * unit},
			{ID: 2, CampaignID: "A", OptimizationEnabled: false, CurrentBidMicros: 500_000, TotalSpendMicros: 40 * unit},
		},
		fits: []domain.CurveFitResult{
			{BidStateID: 1, Status: domain.FitStatusFitted, CoefLinear: 2, CoefQuadratic: -1, MeanSpendMicros: 5_000_000},
			{BidStateID: 2, Status: domain.FitStatusFitted, CoefLinear: 90, MeanSpendMicros: 1_000_000},
		},
	}
	svc := NewService(ledger, entities, &memCurves{})

	plan, err := svc.Optimize(context.Background(), "P1", "run-1", Params{TargetACOS: 0.3, MaxSpendChangePct: 0.2}, planTime)
	require.NoError(t, err)
	assert.Equal(t, domain.MethodCurveFit, plan.Method)
	require.Len(t, plan.Curves, 1)
	// disabled entity 2 is ignored
	assert.InDelta(t, 1.1, plan.Curves[0].MarginalROASAtCurrent, 1e-9)
	assert.Equal(t, 80*unit, plan.Curves[0].OptimalSpendMicros)
}

func TestService_OptimizeLedgerError(t *testing.T) {
	svc := NewService(&windowLedger{err: errors.New("ledger down")}, staticEntities{}, &memCurves{})
	_, err := svc.Optimize(context.Background(), "P1", "run-1", Params{}, planTime)
	assert.Error(t, err)
}

func TestService_EmptyProfile(t *testing.T) {
	curves := &memCurves{}
	svc := NewService(&windowLedger{}, staticEntities{}, curves)

	plan, err := svc.Optimize(context.Background(), "P1", "run-1", Params{}, planTime)
	require.NoError(t, err)
	assert.Equal(t, 100.0, plan.EfficiencyScore)
	assert.Empty(t, plan.Opportunities)
	assert.Nil(t, curves.saved)
}
