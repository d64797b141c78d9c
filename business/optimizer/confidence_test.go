//go:build !integration

package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"adsOptimizer/domain"
)

func stateWith(obs, imps int64, alpha, beta float64) *domain.BidState {
	s := NewBidState(testKey, "C1", Prior{Alpha: 1, Beta: 1})
	s.ObservationsCount = obs
	s.TotalImpressions = imps
	s.Alpha = alpha
	s.Beta = beta
	return s
}

func TestScoreConfidence_Levels(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name  string
		state *domain.BidState
		want  domain.ConfidenceLevel
	}{
		{"new entity", stateWith(3, 40, 2, 5), domain.ConfidenceLow},
		{"tight posterior with volume", stateWith(7, 150, 6, 96), domain.ConfidenceHigh},
		{"only observations threshold", stateWith(9, 60, 6, 96), domain.ConfidenceMedium},
		{"only impressions threshold", stateWith(2, 5000, 6, 96), domain.ConfidenceMedium},
		// Beta(3,5): sd ~ 0.16
		{"volume but wide posterior", stateWith(7, 150, 3, 5), domain.ConfidenceLow},
		// Beta(10,30): sd ~ 0.068
		{"volume and moderate posterior", stateWith(7, 150, 10, 30), domain.ConfidenceMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := ScoreConfidence(tt.state, cfg)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScoreConfidence_ScenarioLowThenHigh(t *testing.T) {
	cfg := DefaultConfig()

	s := stateWith(3, 40, 2, 5)
	level, pct := ScoreConfidence(s, cfg)
	assert.Equal(t, domain.ConfidenceLow, level)
	assert.Less(t, pct, 20.0)

	s.ObservationsCount = 7
	s.TotalImpressions = 150
	s.Alpha, s.Beta = 6, 96
	level, pct2 := ScoreConfidence(s, cfg)
	assert.Equal(t, domain.ConfidenceHigh, level)
	assert.Greater(t, pct2, pct)
}

func TestConfidencePct_NeverDecreasesWithEvidence(t *testing.T) {
	prev := ConfidencePct(0, 50)
	assert.Equal(t, 0.0, prev)
	for n := 1.0; n <= 5000; n += 7 {
		got := ConfidencePct(n, 50)
		assert.GreaterOrEqual(t, got, prev)
		assert.Less(t, got, 100.0)
		prev = got
	}
	assert.InDelta(t, 50.0, ConfidencePct(50, 50), 1e-9)
}

func TestConfidencePct_FallsBackToDefaultHalfWeight(t *testing.T) {
	assert.Equal(t, ConfidencePct(25, defaultConfidenceHalfWeight), ConfidencePct(25, 0))
}

func TestLearningProgress(t *testing.T) {
	states := []domain.BidState{
		{OptimizationEnabled: true, ConfidenceLevel: domain.ConfidenceHigh},
		{OptimizationEnabled: true, ConfidenceLevel: domain.ConfidenceMedium},
		{OptimizationEnabled: true, ConfidenceLevel: domain.ConfidenceLow},
		{OptimizationEnabled: true, ConfidenceLevel: domain.ConfidenceHigh},
		{OptimizationEnabled: false, ConfidenceLevel: domain.ConfidenceHigh},
	}
	assert.InDelta(t, 50.0, LearningProgress(states), 1e-9)
	assert.Equal(t, 0.0, LearningProgress(nil))
}

func TestDisplayLabel(t *testing.T) {
	cfg := DefaultConfig()

	young := stateWith(2, 30, 2, 5)
	assert.Equal(t, domain.DisplayLearning, DisplayLabel(young, nil, cfg))

	mature := stateWith(10, 500, 10, 30)
	mature.ConfidenceLevel = domain.ConfidenceMedium
	assert.Equal(t, "Medium confidence", DisplayLabel(mature, nil, cfg))

	failed := &domain.CurveFitResult{Status: domain.FitStatusFailure}
	assert.Equal(t, domain.DisplayLearning, DisplayLabel(mature, failed, cfg))

	mature.ConfidenceLevel = domain.ConfidenceHigh
	assert.Equal(t, "High confidence", DisplayLabel(mature, failed, cfg))
}
