//go:build !integration

package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBidState_Derived(t *testing.T) {
	s := BidState{Alpha: 6, Beta: 96, PriorAlpha: 1, PriorBeta: 1, TotalSalesMicros: 250_000_000, TotalConversions: 5}

	assert.InDelta(t, 0.0588, s.PosteriorMean(), 0.0001)
	assert.Equal(t, 100.0, s.EvidenceWeight())
	assert.Equal(t, 50_000_000.0, s.AverageOrderValueMicros())

	s.TotalConversions = 0
	assert.Equal(t, 250_000_000.0, s.AverageOrderValueMicros())
}

func TestEntityKey_String(t *testing.T) {
	k := EntityKey{ProfileID: "P1", EntityType: EntityTarget, EntityID: "T7"}
	assert.Equal(t, "P1:target:T7", k.String())
	assert.True(t, k.EntityType.Valid())
	assert.False(t, EntityType("portfolio").Valid())
}

func TestLedgerRow_Observation(t *testing.T) {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	row := LedgerRow{ProfileID: "P1", EntityType: EntityKeyword, EntityID: "K", WindowStart: start, Clicks: 3}

	o := row.Observation()
	assert.Equal(t, SourceReal, o.Source)
	assert.Equal(t, int64(3), o.Clicks)
	assert.Equal(t, EntityKey{ProfileID: "P1", EntityType: EntityKeyword, EntityID: "K"}, o.Key())

	row.Source = SourceSimulated
	assert.Equal(t, SourceSimulated, row.Observation().Source)
}
