//go:build !integration

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurveFitResult_GateFloor(t *testing.T) {
	opt := int64(1_470_182)
	fit := CurveFitResult{Status: FitStatusFitted, RSquared: 0.128, OptimalBidMicros: &opt}

	assert.False(t, fit.Trusted(0.05))
	fit.Gate(0.05)
	assert.Nil(t, fit.OptimalBidMicros)

	strong := CurveFitResult{Status: FitStatusFitted, RSquared: 0.5, OptimalBidMicros: &opt}
	assert.True(t, strong.Trusted(0.05))
	assert.False(t, strong.Trusted(0.6))
	strong.Gate(0.6)
	assert.Nil(t, strong.OptimalBidMicros)
}
