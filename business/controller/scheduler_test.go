//go:build !integration

package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adsOptimizer/domain"
)

func TestScheduler_StartValidatesSpec(t *testing.T) {
	f := newFixture()

	s := NewScheduler(f.ctrl, time.Minute)
	assert.NoError(t, s.Start(""))
	assert.Error(t, s.Start("every tuesday-ish"))
	s.Stop()

	s = NewScheduler(f.ctrl, time.Minute)
	require.NoError(t, s.Start("@every 1h"))
	s.Stop()
}

func TestScheduler_RunAllCoversEveryProfile(t *testing.T) {
	f := newFixture()
	a := matureState("KW1")
	b := matureState("KW9")
	b.ProfileID = "P2"
	f.states.put(a)
	f.states.put(b)

	s := NewScheduler(f.ctrl, time.Minute)
	s.runAll()

	completed := f.runs.byStatus(domain.RunCompleted)
	require.Len(t, completed, 2)
	profiles := map[string]bool{}
	for _, r := range completed {
		profiles[r.ProfileID] = true
		assert.Equal(t, domain.RunKindBatch, r.Kind)
	}
	assert.True(t, profiles["P1"])
	assert.True(t, profiles["P2"])
}

func TestScheduler_PicksUpLedgerOnlyProfile(t *testing.T) {
	f := newFixture()
	f.states.put(matureState("KW1"))
	fresh := cycles("KW5", f.now, 7)
	for i := range fresh {
		fresh[i].ProfileID = "P3"
	}
	f.ledger.snapshot.Observations = fresh

	profiles, err := f.ctrl.Profiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"P1", "P3"}, profiles)

	s := NewScheduler(f.ctrl, time.Minute)
	s.runAll()

	completed := f.runs.byStatus(domain.RunCompleted)
	require.Len(t, completed, 2)

	st := f.states.get(domain.EntityKey{ProfileID: "P3", EntityType: domain.EntityKeyword, EntityID: "KW5"})
	assert.Equal(t, int64(7), st.ObservationsCount)
}

func TestScheduler_StoppedSchedulerRunsNothing(t *testing.T) {
	f := newFixture()
	f.states.put(matureState("KW1"))

	s := NewScheduler(f.ctrl, time.Minute)
	s.Stop()
	s.runAll()

	assert.Empty(t, f.runs.byStatus(domain.RunCompleted))
}
