// file: internal/operations/state_test.go
// version: 1.0.0
// guid: 1c3e5a7b-9d0f-4b2c-8d4e-6f8a0c2e4a6b

package operations

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerationState_BeginOnlyOnce(t *testing.T) {
	s := NewGenerationState()
	now := time.Now()

	require.True(t, s.Begin("run-1", 3, 2, false, now))
	assert.False(t, s.Begin("run-2", 9, 9, true, now))

	snap := s.Snapshot()
	assert.Equal(t, "run-1", snap.RunID)
	assert.Equal(t, 3, snap.Total)
	assert.True(t, snap.IsGenerating)
}

func TestGenerationState_CountersNeverExceedTotal(t *testing.T) {
	s := NewGenerationState()
	s.Begin("run", 2, 1, false, time.Now())

	s.RecordSuccess()
	s.RecordFailure(UnitError{TrackID: 1})
	s.RecordSuccess()
	s.RecordFailure(UnitError{TrackID: 2})

	snap := s.Snapshot()
	assert.Equal(t, 1, snap.Processed)
	assert.Equal(t, 1, snap.Failed)
	assert.Equal(t, 0, snap.Remaining())
}

func TestGenerationState_ConcurrentUpdates(t *testing.T) {
	s := NewGenerationState()
	s.Begin("run", 200, 16, false, time.Now())

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%4 == 0 {
				s.RecordFailure(UnitError{TrackID: int64(i)})
			} else {
				s.RecordSuccess()
			}
			snap := s.Snapshot()
			assert.LessOrEqual(t, snap.Processed+snap.Failed, snap.Total)
		}(i)
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Equal(t, 150, snap.Processed)
	assert.Equal(t, 50, snap.Failed)
}

func TestGenerationState_CancelOnlyWhileGenerating(t *testing.T) {
	s := NewGenerationState()
	assert.False(t, s.RequestCancel())
	assert.False(t, s.CancelRequested())

	s.Begin("run", 1, 1, false, time.Now())
	assert.True(t, s.RequestCancel())
	assert.True(t, s.CancelRequested())

	final := s.Finish(time.Now())
	assert.False(t, final.IsGenerating)
	assert.NotNil(t, final.FinishedAt)
	assert.False(t, s.RequestCancel())

	// a new run clears the flag
	s.Begin("run-2", 1, 1, false, time.Now())
	assert.False(t, s.CancelRequested())
}

func TestGenerationState_FinishFreezesCounters(t *testing.T) {
	s := NewGenerationState()
	s.Begin("run", 5, 1, false, time.Now())
	s.RecordSuccess()
	s.Finish(time.Now())

	s.RecordSuccess()
	s.RecordFailure(UnitError{})
	snap := s.Snapshot()
	assert.Equal(t, 1, snap.Processed)
	assert.Equal(t, 0, snap.Failed)
}

func TestGenerationState_ErrorLogIsCapped(t *testing.T) {
	s := NewGenerationState()
	s.Begin("run", MaxUnitErrors+5, 1, false, time.Now())
	for i := 0; i < MaxUnitErrors+5; i++ {
		s.RecordFailure(UnitError{TrackID: int64(i)})
	}

	errs, dropped := s.Errors()
	assert.Len(t, errs, MaxUnitErrors)
	assert.Equal(t, 5, dropped)
	assert.Equal(t, MaxUnitErrors+5, s.Snapshot().Failed)

	// returned slice is a copy
	errs[0].TrackID = -1
	again, _ := s.Errors()
	assert.Equal(t, int64(0), again[0].TrackID)
}
