package workers

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/camden-git/photoner/config"
	"github.com/camden-git/photoner/database"
	"github.com/camden-git/photoner/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionFailureStreak(t *testing.T) {
	s := NewBatchSession(config.ModeArchive, 10, 3, base)
	assert.False(t, s.RecordFailure())
	assert.False(t, s.RecordFailure())
	s.RecordSkip()
	assert.Equal(t, 2, s.ConsecutiveFailures(), "skips leave the streak alone")
	s.RecordSuccess(time.Second, 100, 90)
	assert.Zero(t, s.ConsecutiveFailures())
	assert.False(t, s.RecordFailure())
	assert.False(t, s.RecordFailure())
	assert.True(t, s.RecordFailure())
}

func TestSessionMetrics(t *testing.T) {
	s := NewBatchSession(config.ModeIncoming, 6, 5, base)
	s.RecordSuccess(2*time.Second, 100, 80)
	s.RecordSuccess(4*time.Second, 50, 40)
	s.RecordFailure()
	s.RecordSkip()

	m := s.Metrics(StateCompleted, base.Add(2*time.Minute))
	assert.NotEmpty(t, m.SessionID)
	assert.Equal(t, 4, m.Attempted)
	assert.Equal(t, 2, m.NotAttempted)
	assert.InDelta(t, 3.0, m.AvgProcessingTime, 1e-9)
	assert.InDelta(t, 2.0, m.ImagesPerMinute, 1e-9)
	assert.InDelta(t, 25.0, m.ErrorRate, 1e-9)
	assert.Equal(t, int64(150), m.OriginalBytes)
	assert.Equal(t, int64(120), m.EnhancedBytes)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err       error
		kind      ErrorKind
		status    string
		retryable bool
	}{
		{fmt.Errorf("x: %w", media.ErrDimensionMismatch), KindDimension, database.StatusFailed, false},
		{fmt.Errorf("x: %w", media.ErrDecode), KindDecode, database.StatusFailed, true},
		{fmt.Errorf("x: %w", media.ErrInvalidInput), KindValidation, database.StatusSkipped, false},
		{errors.New("disk full"), KindProcessing, database.StatusFailed, true},
	}
	for _, tc := range cases {
		ie := classify("/a.jpg", tc.err)
		assert.Equal(t, tc.kind, ie.Kind, tc.err.Error())
		assert.Equal(t, tc.status, ie.Status())
		assert.Equal(t, tc.retryable, ie.Retryable())
		assert.ErrorIs(t, ie, tc.err)
	}

	wrapped := fmt.Errorf("outer: %w", newItemError(KindPersist, "/b.jpg", errors.New("rename failed")))
	ie := classify("/b.jpg", wrapped)
	require.NotNil(t, ie)
	assert.Equal(t, KindPersist, ie.Kind)
}
