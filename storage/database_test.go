package storage

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signin-automation/captcha"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db, err := NewDatabase(filepath.Join(t.TempDir(), "data", "journal.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordAndReadRun(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	now := time.Now()

	records := []captcha.AttemptRecord{
		{RunID: "run-1", Attempt: 1, GapX: 210, GapFallback: true, Scale: 1, Distance: -5, Outcome: captcha.OutcomeUnsolved, Reason: "degenerate", CreatedAt: now},
		{RunID: "run-1", Attempt: 2, GapX: 200, Scale: 1, Distance: 164, Steps: 31, Outcome: captcha.OutcomeSolved, CreatedAt: now},
		{RunID: "run-2", Attempt: 1, Outcome: captcha.OutcomeSolved, CreatedAt: now},
	}
	for _, r := range records {
		require.NoError(t, db.RecordAttempt(ctx, r))
	}

	attempts, err := db.GetRunAttempts(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, attempts, 2)

	assert.Equal(t, 1, attempts[0].Attempt)
	assert.True(t, attempts[0].GapFallback)
	assert.Equal(t, "unsolved", attempts[0].Outcome)
	assert.Equal(t, "degenerate", attempts[0].Reason)
	assert.Equal(t, 164, attempts[1].Distance)
	assert.Equal(t, 31, attempts[1].Steps)
	assert.Equal(t, "solved", attempts[1].Outcome)
	assert.WithinDuration(t, now, attempts[1].CreatedAt, 2*time.Second)

	recent, err := db.GetRecentAttempts(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "run-2", recent[0].RunID)
}

func TestGetRunAttemptsByPrefix(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, db.RecordAttempt(ctx, captcha.AttemptRecord{RunID: "5f0c9a1e-77aa-4b1c-9a0e-1d2f3a4b5c6d", Attempt: 1, Outcome: captcha.OutcomeUnsolved, CreatedAt: now}))
	require.NoError(t, db.RecordAttempt(ctx, captcha.AttemptRecord{RunID: "5f0c9a1e-77aa-4b1c-9a0e-1d2f3a4b5c6d", Attempt: 2, Outcome: captcha.OutcomeSolved, CreatedAt: now}))
	require.NoError(t, db.RecordAttempt(ctx, captcha.AttemptRecord{RunID: "a1b2c3d4-0000-4000-8000-000000000000", Attempt: 1, Outcome: captcha.OutcomeSolved, CreatedAt: now}))

	attempts, err := db.GetRunAttempts(ctx, "5f0c9a1e")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, 1, attempts[0].Attempt)
	assert.Equal(t, "solved", attempts[1].Outcome)

	none, err := db.GetRunAttempts(ctx, "ffffffff")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = db.GetRunAttempts(ctx, "")
	assert.Error(t, err)
}

func TestGetStats(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, db.RecordAttempt(ctx, captcha.AttemptRecord{RunID: "old", Attempt: 1, Outcome: captcha.OutcomeSolved, CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, db.RecordAttempt(ctx, captcha.AttemptRecord{RunID: "a", Attempt: 1, GapFallback: true, Outcome: captcha.OutcomeUnsolved, CreatedAt: now}))
	require.NoError(t, db.RecordAttempt(ctx, captcha.AttemptRecord{RunID: "a", Attempt: 2, Outcome: captcha.OutcomeIndeterminate, CreatedAt: now}))
	require.NoError(t, db.RecordAttempt(ctx, captcha.AttemptRecord{RunID: "b", Attempt: 1, Outcome: captcha.OutcomeSolved, CreatedAt: now}))

	stats, err := db.GetStats(ctx, now.Add(-time.Hour))
	require.NoError(t, err)

	assert.Equal(t, Stats{Runs: 2, Attempts: 3, Solved: 1, Unsolved: 1, Indeterminate: 1, Fallbacks: 1}, *stats)
}

func TestGetStatsEmpty(t *testing.T) {
	db := newTestDatabase(t)

	stats, err := db.GetStats(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, Stats{}, *stats)
}

var _ captcha.Recorder = (*Database)(nil)
