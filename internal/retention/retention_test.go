package retention

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuns struct {
	cutoff time.Time
	n      int64
	err    error
}

func (f *fakeRuns) DeleteRunsBefore(cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.n, f.err
}

type fakeSpool struct {
	cutoff time.Time
	n      int
}

func (f *fakeSpool) Sweep(cutoff time.Time) int {
	f.cutoff = cutoff
	return f.n
}

func TestSweepCutoffs(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	runs := &fakeRuns{n: 3}
	spool := &fakeSpool{n: 2}

	s, err := New(runs, spool, 30*24*time.Hour, "")
	require.NoError(t, err)
	s.now = func() time.Time { return now }

	gotRuns, gotUploads := s.Sweep()
	assert.Equal(t, int64(3), gotRuns)
	assert.Equal(t, 2, gotUploads)
	assert.Equal(t, now.AddDate(0, 0, -30), runs.cutoff)
	assert.Equal(t, now.Add(-24*time.Hour), spool.cutoff)
}

func TestZeroKeepLeavesRuns(t *testing.T) {
	runs := &fakeRuns{n: 5}
	s, err := New(runs, &fakeSpool{}, 0, "@daily")
	require.NoError(t, err)

	gotRuns, _ := s.Sweep()
	assert.Zero(t, gotRuns)
	assert.True(t, runs.cutoff.IsZero(), "store should not be called")
}

func TestStoreErrorStillSweepsUploads(t *testing.T) {
	spool := &fakeSpool{n: 1}
	s, err := New(&fakeRuns{err: errors.New("database is locked")}, spool, time.Hour, "")
	require.NoError(t, err)

	gotRuns, gotUploads := s.Sweep()
	assert.Zero(t, gotRuns)
	assert.Equal(t, 1, gotUploads)
}

func TestInvalidSchedule(t *testing.T) {
	_, err := New(&fakeRuns{}, &fakeSpool{}, time.Hour, "every tuesday")
	assert.ErrorContains(t, err, `retention schedule "every tuesday"`)
}

func TestStartSweepsImmediately(t *testing.T) {
	spool := &fakeSpool{}
	s, err := New(nil, spool, time.Hour, "@daily")
	require.NoError(t, err)
	s.Start()
	s.Stop()
	assert.False(t, spool.cutoff.IsZero())
}
