package dispatchlog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalflow/internal/dispatch"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "dispatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleResult() dispatch.Result {
	now := time.Now()
	return dispatch.Result{
		SignalID:  "sig-1",
		AccountID: "acct-1",
		State:     dispatch.StateSucceeded,
		Attempts: []dispatch.Attempt{
			{Seq: 1, Outcome: "TRANSIENT", Error: "upstream hiccup", Backoff: 800 * time.Millisecond, At: now.Add(-time.Second)},
			{Seq: 2, Outcome: "SUCCESS", At: now},
		},
	}
}

func TestAppendAndFetchAttempts(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Append(sampleResult()))

	rows, err := s.Attempts("sig-1", "acct-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Seq)
	assert.Equal(t, "TRANSIENT", rows[0].Outcome)
	assert.Equal(t, "upstream hiccup", rows[0].Error)
	assert.Equal(t, int64(800), rows[0].BackoffMS)
	assert.Equal(t, "SUCCEEDED", rows[0].State)
	assert.Equal(t, 2, rows[1].Seq)
	assert.Equal(t, "SUCCESS", rows[1].Outcome)
}

func TestRecentNewestFirst(t *testing.T) {
	s := newTestStore(t)

	first := sampleResult()
	require.NoError(t, s.Append(first))

	second := sampleResult()
	second.SignalID = "sig-2"
	second.Attempts = second.Attempts[1:]
	require.NoError(t, s.Append(second))

	rows, err := s.Recent(2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "sig-2", rows[0].SignalID)
	assert.Equal(t, "sig-1", rows[1].SignalID)
}

func TestRecentDefaultLimit(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Append(sampleResult()))

	rows, err := s.Recent(0)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestAttemptsUnknownKeyIsEmpty(t *testing.T) {
	s := newTestStore(t)
	rows, err := s.Attempts("nope", "acct-1")
	require.NoError(t, err)
	assert.Empty(t, rows)
}
