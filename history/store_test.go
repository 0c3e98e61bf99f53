package history

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/regselect/pkg/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleRun(id string, started time.Time) Run {
	return Run{
		ID:              id,
		StartedAt:       started,
		FinishedAt:      started.Add(3 * time.Second),
		Status:          StatusSucceeded,
		BestModel:       "Linear Regression",
		Score:           0.88,
		Threshold:       0.6,
		TransformerPath: "artifacts/preprocessor.json",
		ModelPath:       "artifacts/model.json",
		TrainRows:       800,
		TestRows:        200,
		Features:        19,
		Candidates: []CandidateScore{
			{Algorithm: "Random Forest", Score: 0.85, Duration: 2 * time.Second},
			{Algorithm: "Linear Regression", Score: 0.88, Duration: time.Millisecond},
		},
	}
}

func TestStoreRecordAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC)

	require.NoError(t, s.RecordRun(ctx, sampleRun("run-1", started)))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, sampleRun("run-1", started), *got)

	_, err = s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	// 同じ ID は主キー違反
	assert.Error(t, s.RecordRun(ctx, sampleRun("run-1", started)))
	assert.Error(t, s.RecordRun(ctx, Run{}))
}

func TestStoreFailedRunKeepsNaN(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := Run{
		ID:         "failed-1",
		StartedAt:  time.Unix(100, 0).UTC(),
		FinishedAt: time.Unix(101, 0).UTC(),
		Status:     StatusFailed,
		Score:      math.NaN(),
		Threshold:  0.6,
		Error:      "no best model found",
		Candidates: []CandidateScore{{Algorithm: "K-Neighbors Regressor", Score: math.NaN()}},
	}
	require.NoError(t, s.RecordRun(ctx, run))

	got, err := s.GetRun(ctx, "failed-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.True(t, math.IsNaN(got.Score))
	require.Len(t, got.Candidates, 1)
	assert.True(t, math.IsNaN(got.Candidates[0].Score))
	assert.Equal(t, "no best model found", got.Error)
}

func TestStoreListRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.RecordRun(ctx, sampleRun(id, base.Add(time.Duration(i)*time.Hour))))
	}

	tests := []struct {
		name  string
		limit int
		want  []string
	}{
		{name: "all", limit: 0, want: []string{"c", "b", "a"}},
		{name: "limited", limit: 2, want: []string{"c", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := s.ListRuns(ctx, tt.limit)
			require.NoError(t, err)
			ids := make([]string, len(runs))
			for i, r := range runs {
				ids[i] = r.ID
				assert.Len(t, r.Candidates, 2)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestStoreReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.RecordRun(ctx, sampleRun("persisted", time.Unix(5, 0).UTC())))
	require.NoError(t, s.Close())

	// 2回目の Open ではマイグレーションは ErrNoChange で何もしない
	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, path, s.Path())
	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "persisted", runs[0].ID)

	_, err = Open(ctx, "")
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestStoreMigrationsApplied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		s, err := Open(ctx, path)
		require.NoError(t, err, "open %d", i)

		var (
			version int
			dirty   bool
		)
		require.NoError(t, s.db.QueryRowContext(ctx, "SELECT version, dirty FROM schema_migrations").Scan(&version, &dirty))
		assert.Equal(t, 1, version)
		assert.False(t, dirty)
		require.NoError(t, s.Close())
	}
}
