package sources

import (
	"context"
	"testing"
	"time"

	conf "github.com/bartek5186/pcmcatalog/internal/config"
	"github.com/bartek5186/pcmcatalog/internal/db"
	"github.com/bartek5186/pcmcatalog/internal/db/dbtest"
	"github.com/stretchr/testify/require"
)

func TestStoreSeedAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewStore(dbtest.Open(t))

	require.NoError(t, s.Seed(ctx, []conf.SourceConfig{{
		SourceID:           "pcm",
		Name:               "PCM",
		AutoPublishEnabled: true,
		MinScoreThreshold:  50,
		RequiredFields:     []string{"name"},
		FieldMappings:      map[string]string{"nazwa": "name"},
	}}))

	src, err := s.Get(ctx, "pcm")
	require.NoError(t, err)
	require.Equal(t, "PCM", src.Name)
	require.True(t, src.Policy.AutoPublishEnabled)
	require.Equal(t, 50, src.Policy.MinScoreThreshold)
	require.Equal(t, []string{"name"}, src.Policy.RequiredFields)
	require.Equal(t, "name", src.FieldMappings["nazwa"])

	// re-seed updates the policy
	require.NoError(t, s.Upsert(ctx, conf.SourceConfig{SourceID: "pcm", Name: "PCM v2", MinScoreThreshold: 80}))
	src, err = s.Get(ctx, "pcm")
	require.NoError(t, err)
	require.Equal(t, "PCM v2", src.Name)
	require.False(t, src.Policy.AutoPublishEnabled)
	require.Equal(t, 80, src.Policy.MinScoreThreshold)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestStoreGetUnknownAndManual(t *testing.T) {
	ctx := context.Background()
	s := NewStore(dbtest.Open(t))

	_, err := s.Get(ctx, "nope")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, " ")
	require.ErrorIs(t, err, ErrNotFound)

	manual, err := s.Get(ctx, ManualSourceID)
	require.NoError(t, err)
	require.False(t, manual.Policy.AutoPublishEnabled)
}

func TestStoreRecordRun(t *testing.T) {
	ctx := context.Background()
	s := NewStore(dbtest.Open(t))
	require.NoError(t, s.Upsert(ctx, conf.SourceConfig{SourceID: "pcm"}))

	done := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.RecordRun(ctx, "pcm", &db.Job{JobID: "j1", Status: db.JobCompleted, SuccessfulItems: 8, FailedItems: 2, CompletedAt: &done}))
	require.NoError(t, s.RecordRun(ctx, "pcm", &db.Job{JobID: "j2", Status: db.JobFailed, SuccessfulItems: 1, FailedItems: 1}))
	require.NoError(t, s.RecordRun(ctx, "missing", &db.Job{JobID: "j3"}))

	src, err := s.Get(ctx, "pcm")
	require.NoError(t, err)
	require.Equal(t, 2, src.Stats.Runs)
	require.Equal(t, 9, src.Stats.Imported)
	require.Equal(t, 3, src.Stats.Failed)
	require.Equal(t, db.JobFailed, src.Stats.LastRunStatus)
	require.Equal(t, "j2", src.Stats.LastJobID)
	require.NotNil(t, src.Stats.LastRunAt)
}
