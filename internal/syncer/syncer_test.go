package syncer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	conf "github.com/bartek5186/pcmcatalog/internal/config"
	"github.com/bartek5186/pcmcatalog/internal/importer"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type countingScanner struct{ n int32 }

func (c *countingScanner) ScanOnce(context.Context) (importer.ScanStats, error) {
	atomic.AddInt32(&c.n, 1)
	return importer.ScanStats{}, errors.New("dir missing")
}

type countingWatchdog struct {
	n         int32
	olderThan atomic.Int64
}

func (c *countingWatchdog) MarkStale(_ context.Context, d time.Duration) (int, error) {
	atomic.AddInt32(&c.n, 1)
	c.olderThan.Store(int64(d))
	return 1, nil
}

func TestSyncerStartStop(t *testing.T) {
	cfg := conf.Default()
	cfg.SyncIntervalSeconds = 3600
	cfg.Jobs.StaleAfterSeconds = 90

	sc := &countingScanner{}
	wd := &countingWatchdog{}
	s := New(zerolog.Nop(), cfg, sc, wd)
	require.False(t, s.IsRunning())

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	require.True(t, s.IsRunning())

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&sc.n) == 1 && atomic.LoadInt32(&wd.n) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, int64(90*time.Second), wd.olderThan.Load())

	s.Stop()
	s.Stop()
	require.False(t, s.IsRunning())
	require.EqualValues(t, 1, s.Ticks())
}

func TestSyncerUpdateConfigRestarts(t *testing.T) {
	cfg := conf.Default()
	cfg.SyncIntervalSeconds = 3600
	sc := &countingScanner{}
	s := New(zerolog.Nop(), cfg, sc, nil)

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&sc.n) == 1 }, time.Second, 5*time.Millisecond)

	next := conf.Default()
	next.SyncIntervalSeconds = 1800
	s.UpdateConfig(context.Background(), next)
	require.True(t, s.IsRunning())
	require.Eventually(t, func() bool { return atomic.LoadInt32(&sc.n) == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1800*time.Second, s.interval())
	s.Stop()
}
