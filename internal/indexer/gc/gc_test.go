package gc

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/config"
)

type fakeScanner struct {
	calls   atomic.Int64
	reclaim atomic.Int64
}

func (f *fakeScanner) Reclaim(limit int) int {
	f.calls.Add(1)
	return int(f.reclaim.Swap(0))
}

func testConfig() config.GCConfig {
	return config.GCConfig{
		MinInterval:    10 * time.Millisecond,
		MaxInterval:    80 * time.Millisecond,
		ScansPerSecond: 1000,
		HintThreshold:  3,
	}
}

func TestNotifyDeletionNeverBlocks(t *testing.T) {
	c := New(testConfig(), &fakeScanner{}, nil)
	done := make(chan struct{})
	go func() {
		for range 10000 {
			c.NotifyDeletion()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("NotifyDeletion blocked without a running collector")
	}
	assert.Equal(t, int64(10000), c.Pending())
}

func TestRunOnceAdaptsInterval(t *testing.T) {
	s := &fakeScanner{}
	c := New(testConfig(), s, nil)
	ctx := context.Background()
	assert.Equal(t, 80*time.Millisecond, c.Interval())

	s.reclaim.Store(5)
	n, err := c.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 40*time.Millisecond, c.Interval(), "work halves the interval")

	for range 5 {
		_, err = c.RunOnce(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 80*time.Millisecond, c.Interval(), "idle scans back off up to the maximum")

	for range 10 {
		s.reclaim.Store(1)
		_, err = c.RunOnce(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 10*time.Millisecond, c.Interval(), "bounded by the minimum")
}

func TestRunOnceResetsPending(t *testing.T) {
	c := New(testConfig(), &fakeScanner{}, nil)
	c.NotifyDeletion()
	c.NotifyDeletion()
	_, err := c.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, c.Pending())
}

func TestHintsTriggerScan(t *testing.T) {
	cfg := testConfig()
	cfg.MaxInterval = time.Hour
	cfg.MinInterval = time.Hour
	s := &fakeScanner{}
	c := New(cfg, s, nil)

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	for range 5 {
		c.NotifyDeletion()
		time.Sleep(5 * time.Millisecond)
	}
	assert.Eventually(t, func() bool { return s.calls.Load() >= 1 }, 2*time.Second, 5*time.Millisecond,
		"crossing the hint threshold scans without waiting for the timer")
	cancel()
	c.Wait()
}

func TestHintsBelowThresholdBringScanForward(t *testing.T) {
	cfg := testConfig()
	cfg.MaxInterval = 2 * time.Second
	cfg.HintThreshold = 100
	s := &fakeScanner{}
	c := New(cfg, s, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.Wait()
	}()
	c.Start(ctx)
	start := time.Now()
	for range 6 {
		c.NotifyDeletion()
		time.Sleep(5 * time.Millisecond)
	}
	require.Eventually(t, func() bool { return s.calls.Load() >= 1 }, time.Second, 5*time.Millisecond,
		"a tightened interval applies to the scan already scheduled")
	assert.Less(t, time.Since(start), cfg.MaxInterval)
	assert.Less(t, c.Interval(), cfg.MaxInterval)
}

func TestStartScansPeriodically(t *testing.T) {
	s := &fakeScanner{}
	c := New(testConfig(), s, nil)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	assert.Eventually(t, func() bool { return s.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	c.Wait()
}

func TestRunOnceHonoursCancellation(t *testing.T) {
	cfg := testConfig()
	cfg.ScansPerSecond = 0.001
	c := New(cfg, &fakeScanner{}, nil)
	_, err := c.RunOnce(context.Background())
	require.NoError(t, err, "the first scan uses the burst token")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.RunOnce(ctx)
	assert.Error(t, err)
}
