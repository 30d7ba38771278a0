package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hiddenprotocol/internal/bus"
	"hiddenprotocol/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "history.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_RecordAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, s.RecordDelivery(ctx, domain.Delivery{
		URL:          "https://www.tiktok.com/@u/video/1",
		Sender:       "@ann",
		SourceChatID: -100,
		TargetChatID: -100,
		TargetThread: 7,
		RouteTag:     domain.RouteGroupSameThread,
		Outcome:      domain.OutcomeDelivered,
		Bytes:        2048,
		Elapsed:      1500 * time.Millisecond,
		CreatedAt:    base,
	}))
	require.NoError(t, s.RecordDelivery(ctx, domain.Delivery{
		URL:          "https://www.instagram.com/reel/abc/",
		SourceChatID: 5,
		Outcome:      domain.OutcomeFailed,
		Category:     domain.FailureNotFound,
		Error:        "ERROR: 404",
		CreatedAt:    base.Add(time.Minute),
	}))

	got, err := s.RecentDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, domain.OutcomeFailed, got[0].Outcome, "newest first")
	assert.Equal(t, domain.FailureNotFound, got[0].Category)
	assert.NotEmpty(t, got[0].ID)

	first := got[1]
	assert.Equal(t, "@ann", first.Sender)
	assert.Equal(t, 7, first.TargetThread)
	assert.Equal(t, domain.RouteGroupSameThread, first.RouteTag)
	assert.Equal(t, int64(2048), first.Bytes)
	assert.Equal(t, 1500*time.Millisecond, first.Elapsed)
	assert.True(t, base.Equal(first.CreatedAt))
}

func TestSQLiteStore_LimitDefaultsAndCaps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		require.NoError(t, s.RecordDelivery(ctx, domain.Delivery{URL: "u", Outcome: domain.OutcomeDelivered}))
	}

	got, err := s.RecentDeliveries(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, got, defaultRecentLimit)

	got, err = s.RecentDeliveries(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestSQLiteStore_CountAndPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, d := range []domain.Delivery{
		{URL: "a", Outcome: domain.OutcomeDelivered, CreatedAt: now.Add(-48 * time.Hour)},
		{URL: "b", Outcome: domain.OutcomeDelivered, CreatedAt: now},
		{URL: "c", Outcome: domain.OutcomeRejected, CreatedAt: now},
	} {
		require.NoError(t, s.RecordDelivery(ctx, d))
	}

	counts, err := s.CountByOutcome(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.OutcomeDelivered])
	assert.Equal(t, 1, counts[domain.OutcomeRejected])

	n, err := s.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, s.Ping(ctx))
}

func TestSQLiteStore_SubscribeRecordsEvents(t *testing.T) {
	s := newTestStore(t)
	eb := bus.NewEventBus(testLogger())
	s.Subscribe(eb)

	eb.Emit(bus.Event{Type: bus.EventDeliveryRejected, Delivery: domain.Delivery{
		URL:          "https://www.instagram.com/reel/abc/",
		SourceChatID: -42,
		Outcome:      domain.OutcomeRejected,
	}})

	got, err := s.RecentDeliveries(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.OutcomeRejected, got[0].Outcome)
	assert.Equal(t, int64(-42), got[0].SourceChatID)
	assert.NotEmpty(t, got[0].ID)
}
