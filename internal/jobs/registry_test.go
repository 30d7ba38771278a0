package jobs

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hiddenprotocol/internal/domain"
)

func testRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegistry_Lifecycle(t *testing.T) {
	r := testRegistry()
	h := r.Start("https://vt.tiktok.com/x", 42)

	h.Progress(domain.ProgressEvent{Phase: domain.PhaseDownloading, DownloadedBytes: 50, TotalBytes: 200})
	j, ok := r.Get(h.ID())
	require.True(t, ok)
	assert.Equal(t, StatusRunning, j.Status)
	assert.InDelta(t, 25.0, j.Percent, 0.001)
	assert.Len(t, r.ListActive(), 1)

	h.Finish(nil)
	j, _ = r.Get(h.ID())
	assert.Equal(t, StatusComplete, j.Status)
	assert.Equal(t, 100.0, j.Percent)
	assert.False(t, j.DoneAt.IsZero())
	assert.Empty(t, r.ListActive())
}

func TestRegistry_UnknownTotalKeepsPercent(t *testing.T) {
	r := testRegistry()
	h := r.Start("u", 1)
	h.Progress(domain.ProgressEvent{DownloadedBytes: 10})

	j, _ := r.Get(h.ID())
	assert.Equal(t, int64(10), j.Downloaded)
	assert.Zero(t, j.Percent)
}

func TestRegistry_FailedJob(t *testing.T) {
	r := testRegistry()
	h := r.Start("u", 1)
	h.Finish(errors.New("ERROR: 404"))

	j, _ := r.Get(h.ID())
	assert.Equal(t, StatusFailed, j.Status)
	assert.Equal(t, "ERROR: 404", j.Error)
}

func TestRegistry_CleanKeepsRunning(t *testing.T) {
	r := testRegistry()
	now := time.Now()
	r.now = func() time.Time { return now.Add(-time.Hour) }
	done := r.Start("old", 1)
	done.Finish(nil)
	running := r.Start("running", 1)
	r.now = func() time.Time { return now }

	assert.Equal(t, 1, r.Clean(10*time.Minute))
	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, running.ID(), list[0].ID)
}

func TestHandle_ZeroValueIsNoop(t *testing.T) {
	var h Handle
	assert.NotPanics(t, func() {
		h.Progress(domain.ProgressEvent{})
		h.Finish(nil)
	})
}
