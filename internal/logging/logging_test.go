package logging

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hiddenprotocol/internal/notify"
)

type chatSender struct {
	mu    sync.Mutex
	texts []string
}

func (c *chatSender) Send(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return nil
}

func (c *chatSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.texts)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]string{"": "INFO", "DEBUG": "DEBUG", "warning": "WARN", "error": "ERROR"} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got.String())
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew_ConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	file := filepath.Join(t.TempDir(), "bot.log")

	tel, err := New(Options{Level: "info", Console: &console, File: file})
	require.NoError(t, err)

	tel.Logger.Debug("file only")
	tel.Logger.Info("both", "k", "v")
	require.NoError(t, tel.Close())

	assert.NotContains(t, console.String(), "file only")
	assert.Contains(t, console.String(), "k=v")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "file only")
	assert.Contains(t, string(data), "both")
}

func TestNew_WithoutEscalationLoggerIsLocal(t *testing.T) {
	tel, err := New(Options{Console: &bytes.Buffer{}})
	require.NoError(t, err)
	assert.Same(t, tel.Local, tel.Logger)
	assert.Nil(t, tel.Dispatcher())

	tel.Escalate(context.Background(), &chatSender{})
	tel.Wait()
}

func TestEscalate_ForwardsFlaggedRecords(t *testing.T) {
	var console bytes.Buffer
	tel, err := New(Options{
		Console:        &console,
		Escalation:     true,
		EscalationOpts: notify.DispatcherConfig{RatePerMinute: 6000, Burst: 10},
	})
	require.NoError(t, err)

	// Logged before the sender exists; waits in the queue.
	tel.Logger.Info("bot starting", Notify())
	tel.Logger.Info("not escalated")

	sender := &chatSender{}
	ctx, cancel := context.WithCancel(context.Background())
	tel.Escalate(ctx, sender)

	tel.Logger.Error("boom")
	require.Eventually(t, func() bool { return sender.count() == 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	tel.Wait()
	assert.Contains(t, console.String(), "not escalated")
	assert.Zero(t, tel.DroppedEscalations())
}
