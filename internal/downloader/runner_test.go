package downloader

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanLines_DrainsAfterOverlongLine(t *testing.T) {
	pr, pw := io.Pipe()

	written := make(chan error, 1)
	go func() {
		_, err := io.WriteString(pw, "first\n"+strings.Repeat("x", 2*1024*1024)+"\nafter\n")
		pw.Close()
		written <- err
	}()

	var lines []string
	done := make(chan struct{})
	go func() {
		scanLines(pr, func(l string) { lines = append(lines, l) })
		close(done)
	}()

	select {
	case err := <-written:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("writer blocked on an undrained pipe")
	}
	<-done
	assert.Equal(t, []string{"first"}, lines)
}

func TestScanLines_NilCallback(t *testing.T) {
	r := strings.NewReader("a\nb\n")
	scanLines(r, nil)
	assert.Zero(t, r.Len())
}
