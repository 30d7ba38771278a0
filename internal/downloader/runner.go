package downloader

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// Runner executes the extraction binary, streaming its output line by line.
type Runner interface {
	Run(ctx context.Context, name string, args []string, onStdout, onStderr func(line string)) error
}

// ExecRunner runs the binary as a child process.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args []string, onStdout, onStderr func(line string)) error {
	cmd := exec.CommandContext(ctx, name, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", name, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(stdout, onStdout)
	}()
	go func() {
		defer wg.Done()
		scanLines(stderr, onStderr)
	}()

	// Pipes must be drained before Wait closes them.
	wg.Wait()
	return cmd.Wait()
}

func scanLines(r io.Reader, fn func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if fn != nil {
			fn(scanner.Text())
		}
	}
	// The child blocks on a full pipe if an overlong line stops the scan.
	_, _ = io.Copy(io.Discard, r)
}
