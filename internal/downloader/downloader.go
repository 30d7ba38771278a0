// Package downloader drives yt-dlp to fetch one video per request and
// reports throttled progress through the structured log.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"hiddenprotocol/internal/domain"
)

const (
	DefaultBinary           = "yt-dlp"
	DefaultFormat           = "mp4/bestvideo+bestaudio/best"
	DefaultMergeFormat      = "mp4"
	DefaultOutputTemplate   = "%(title).200B-%(id)s.%(ext)s"
	DefaultProgressInterval = 1500 * time.Millisecond

	maxLoggedURL = 128
)

var errorLineRe = regexp.MustCompile(`(?i)ERROR[:\s]+(.+?)(?:\n|$)`)

// Config configures an Orchestrator. Zero values fall back to the defaults above.
type Config struct {
	Dir              string
	Binary           string
	FFmpegLocation   string
	Format           string
	MergeFormat      string
	OutputTemplate   string
	ExtraArgs        []string
	ProgressInterval time.Duration
	MaxConcurrent    int64         // 0 = unbounded
	Timeout          time.Duration // 0 = no per-download deadline
	Logger           *slog.Logger
	Runner           Runner
}

// Orchestrator runs downloads. It is safe for concurrent use; concurrent
// downloads share only the output directory.
type Orchestrator struct {
	cfg    Config
	runner Runner
	sem    *semaphore.Weighted
	logger *slog.Logger
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Dir == "" {
		return nil, errors.New("download directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir %s: %w", cfg.Dir, err)
	}
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.Format == "" {
		cfg.Format = DefaultFormat
	}
	if cfg.MergeFormat == "" {
		cfg.MergeFormat = DefaultMergeFormat
	}
	if cfg.OutputTemplate == "" {
		cfg.OutputTemplate = DefaultOutputTemplate
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = DefaultProgressInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	runner := cfg.Runner
	if runner == nil {
		runner = ExecRunner{}
	}

	o := &Orchestrator{cfg: cfg, runner: runner, logger: cfg.Logger}
	if cfg.MaxConcurrent > 0 {
		o.sem = semaphore.NewWeighted(cfg.MaxConcurrent)
	}
	return o, nil
}

// Dir returns the directory downloads are written to.
func (o *Orchestrator) Dir() string { return o.cfg.Dir }

// Args returns the yt-dlp argument list used for url.
func (o *Orchestrator) Args(url string) []string {
	args := []string{
		"--no-playlist",
		"--no-mtime",
		"--restrict-filenames",
		"-f", o.cfg.Format,
		"--merge-output-format", o.cfg.MergeFormat,
		"--quiet",
		"--no-warnings",
		"--progress",
		"--newline",
		"--progress-template", "download:" + progressMarker + "%(progress)j",
		"--print", "after_move:" + resultMarker + "%(.{filepath,_filename,title,ext,filesize,filesize_approx})j",
		"-o", filepath.Join(o.cfg.Dir, o.cfg.OutputTemplate),
	}
	if o.cfg.FFmpegLocation != "" {
		args = append(args, "--ffmpeg-location", o.cfg.FFmpegLocation)
	}
	args = append(args, o.cfg.ExtraArgs...)
	return append(args, "--", url)
}

// Download fetches url into the download directory. onProgress is called for
// every progress update; a panicking callback never affects the download.
// Failures are returned as *domain.DownloadFailure.
func (o *Orchestrator) Download(ctx context.Context, url string, onProgress func(domain.ProgressEvent)) (*domain.DownloadResult, error) {
	jobID := uuid.NewString()
	short := shortURL(url)
	log := o.logger.With("job", jobID, "url", short)

	if o.sem != nil {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			return nil, o.fail(log, "", fmt.Errorf("waiting for download slot: %w", err))
		}
		defer o.sem.Release(1)
	}
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	throttle := rate.NewLimiter(rate.Every(o.cfg.ProgressInterval), 1)

	var (
		mu       sync.Mutex
		result   rawResult
		haveRes  bool
		lastFile string
		stderr   strings.Builder
	)

	onStdout := func(line string) {
		if res, ok := parseResultLine(line); ok {
			mu.Lock()
			result, haveRes = res, true
			mu.Unlock()
			return
		}
		ev, ok := parseProgressLine(line)
		if !ok {
			return
		}
		notifyProgress(log, onProgress, ev)

		switch ev.Phase {
		case domain.PhaseDownloading:
			if throttle.Allow() {
				log.Info("yt-dlp: downloading",
					"progress", fmt.Sprintf("%.1f%%", ev.Percent()),
					"bytes", ev.DownloadedBytes,
					"total", totalLabel(ev.TotalBytes),
					"speed", fmt.Sprintf("%.1fkB/s", ev.Speed/1024),
					"eta", etaLabel(ev.ETA),
				)
			}
		case domain.PhaseFinished:
			mu.Lock()
			lastFile = ev.Filename
			mu.Unlock()
			log.Info("yt-dlp: finished", "file", ev.Filename, "elapsed", ev.Elapsed.Round(time.Millisecond))
		case domain.PhaseError:
			log.Error("yt-dlp: error", "file", ev.Filename)
		}
	}
	onStderr := func(line string) {
		mu.Lock()
		stderr.WriteString(line)
		stderr.WriteByte('\n')
		mu.Unlock()
	}

	log.Info("yt-dlp: start", "outdir", o.cfg.Dir)
	runErr := o.runner.Run(ctx, o.cfg.Binary, o.Args(url), onStdout, onStderr)

	mu.Lock()
	defer mu.Unlock()

	if runErr != nil {
		raw := lastErrorLine(stderr.String())
		if ctxErr := ctx.Err(); ctxErr != nil {
			raw = "download cancelled: " + ctxErr.Error()
			runErr = ctxErr
		}
		notifyProgress(log, onProgress, domain.ProgressEvent{Phase: domain.PhaseError, Elapsed: time.Since(start)})
		return nil, o.fail(log, raw, runErr)
	}

	path := result.path()
	if !haveRes {
		path = lastFile
	}
	if path == "" {
		return nil, o.fail(log, "downloaded file not found", nil)
	}

	elapsed := time.Since(start)
	res := &domain.DownloadResult{
		JobID:    jobID,
		FilePath: path,
		Title:    result.Title,
		Ext:      result.Ext,
		ByteSize: result.size(),
		Elapsed:  elapsed,
	}
	if res.Ext == "" {
		res.Ext = strings.TrimPrefix(filepath.Ext(path), ".")
	}
	if info, err := os.Stat(path); err == nil {
		res.ByteSize = info.Size()
	} else {
		return nil, o.fail(log, "downloaded file not found", err)
	}

	if res.ByteSize > 0 && elapsed > 0 {
		avg := float64(res.ByteSize) / elapsed.Seconds()
		log.Info("yt-dlp: done",
			"file", path,
			"size", humanize.Bytes(uint64(res.ByteSize)),
			"duration", elapsed.Round(10*time.Millisecond),
			"avg", humanize.Bytes(uint64(avg))+"/s",
		)
	} else {
		log.Info("yt-dlp: done", "file", path, "duration", elapsed.Round(10*time.Millisecond))
	}
	return res, nil
}

// fail logs and builds the classified failure returned to callers.
func (o *Orchestrator) fail(log *slog.Logger, raw string, err error) *domain.DownloadFailure {
	if raw == "" && err != nil {
		raw = err.Error()
	}
	f := &domain.DownloadFailure{Raw: raw, Category: Classify(raw), Err: err}
	log.Error("yt-dlp: failed", "category", f.Category, "err", f)
	return f
}

func notifyProgress(log *slog.Logger, fn func(domain.ProgressEvent), ev domain.ProgressEvent) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Debug("progress callback panicked", "panic", r)
		}
	}()
	fn(ev)
}

func lastErrorLine(stderr string) string {
	matches := errorLineRe.FindAllStringSubmatch(stderr, -1)
	if len(matches) == 0 {
		return strings.TrimSpace(stderr)
	}
	return strings.TrimSpace(matches[len(matches)-1][1])
}

func shortURL(url string) string {
	if len(url) <= maxLoggedURL {
		return url
	}
	return url[:maxLoggedURL-3] + "..."
}

func totalLabel(total int64) string {
	if total <= 0 {
		return "unknown"
	}
	return fmt.Sprintf("%d", total)
}

func etaLabel(eta time.Duration) string {
	if eta <= 0 {
		return "unknown"
	}
	return eta.Round(time.Second).String()
}
