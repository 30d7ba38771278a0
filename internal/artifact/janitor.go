package artifact

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
)

const DefaultSweepSchedule = "@every 5m"

// Janitor periodically removes files in dir older than maxAge. It catches
// files orphaned when the process died between download and release.
type Janitor struct {
	dir    string
	maxAge time.Duration
	cron   *cron.Cron
	logger *slog.Logger
	now    func() time.Time
}

func NewJanitor(dir string, maxAge time.Duration, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		dir:    dir,
		maxAge: maxAge,
		cron:   cron.New(),
		logger: logger,
		now:    time.Now,
	}
}

// Start schedules the sweep. An empty schedule uses DefaultSweepSchedule.
func (j *Janitor) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if _, err := j.cron.AddFunc(schedule, func() { j.Sweep() }); err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info("artifact janitor started", "dir", j.dir, "schedule", schedule, "max_age", j.maxAge)
	return nil
}

func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep removes stale files once and returns how many were deleted.
func (j *Janitor) Sweep() int {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		j.logger.Debug("janitor: read dir failed", "dir", j.dir, "err", err)
		return 0
	}
	cutoff := j.now().Add(-j.maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		p := filepath.Join(j.dir, e.Name())
		if IsHeld(p) {
			continue
		}
		if err := os.Remove(p); err != nil {
			j.logger.Debug("janitor: remove failed", "path", p, "err", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		j.logger.Info("janitor: removed stale artifacts", "count", removed, "dir", j.dir)
	}
	return removed
}
