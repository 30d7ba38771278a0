// Package jobs tracks downloads while they run.
package jobs

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"hiddenprotocol/internal/domain"
)

type Status string

const (
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Job is a snapshot of one download.
type Job struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	ChatID     int64     `json:"chat_id"`
	Status     Status    `json:"status"`
	Percent    float64   `json:"percent"`
	Downloaded int64     `json:"downloaded_bytes"`
	Total      int64     `json:"total_bytes,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DoneAt     time.Time `json:"done_at,omitzero"`
}

// Registry holds running jobs and recently finished ones.
type Registry struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	logger *slog.Logger
	now    func() time.Time
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		jobs:   make(map[string]*Job),
		logger: logger,
		now:    time.Now,
	}
}

// Handle updates a single job. The zero Handle is a no-op.
type Handle struct {
	r  *Registry
	id string
}

// Start registers a running job.
func (r *Registry) Start(url string, chatID int64) Handle {
	id := uuid.NewString()
	r.mu.Lock()
	r.jobs[id] = &Job{
		ID:        id,
		URL:       url,
		ChatID:    chatID,
		Status:    StatusRunning,
		StartedAt: r.now(),
	}
	r.mu.Unlock()
	r.logger.Debug("job started", "job", id, "url", url)
	return Handle{r: r, id: id}
}

func (h Handle) ID() string { return h.id }

// Progress records a progress event; pass it as the download callback.
func (h Handle) Progress(ev domain.ProgressEvent) {
	h.update(func(j *Job) {
		if ev.DownloadedBytes > 0 {
			j.Downloaded = ev.DownloadedBytes
		}
		if ev.TotalBytes > 0 {
			j.Total = ev.TotalBytes
			j.Percent = ev.Percent()
		}
	})
}

// Finish marks the job complete, or failed when err is non-nil.
func (h Handle) Finish(err error) {
	h.update(func(j *Job) {
		j.DoneAt = h.r.now()
		if err != nil {
			j.Status = StatusFailed
			j.Error = err.Error()
			return
		}
		j.Status = StatusComplete
		j.Percent = 100
	})
}

func (h Handle) update(fn func(*Job)) {
	if h.r == nil {
		return
	}
	h.r.mu.Lock()
	defer h.r.mu.Unlock()
	if j, ok := h.r.jobs[h.id]; ok {
		fn(j)
	}
}

func (r *Registry) Get(id string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// List returns all jobs, oldest first.
func (r *Registry) List() []Job {
	return r.collect(func(*Job) bool { return true })
}

func (r *Registry) ListActive() []Job {
	return r.collect(func(j *Job) bool { return j.Status == StatusRunning })
}

func (r *Registry) collect(keep func(*Job) bool) []Job {
	r.mu.RLock()
	out := make([]Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		if keep(j) {
			out = append(out, *j)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.Before(out[k].StartedAt) })
	return out
}

// Clean drops finished jobs older than maxAge.
func (r *Registry) Clean(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-maxAge)
	removed := 0
	for id, j := range r.jobs {
		if j.Status != StatusRunning && j.DoneAt.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}
