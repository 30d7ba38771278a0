package domain

import (
	"context"
	"time"
)

// DownloadResult describes a file produced by a successful download.
// Title, Ext and ByteSize are zero when the extractor did not report them.
type DownloadResult struct {
	JobID    string
	FilePath string
	Title    string
	Ext      string
	ByteSize int64
	Elapsed  time.Duration
}

type FailureCategory string

const (
	FailureRegionOrAgeRestricted FailureCategory = "region_or_age_restricted"
	FailureUpstreamTimeout       FailureCategory = "upstream_timeout"
	FailureNotFound              FailureCategory = "not_found"
	FailureUnsupportedFormat     FailureCategory = "unsupported_format"
	FailureUnknown               FailureCategory = "unknown"
)

// DownloadFailure carries the raw extractor error and its classification.
type DownloadFailure struct {
	Raw      string
	Category FailureCategory
	Err      error
}

func (f *DownloadFailure) Error() string {
	if f.Raw != "" {
		return f.Raw
	}
	if f.Err != nil {
		return f.Err.Error()
	}
	return "download failed"
}

func (f *DownloadFailure) Unwrap() error { return f.Err }

type ProgressPhase string

const (
	PhaseDownloading ProgressPhase = "downloading"
	PhaseFinished    ProgressPhase = "finished"
	PhaseError       ProgressPhase = "error"
)

// ProgressEvent is a transient progress update from the extraction engine.
// Zero values mean "not reported".
type ProgressEvent struct {
	Phase           ProgressPhase
	DownloadedBytes int64
	TotalBytes      int64
	Speed           float64 // bytes per second
	ETA             time.Duration
	Filename        string
	Elapsed         time.Duration
}

// Percent returns the completed share in [0,100], or 0 when the total is unknown.
func (p ProgressEvent) Percent() float64 {
	if p.TotalBytes <= 0 {
		return 0
	}
	pct := float64(p.DownloadedBytes) / float64(p.TotalBytes) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// Downloader fetches the media behind one URL.
type Downloader interface {
	Download(ctx context.Context, url string, onProgress func(ProgressEvent)) (*DownloadResult, error)
}
