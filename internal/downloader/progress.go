package downloader

import (
	"encoding/json"
	"strings"
	"time"

	"hiddenprotocol/internal/domain"
)

const (
	progressMarker = "hp-progress "
	resultMarker   = "hp-result "
)

// rawProgress mirrors the yt-dlp progress hook dictionary. Numbers are
// pointers because yt-dlp emits null for unknown values.
type rawProgress struct {
	Status             string   `json:"status"`
	DownloadedBytes    *float64 `json:"downloaded_bytes"`
	TotalBytes         *float64 `json:"total_bytes"`
	TotalBytesEstimate *float64 `json:"total_bytes_estimate"`
	Speed              *float64 `json:"speed"`
	ETA                *float64 `json:"eta"`
	Elapsed            *float64 `json:"elapsed"`
	Filename           string   `json:"filename"`
}

type rawResult struct {
	Filepath       string   `json:"filepath"`
	Filename       string   `json:"_filename"`
	Title          string   `json:"title"`
	Ext            string   `json:"ext"`
	Filesize       *float64 `json:"filesize"`
	FilesizeApprox *float64 `json:"filesize_approx"`
}

func (r rawResult) path() string {
	if r.Filepath != "" {
		return r.Filepath
	}
	return r.Filename
}

func (r rawResult) size() int64 {
	if r.Filesize != nil {
		return int64(*r.Filesize)
	}
	if r.FilesizeApprox != nil {
		return int64(*r.FilesizeApprox)
	}
	return 0
}

// parseProgressLine decodes one progress-template line. ok is false for
// lines that are not progress updates.
func parseProgressLine(line string) (domain.ProgressEvent, bool) {
	idx := strings.Index(line, progressMarker)
	if idx < 0 {
		return domain.ProgressEvent{}, false
	}
	var raw rawProgress
	if err := json.Unmarshal([]byte(line[idx+len(progressMarker):]), &raw); err != nil {
		return domain.ProgressEvent{}, false
	}

	ev := domain.ProgressEvent{
		Phase:           domain.ProgressPhase(raw.Status),
		DownloadedBytes: int64(deref(raw.DownloadedBytes)),
		TotalBytes:      int64(deref(raw.TotalBytes)),
		Speed:           deref(raw.Speed),
		ETA:             seconds(raw.ETA),
		Elapsed:         seconds(raw.Elapsed),
		Filename:        raw.Filename,
	}
	if ev.TotalBytes == 0 {
		ev.TotalBytes = int64(deref(raw.TotalBytesEstimate))
	}
	return ev, true
}

func parseResultLine(line string) (rawResult, bool) {
	idx := strings.Index(line, resultMarker)
	if idx < 0 {
		return rawResult{}, false
	}
	var res rawResult
	if err := json.Unmarshal([]byte(line[idx+len(resultMarker):]), &res); err != nil {
		return rawResult{}, false
	}
	return res, res.path() != ""
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func seconds(v *float64) time.Duration {
	if v == nil {
		return 0
	}
	return time.Duration(*v * float64(time.Second))
}
