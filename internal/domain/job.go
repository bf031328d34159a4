package domain

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sergeschumacher/hermes/internal/nzb"
)

type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

type SegmentStatus string

const (
	SegmentPending   SegmentStatus = "pending"
	SegmentCompleted SegmentStatus = "completed"
	SegmentFailed    SegmentStatus = "failed"
)

// Job is one submitted NZB from parse to completion. The counters are bumped
// concurrently by many segment tasks and must only be touched atomically;
// status and failure reason are written by the job's own goroutine and read
// by API handlers, so they live behind the mutex.
type Job struct {
	ID       string
	Name     string
	Document *nzb.Document

	CompletedSegments atomic.Int64
	FailedSegments    atomic.Int64
	DownloadedBytes   atomic.Int64
	TotalSegments     int64
	TotalBytes        int64

	StartedAt time.Time

	CancelFunc context.CancelFunc

	mu      sync.Mutex
	status  JobStatus
	lastErr string
}

// NewJob builds a queued job for the parsed document.
func NewJob(id, name string, doc *nzb.Document) *Job {
	return &Job{
		ID:            id,
		Name:          name,
		Document:      doc,
		TotalSegments: int64(doc.TotalSegments),
		TotalBytes:    doc.TotalSize,
		StartedAt:     time.Now(),
		status:        StatusQueued,
	}
}

func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *Job) SetStatus(s JobStatus) {
	j.mu.Lock()
	j.status = s
	j.mu.Unlock()
}

// ErrorText returns the failure reason for terminal jobs, empty otherwise.
func (j *Job) ErrorText() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastErr
}

// Finish records the terminal status and failure reason in one step.
func (j *Job) Finish(s JobStatus, errText string) {
	j.mu.Lock()
	j.status = s
	j.lastErr = errText
	j.mu.Unlock()
}

// Cancelled reports whether the job's context has been torn down. Checked at
// segment-attempt boundaries, never mid-transfer.
func (j *Job) Cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// JobRef identifies a persisted job that is not loaded in memory yet. The
// engine turns refs back into live jobs when it resumes after a restart.
type JobRef struct {
	ID   string
	Name string
}

// Progress is the throttled event the orchestrator emits while a job runs.
type Progress struct {
	JobID             string  `json:"job_id"`
	CompletedSegments int64   `json:"completed_segments"`
	TotalSegments     int64   `json:"total_segments"`
	FailedSegments    int64   `json:"failed_segments"`
	DownloadedBytes   int64   `json:"downloaded_bytes"`
	TotalBytes        int64   `json:"total_bytes"`
	Percent           float64 `json:"percent"`
	SpeedBytesPerSec  float64 `json:"speed_bytes_per_sec"`
}

// Completion is handed to the post-processing collaborator once every file
// in the job has been assembled.
type Completion struct {
	JobID          string   `json:"job_id"`
	Dir            string   `json:"dir"`
	Files          []string `json:"files"`
	FailedSegments int64    `json:"failed_segments"`
}

// PostProcessor is the external collaborator that owns PAR2 verify/repair
// and archive extraction. The engine only hands it the assembled output.
type PostProcessor interface {
	Process(ctx context.Context, c Completion) error
}
