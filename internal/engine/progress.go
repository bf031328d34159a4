package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sergeschumacher/hermes/internal/domain"
)

// Progress events are throttled so a thousand-segment job doesn't turn into
// a thousand-event storm: emit when either gate opens.
const (
	progressInterval = 500 * time.Millisecond
	progressSegments = 16
)

// emitter owns the subscriber lists. The orchestrator writes to it; API and
// CLI consumers subscribe rather than reaching into the engine.
type emitter struct {
	mu             sync.RWMutex
	progressSubs   []chan domain.Progress
	completionSubs []chan domain.Completion

	lastEmit  atomic.Int64 // unix nanos
	sinceEmit atomic.Int64 // segments settled since last emission
}

func newEmitter() *emitter {
	return &emitter{}
}

func (e *emitter) subscribeProgress() <-chan domain.Progress {
	ch := make(chan domain.Progress, 64)
	e.mu.Lock()
	e.progressSubs = append(e.progressSubs, ch)
	e.mu.Unlock()
	return ch
}

func (e *emitter) subscribeCompletion() <-chan domain.Completion {
	ch := make(chan domain.Completion, 8)
	e.mu.Lock()
	e.completionSubs = append(e.completionSubs, ch)
	e.mu.Unlock()
	return ch
}

func (e *emitter) emitProgress(p domain.Progress) {
	e.lastEmit.Store(time.Now().UnixNano())
	e.sinceEmit.Store(0)

	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ch := range e.progressSubs {
		// A slow consumer drops events rather than stalling downloads.
		select {
		case ch <- p:
		default:
		}
	}
}

func (e *emitter) emitCompletion(c domain.Completion) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ch := range e.completionSubs {
		select {
		case ch <- c:
		default:
		}
	}
}

// maybeEmitProgress is called once per settled segment and applies the
// throttle gates.
func (o *Orchestrator) maybeEmitProgress(job *domain.Job) {
	e := o.emitter

	since := e.sinceEmit.Add(1)
	last := e.lastEmit.Load()
	due := time.Now().UnixNano()-last >= int64(progressInterval)

	if since < progressSegments && !due {
		return
	}

	e.emitProgress(snapshot(job))
}

// snapshot freezes the job's atomic counters into one progress event.
func snapshot(job *domain.Job) domain.Progress {
	completed := job.CompletedSegments.Load()
	failed := job.FailedSegments.Load()
	downloaded := job.DownloadedBytes.Load()

	var percent float64
	if job.TotalSegments > 0 {
		percent = float64(completed+failed) / float64(job.TotalSegments) * 100
	}

	var speed float64
	if elapsed := time.Since(job.StartedAt).Seconds(); elapsed > 0 {
		speed = float64(downloaded) / elapsed
	}

	return domain.Progress{
		JobID:             job.ID,
		CompletedSegments: completed,
		TotalSegments:     job.TotalSegments,
		FailedSegments:    failed,
		DownloadedBytes:   downloaded,
		TotalBytes:        job.TotalBytes,
		Percent:           percent,
		SpeedBytesPerSec:  speed,
	}
}
