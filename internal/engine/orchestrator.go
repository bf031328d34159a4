package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/sergeschumacher/hermes/internal/domain"
	"github.com/sergeschumacher/hermes/internal/infra/logger"
	"github.com/sergeschumacher/hermes/internal/nntp"
	"github.com/sergeschumacher/hermes/internal/nzb"
)

// Store is what the orchestrator needs from the persistence collaborator:
// job rows, per-segment status for resume, and the raw NZB blob.
type Store interface {
	SaveJob(job *domain.Job) error
	ActiveJobs() ([]domain.JobRef, error)
	SaveSegmentStatus(jobID string, fileIndex, number int, status domain.SegmentStatus) error
	CompletedSegments(jobID string) (map[string]bool, error)
	SaveNZB(id string, data []byte) error
	LoadNZB(id string) ([]byte, error)
}

// Options are the download tunables, lifted straight from config.
type Options struct {
	TempDir            string
	SegmentConcurrency int
	RetryPasses        int
	RetryDelay         time.Duration
	FailureThreshold   float64
}

func (o *Options) setDefaults() {
	if o.SegmentConcurrency <= 0 {
		o.SegmentConcurrency = 10
	}
	if o.RetryPasses <= 0 {
		o.RetryPasses = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 2 * time.Second
	}
	if o.FailureThreshold <= 0 || o.FailureThreshold > 1 {
		o.FailureThreshold = 0.10
	}
}

// Receipt is what a caller gets back from Submit.
type Receipt struct {
	JobID        string `json:"job_id"`
	FileCount    int    `json:"file_count"`
	SegmentCount int    `json:"segment_count"`
	TotalBytes   int64  `json:"total_bytes"`
}

// Orchestrator fans submitted NZB jobs out into segment fetches across the
// provider pools. One instance per process, constructed at startup; there is
// no package-level state.
type Orchestrator struct {
	baseCtx  context.Context
	log      *logger.Logger
	registry *nntp.Registry
	store    Store
	post     domain.PostProcessor
	opts     Options

	mu   sync.RWMutex
	jobs map[string]*domain.Job

	emitter *emitter
}

func New(ctx context.Context, registry *nntp.Registry, store Store, log *logger.Logger, opts Options) *Orchestrator {
	opts.setDefaults()

	return &Orchestrator{
		baseCtx:  ctx,
		log:      log,
		registry: registry,
		store:    store,
		opts:     opts,
		jobs:     make(map[string]*domain.Job),
		emitter:  newEmitter(),
	}
}

// SetPostProcessor wires the repair/extraction collaborator. Optional.
func (o *Orchestrator) SetPostProcessor(p domain.PostProcessor) {
	o.post = p
}

// SubscribeProgress returns a channel of throttled progress events.
func (o *Orchestrator) SubscribeProgress() <-chan domain.Progress {
	return o.emitter.subscribeProgress()
}

// SubscribeCompletion returns a channel of job completion events.
func (o *Orchestrator) SubscribeCompletion() <-chan domain.Completion {
	return o.emitter.subscribeCompletion()
}

// Submit parses the NZB, persists the job and kicks off the download. The
// job runs on its own goroutine; multiple jobs may run at once, competing
// for the same provider pools.
func (o *Orchestrator) Submit(nzbBytes []byte, name string) (*Receipt, error) {
	doc, err := nzb.Parse(nzbBytes)
	if err != nil {
		return nil, err
	}

	job := domain.NewJob(ksuid.New().String(), name, doc)

	if err := o.store.SaveNZB(job.ID, nzbBytes); err != nil {
		return nil, fmt.Errorf("failed to store nzb: %w", err)
	}
	if err := o.store.SaveJob(job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	jobCtx, cancel := context.WithCancel(o.baseCtx)
	job.CancelFunc = cancel

	o.mu.Lock()
	o.jobs[job.ID] = job
	o.mu.Unlock()

	go o.run(jobCtx, job)

	return &Receipt{
		JobID:        job.ID,
		FileCount:    doc.TotalFiles,
		SegmentCount: doc.TotalSegments,
		TotalBytes:   doc.TotalSize,
	}, nil
}

// Resume requeues every job that had not reached a terminal state when the
// process last stopped. Segments already recorded as completed are skipped
// when the job runs. A ref whose NZB blob cannot be read is logged and
// dropped rather than blocking the rest.
func (o *Orchestrator) Resume() error {
	refs, err := o.store.ActiveJobs()
	if err != nil {
		return fmt.Errorf("failed to list unfinished jobs: %w", err)
	}

	for _, ref := range refs {
		data, err := o.store.LoadNZB(ref.ID)
		if err != nil {
			o.log.Warn("Job %s: cannot resume, nzb blob unreadable: %v", ref.ID, err)
			continue
		}

		doc, err := nzb.Parse(data)
		if err != nil {
			o.log.Warn("Job %s: cannot resume, stored nzb unparseable: %v", ref.ID, err)
			continue
		}

		job := domain.NewJob(ref.ID, ref.Name, doc)

		jobCtx, cancel := context.WithCancel(o.baseCtx)
		job.CancelFunc = cancel

		o.mu.Lock()
		o.jobs[job.ID] = job
		o.mu.Unlock()

		o.log.Info("Resuming job %s (%s)", job.ID, job.Name)
		go o.run(jobCtx, job)
	}

	return nil
}

// Cancel flips the job's cancellation flag. The flag is honored at segment
// attempt boundaries; in-flight transfers finish and release normally.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.RLock()
	job, ok := o.jobs[id]
	o.mu.RUnlock()

	if !ok {
		return domain.ErrJobNotFound
	}

	switch job.Status() {
	case domain.StatusCompleted, domain.StatusFailed, domain.StatusCancelled:
		return domain.ErrJobFinished
	}

	if job.CancelFunc != nil {
		job.CancelFunc()
	}
	return nil
}

// Get looks up a job by ID.
func (o *Orchestrator) Get(id string) (*domain.Job, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	job, ok := o.jobs[id]
	return job, ok
}

// List returns a snapshot of all known jobs.
func (o *Orchestrator) List() []*domain.Job {
	o.mu.RLock()
	defer o.mu.RUnlock()

	jobs := make([]*domain.Job, 0, len(o.jobs))
	for _, j := range o.jobs {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}

// Snapshot builds a progress view of the job's current counters.
func (o *Orchestrator) Snapshot(job *domain.Job) domain.Progress {
	return snapshot(job)
}

func (o *Orchestrator) run(ctx context.Context, job *domain.Job) {
	job.SetStatus(domain.StatusRunning)
	o.saveJob(job)

	o.log.Info("Job %s: starting download of %s (%d files, %d segments, %d MB)",
		job.ID, job.Name, job.Document.TotalFiles, job.Document.TotalSegments,
		job.Document.TotalSize/1024/1024)

	completed, err := o.store.CompletedSegments(job.ID)
	if err != nil {
		o.log.Warn("Job %s: could not load segment state, downloading everything: %v", job.ID, err)
		completed = map[string]bool{}
	}

	dir := filepath.Join(o.opts.TempDir, job.ID)
	var assembled []string

	for _, file := range orderFiles(job.Document.Files) {
		if job.Cancelled(ctx) {
			break
		}

		buffers := o.downloadFile(ctx, job, file, completed)

		path, err := assembleFile(dir, file.Filename, buffers)
		if err != nil {
			o.log.Error("Job %s: failed to assemble %s: %v", job.ID, file.Filename, err)
			continue
		}
		assembled = append(assembled, path)
	}

	o.finalize(ctx, job, dir, assembled)
}

func (o *Orchestrator) finalize(ctx context.Context, job *domain.Job, dir string, assembled []string) {
	// Flush whatever progress was pending so consumers see the final counts.
	o.emitter.emitProgress(snapshot(job))

	failed := job.FailedSegments.Load()

	var status domain.JobStatus
	var errText string

	switch {
	case job.Cancelled(ctx):
		status = domain.StatusCancelled
		errText = "cancelled by user"

	case float64(failed) > o.opts.FailureThreshold*float64(job.TotalSegments):
		status = domain.StatusFailed
		errText = fmt.Sprintf("%v: %d of %d segments failed",
			domain.ErrTooManyFailedSegments, failed, job.TotalSegments)
		o.log.Error("Job %s: %s", job.ID, errText)

	default:
		status = domain.StatusCompleted
		o.log.Info("Job %s: completed with %d failed segments", job.ID, failed)
	}

	job.Finish(status, errText)
	o.saveJob(job)

	if status != domain.StatusCompleted {
		return
	}

	completion := domain.Completion{
		JobID:          job.ID,
		Dir:            dir,
		Files:          assembled,
		FailedSegments: failed,
	}
	o.emitter.emitCompletion(completion)

	if o.post != nil {
		if err := o.post.Process(ctx, completion); err != nil {
			o.log.Error("Job %s: post-processing failed: %v", job.ID, err)
		}
	}
}

// downloadFile fans the file's pending segments out under the bounded
// concurrency window. Buffers come back indexed by segment position, which
// is already segment-number order.
func (o *Orchestrator) downloadFile(ctx context.Context, job *domain.Job, file nzb.File, completed map[string]bool) [][]byte {
	buffers := make([][]byte, len(file.Segments))
	window := make(chan struct{}, o.opts.SegmentConcurrency)
	var wg sync.WaitGroup

	for i, seg := range file.Segments {
		if completed[segKey(file.Index, seg.Number)] {
			job.CompletedSegments.Add(1)
			continue
		}

		if job.Cancelled(ctx) {
			break
		}

		window <- struct{}{}
		wg.Add(1)

		go func(idx int, seg nzb.Segment) {
			defer wg.Done()
			defer func() { <-window }()

			data, err := o.fetchSegment(ctx, job, file, seg)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				o.log.Warn("Job %s: segment %s failed permanently: %v", job.ID, seg.MessageID, err)
				job.FailedSegments.Add(1)
				o.saveSegment(job.ID, file.Index, seg.Number, domain.SegmentFailed)
				o.maybeEmitProgress(job)
				return
			}

			buffers[idx] = data
			job.CompletedSegments.Add(1)
			job.DownloadedBytes.Add(int64(len(data)))
			o.saveSegment(job.ID, file.Index, seg.Number, domain.SegmentCompleted)
			o.maybeEmitProgress(job)
		}(i, seg)
	}

	wg.Wait()
	return buffers
}

// orderFiles returns the job's files in download priority order: archives
// first, then media, then everything else. PAR2 volumes go last; they only
// matter to the repair step downstream.
func orderFiles(files []nzb.File) []nzb.File {
	ordered := make([]nzb.File, len(files))
	copy(ordered, files)

	rank := func(f nzb.File) int {
		switch {
		case f.IsArchive:
			return 0
		case f.IsMedia:
			return 1
		case f.IsPar2:
			return 3
		default:
			return 2
		}
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return rank(ordered[i]) < rank(ordered[j])
	})
	return ordered
}

func segKey(fileIndex, number int) string {
	return fmt.Sprintf("%d/%d", fileIndex, number)
}

func (o *Orchestrator) saveJob(job *domain.Job) {
	if err := o.store.SaveJob(job); err != nil {
		o.log.Warn("Job %s: failed to persist: %v", job.ID, err)
	}
}

func (o *Orchestrator) saveSegment(jobID string, fileIndex, number int, status domain.SegmentStatus) {
	if err := o.store.SaveSegmentStatus(jobID, fileIndex, number, status); err != nil {
		o.log.Warn("Job %s: failed to persist segment %d/%d: %v", jobID, fileIndex, number, err)
	}
}
