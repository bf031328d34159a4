package domain

import "errors"

// ErrTooManyFailedSegments marks a job whose failed-segment count crossed the
// configured threshold. This is the only segment-level failure that surfaces
// to the caller as a job failure.
var ErrTooManyFailedSegments = errors.New("too many failed segments")

// ErrSegmentExhausted indicates a single segment failed on every provider
// across every retry pass. Recorded per segment, never propagated.
var ErrSegmentExhausted = errors.New("segment exhausted all providers and retries")

// ErrJobNotFound indicates an unknown job ID.
var ErrJobNotFound = errors.New("job not found")

// ErrJobFinished indicates a cancel request against a job that already
// reached a terminal state.
var ErrJobFinished = errors.New("job already finished")
