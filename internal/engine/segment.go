package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/avast/retry-go"

	"github.com/sergeschumacher/hermes/internal/domain"
	"github.com/sergeschumacher/hermes/internal/nntp"
	"github.com/sergeschumacher/hermes/internal/nzb"
	"github.com/sergeschumacher/hermes/internal/yenc"
)

// errCRCMismatch is the soft failure: the article arrived but decoded to the
// wrong checksum. It triggers provider fallback, never a job error.
var errCRCMismatch = errors.New("crc32 mismatch")

// fetchSegment runs the retry policy for one segment: the outer loop is
// retry passes (retry-go, with backoff between passes), the inner loop walks
// every provider in priority order. A pass fails only when every provider
// failed; a 430 or CRC mismatch on one provider just falls through to the
// next within the same pass.
func (o *Orchestrator) fetchSegment(ctx context.Context, job *domain.Job, file nzb.File, seg nzb.Segment) ([]byte, error) {
	var data []byte

	err := retry.Do(
		func() error {
			var lastErr error

			for _, pool := range o.registry.Pools() {
				if job.Cancelled(ctx) {
					return retry.Unrecoverable(ctx.Err())
				}

				b, err := o.tryProvider(ctx, pool, file, seg)
				if err != nil {
					o.log.Debug("Segment %s: provider %s: %v", seg.MessageID, pool.Provider().ID, err)
					lastErr = err
					continue
				}

				data = b
				return nil
			}

			if lastErr == nil {
				lastErr = domain.ErrSegmentExhausted
			}
			return fmt.Errorf("all providers failed for %s: %w", seg.MessageID, lastErr)
		},
		retry.Context(ctx),
		retry.Attempts(uint(o.opts.RetryPasses)),
		retry.Delay(o.opts.RetryDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		// The unrecoverable wrapper hides the cancellation error from
		// errors.Is, so ask the context directly.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrSegmentExhausted, err)
	}

	return data, nil
}

// tryProvider is one attempt against one provider: acquire, fetch, decode,
// verify. The connection is released in every path, success or not.
func (o *Orchestrator) tryProvider(ctx context.Context, pool *nntp.Pool, file nzb.File, seg nzb.Segment) ([]byte, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer pool.Release(conn)

	// Group selection is advisory for BODY-by-message-id; a refusal is not
	// worth failing the attempt over.
	if len(file.Groups) > 0 && conn.CurrentGroup() != file.Groups[0] {
		if err := conn.Group(file.Groups[0]); err != nil {
			o.log.Debug("Segment %s: group %s: %v", seg.MessageID, file.Groups[0], err)
		}
	}

	raw, err := conn.Body(seg.MessageID)
	if err != nil {
		return nil, err
	}

	decoded, err := yenc.Decode(raw)
	if err != nil {
		return nil, err
	}

	if decoded.CRC == yenc.CRCInvalid {
		return nil, fmt.Errorf("%w: expected %08x got %08x",
			errCRCMismatch, decoded.ExpectedCRC, decoded.ActualCRC)
	}

	return decoded.Data, nil
}
