package hlsupload

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/anuvgupta/media-library-source-worker-sub001/internal/metrics"
)

const segmentContentType = "video/mp2t"

// scheduler drains the priority queue with a fixed pool of workers and
// performs the durable write of each segment. Transient failures are
// requeued with the attempt counter incremented; exhausting the budget
// is fatal for the session.
type scheduler struct {
	logger zerolog.Logger

	queue    *segmentQueue
	uploader Uploader
	events   chan<- event

	bucket      string
	keyFor      func(sequence int) string
	workers     int
	maxAttempts int
}

func newScheduler(queue *segmentQueue, uploader Uploader, events chan<- event, bucket string, keyFor func(int) string, workers, maxAttempts int) *scheduler {
	return &scheduler{
		logger: log.With().Str("module", "hlsupload").Str("submodule", "scheduler").Logger(),

		queue:    queue,
		uploader: uploader,
		events:   events,

		bucket:      bucket,
		keyFor:      keyFor,
		workers:     workers,
		maxAttempts: maxAttempts,
	}
}

// run blocks until the queue is closed and drained, then reports
// completion. admissionCtx only gates the hand-out of new work;
// uploads already in flight use uploadCtx and are never aborted by a
// session failure.
func (s *scheduler) run(admissionCtx, uploadCtx context.Context) {
	// wake blocked workers and drop queued work when admission stops
	stop := context.AfterFunc(admissionCtx, func() {
		s.queue.Shutdown()
	})
	defer stop()

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			s.work(uploadCtx, worker)
		}(i)
	}
	wg.Wait()

	s.events <- event{kind: evSchedulerDone}
}

func (s *scheduler) work(ctx context.Context, worker int) {
	logger := s.logger.With().Int("worker", worker).Logger()

	for {
		segment, ok := s.queue.Dequeue()
		if !ok {
			return
		}

		segment.Status = SegmentUploading
		segment.Attempts++
		s.events <- event{kind: evSegmentUploading, sequence: segment.Sequence, attempts: segment.Attempts}

		err := s.upload(ctx, segment)
		if err == nil {
			segment.Status = SegmentUploaded
			s.queue.Done()
			metrics.SegmentsUploaded.Inc()
			logger.Debug().Int("sequence", segment.Sequence).Int("attempts", segment.Attempts).Msg("segment uploaded")
			s.events <- event{kind: evSegmentUploaded, sequence: segment.Sequence, attempts: segment.Attempts}
			continue
		}

		if isTransient(err) && segment.Attempts < s.maxAttempts {
			metrics.UploadRetries.Inc()
			logger.Warn().Err(err).Int("sequence", segment.Sequence).Int("attempts", segment.Attempts).Msg("transient upload failure, requeueing")
			s.events <- event{kind: evSegmentRequeued, sequence: segment.Sequence, attempts: segment.Attempts}

			segment.Status = SegmentQueued
			if s.queue.Requeue(segment) {
				continue
			}
			// queue was shut down while requeueing, session is
			// already failing
			segment.Status = SegmentPending
			s.events <- event{kind: evSegmentDropped, sequence: segment.Sequence, attempts: segment.Attempts}
			continue
		}

		segment.Status = SegmentFailed
		s.queue.Done()
		metrics.UploadFailures.Inc()
		if isTransient(err) {
			err = fmt.Errorf("%w: segment %d after %d attempts: %v", ErrSegmentExhausted, segment.Sequence, segment.Attempts, err)
		}
		logger.Err(err).Int("sequence", segment.Sequence).Int("attempts", segment.Attempts).Msg("segment failed permanently")
		s.events <- event{kind: evSegmentFailed, sequence: segment.Sequence, attempts: segment.Attempts, err: err}
	}
}

func (s *scheduler) upload(ctx context.Context, segment *Segment) error {
	file, err := os.Open(segment.LocalPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWorkspace, err)
	}
	defer file.Close()

	metrics.ActiveUploads.Inc()
	defer metrics.ActiveUploads.Dec()

	return s.uploader.Put(ctx, s.bucket, s.keyFor(segment.Sequence), file, segmentContentType)
}
