package hlsupload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKeyFor(sequence int) string {
	return mediaKey("media", "owner", "movie", sequence)
}

func writeSegmentFile(t *testing.T, dir string, sequence int) *Segment {
	t.Helper()

	name := fmt.Sprintf("%s-%05d.ts", segmentPrefix, sequence)
	localPath := path.Join(dir, name)
	require.NoError(t, os.WriteFile(localPath, []byte(fmt.Sprintf("segment %d", sequence)), 0644))

	tier := TierNormal
	if sequence < 2 {
		tier = TierHigh
	}

	return &Segment{
		Sequence:  sequence,
		LocalPath: localPath,
		Duration:  10,
		Tier:      tier,
		Status:    SegmentQueued,
	}
}

func runScheduler(t *testing.T, uploader *fakeUploader, segments []*Segment, workers, maxAttempts int) []event {
	t.Helper()

	queue := newSegmentQueue()
	for _, segment := range segments {
		queue.Enqueue(segment)
	}
	queue.Close()

	events := make(chan event, 256)
	s := newScheduler(queue, uploader, events, "media-bucket", testKeyFor, workers, maxAttempts)
	s.run(context.Background(), context.Background())

	var collected []event
	for {
		select {
		case ev := <-events:
			collected = append(collected, ev)
		default:
			return collected
		}
	}
}

func TestSchedulerUploadsAllSegments(t *testing.T) {
	dir := t.TempDir()
	uploader := newFakeUploader()

	var segments []*Segment
	for i := 0; i < 5; i++ {
		segments = append(segments, writeSegmentFile(t, dir, i))
	}

	events := runScheduler(t, uploader, segments, 3, 3)

	uploaded := 0
	for _, ev := range events {
		if ev.kind == evSegmentUploaded {
			uploaded++
		}
	}
	require.Equal(t, 5, uploaded)
	require.Equal(t, evSchedulerDone, events[len(events)-1].kind)

	for i := 0; i < 5; i++ {
		record, ok := uploader.find(testKeyFor(i))
		require.True(t, ok, "segment %d not stored", i)
		require.Equal(t, "media-bucket", record.bucket)
		require.Equal(t, segmentContentType, record.contentType)
		require.Equal(t, []byte(fmt.Sprintf("segment %d", i)), record.body)
	}
}

func TestSchedulerRetriesTransientFailures(t *testing.T) {
	dir := t.TempDir()
	uploader := newFakeUploader()
	uploader.fail = func(key string, attempt int) error {
		if key == testKeyFor(0) && attempt <= 2 {
			return &transientFailure{msg: "connection reset"}
		}
		return nil
	}

	segments := []*Segment{writeSegmentFile(t, dir, 0)}
	events := runScheduler(t, uploader, segments, 1, 3)

	var requeues, uploads int
	var finalAttempts int
	for _, ev := range events {
		switch ev.kind {
		case evSegmentRequeued:
			requeues++
		case evSegmentUploaded:
			uploads++
			finalAttempts = ev.attempts
		}
	}

	require.Equal(t, 2, requeues)
	require.Equal(t, 1, uploads)
	require.Equal(t, 3, finalAttempts)
	require.Equal(t, 3, uploader.attempts(testKeyFor(0)))
}

func TestSchedulerExhaustsRetryBudget(t *testing.T) {
	dir := t.TempDir()
	uploader := newFakeUploader()
	uploader.fail = func(key string, attempt int) error {
		return &transientFailure{msg: "service unavailable"}
	}

	segments := []*Segment{writeSegmentFile(t, dir, 0)}
	events := runScheduler(t, uploader, segments, 1, 2)

	var failed *event
	for i := range events {
		if events[i].kind == evSegmentFailed {
			failed = &events[i]
		}
	}

	require.NotNil(t, failed)
	require.ErrorIs(t, failed.err, ErrSegmentExhausted)
	require.Equal(t, 2, failed.attempts)
}

func TestSchedulerPermanentFailureIsNotRetried(t *testing.T) {
	dir := t.TempDir()
	uploader := newFakeUploader()
	uploader.fail = func(key string, attempt int) error {
		return errors.New("access denied")
	}

	segments := []*Segment{writeSegmentFile(t, dir, 0)}
	events := runScheduler(t, uploader, segments, 1, 3)

	var failed *event
	for i := range events {
		if events[i].kind == evSegmentFailed {
			failed = &events[i]
		}
	}

	require.NotNil(t, failed)
	require.Equal(t, 1, failed.attempts)
	require.Equal(t, 1, uploader.attempts(testKeyFor(0)))
}

func TestSchedulerReportsDroppedSegmentOnShutdown(t *testing.T) {
	dir := t.TempDir()
	segment := writeSegmentFile(t, dir, 0)

	queue := newSegmentQueue()
	queue.Enqueue(segment)
	queue.Close()

	uploader := newFakeUploader()
	uploader.fail = func(key string, attempt int) error {
		// a fatal condition elsewhere shuts the queue down mid-attempt
		queue.Shutdown()
		return &transientFailure{msg: "connection reset"}
	}

	events := make(chan event, 16)
	s := newScheduler(queue, uploader, events, "media-bucket", testKeyFor, 1, 3)
	s.run(context.Background(), context.Background())

	var dropped *event
	for done := false; !done; {
		select {
		case ev := <-events:
			if ev.kind == evSegmentDropped {
				dropped = &ev
			}
			require.NotEqual(t, evSegmentUploaded, ev.kind)
		default:
			done = true
		}
	}

	require.NotNil(t, dropped)
	require.Equal(t, 0, dropped.sequence)
	require.Equal(t, 1, dropped.attempts)
	require.Equal(t, SegmentPending, segment.Status)
}

func TestSchedulerDequeuesHighTierFirst(t *testing.T) {
	dir := t.TempDir()
	uploader := newFakeUploader()

	// enqueue in reverse so ordering comes from the queue, not arrival
	segments := []*Segment{
		writeSegmentFile(t, dir, 3),
		writeSegmentFile(t, dir, 2),
		writeSegmentFile(t, dir, 1),
		writeSegmentFile(t, dir, 0),
	}

	// single worker makes dequeue order observable as upload order
	runScheduler(t, uploader, segments, 1, 3)

	require.Equal(t, []string{
		testKeyFor(0),
		testKeyFor(1),
		testKeyFor(2),
		testKeyFor(3),
	}, uploader.keys())
}
