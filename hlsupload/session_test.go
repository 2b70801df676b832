package hlsupload

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type publishCall struct {
	partial  bool
	segments []Segment
}

type publishRecorder struct {
	mu    sync.Mutex
	calls []publishCall
	err   func(partial bool) error
}

func (r *publishRecorder) publish(ctx context.Context, partial bool, segments []Segment) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, publishCall{partial: partial, segments: segments})
	if r.err != nil {
		if err := r.err(partial); err != nil {
			return "", err
		}
	}
	if partial {
		return "https://media.example.com/playlists/owner/movie/index-partial.m3u8", nil
	}
	return "https://media.example.com/playlists/owner/movie/index.m3u8", nil
}

func (r *publishRecorder) snapshot() []publishCall {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]publishCall(nil), r.calls...)
}

func newTestStateMachine(priorityCount int, publish publishFunc) (*stateMachine, *int) {
	cancelled := 0
	session := newSession("/tmp/source.mp4", "movie", "owner")
	session.Phase = PhaseTranscoding
	sm := newStateMachine(session, priorityCount, func() { cancelled++ }, context.Background(), publish)
	return sm, &cancelled
}

func discovered(sequence int, tier Tier) event {
	return event{kind: evSegmentDiscovered, segment: Segment{
		Sequence: sequence,
		Duration: 10,
		Tier:     tier,
	}}
}

func uploaded(sequence int) event {
	return event{kind: evSegmentUploaded, sequence: sequence, attempts: 1}
}

// allProducersDone reports every component goroutine as finished.
func allProducersDone(sm *stateMachine) {
	sm.events <- event{kind: evTranscodeFinished}
	sm.events <- event{kind: evCatalogDone}
	sm.events <- event{kind: evSchedulerDone}
}

func TestSessionPartialThenFinalPublish(t *testing.T) {
	recorder := &publishRecorder{}
	sm, cancelled := newTestStateMachine(2, recorder.publish)

	sm.events <- discovered(0, TierHigh)
	sm.events <- discovered(1, TierHigh)
	sm.events <- discovered(2, TierNormal)
	sm.events <- discovered(3, TierNormal)

	// prefix is complete only once both priority segments landed,
	// regardless of completion order
	sm.events <- uploaded(1)
	sm.events <- uploaded(0)
	sm.events <- uploaded(2)
	sm.events <- uploaded(3)
	allProducersDone(sm)

	session, err := sm.run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, *cancelled)
	require.Equal(t, PhaseCompleted, session.Phase)
	require.Equal(t, PlaylistFullyPublished, session.PlaylistState)
	require.NotEmpty(t, session.PartialPlaylistURL)
	require.NotEmpty(t, session.PlaylistURL)

	calls := recorder.snapshot()
	require.Len(t, calls, 2)
	require.True(t, calls[0].partial)
	require.Len(t, calls[0].segments, 2)
	require.False(t, calls[1].partial)
	require.Len(t, calls[1].segments, 4)
}

func TestSessionPartialFiresExactlyOnce(t *testing.T) {
	recorder := &publishRecorder{}
	sm, _ := newTestStateMachine(1, recorder.publish)

	sm.events <- discovered(0, TierHigh)
	sm.events <- discovered(1, TierNormal)
	sm.events <- discovered(2, TierNormal)
	sm.events <- uploaded(0)
	sm.events <- uploaded(1)
	sm.events <- uploaded(2)
	allProducersDone(sm)

	_, err := sm.run(context.Background())
	require.NoError(t, err)

	partials := 0
	for _, call := range recorder.snapshot() {
		if call.partial {
			partials++
		}
	}
	require.Equal(t, 1, partials)
}

func TestSessionNoPartialWithoutPriorityPrefix(t *testing.T) {
	recorder := &publishRecorder{}
	sm, _ := newTestStateMachine(0, recorder.publish)

	sm.events <- discovered(0, TierNormal)
	sm.events <- uploaded(0)
	allProducersDone(sm)

	session, err := sm.run(context.Background())
	require.NoError(t, err)
	require.Empty(t, session.PartialPlaylistURL)

	calls := recorder.snapshot()
	require.Len(t, calls, 1)
	require.False(t, calls[0].partial)
}

func TestSessionEncodingFailure(t *testing.T) {
	recorder := &publishRecorder{}
	sm, cancelled := newTestStateMachine(5, recorder.publish)

	sm.events <- discovered(0, TierHigh)
	sm.events <- uploaded(0)
	sm.events <- event{kind: evTranscodeFinished, err: ErrEncodingFailed}
	sm.events <- event{kind: evCatalogDone}
	sm.events <- event{kind: evSchedulerDone}

	session, err := sm.run(context.Background())
	require.ErrorIs(t, err, ErrEncodingFailed)
	require.Equal(t, PhaseFailed, session.Phase)
	require.Equal(t, PlaylistNotPublished, session.PlaylistState)
	require.Equal(t, 1, *cancelled)
	require.Empty(t, recorder.snapshot())
}

func TestSessionSegmentFailureStopsAdmission(t *testing.T) {
	recorder := &publishRecorder{}
	sm, cancelled := newTestStateMachine(5, recorder.publish)

	sm.events <- discovered(0, TierHigh)
	sm.events <- discovered(1, TierHigh)
	sm.events <- discovered(2, TierHigh)
	sm.events <- uploaded(0)
	sm.events <- event{kind: evSegmentFailed, sequence: 1, attempts: 3, err: ErrSegmentExhausted}
	sm.events <- event{kind: evSegmentDropped, sequence: 2, attempts: 1}
	allProducersDone(sm)

	session, err := sm.run(context.Background())
	require.ErrorIs(t, err, ErrSegmentExhausted)
	require.Equal(t, PhaseFailed, session.Phase)
	require.Equal(t, 1, *cancelled)
	require.Equal(t, SegmentFailed, session.Segments[1].Status)
	require.Equal(t, 3, session.Segments[1].Attempts)

	// a retry rejected by the shutdown queue ends up pending, not queued
	require.Equal(t, SegmentPending, session.Segments[2].Status)
	require.Empty(t, recorder.snapshot())
}

func TestSessionFailsWhenNoSegmentsProduced(t *testing.T) {
	recorder := &publishRecorder{}
	sm, _ := newTestStateMachine(5, recorder.publish)

	allProducersDone(sm)

	session, err := sm.run(context.Background())
	require.ErrorIs(t, err, ErrEncodingFailed)
	require.Equal(t, PhaseFailed, session.Phase)
	require.Empty(t, recorder.snapshot())
}

func TestSessionFinalPublishFailure(t *testing.T) {
	recorder := &publishRecorder{
		err: func(partial bool) error {
			if !partial {
				return ErrPublishFailed
			}
			return nil
		},
	}
	sm, cancelled := newTestStateMachine(0, recorder.publish)

	sm.events <- discovered(0, TierNormal)
	sm.events <- uploaded(0)
	allProducersDone(sm)

	session, err := sm.run(context.Background())
	require.ErrorIs(t, err, ErrPublishFailed)
	require.Equal(t, PhaseFailed, session.Phase)
	require.Equal(t, PlaylistNotPublished, session.PlaylistState)
	require.Equal(t, 1, *cancelled)
}

func TestSessionCancellation(t *testing.T) {
	recorder := &publishRecorder{}
	sm, cancelled := newTestStateMachine(5, recorder.publish)

	sm.events <- discovered(0, TierHigh)
	allProducersDone(sm)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	session, err := sm.run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, PhaseFailed, session.Phase)
	require.Equal(t, 1, *cancelled)
	require.Empty(t, recorder.snapshot())
}
