package hlsupload

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type eventKind int

const (
	evSegmentDiscovered eventKind = iota
	evSegmentUploading
	evSegmentUploaded
	evSegmentRequeued
	evSegmentFailed
	evSegmentDropped
	evTranscodeFinished
	evSchedulerDone
	evCatalogDone
	evPublishDone
	evCancelled
)

// event is the one-way report other components send to the state
// machine. Nothing outside the state machine mutates the session.
type event struct {
	kind     eventKind
	segment  Segment
	sequence int
	attempts int
	err      error
	partial  bool
	url      string
}

func newSession(sourcePath, movieID, ownerSubpath string) *Session {
	return &Session{
		ID:            uuid.NewString(),
		MovieID:       movieID,
		OwnerSubpath:  ownerSubpath,
		SourcePath:    sourcePath,
		Phase:         PhaseInitializing,
		PlaylistState: PlaylistNotPublished,
	}
}

type publishFunc func(ctx context.Context, partial bool, segments []Segment) (string, error)

// stateMachine is the only writer of the session aggregate. It
// consumes outcome events from the transcoder, catalog, scheduler and
// publisher, decides when playlists may be published, and produces
// the terminal session snapshot.
type stateMachine struct {
	logger  zerolog.Logger
	session *Session

	events chan event
	cancel context.CancelFunc // stops admission of new work

	publishCtx context.Context
	publish    publishFunc

	priorityCount int

	transcodeDone    bool
	schedulerDone    bool
	catalogDone      bool
	partialRequested bool
	finalRequested   bool
	publishing       int

	fatal error
}

func newStateMachine(session *Session, priorityCount int, cancel context.CancelFunc, publishCtx context.Context, publish publishFunc) *stateMachine {
	return &stateMachine{
		logger:  log.With().Str("module", "hlsupload").Str("submodule", "session").Str("session", session.ID).Logger(),
		session: session,

		events: make(chan event, 64),
		cancel: cancel,

		publishCtx: orBackground(publishCtx),
		publish:    publish,

		priorityCount: priorityCount,
	}
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// failEarly records a failure that happened before the pipeline was
// running. Only valid while no component goroutine has been started.
func (sm *stateMachine) failEarly(err error) {
	sm.session.Errors = append(sm.session.Errors, err.Error())
	sm.session.Phase = PhaseFailed
	sm.fatal = err
}

// run consumes events until the session outcome is decided and every
// producer goroutine has reported in. Keeping the channel drained
// until then guarantees no producer is left behind blocked on a send,
// even when the outcome is already known.
func (sm *stateMachine) run(ctx context.Context) (*Session, error) {
	done := ctx.Done()
	for !sm.terminal() {
		select {
		case ev := <-sm.events:
			sm.handle(ev)
		case <-done:
			done = nil
			sm.handle(event{kind: evCancelled, err: ctx.Err()})
		}
	}

	if sm.fatal != nil {
		sm.logger.Warn().Err(sm.fatal).Msg("session failed")
		return sm.session, sm.fatal
	}

	sm.logger.Info().
		Int("segments", len(sm.session.Segments)).
		Str("playlist", sm.session.PlaylistURL).
		Msg("session completed")
	return sm.session, nil
}

func (sm *stateMachine) terminal() bool {
	if !sm.transcodeDone || !sm.schedulerDone || !sm.catalogDone || sm.publishing != 0 {
		return false
	}
	return sm.session.Phase == PhaseCompleted || sm.fatal != nil
}

func (sm *stateMachine) handle(ev event) {
	switch ev.kind {
	case evSegmentDiscovered:
		segment := ev.segment
		segment.Status = SegmentQueued
		sm.session.Segments = append(sm.session.Segments, &segment)
		if sm.session.Phase == PhaseTranscoding {
			sm.session.Phase = PhaseUploading
		}

	case evSegmentUploading:
		sm.updateSegment(ev.sequence, SegmentUploading, ev.attempts)

	case evSegmentRequeued:
		sm.updateSegment(ev.sequence, SegmentQueued, ev.attempts)

	case evSegmentUploaded:
		sm.updateSegment(ev.sequence, SegmentUploaded, ev.attempts)
		sm.maybePublishPartial()
		sm.maybeFinalize()

	case evSegmentFailed:
		sm.updateSegment(ev.sequence, SegmentFailed, ev.attempts)
		sm.fail(ev.err)

	case evSegmentDropped:
		sm.updateSegment(ev.sequence, SegmentPending, ev.attempts)

	case evTranscodeFinished:
		sm.transcodeDone = true
		if ev.err != nil {
			sm.fail(ev.err)
			return
		}
		sm.maybeFinalize()

	case evSchedulerDone:
		sm.schedulerDone = true
		sm.maybeFinalize()

	case evCatalogDone:
		sm.catalogDone = true

	case evCancelled:
		if sm.session.Phase != PhaseCompleted {
			sm.fail(ev.err)
		}

	case evPublishDone:
		sm.publishing--
		if ev.err != nil {
			sm.fail(ev.err)
			return
		}
		if ev.partial {
			sm.session.PartialPlaylistURL = ev.url
			if sm.session.PlaylistState == PlaylistNotPublished {
				sm.session.PlaylistState = PlaylistPartiallyPublished
			}
			sm.logger.Info().Str("url", ev.url).Msg("partial playlist published")
			return
		}
		sm.session.PlaylistState = PlaylistFullyPublished
		sm.session.PlaylistURL = ev.url
		if sm.fatal == nil {
			sm.session.Phase = PhaseCompleted
		}
	}
}

func (sm *stateMachine) updateSegment(sequence int, status SegmentStatus, attempts int) {
	for _, segment := range sm.session.Segments {
		if segment.Sequence == sequence {
			segment.Status = status
			segment.Attempts = attempts
			return
		}
	}
	sm.logger.Warn().Int("sequence", sequence).Msg("outcome for unknown segment")
}

// maybePublishPartial fires the one-shot early publish once the whole
// high priority prefix is durable. Completion order of workers is not
// ordered, so the full prefix is checked every time.
func (sm *stateMachine) maybePublishPartial() {
	if sm.partialRequested || sm.fatal != nil || sm.priorityCount <= 0 {
		return
	}
	if len(sm.session.Segments) < sm.priorityCount {
		return
	}
	for _, segment := range sm.session.Segments[:sm.priorityCount] {
		if segment.Status != SegmentUploaded {
			return
		}
	}

	sm.partialRequested = true
	sm.requestPublish(true, sm.snapshotSegments(sm.priorityCount))
}

func (sm *stateMachine) maybeFinalize() {
	if sm.finalRequested || sm.fatal != nil || !sm.transcodeDone || !sm.schedulerDone {
		return
	}

	if len(sm.session.Segments) == 0 {
		sm.fail(fmt.Errorf("%w: no segments produced", ErrEncodingFailed))
		return
	}

	for _, segment := range sm.session.Segments {
		if segment.Status != SegmentUploaded {
			// scheduler is done, so a non-uploaded segment means a
			// failure event is on its way
			return
		}
	}

	sm.finalRequested = true
	sm.session.Phase = PhaseFinalizing
	sm.requestPublish(false, sm.snapshotSegments(len(sm.session.Segments)))
}

func (sm *stateMachine) requestPublish(partial bool, segments []Segment) {
	sm.publishing++
	go func() {
		url, err := sm.publish(sm.publishCtx, partial, segments)
		sm.events <- event{kind: evPublishDone, partial: partial, url: url, err: err}
	}()
}

func (sm *stateMachine) snapshotSegments(n int) []Segment {
	snapshot := make([]Segment, 0, n)
	for _, segment := range sm.session.Segments[:n] {
		snapshot = append(snapshot, *segment)
	}
	return snapshot
}

func (sm *stateMachine) fail(err error) {
	sm.session.Errors = append(sm.session.Errors, err.Error())
	if sm.fatal != nil {
		return
	}

	sm.fatal = err
	sm.session.Phase = PhaseFailed
	sm.cancel()
}
