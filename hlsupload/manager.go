package hlsupload

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// transcodeProc is the supervised encoder handle the manager waits on.
type transcodeProc interface {
	Wait() error
}

type ManagerCtx struct {
	logger   zerolog.Logger
	config   Config
	uploader Uploader

	// replaceable in tests
	probe          func(ctx context.Context, binary, input string) (*ProbeData, error)
	startTranscode func(ctx context.Context, binary string, config TranscodeConfig) (transcodeProc, error)
}

func New(config Config, uploader Uploader) *ManagerCtx {
	return &ManagerCtx{
		logger:   log.With().Str("module", "hlsupload").Str("submodule", "manager").Logger(),
		config:   config,
		uploader: uploader,

		probe: ProbeSource,
		startTranscode: func(ctx context.Context, binary string, config TranscodeConfig) (transcodeProc, error) {
			return StartTranscode(ctx, binary, config)
		},
	}
}

// UploadMovie runs one full session: transcode the source into
// segments, upload them by priority, publish the partial and final
// playlists, and tear the workspace down. It blocks until the session
// is terminal and always returns the session snapshot, together with
// the first fatal cause if the session failed.
func (m *ManagerCtx) UploadMovie(ctx context.Context, sourcePath, movieID, ownerSubpath string) (*Session, error) {
	session := newSession(sourcePath, movieID, ownerSubpath)

	logger := m.logger.With().Str("session", session.ID).Str("movie", movieID).Logger()
	logger.Info().Str("source", sourcePath).Msg("upload session starting")

	admissionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sm := newStateMachine(session, m.config.PrioritySegmentCount, cancel, context.WithoutCancel(ctx), nil)

	if movieID == "" || ownerSubpath == "" {
		err := fmt.Errorf("movie id and owner subpath are required")
		sm.failEarly(err)
		return session, err
	}

	if _, err := os.Stat(sourcePath); err != nil {
		err = fmt.Errorf("source file not readable: %w", err)
		sm.failEarly(err)
		return session, err
	}

	probe, err := m.probe(ctx, m.config.FFprobeBinary, sourcePath)
	if err != nil {
		sm.failEarly(err)
		return session, err
	}
	session.Probe = probe
	logger.Info().
		Str("duration", probe.Duration.String()).
		Int("width", probe.Width).
		Int("height", probe.Height).
		Msg("source probed")

	workspace, err := NewWorkspace(m.config.TempDir, session.ID)
	if err != nil {
		sm.failEarly(err)
		return session, err
	}
	defer func() {
		if err := workspace.Cleanup(); err != nil {
			session.Errors = append(session.Errors, err.Error())
		}
	}()

	process, err := m.startTranscode(admissionCtx, m.config.FFmpegBinary, TranscodeConfig{
		InputFilePath:   sourcePath,
		OutputDirPath:   workspace.Dir(),
		SegmentDuration: m.config.SegmentDuration,
		VideoProfile:    m.config.VideoProfile,
		AudioProfile:    m.config.AudioProfile,
	})
	if err != nil {
		sm.failEarly(err)
		return session, err
	}
	session.Phase = PhaseTranscoding

	sm.publish = newPublisher(m.config, m.uploader, movieID, ownerSubpath, workspace.IndexPath()).publish

	queue := newSegmentQueue()
	encodeDone := make(chan struct{})

	catalog := newCatalog(workspace.Dir(), m.config.PrioritySegmentCount, queue, sm.events, encodeDone)
	go catalog.run(admissionCtx)

	keyFor := func(sequence int) string {
		return mediaKey(m.config.MediaUploadPath, ownerSubpath, movieID, sequence)
	}
	scheduler := newScheduler(queue, m.uploader, sm.events, m.config.MediaBucket, keyFor, m.config.ConcurrentUploads, m.config.MaxUploadAttempts)
	go scheduler.run(admissionCtx, context.WithoutCancel(ctx))

	go func() {
		err := process.Wait()
		close(encodeDone)
		sm.events <- event{kind: evTranscodeFinished, err: err}
	}()

	// external cancellation is observed by the state machine itself:
	// it stops admission of new work but lets in-flight uploads
	// finish before teardown
	return sm.run(ctx)
}
