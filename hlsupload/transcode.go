package hlsupload

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/anuvgupta/media-library-source-worker-sub001/internal/metrics"
	"github.com/anuvgupta/media-library-source-worker-sub001/internal/utils"
)

const segmentPrefix = "segment"

type TranscodeConfig struct {
	InputFilePath   string // Source video input.
	OutputDirPath   string // Segments and index output path.
	SegmentDuration int    // Target segment length in seconds.

	VideoProfile *VideoProfile
	AudioProfile *AudioProfile
}

// TranscodeProcess supervises a running encoder. It communicates via
// its exit code and the files it writes, never as a library call.
type TranscodeProcess struct {
	logger  zerolog.Logger
	cmd     *exec.Cmd
	started time.Time
}

// StartTranscode launches ffmpeg segmenting the source into numbered
// mpegts files plus a local m3u8 index. The index is rewritten as each
// segment is completed, so segments can be consumed while the encode
// is still running.
func StartTranscode(ctx context.Context, ffmpegBinary string, config TranscodeConfig) (*TranscodeProcess, error) {
	if _, err := exec.LookPath(ffmpegBinary); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrToolUnavailable, ffmpegBinary)
	}

	logger := log.With().Str("module", "hlsupload").Str("submodule", "transcode").Logger()

	args := []string{
		"-loglevel", "warning",
		"-i", config.InputFilePath,
		"-sn", // No subtitles
	}

	// Video specs
	if profile := config.VideoProfile; profile != nil {
		var scale string
		if profile.Width >= profile.Height {
			scale = fmt.Sprintf("scale=-2:%d", profile.Height)
		} else {
			scale = fmt.Sprintf("scale=%d:-2", profile.Width)
		}

		args = append(args, []string{
			"-vf", scale,
			"-c:v", "libx264",
			"-preset", "faster",
			"-profile:v", "high",
			"-level:v", "4.0",
			"-b:v", fmt.Sprintf("%dk", profile.Bitrate),
			"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", config.SegmentDuration),
		}...)
	} else {
		args = append(args, []string{
			"-c:v", "copy",
		}...)
	}

	// Audio specs
	if profile := config.AudioProfile; profile != nil {
		args = append(args, []string{
			"-c:a", "aac",
			"-b:a", fmt.Sprintf("%dk", profile.Bitrate),
		}...)
	} else {
		args = append(args, []string{
			"-c:a", "copy",
		}...)
	}

	// Segmenting specs
	args = append(args, []string{
		"-f", "segment",
		"-segment_time", fmt.Sprintf("%d", config.SegmentDuration),
		"-segment_format", "mpegts",
		"-segment_start_number", "0",
		"-segment_list_type", "m3u8",
		"-segment_list_flags", "+live", // Index is updated after every finished segment.
		"-segment_list", path.Join(config.OutputDirPath, indexFileName),
		path.Join(config.OutputDirPath, fmt.Sprintf("%s-%%05d.ts", segmentPrefix)),
	}...)

	cmd := exec.CommandContext(ctx, ffmpegBinary, args...)
	cmd.Stderr = utils.LogWriter(logger)

	// create a new process group
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrToolUnavailable, ffmpegBinary)
		}
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}

	logger.Info().
		Str("input", config.InputFilePath).
		Str("output", config.OutputDirPath).
		Int("segment-duration", config.SegmentDuration).
		Msg("encoder process started")

	return &TranscodeProcess{
		logger:  logger,
		cmd:     cmd,
		started: time.Now(),
	}, nil
}

// Wait blocks until the encoder exits and classifies the outcome.
func (p *TranscodeProcess) Wait() error {
	err := p.cmd.Wait()

	elapsed := time.Since(p.started)
	metrics.TranscodeDuration.Observe(elapsed.Seconds())

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			p.logger.Warn().Int("code", exitErr.ExitCode()).Msg("encoder process exited with error")
			return fmt.Errorf("%w: exit code %d", ErrEncodingFailed, exitErr.ExitCode())
		}
		return fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}

	p.logger.Info().Str("duration", elapsed.String()).Msg("encoder process finished")
	return nil
}
