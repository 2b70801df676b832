package hlsupload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog/log"
)

type ProbeData struct {
	Width    int           `json:"width,omitempty"`
	Height   int           `json:"height,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ProbeSource runs ffprobe on the source file to verify it is readable
// media and to obtain its duration and dimensions.
func ProbeSource(ctx context.Context, ffprobeBinary string, inputFilePath string) (*ProbeData, error) {
	if _, err := exec.LookPath(ffprobeBinary); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrToolUnavailable, ffprobeBinary)
	}

	args := []string{
		"-v", "error", // Hide debug information
		"-show_entries", "format=duration",
		"-show_entries", "stream=width,height",
		"-select_streams", "v", // Video stream only, we're not interested in audio

		"-of", "json",
		inputFilePath,
	}

	cmd := exec.CommandContext(ctx, ffprobeBinary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		log.Warn().Str("stderr", stderr.String()).Msg("ffprobe failed")
		return nil, fmt.Errorf("%w: probe: %v", ErrEncodingFailed, err)
	}

	out := struct {
		Streams []struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}{}

	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("%w: probe output: %v", ErrEncodingFailed, err)
	}

	data := &ProbeData{}

	if len(out.Streams) > 0 {
		data.Width = out.Streams[0].Width
		data.Height = out.Streams[0].Height
	}

	if out.Format.Duration != "" {
		duration, err := time.ParseDuration(out.Format.Duration + "s")
		if err != nil {
			return nil, fmt.Errorf("%w: probe duration: %v", ErrEncodingFailed, err)
		}
		data.Duration = duration
	}

	return data, nil
}
