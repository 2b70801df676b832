package hlsupload

import (
	"fmt"
	"os"
	"path"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const indexFileName = "index.m3u8"

// Workspace owns a private working directory for one upload session.
type Workspace struct {
	logger zerolog.Logger
	dir    string
}

func NewWorkspace(tempDir, sessionID string) (*Workspace, error) {
	if tempDir != "" {
		if err := os.MkdirAll(tempDir, 0755); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrWorkspace, err)
		}
	}

	dir, err := os.MkdirTemp(tempDir, "hlsupload-"+sessionID+"-")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkspace, err)
	}

	return &Workspace{
		logger: log.With().Str("module", "hlsupload").Str("submodule", "workspace").Str("dir", dir).Logger(),
		dir:    dir,
	}, nil
}

func (w *Workspace) Dir() string {
	return w.dir
}

// IndexPath is where the encoder writes the local segment index.
func (w *Workspace) IndexPath() string {
	return path.Join(w.dir, indexFileName)
}

// Cleanup removes the directory and everything in it. Safe to call on
// every exit path; failures are logged and reported but never block
// teardown.
func (w *Workspace) Cleanup() error {
	if err := os.RemoveAll(w.dir); err != nil {
		w.logger.Err(err).Msg("error while removing workspace")
		return fmt.Errorf("%w: %v", ErrWorkspace, err)
	}

	w.logger.Debug().Msg("workspace removed")
	return nil
}
