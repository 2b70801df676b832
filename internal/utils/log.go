package utils

import (
	"strings"

	"github.com/rs/zerolog"
)

// LogWriterCtx forwards writes line by line to a zerolog logger.
// Used to stream diagnostic output of external processes.
type LogWriterCtx struct {
	logger zerolog.Logger
}

func LogWriter(l zerolog.Logger) *LogWriterCtx {
	return &LogWriterCtx{
		logger: l,
	}
}

func (l LogWriterCtx) Write(p []byte) (n int, err error) {
	l.logger.Warn().Msg(strings.TrimSpace(string(p)))
	return len(p), nil
}
