package hlsupload

import "errors"

var (
	// ErrToolUnavailable means the encoder binary is absent from the
	// environment. Fatal, never retried.
	ErrToolUnavailable = errors.New("encoder tool unavailable")

	// ErrEncodingFailed means the encoding process exited non-zero.
	ErrEncodingFailed = errors.New("encoding failed")

	// ErrSegmentExhausted means a single segment ran out of upload attempts.
	ErrSegmentExhausted = errors.New("segment upload attempts exhausted")

	// ErrPublishFailed means a playlist could not be uploaded within
	// the publish attempt budget.
	ErrPublishFailed = errors.New("playlist publish failed")

	// ErrWorkspace means a local filesystem failure in the session workspace.
	ErrWorkspace = errors.New("workspace failure")
)

// TransientError is implemented by storage errors worth retrying.
type TransientError interface {
	error
	Transient() bool
}

func isTransient(err error) bool {
	var te TransientError
	return errors.As(err, &te) && te.Transient()
}
