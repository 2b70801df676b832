package hlsupload

import (
	"context"
	"io"
)

// Tier is the upload priority class of a segment. Lower values are
// drained from the queue first.
type Tier int

const (
	TierHigh Tier = iota
	TierNormal
)

func (t Tier) String() string {
	if t == TierHigh {
		return "high"
	}
	return "normal"
}

type SegmentStatus string

const (
	SegmentPending   SegmentStatus = "pending"
	SegmentQueued    SegmentStatus = "queued"
	SegmentUploading SegmentStatus = "uploading"
	SegmentUploaded  SegmentStatus = "uploaded"
	SegmentFailed    SegmentStatus = "failed"
)

// Segment is one fixed-duration slice of encoded media.
type Segment struct {
	Sequence  int           `json:"sequence"`
	LocalPath string        `json:"-"`
	Duration  float64       `json:"duration"`
	Tier      Tier          `json:"-"`
	Status    SegmentStatus `json:"status"`
	Attempts  int           `json:"attempts"`
}

type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhaseTranscoding  Phase = "transcoding"
	PhaseUploading    Phase = "uploading"
	PhaseFinalizing   Phase = "finalizing"
	PhaseCompleted    Phase = "completed"
	PhaseFailed       Phase = "failed"
)

type PlaylistState string

const (
	PlaylistNotPublished       PlaylistState = "not-published"
	PlaylistPartiallyPublished PlaylistState = "partially-published"
	PlaylistFullyPublished     PlaylistState = "fully-published"
)

// Session is the unit of work for one source file and the terminal
// result handed back to the caller.
type Session struct {
	ID           string `json:"id"`
	MovieID      string `json:"movie_id"`
	OwnerSubpath string `json:"owner_subpath"`
	SourcePath   string `json:"source_path"`

	Probe *ProbeData `json:"probe,omitempty"`

	Segments []*Segment `json:"segments"`

	Phase         Phase         `json:"phase"`
	PlaylistState PlaylistState `json:"playlist_state"`

	PlaylistURL        string `json:"playlist_url,omitempty"`
	PartialPlaylistURL string `json:"partial_playlist_url,omitempty"`

	Errors []string `json:"errors,omitempty"`
}

type VideoProfile struct {
	Width   int
	Height  int
	Bitrate int // in kilobytes
}

type AudioProfile struct {
	Bitrate int // in kilobytes
}

type Config struct {
	SegmentDuration      int
	ConcurrentUploads    int
	PrioritySegmentCount int
	MaxUploadAttempts    int
	PublishAttempts      int

	TempDir string

	MediaBucket        string
	PlaylistBucket     string
	MediaUploadPath    string
	PlaylistUploadPath string
	WebsiteDomain      string

	VideoProfile *VideoProfile
	AudioProfile *AudioProfile

	FFmpegBinary  string
	FFprobeBinary string
}

// Uploader performs a durable single-object put.
type Uploader interface {
	Put(ctx context.Context, bucket, key string, body io.Reader, contentType string) error
}

type Manager interface {
	UploadMovie(ctx context.Context, sourcePath, movieID, ownerSubpath string) (*Session, error)
}
