package hlsupload

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/grafov/m3u8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	playlistContentType = "application/vnd.apple.mpegurl"

	finalPlaylistName   = "index.m3u8"
	partialPlaylistName = "index-partial.m3u8"
)

// publisher rewrites the locally generated index into publishable
// playlists referencing the public segment URIs and uploads them to
// the playlist bucket. It only ever references segments that are
// already durable.
type publisher struct {
	logger zerolog.Logger

	uploader Uploader
	config   Config

	movieID      string
	ownerSubpath string
	indexPath    string
}

func newPublisher(config Config, uploader Uploader, movieID, ownerSubpath, indexPath string) *publisher {
	return &publisher{
		logger: log.With().Str("module", "hlsupload").Str("submodule", "publisher").Logger(),

		uploader: uploader,
		config:   config,

		movieID:      movieID,
		ownerSubpath: ownerSubpath,
		indexPath:    indexPath,
	}
}

// publish builds and uploads one playlist. partial selects the early
// playlist covering only the high priority prefix, which is left open
// so players keep polling for the rest. Returns the public URL.
func (p *publisher) publish(ctx context.Context, partial bool, segments []Segment) (string, error) {
	for _, segment := range segments {
		if segment.Status != SegmentUploaded {
			return "", fmt.Errorf("%w: segment %d is not durable", ErrPublishFailed, segment.Sequence)
		}
	}

	body, err := p.build(partial, segments)
	if err != nil {
		return "", err
	}

	name := finalPlaylistName
	if partial {
		name = partialPlaylistName
	}
	key := playlistKey(p.config.PlaylistUploadPath, p.ownerSubpath, p.movieID, name)

	if err := p.upload(ctx, key, body); err != nil {
		return "", err
	}

	p.logger.Info().
		Bool("partial", partial).
		Int("segments", len(segments)).
		Str("key", key).
		Msg("playlist published")

	return "https://" + path.Join(p.config.WebsiteDomain, key), nil
}

func (p *publisher) build(partial bool, segments []Segment) ([]byte, error) {
	durations := p.indexDurations()

	playlist, err := m3u8.NewMediaPlaylist(0, uint(len(segments)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	for _, segment := range segments {
		duration := segment.Duration
		if d, ok := durations[segment.Sequence]; ok {
			duration = d
		}

		uri := segmentURI(p.config.WebsiteDomain, p.config.MediaUploadPath, p.ownerSubpath, p.movieID, segment.Sequence)
		if err := playlist.Append(uri, duration, ""); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPublishFailed, err)
		}
	}

	playlist.TargetDuration = float64(p.config.SegmentDuration)
	if !partial {
		playlist.Close()
	}

	return playlist.Encode().Bytes(), nil
}

// indexDurations reads the exact segment durations out of the local
// index. Missing or unreadable entries fall back to the durations
// observed at discovery time.
func (p *publisher) indexDurations() map[int]float64 {
	durations := map[int]float64{}

	file, err := os.Open(p.indexPath)
	if err != nil {
		p.logger.Warn().Err(err).Msg("local index not readable, using discovery durations")
		return durations
	}
	defer file.Close()

	playlist, listType, err := m3u8.DecodeFrom(bufio.NewReader(file), false)
	if err != nil || listType != m3u8.MEDIA {
		p.logger.Warn().Err(err).Msg("local index not parseable, using discovery durations")
		return durations
	}

	for _, entry := range playlist.(*m3u8.MediaPlaylist).Segments {
		if entry == nil {
			continue
		}
		if sequence, ok := parseSegmentName(filepath.Base(entry.URI)); ok {
			durations[sequence] = entry.Duration
		}
	}

	return durations
}

func (p *publisher) upload(ctx context.Context, key string, body []byte) error {
	attempts := p.config.PublishAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = p.uploader.Put(ctx, p.config.PlaylistBucket, key, bytes.NewReader(body), playlistContentType)
		if err == nil {
			return nil
		}

		p.logger.Warn().Err(err).Int("attempt", attempt).Str("key", key).Msg("playlist upload failed")
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrPublishFailed, ctx.Err())
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
	}

	return fmt.Errorf("%w: %v", ErrPublishFailed, err)
}
