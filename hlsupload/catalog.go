package hlsupload

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/grafov/m3u8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// how often the index is rescanned when no filesystem event arrives
const catalogScanPeriod = 500 * time.Millisecond

// catalog discovers newly completed segment files by re-reading the
// encoder's live index. An entry appearing in the index means the
// segment file is fully written and closed. Every physical file is
// enqueued exactly once, in strict arrival order.
type catalog struct {
	logger zerolog.Logger

	dir           string
	indexPath     string
	priorityCount int

	queue  *segmentQueue
	events chan<- event

	// closed by the supervisor once the encoder has exited
	encodeDone <-chan struct{}

	seen map[string]struct{}
	next int
}

func newCatalog(dir string, priorityCount int, queue *segmentQueue, events chan<- event, encodeDone <-chan struct{}) *catalog {
	return &catalog{
		logger: log.With().Str("module", "hlsupload").Str("submodule", "catalog").Logger(),

		dir:           dir,
		indexPath:     path.Join(dir, indexFileName),
		priorityCount: priorityCount,

		queue:  queue,
		events: events,

		encodeDone: encodeDone,

		seen: map[string]struct{}{},
	}
}

// run drives discovery until the encoder is done and every observed
// file has been enqueued, then closes the queue to signal end of
// stream. On context cancellation it returns without closing, the
// scheduler shutdown path owns the queue in that case.
func (c *catalog) run(ctx context.Context) {
	// the state machine drains until this arrives
	defer func() {
		c.events <- event{kind: evCatalogDone}
	}()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.logger.Err(err).Msg("unable to create watcher, falling back to polling")
	} else {
		defer watcher.Close()
		if err := watcher.Add(c.dir); err != nil {
			c.logger.Err(err).Msg("unable to watch workspace, falling back to polling")
		}
	}

	var watchEvents chan fsnotify.Event
	var watchErrors chan error
	if watcher != nil {
		watchEvents = watcher.Events
		watchErrors = watcher.Errors
	}

	ticker := time.NewTicker(catalogScanPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-watchEvents:
			if filepath.Base(ev.Name) != indexFileName {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			c.scan()
		case err := <-watchErrors:
			// must be read or the watcher stalls event delivery
			c.logger.Err(err).Msg("watcher error")
		case <-ticker.C:
			c.scan()
		case <-c.encodeDone:
			// drain everything the encoder left behind before
			// signaling end of stream
			c.scan()
			c.queue.Close()
			c.logger.Info().Int("segments", c.next).Msg("discovery finished")
			return
		}
	}
}

// scan parses the index and enqueues entries not seen before.
func (c *catalog) scan() {
	file, err := os.Open(c.indexPath)
	if err != nil {
		// index does not exist until the first segment is done
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Err(err).Msg("unable to open index")
		}
		return
	}
	defer file.Close()

	playlist, listType, err := m3u8.DecodeFrom(bufio.NewReader(file), false)
	if err != nil {
		// the encoder may be mid-rewrite, the next scan will pick it up
		c.logger.Debug().Err(err).Msg("index not parseable yet")
		return
	}

	if listType != m3u8.MEDIA {
		c.logger.Warn().Msg("index is not a media playlist")
		return
	}

	media := playlist.(*m3u8.MediaPlaylist)
	for _, entry := range media.Segments {
		if entry == nil {
			continue
		}

		name := filepath.Base(entry.URI)
		if _, ok := c.seen[name]; ok {
			continue
		}

		if _, ok := parseSegmentName(name); !ok {
			c.logger.Warn().Str("name", name).Msg("unexpected file in index, skipping")
			c.seen[name] = struct{}{}
			continue
		}

		c.add(name, entry.Duration)
	}
}

func (c *catalog) add(name string, duration float64) {
	sequence := c.next
	c.next++
	c.seen[name] = struct{}{}

	tier := TierNormal
	if sequence < c.priorityCount {
		tier = TierHigh
	}

	segment := &Segment{
		Sequence:  sequence,
		LocalPath: path.Join(c.dir, name),
		Duration:  duration,
		Tier:      tier,
		Status:    SegmentPending,
	}

	c.logger.Debug().
		Int("sequence", sequence).
		Str("tier", tier.String()).
		Float64("duration", duration).
		Msg("segment discovered")

	c.events <- event{kind: evSegmentDiscovered, segment: *segment}

	segment.Status = SegmentQueued
	if !c.queue.Enqueue(segment) {
		c.logger.Warn().Int("sequence", sequence).Msg("queue closed, segment dropped")
	}
}
