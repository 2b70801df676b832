package cmd

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/anuvgupta/media-library-source-worker-sub001/hlsupload"
	"github.com/anuvgupta/media-library-source-worker-sub001/internal/config"
	"github.com/anuvgupta/media-library-source-worker-sub001/internal/metrics"
	"github.com/anuvgupta/media-library-source-worker-sub001/internal/storage"
)

func init() {
	workerConfig := &config.Worker{}

	var movieID string
	var ownerSubpath string

	command := &cobra.Command{
		Use:   "upload <source-file>",
		Short: "upload one video as an HLS asset",
		Long:  `transcode one local video file into HLS segments and publish them to object storage`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runUpload(cmd.Context(), workerConfig, args[0], movieID, ownerSubpath)
		},
	}

	command.Flags().StringVar(&movieID, "movie-id", "", "destination movie identifier")
	command.Flags().StringVar(&ownerSubpath, "owner", "", "destination owner subpath")
	_ = command.MarkFlagRequired("movie-id")
	_ = command.MarkFlagRequired("owner")

	cobra.OnInitialize(func() {
		workerConfig.Set()
	})

	if err := workerConfig.Init(command); err != nil {
		log.Panic().Err(err).Msg("unable to run upload command")
	}

	rootCmd.AddCommand(command)
}

func runUpload(parent context.Context, cfg *config.Worker, sourcePath, movieID, ownerSubpath string) {
	logger := log.With().Str("service", "upload").Logger()

	if cfg.MediaBucket == "" || cfg.PlaylistBucket == "" || cfg.WebsiteDomain == "" {
		logger.Fatal().Msg("media-bucket, playlist-bucket and website-domain must be configured")
	}

	if cfg.MetricsBind != "" {
		metrics.Serve(cfg.MetricsBind)
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := storage.New(ctx, storage.Config{
		Region:         cfg.Region,
		Endpoint:       cfg.Endpoint,
		ForcePathStyle: cfg.ForcePathStyle,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("unable to create storage client")
	}

	manager := hlsupload.New(hlsupload.Config{
		SegmentDuration:      cfg.SegmentDuration,
		ConcurrentUploads:    cfg.ConcurrentUploads,
		PrioritySegmentCount: cfg.PrioritySegments,
		MaxUploadAttempts:    cfg.MaxUploadAttempts,
		PublishAttempts:      cfg.PublishAttempts,

		TempDir: cfg.TempDir,

		MediaBucket:        cfg.MediaBucket,
		PlaylistBucket:     cfg.PlaylistBucket,
		MediaUploadPath:    cfg.MediaUploadPath,
		PlaylistUploadPath: cfg.PlaylistUploadPath,
		WebsiteDomain:      cfg.WebsiteDomain,

		VideoProfile: videoProfile(cfg),
		AudioProfile: audioProfile(cfg),

		FFmpegBinary:  cfg.FFmpegBinary,
		FFprobeBinary: cfg.FFprobeBinary,
	}, client)

	session, err := manager.UploadMovie(ctx, sourcePath, movieID, ownerSubpath)

	// always print the terminal snapshot, even on failure
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if encErr := encoder.Encode(session); encErr != nil {
		logger.Err(encErr).Msg("unable to encode session snapshot")
	}

	if err != nil {
		logger.Error().Err(err).Str("session", session.ID).Msg("upload failed")
		os.Exit(1)
	}

	logger.Info().Str("session", session.ID).Str("playlist", session.PlaylistURL).Msg("upload complete")
}

func videoProfile(cfg *config.Worker) *hlsupload.VideoProfile {
	if cfg.VideoProfile == nil {
		return nil
	}
	return &hlsupload.VideoProfile{
		Width:   cfg.VideoProfile.Width,
		Height:  cfg.VideoProfile.Height,
		Bitrate: cfg.VideoProfile.Bitrate,
	}
}

func audioProfile(cfg *config.Worker) *hlsupload.AudioProfile {
	if cfg.AudioProfile == nil {
		return nil
	}
	return &hlsupload.AudioProfile{
		Bitrate: cfg.AudioProfile.Bitrate,
	}
}
