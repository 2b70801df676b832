package config

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type Config interface {
	Init(cmd *cobra.Command) error
	Set()
}

type VideoProfile struct {
	Width   int `mapstructure:"width"`
	Height  int `mapstructure:"height"`
	Bitrate int `mapstructure:"bitrate"` // in kilobytes
}

type AudioProfile struct {
	Bitrate int `mapstructure:"bitrate"` // in kilobytes
}

type Worker struct {
	SegmentDuration   int `mapstructure:"segment-duration"`
	ConcurrentUploads int `mapstructure:"concurrent-uploads"`
	PrioritySegments  int `mapstructure:"priority-segments"`
	MaxUploadAttempts int `mapstructure:"max-upload-attempts"`
	PublishAttempts   int `mapstructure:"publish-attempts"`

	TempDir string `mapstructure:"temp-dir"`

	MediaBucket        string `mapstructure:"media-bucket"`
	PlaylistBucket     string `mapstructure:"playlist-bucket"`
	MediaUploadPath    string `mapstructure:"media-upload-path"`
	PlaylistUploadPath string `mapstructure:"playlist-upload-path"`
	WebsiteDomain      string `mapstructure:"website-domain"`

	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	ForcePathStyle bool   `mapstructure:"force-path-style"`

	VideoProfile *VideoProfile `mapstructure:"video-profile"`
	AudioProfile *AudioProfile `mapstructure:"audio-profile"`

	FFmpegBinary  string `mapstructure:"ffmpeg-binary"`
	FFprobeBinary string `mapstructure:"ffprobe-binary"`

	MetricsBind string `mapstructure:"metrics-bind"`
}

func (Worker) Init(cmd *cobra.Command) error {
	cmd.PersistentFlags().Int("segment-duration", 10, "target segment duration in seconds")
	if err := viper.BindPFlag("segment-duration", cmd.PersistentFlags().Lookup("segment-duration")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("concurrent-uploads", 4, "number of parallel segment uploads")
	if err := viper.BindPFlag("concurrent-uploads", cmd.PersistentFlags().Lookup("concurrent-uploads")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("priority-segments", 5, "number of leading segments uploaded with high priority")
	if err := viper.BindPFlag("priority-segments", cmd.PersistentFlags().Lookup("priority-segments")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("max-upload-attempts", 3, "upload attempts per segment before giving up")
	if err := viper.BindPFlag("max-upload-attempts", cmd.PersistentFlags().Lookup("max-upload-attempts")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("publish-attempts", 3, "playlist publish attempts before giving up")
	if err := viper.BindPFlag("publish-attempts", cmd.PersistentFlags().Lookup("publish-attempts")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("temp-dir", "", "directory for per-session workspaces")
	if err := viper.BindPFlag("temp-dir", cmd.PersistentFlags().Lookup("temp-dir")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("media-bucket", "", "bucket receiving media segments")
	if err := viper.BindPFlag("media-bucket", cmd.PersistentFlags().Lookup("media-bucket")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("playlist-bucket", "", "bucket receiving playlists")
	if err := viper.BindPFlag("playlist-bucket", cmd.PersistentFlags().Lookup("playlist-bucket")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("media-upload-path", "media", "key prefix for media segments")
	if err := viper.BindPFlag("media-upload-path", cmd.PersistentFlags().Lookup("media-upload-path")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("playlist-upload-path", "playlists", "key prefix for playlists")
	if err := viper.BindPFlag("playlist-upload-path", cmd.PersistentFlags().Lookup("playlist-upload-path")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("website-domain", "", "public domain used for segment URIs in playlists")
	if err := viper.BindPFlag("website-domain", cmd.PersistentFlags().Lookup("website-domain")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("region", "", "object storage region")
	if err := viper.BindPFlag("region", cmd.PersistentFlags().Lookup("region")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("endpoint", "", "object storage endpoint override")
	if err := viper.BindPFlag("endpoint", cmd.PersistentFlags().Lookup("endpoint")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("force-path-style", false, "use path style object storage addressing")
	if err := viper.BindPFlag("force-path-style", cmd.PersistentFlags().Lookup("force-path-style")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("ffmpeg-binary", "", "path to ffmpeg")
	if err := viper.BindPFlag("ffmpeg-binary", cmd.PersistentFlags().Lookup("ffmpeg-binary")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("ffprobe-binary", "", "path to ffprobe")
	if err := viper.BindPFlag("ffprobe-binary", cmd.PersistentFlags().Lookup("ffprobe-binary")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("metrics-bind", "", "address to serve prometheus metrics on, disabled when empty")
	if err := viper.BindPFlag("metrics-bind", cmd.PersistentFlags().Lookup("metrics-bind")); err != nil {
		return err
	}

	return nil
}

func (w *Worker) Set() {
	w.SegmentDuration = viper.GetInt("segment-duration")
	w.ConcurrentUploads = viper.GetInt("concurrent-uploads")
	w.PrioritySegments = viper.GetInt("priority-segments")
	w.MaxUploadAttempts = viper.GetInt("max-upload-attempts")
	w.PublishAttempts = viper.GetInt("publish-attempts")

	w.TempDir = viper.GetString("temp-dir")
	w.MediaBucket = viper.GetString("media-bucket")
	w.PlaylistBucket = viper.GetString("playlist-bucket")
	w.MediaUploadPath = viper.GetString("media-upload-path")
	w.PlaylistUploadPath = viper.GetString("playlist-upload-path")
	w.WebsiteDomain = viper.GetString("website-domain")

	w.Region = viper.GetString("region")
	w.Endpoint = viper.GetString("endpoint")
	w.ForcePathStyle = viper.GetBool("force-path-style")

	if err := viper.UnmarshalKey("video-profile", &w.VideoProfile); err != nil {
		panic(err)
	}
	if err := viper.UnmarshalKey("audio-profile", &w.AudioProfile); err != nil {
		panic(err)
	}

	// defaults

	if w.SegmentDuration <= 0 {
		w.SegmentDuration = 10
	}

	if w.ConcurrentUploads < 1 {
		w.ConcurrentUploads = 1
	}

	if w.MaxUploadAttempts < 1 {
		w.MaxUploadAttempts = 1
	}

	if w.PublishAttempts < 1 {
		w.PublishAttempts = 1
	}

	if w.TempDir == "" {
		w.TempDir = os.TempDir()
	}

	w.FFmpegBinary = viper.GetString("ffmpeg-binary")
	if w.FFmpegBinary == "" {
		w.FFmpegBinary = "ffmpeg"
	}

	w.FFprobeBinary = viper.GetString("ffprobe-binary")
	if w.FFprobeBinary == "" {
		w.FFprobeBinary = "ffprobe"
	}

	w.MetricsBind = viper.GetString("metrics-bind")
}
