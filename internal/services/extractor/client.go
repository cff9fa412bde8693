package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"

	"github.com/vgrab/vgrab/internal/models"
	"github.com/vgrab/vgrab/internal/utils"
)

type YouTubeClient struct {
	client        *youtube.Client
	httpClient    *http.Client
	maxOutputSize int64
}

// NewYouTubeClient creates the default extraction client. maxOutputSize
// enables an early size rejection before any bytes are transferred; pass 0
// to disable the pre-check.
func NewYouTubeClient(maxOutputSize int64) *YouTubeClient {
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
	}

	ytClient := &youtube.Client{
		HTTPClient: httpClient,
	}

	return &YouTubeClient{
		client:        ytClient,
		httpClient:    httpClient,
		maxOutputSize: maxOutputSize,
	}
}

var urlPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https?://(www\.)?youtube\.com/watch\?v=[\w-]+`),
	regexp.MustCompile(`^https?://(www\.)?youtube\.com/embed/[\w-]+`),
	regexp.MustCompile(`^https?://youtu\.be/[\w-]+`),
	regexp.MustCompile(`^https?://(www\.)?youtube\.com/v/[\w-]+`),
	regexp.MustCompile(`^https?://(m\.)?youtube\.com/watch\?v=[\w-]+`),
}

var videoIDPattern = regexp.MustCompile(
	`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/|youtube\.com/v/)([a-zA-Z0-9_-]{11})`)

// IsSupportedURL checks if the provided URL belongs to a supported source
func (c *YouTubeClient) IsSupportedURL(url string) bool {
	for _, pattern := range urlPatterns {
		if pattern.MatchString(url) {
			return true
		}
	}
	return false
}

// ParseVideoID extracts the video ID from a supported URL
func (c *YouTubeClient) ParseVideoID(url string) (string, error) {
	matches := videoIDPattern.FindStringSubmatch(url)
	if len(matches) > 1 {
		return matches[1], nil
	}
	return "", fmt.Errorf("could not extract video ID from URL: %s", url)
}

// ListEncodings probes the source once. This is the same slow blocking call
// as a download probe and runs under the caller's context.
func (c *YouTubeClient) ListEncodings(ctx context.Context, url string) (*MediaMeta, error) {
	video, err := c.client.GetVideoContext(ctx, url)
	if err != nil {
		return nil, classify(url, err)
	}

	meta := &MediaMeta{
		ID:       video.ID,
		Title:    video.Title,
		Author:   video.Author,
		Duration: video.Duration,
	}

	for _, format := range video.Formats {
		meta.Encodings = append(meta.Encodings, Encoding{
			MimeType:      format.MimeType,
			Height:        parseQuality(format.Quality),
			Bitrate:       format.Bitrate,
			AudioChannels: format.AudioChannels,
			ContentLength: format.ContentLength,
		})
	}

	if len(meta.Encodings) == 0 {
		return nil, utils.NewFormatUnavailableError(url, fmt.Errorf("source reported no encodings"))
	}

	return meta, nil
}

// Fetch downloads the rendition matching spec into destDir. Video tiers pull
// a video-only stream plus the best audio stream and merge them with FFmpeg;
// audio pulls a single stream.
func (c *YouTubeClient) Fetch(ctx context.Context, url string, spec models.FormatSpec, destDir string) (*Artifact, error) {
	video, err := c.client.GetVideoContext(ctx, url)
	if err != nil {
		return nil, classify(url, err)
	}

	if spec.Kind == models.MediaKindAudio {
		return c.fetchAudio(ctx, url, video, destDir)
	}
	return c.fetchVideo(ctx, url, video, spec, destDir)
}

func (c *YouTubeClient) fetchAudio(ctx context.Context, url string, video *youtube.Video, destDir string) (*Artifact, error) {
	audioFormat := bestAudioFormat(video.Formats)
	if audioFormat == nil {
		return nil, utils.NewFormatUnavailableError(url, fmt.Errorf("no audio encoding available"))
	}

	if err := c.precheckSize(audioFormat.ContentLength); err != nil {
		return nil, err
	}

	outputPath := filepath.Join(destDir, sanitizeFileName(video.Title, ".m4a"))
	if err := c.downloadStream(ctx, url, video, audioFormat, outputPath); err != nil {
		return nil, err
	}

	return artifactFor(outputPath, video.Title, "audio/mp4")
}

func (c *YouTubeClient) fetchVideo(ctx context.Context, url string, video *youtube.Video, spec models.FormatSpec, destDir string) (*Artifact, error) {
	videoFormat := bestVideoFormat(video.Formats, spec.Height)
	if videoFormat == nil {
		return nil, utils.NewFormatUnavailableError(url, fmt.Errorf("no video encoding at or below %dp", spec.Height))
	}

	audioFormat := bestAudioFormat(video.Formats)
	if audioFormat == nil {
		return nil, utils.NewFormatUnavailableError(url, fmt.Errorf("no audio encoding available"))
	}

	if err := c.precheckSize(videoFormat.ContentLength + audioFormat.ContentLength); err != nil {
		return nil, err
	}

	videoPath := filepath.Join(destDir, "video.mp4")
	audioPath := filepath.Join(destDir, "audio.m4a")
	outputPath := filepath.Join(destDir, sanitizeFileName(video.Title, ".mp4"))

	if err := c.downloadStream(ctx, url, video, videoFormat, videoPath); err != nil {
		return nil, err
	}
	if err := c.downloadStream(ctx, url, video, audioFormat, audioPath); err != nil {
		return nil, err
	}

	if err := mergeVideoAudio(ctx, videoPath, audioPath, outputPath); err != nil {
		return nil, utils.NewUnknownError(err)
	}

	os.Remove(videoPath)
	os.Remove(audioPath)

	return artifactFor(outputPath, video.Title, "video/mp4")
}

func (c *YouTubeClient) precheckSize(expected int64) error {
	if c.maxOutputSize > 0 && expected > c.maxOutputSize {
		return utils.NewOutputTooLargeError(expected, c.maxOutputSize)
	}
	return nil
}

// downloadStream downloads a stream to a file
func (c *YouTubeClient) downloadStream(ctx context.Context, url string, video *youtube.Video, format *youtube.Format, outputPath string) error {
	stream, _, err := c.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return classify(url, err)
	}
	defer stream.Close()

	file, err := os.Create(outputPath)
	if err != nil {
		return utils.NewUnknownError(fmt.Errorf("failed to create file: %w", err))
	}
	defer file.Close()

	if _, err := io.Copy(file, stream); err != nil {
		return classify(url, err)
	}

	return nil
}

// bestVideoFormat selects the best mp4 video-only format with height at or
// below targetHeight; targetHeight 0 means highest available.
func bestVideoFormat(formats youtube.FormatList, targetHeight int) *youtube.Format {
	var best *youtube.Format
	var bestHeight int

	for i := range formats {
		format := &formats[i]
		if format.MimeType == "" || !strings.Contains(format.MimeType, "video") {
			continue
		}
		// Skip muxed formats, audio is merged in separately
		if format.AudioChannels > 0 {
			continue
		}
		if !strings.Contains(format.MimeType, "mp4") {
			continue
		}

		height := parseQuality(format.Quality)
		if targetHeight > 0 && height > targetHeight {
			continue
		}
		if best == nil || height > bestHeight {
			best = format
			bestHeight = height
		}
	}

	return best
}

// bestAudioFormat selects the highest-bitrate audio-only format, preferring
// mp4/m4a containers.
func bestAudioFormat(formats youtube.FormatList) *youtube.Format {
	var best *youtube.Format
	var bestBitrate int

	for i := range formats {
		format := &formats[i]
		if format.MimeType == "" || !strings.Contains(format.MimeType, "audio") {
			continue
		}
		if strings.Contains(format.MimeType, "mp4") || strings.Contains(format.MimeType, "m4a") {
			if best == nil || format.Bitrate > bestBitrate {
				best = format
				bestBitrate = format.Bitrate
			}
		}
	}

	if best == nil {
		for i := range formats {
			format := &formats[i]
			if format.MimeType != "" && strings.Contains(format.MimeType, "audio") {
				if best == nil || format.Bitrate > bestBitrate {
					best = format
					bestBitrate = format.Bitrate
				}
			}
		}
	}

	return best
}

// mergeVideoAudio merges video and audio files using FFmpeg
func mergeVideoAudio(ctx context.Context, videoPath, audioPath, outputPath string) error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", "copy",
		"-c:a", "aac",
		"-y",
		outputPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg failed: %w, output: %s", err, string(output))
	}

	return nil
}

func artifactFor(path, title, mimeType string) (*Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, utils.NewUnknownError(fmt.Errorf("downloaded file missing: %w", err))
	}

	return &Artifact{
		Path:     path,
		Title:    title,
		Size:     info.Size(),
		MimeType: mimeType,
	}, nil
}

// parseQuality extracts numeric quality from quality string (e.g., "720p" -> 720)
func parseQuality(quality string) int {
	re := regexp.MustCompile(`(\d+)`)
	matches := re.FindStringSubmatch(quality)
	if len(matches) > 1 {
		if q, err := strconv.Atoi(matches[1]); err == nil {
			return q
		}
	}
	return 0
}

func sanitizeFileName(title, ext string) string {
	invalidChars := []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|"}
	sanitized := title
	for _, char := range invalidChars {
		sanitized = strings.ReplaceAll(sanitized, char, "_")
	}

	sanitized = strings.TrimSpace(sanitized)
	if sanitized == "" {
		sanitized = "download"
	}

	if len(sanitized) > 200 {
		sanitized = sanitized[:200]
	}

	return sanitized + ext
}

// classify maps extraction failures onto the error taxonomy. The backend
// reports most conditions as wrapped strings, so matching follows the
// messages it is known to emit.
func classify(url string, err error) *utils.AppError {
	if err == nil {
		return nil
	}

	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return utils.NewTimeoutError(url)
	}
	if errors.Is(err, context.Canceled) {
		return utils.NewTransientNetworkError(url, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return utils.NewTransientNetworkError(url, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "private"),
		strings.Contains(msg, "not available"),
		strings.Contains(msg, "unavailable"),
		strings.Contains(msg, "video id"),
		strings.Contains(msg, "removed"),
		strings.Contains(msg, "age restricted"),
		strings.Contains(msg, "login required"):
		return utils.NewSourceUnavailableError(url, err)
	case strings.Contains(msg, "no format"),
		strings.Contains(msg, "cipher"),
		strings.Contains(msg, "unsupported"):
		return utils.NewFormatUnavailableError(url, err)
	case strings.Contains(msg, "connection"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "temporar"),
		strings.Contains(msg, "reset"),
		strings.Contains(msg, "eof"),
		strings.Contains(msg, "status code: 5"):
		return utils.NewTransientNetworkError(url, err)
	}

	return utils.NewUnknownError(err)
}
