package extractor

import (
	"context"
	"time"

	"github.com/vgrab/vgrab/internal/models"
)

// Encoding is one source-side rendition of a video, as reported by the
// extraction backend before any download happens.
type Encoding struct {
	MimeType      string
	Height        int // 0 when unknown or audio-only
	Bitrate       int
	AudioChannels int
	ContentLength int64
}

// MediaMeta is the probe result for a source URL.
type MediaMeta struct {
	ID        string
	Title     string
	Author    string
	Duration  time.Duration
	Encodings []Encoding
}

// Artifact describes a finished download on local disk.
type Artifact struct {
	Path     string
	Title    string
	Size     int64
	MimeType string
}

// Client is the extraction collaborator. Both operations block for the
// duration of the network work and must only be called off the bot's
// update loop.
type Client interface {
	// IsSupportedURL checks the scheme+host allow-list.
	IsSupportedURL(url string) bool

	// ParseVideoID extracts the stable video ID from a supported URL.
	ParseVideoID(url string) (string, error)

	// ListEncodings probes the source for available renditions.
	ListEncodings(ctx context.Context, url string) (*MediaMeta, error)

	// Fetch downloads the rendition matching spec into destDir.
	Fetch(ctx context.Context, url string, spec models.FormatSpec, destDir string) (*Artifact, error)
}
