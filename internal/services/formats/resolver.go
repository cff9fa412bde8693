package formats

import (
	"context"
	"fmt"
	"strings"

	"github.com/vgrab/vgrab/internal/models"
	"github.com/vgrab/vgrab/internal/services/extractor"
	"github.com/vgrab/vgrab/internal/utils"
)

// videoTiers are the fixed menu rungs. A tier is offered only when the
// source has a video encoding at or below its height cap.
var videoTiers = []struct {
	id     string
	label  string
	height int
}{
	{"video:SD", "SD (480p)", 480},
	{"video:HD", "HD (720p)", 720},
	{"video:FHD", "Full HD (1080p)", 1080},
}

const (
	originalID = "video:ORIGINAL"
	audioID    = "audio:M4A"
)

// Menu is the resolved format menu for one source URL.
type Menu struct {
	Title   string
	Options []models.FormatSpec
}

// Resolver reduces the extractor's encoding list to the small fixed menu
// shown to the user. Pure mapping; the single probe call is the only side
// effect.
type Resolver struct {
	client extractor.Client
}

func NewResolver(client extractor.Client) *Resolver {
	return &Resolver{client: client}
}

// Resolve probes the source and builds the menu. The probe is as slow as a
// download probe and must run off the bot's update loop.
func (r *Resolver) Resolve(ctx context.Context, url string) (*Menu, error) {
	meta, err := r.client.ListEncodings(ctx, url)
	if err != nil {
		return nil, utils.AsAppError(err)
	}

	menu := &Menu{
		Title:   meta.Title,
		Options: Reduce(meta.Encodings),
	}

	if len(menu.Options) == 0 {
		return nil, utils.NewFormatUnavailableError(url, fmt.Errorf("no usable encodings"))
	}

	return menu, nil
}

// Reduce maps raw encodings onto the menu: one option per satisfiable video
// tier, one best-available option, one audio option. Tiers with no matching
// encoding are omitted, never fabricated.
func Reduce(encodings []extractor.Encoding) []models.FormatSpec {
	var options []models.FormatSpec

	for _, tier := range videoTiers {
		if hasVideoAtOrBelow(encodings, tier.height) {
			options = append(options, models.FormatSpec{
				ID:     tier.id,
				Label:  tier.label,
				Kind:   models.MediaKindVideo,
				Height: tier.height,
			})
		}
	}

	if hasVideo(encodings) {
		options = append(options, models.FormatSpec{
			ID:    originalID,
			Label: "Original (Max Quality)",
			Kind:  models.MediaKindVideo,
		})
	}

	if hasAudio(encodings) {
		options = append(options, models.FormatSpec{
			ID:    audioID,
			Label: "Audio (M4A 320kbps)",
			Kind:  models.MediaKindAudio,
		})
	}

	return options
}

// SpecByID recovers a FormatSpec from the callback-data format id. Used when
// a selection token round-trips through the chat transport.
func SpecByID(id string) (models.FormatSpec, bool) {
	for _, tier := range videoTiers {
		if tier.id == id {
			return models.FormatSpec{ID: tier.id, Label: tier.label, Kind: models.MediaKindVideo, Height: tier.height}, true
		}
	}
	switch id {
	case originalID:
		return models.FormatSpec{ID: originalID, Label: "Original (Max Quality)", Kind: models.MediaKindVideo}, true
	case audioID:
		return models.FormatSpec{ID: audioID, Label: "Audio (M4A 320kbps)", Kind: models.MediaKindAudio}, true
	}
	return models.FormatSpec{}, false
}

func hasVideoAtOrBelow(encodings []extractor.Encoding, height int) bool {
	for _, enc := range encodings {
		if isVideo(enc) && enc.Height > 0 && enc.Height <= height {
			return true
		}
	}
	return false
}

func hasVideo(encodings []extractor.Encoding) bool {
	for _, enc := range encodings {
		if isVideo(enc) {
			return true
		}
	}
	return false
}

func hasAudio(encodings []extractor.Encoding) bool {
	for _, enc := range encodings {
		if strings.Contains(enc.MimeType, "audio") {
			return true
		}
	}
	return false
}

func isVideo(enc extractor.Encoding) bool {
	return strings.Contains(enc.MimeType, "video")
}
