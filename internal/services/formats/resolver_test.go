package formats

import (
	"context"
	"testing"

	"github.com/vgrab/vgrab/internal/models"
	"github.com/vgrab/vgrab/internal/services/extractor"
	"github.com/vgrab/vgrab/internal/utils"
)

func video(height int) extractor.Encoding {
	return extractor.Encoding{MimeType: "video/mp4", Height: height}
}

func audio() extractor.Encoding {
	return extractor.Encoding{MimeType: "audio/mp4", Bitrate: 128000, AudioChannels: 2}
}

func TestReduce(t *testing.T) {
	testCases := []struct {
		name      string
		encodings []extractor.Encoding
		wantIDs   []string
	}{
		{
			name:      "All tiers available",
			encodings: []extractor.Encoding{video(480), video(720), video(1080), video(2160), audio()},
			wantIDs:   []string{"video:SD", "video:HD", "video:FHD", "video:ORIGINAL", "audio:M4A"},
		},
		{
			name:      "Only low resolution",
			encodings: []extractor.Encoding{video(360), audio()},
			wantIDs:   []string{"video:SD", "video:HD", "video:FHD", "video:ORIGINAL", "audio:M4A"},
		},
		{
			name:      "No encoding at or below 480 omits SD only when nothing fits",
			encodings: []extractor.Encoding{video(720), audio()},
			wantIDs:   []string{"video:HD", "video:FHD", "video:ORIGINAL", "audio:M4A"},
		},
		{
			name:      "Audio only source",
			encodings: []extractor.Encoding{audio()},
			wantIDs:   []string{"audio:M4A"},
		},
		{
			name:      "Video without audio encodings",
			encodings: []extractor.Encoding{video(1080)},
			wantIDs:   []string{"video:SD", "video:HD", "video:FHD", "video:ORIGINAL"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			options := Reduce(tc.encodings)
			if len(options) != len(tc.wantIDs) {
				t.Fatalf("expected %d options, got %d: %+v", len(tc.wantIDs), len(options), options)
			}
			for i, id := range tc.wantIDs {
				if options[i].ID != id {
					t.Errorf("option %d: expected %s, got %s", i, id, options[i].ID)
				}
			}
		})
	}
}

func TestReduceTierHeights(t *testing.T) {
	// a 360p-only source still satisfies every capped tier
	options := Reduce([]extractor.Encoding{video(360)})

	for _, opt := range options {
		if opt.ID == "video:HD" && opt.Height != 720 {
			t.Errorf("HD tier should cap at 720, got %d", opt.Height)
		}
	}
}

func TestSpecByID(t *testing.T) {
	spec, ok := SpecByID("video:HD")
	if !ok {
		t.Fatal("expected video:HD to resolve")
	}
	if spec.Kind != models.MediaKindVideo || spec.Height != 720 {
		t.Errorf("unexpected spec: %+v", spec)
	}

	spec, ok = SpecByID("audio:M4A")
	if !ok || spec.Kind != models.MediaKindAudio {
		t.Errorf("expected audio spec, got %+v ok=%v", spec, ok)
	}

	if _, ok := SpecByID("video:8K"); ok {
		t.Error("unknown id should not resolve")
	}
}

type fakeExtractor struct {
	meta *extractor.MediaMeta
	err  error
}

func (f *fakeExtractor) IsSupportedURL(string) bool          { return true }
func (f *fakeExtractor) ParseVideoID(string) (string, error) { return "dQw4w9WgXcQ", nil }

func (f *fakeExtractor) ListEncodings(context.Context, string) (*extractor.MediaMeta, error) {
	return f.meta, f.err
}

func (f *fakeExtractor) Fetch(context.Context, string, models.FormatSpec, string) (*extractor.Artifact, error) {
	return nil, nil
}

func TestResolve(t *testing.T) {
	r := NewResolver(&fakeExtractor{meta: &extractor.MediaMeta{
		Title:     "Test Video",
		Encodings: []extractor.Encoding{video(720), audio()},
	}})

	menu, err := r.Resolve(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if menu.Title != "Test Video" {
		t.Errorf("expected title to pass through, got %q", menu.Title)
	}
	if len(menu.Options) == 0 {
		t.Error("expected non-empty menu")
	}
}

func TestResolvePropagatesClassifiedError(t *testing.T) {
	r := NewResolver(&fakeExtractor{
		err: utils.NewSourceUnavailableError("https://youtu.be/x", nil),
	})

	_, err := r.Resolve(context.Background(), "https://youtu.be/x")
	if err == nil {
		t.Fatal("expected error")
	}
	appErr := utils.AsAppError(err)
	if appErr.Code != utils.ErrorCodeSourceUnavailable {
		t.Errorf("expected SOURCE_UNAVAILABLE, got %s", appErr.Code)
	}
}
