package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vgrab/vgrab/internal/utils"
)

const dirPrefix = "vgrab_"

// Manager owns the on-disk lifetime of download artifacts: one scratch
// directory per running task, removed on every exit path, plus an age-based
// orphan sweep for leftovers from an unclean shutdown.
type Manager struct {
	baseDir string
	maxAge  time.Duration
}

func NewManager(baseDir string, maxAge time.Duration) (*Manager, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp base dir: %w", err)
	}
	return &Manager{baseDir: baseDir, maxAge: maxAge}, nil
}

// Create makes a unique scratch directory for one task.
func (m *Manager) Create(taskID string) (string, error) {
	dir, err := os.MkdirTemp(m.baseDir, dirPrefix+taskID+"_")
	if err != nil {
		return "", fmt.Errorf("failed to create work dir: %w", err)
	}
	return dir, nil
}

// Cleanup removes a scratch directory. Safe to call repeatedly and with
// directories that are already gone; refuses paths outside the base dir.
func (m *Manager) Cleanup(ctx context.Context, dir string) error {
	if dir == "" {
		return nil
	}

	cleaned := filepath.Clean(dir)
	base := filepath.Clean(m.baseDir)
	if !strings.HasPrefix(cleaned, base+string(os.PathSeparator)) {
		return fmt.Errorf("refusing to remove %s outside %s", cleaned, base)
	}

	if err := os.RemoveAll(cleaned); err != nil {
		utils.LogError(ctx, "Failed to clean up work dir", err, utils.Fields{"dir": cleaned})
		return err
	}
	return nil
}

// SweepOrphans removes scratch directories older than the configured max
// age. Task identity does not survive a restart, so age is the only key.
func (m *Manager) SweepOrphans(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read temp base dir: %w", err)
	}

	cutoff := time.Now().Add(-m.maxAge)
	removed := 0

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), dirPrefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(m.baseDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			utils.LogWarn(ctx, "Failed to remove orphaned work dir", utils.Fields{"dir": path, "error": err.Error()})
			continue
		}
		removed++
	}

	if removed > 0 {
		utils.LogInfo(ctx, "Removed orphaned work dirs", utils.Fields{"count": removed})
	}
	return removed, nil
}
