package config

import (
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_TOKEN", "123456:test-token")
	t.Setenv("ADMIN_CHAT_ID", "1001")
	t.Setenv("POSTGRES_USER", "vgrab")
	t.Setenv("POSTGRES_PASSWORD", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Telegram.AdminChatID != 1001 {
		t.Errorf("expected admin chat id 1001, got %d", cfg.Telegram.AdminChatID)
	}
	if cfg.Download.MaxConcurrentDownloads != 2 {
		t.Errorf("expected default max concurrent 2, got %d", cfg.Download.MaxConcurrentDownloads)
	}
	if cfg.Download.MaxQueueSize != 20 {
		t.Errorf("expected default queue size 20, got %d", cfg.Download.MaxQueueSize)
	}
	if cfg.Download.MaxTasksPerUser != 2 {
		t.Errorf("expected default per-user limit 2, got %d", cfg.Download.MaxTasksPerUser)
	}
	if cfg.Download.MaxOutputSize != 50*1024*1024 {
		t.Errorf("expected default output cap 50MB, got %d", cfg.Download.MaxOutputSize)
	}
	if cfg.Selection.TTL != time.Hour {
		t.Errorf("expected default selection TTL 1h, got %s", cfg.Selection.TTL)
	}
	if cfg.S3.Enabled() {
		t.Error("S3 archive should be disabled without S3_BUCKET_NAME")
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MAX_CONCURRENT_DOWNLOADS", "1")
	t.Setenv("MAX_QUEUE_SIZE", "5")
	t.Setenv("MAX_TASKS_PER_USER", "1")
	t.Setenv("TASK_TIMEOUT", "90s")
	t.Setenv("SELECTION_TTL", "10m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Download.MaxConcurrentDownloads != 1 {
		t.Errorf("expected max concurrent 1, got %d", cfg.Download.MaxConcurrentDownloads)
	}
	if cfg.Download.MaxQueueSize != 5 {
		t.Errorf("expected queue size 5, got %d", cfg.Download.MaxQueueSize)
	}
	if cfg.Download.TaskTimeout != 90*time.Second {
		t.Errorf("expected task timeout 90s, got %s", cfg.Download.TaskTimeout)
	}
	if cfg.Selection.TTL != 10*time.Minute {
		t.Errorf("expected selection TTL 10m, got %s", cfg.Selection.TTL)
	}
}

func TestLoadRejectsInvalidLimits(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MAX_QUEUE_SIZE", "0")

	if _, err := Load(); err == nil {
		t.Error("expected error for MAX_QUEUE_SIZE=0")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TASK_TIMEOUT", "not-a-duration")

	if _, err := Load(); err == nil {
		t.Error("expected error for invalid TASK_TIMEOUT")
	}
}
