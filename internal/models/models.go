package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/vgrab/vgrab/internal/utils"
)

// TaskState is the lifecycle state of a download task.
// Queued -> Running -> Succeeded | Failed | Cancelled.
type TaskState string

const (
	TaskStateQueued    TaskState = "queued"
	TaskStateRunning   TaskState = "running"
	TaskStateSucceeded TaskState = "succeeded"
	TaskStateFailed    TaskState = "failed"
	TaskStateCancelled TaskState = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateSucceeded, TaskStateFailed, TaskStateCancelled:
		return true
	}
	return false
}

type MediaKind string

const (
	MediaKindVideo MediaKind = "video"
	MediaKindAudio MediaKind = "audio"
)

// FormatSpec is a user-selectable (quality tier, media kind) pair resolved
// from the extractor's encoding list.
type FormatSpec struct {
	ID     string    `json:"id"`    // e.g. "video:HD"
	Label  string    `json:"label"` // e.g. "HD (720p)"
	Kind   MediaKind `json:"kind"`
	Height int       `json:"height"` // target height cap; 0 means best available
}

// TaskResult is set exactly once when a task reaches a terminal state.
type TaskResult struct {
	FilePath string
	Title    string
	FileSize int64
	MimeType string
	Err      *utils.AppError // nil on success
}

// DownloadTask is one user-initiated download attempt. It is owned
// exclusively by the queue until terminal, then handed to delivery.
// UserID is the requesting identity and keys limits, status and
// cancellation; ChatID is only the delivery target. They differ in any
// non-private chat.
type DownloadTask struct {
	ID     uuid.UUID
	UserID int64
	ChatID int64
	URL    string
	Format FormatSpec

	State      TaskState
	EnqueuedAt time.Time
	StartedAt  time.Time
	FinishedAt time.Time

	// StatusMessageID points at the chat message that gets edited as the
	// task progresses. Zero when no status message was posted.
	StatusMessageID int

	// UserCancelled marks a cancellation requested by the user, which gets
	// an acknowledgement; queue-internal cancellations stay silent.
	UserCancelled bool

	Result *TaskResult

	// WorkDir is the task's scratch directory, owned by the workspace
	// manager from Running until post-delivery cleanup.
	WorkDir string
}

// UserStatus is the per-identity view returned by the queue's status query.
type UserStatus struct {
	QueuePosition int  // 1-based position in pending, 0 if none pending
	PendingCount  int  // pending tasks for this identity
	Running       bool // identity has a task in flight
	RunningURL    string
}

// QueueSnapshot is the read-only aggregate exposed on the ops endpoint.
type QueueSnapshot struct {
	Pending        int            `json:"pending"`
	InFlight       int            `json:"in_flight"`
	MaxConcurrent  int            `json:"max_concurrent"`
	MaxQueueSize   int            `json:"max_queue_size"`
	ActivePerUser  map[int64]int  `json:"active_per_user"`
	TerminalCounts map[string]int `json:"terminal_counts"`
}

// User is an authorized bot user.
type User struct {
	ID       int64     `json:"id" db:"id"`
	Username *string   `json:"username,omitempty" db:"username"`
	AddedAt  time.Time `json:"added_at" db:"added_at"`
	AddedBy  int64     `json:"added_by" db:"added_by"`
	IsActive bool      `json:"is_active" db:"is_active"`
}

// Invite is a one-shot authorization code.
type Invite struct {
	ID        string     `json:"id" db:"id"`
	CreatedBy int64      `json:"created_by" db:"created_by"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UsedBy    *int64     `json:"used_by,omitempty" db:"used_by"`
	UsedAt    *time.Time `json:"used_at,omitempty" db:"used_at"`
	IsActive  bool       `json:"is_active" db:"is_active"`
}
