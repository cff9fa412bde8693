package delivery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vgrab/vgrab/internal/models"
	"github.com/vgrab/vgrab/internal/services/storage"
	"github.com/vgrab/vgrab/internal/utils"
)

// failureWindow bounds how far back repeated failures count toward an
// operator escalation.
const failureWindow = 10 * time.Minute

// Sender is the minimal chat surface the reporter needs. The bot transport
// implements it.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) (int, error)
	SendDocument(ctx context.Context, chatID int64, filePath, caption string) error
	EditText(ctx context.Context, chatID int64, messageID int, text string) error
}

// Reporter turns terminal tasks into chat messages: the artifact on success,
// a user-safe explanation on failure, an acknowledgement on user-initiated
// cancellation. It never returns an error to the queue and never lets raw
// error text reach the chat.
type Reporter struct {
	sender        Sender
	archiver      storage.Archiver // nil when archiving is disabled
	adminChatID   int64
	maxOutputSize int64

	mu       sync.Mutex
	failures map[int64][]time.Time
	now      func() time.Time
}

func NewReporter(sender Sender, archiver storage.Archiver, adminChatID int64, maxOutputSize int64) *Reporter {
	return &Reporter{
		sender:        sender,
		archiver:      archiver,
		adminChatID:   adminChatID,
		maxOutputSize: maxOutputSize,
		failures:      make(map[int64][]time.Time),
		now:           time.Now,
	}
}

// SetSender binds the chat transport after construction. The bot needs the
// queue and the queue's reporter needs the bot, so one side binds late,
// before the queue starts.
func (r *Reporter) SetSender(s Sender) {
	r.sender = s
}

// Started updates the task's status message when a worker picks it up.
func (r *Reporter) Started(ctx context.Context, task *models.DownloadTask) {
	if task.StatusMessageID == 0 {
		return
	}
	label := task.Format.Label
	if label == "" {
		label = task.URL
	}
	if err := r.sender.EditText(ctx, task.ChatID, task.StatusMessageID, "Downloading "+label+"..."); err != nil {
		utils.LogDebug(ctx, "Failed to edit status message", utils.Fields{"error": err.Error()})
	}
}

// Deliver reports one terminal task to its chat. Called exactly once per
// task by the queue.
func (r *Reporter) Deliver(ctx context.Context, task *models.DownloadTask) {
	defer func() {
		if rec := recover(); rec != nil {
			utils.LogError(ctx, "Reporter panicked", fmt.Errorf("%v", rec), utils.Fields{"chat_id": task.ChatID})
		}
	}()

	switch task.State {
	case models.TaskStateSucceeded:
		r.deliverSuccess(ctx, task)
	case models.TaskStateFailed:
		r.deliverFailure(ctx, task)
	case models.TaskStateCancelled:
		if task.UserCancelled {
			r.reply(ctx, task, "Download cancelled.")
		}
		// internal cancellations (shutdown) stay silent
	default:
		utils.LogError(ctx, "Reporter received a non-terminal task", nil, utils.Fields{
			"chat_id": task.ChatID,
			"state":   string(task.State),
		})
	}
}

func (r *Reporter) deliverSuccess(ctx context.Context, task *models.DownloadTask) {
	result := task.Result

	if result.FileSize > r.maxOutputSize {
		// the queue checks this first, but the reporter is the last gate
		r.reply(ctx, task, utils.NewOutputTooLargeError(result.FileSize, r.maxOutputSize).UserMessage)
		return
	}

	caption := result.Title
	err := r.sender.SendDocument(ctx, task.ChatID, result.FilePath, caption)
	if err != nil {
		if isTooLargeSendError(err) {
			r.reply(ctx, task, utils.NewOutputTooLargeError(result.FileSize, r.maxOutputSize).UserMessage)
			return
		}
		utils.LogError(ctx, "Failed to send artifact", err, utils.Fields{"chat_id": task.ChatID})
		r.recordFailure(ctx, task, utils.NewTransientNetworkError(task.URL, err))
		r.reply(ctx, task, "The file was ready but sending it failed. Please resend the link.")
		return
	}

	if task.StatusMessageID != 0 {
		_ = r.sender.EditText(ctx, task.ChatID, task.StatusMessageID, "Done: "+caption)
	}

	r.archive(ctx, task)
}

func (r *Reporter) deliverFailure(ctx context.Context, task *models.DownloadTask) {
	appErr := task.Result.Err
	if appErr == nil {
		appErr = utils.NewUnknownError(nil)
	}

	utils.LogError(ctx, "Task failed", appErr, utils.Fields{
		"chat_id": task.ChatID,
		"code":    string(appErr.Code),
		"url":     task.URL,
	})

	r.reply(ctx, task, appErr.UserMessage)
	r.recordFailure(ctx, task, appErr)
}

// recordFailure tracks failures per identity and escalates to the operator
// on anything unexplained, or when one identity keeps failing inside the
// window.
func (r *Reporter) recordFailure(ctx context.Context, task *models.DownloadTask, appErr *utils.AppError) {
	now := r.now()

	r.mu.Lock()
	recent := r.failures[task.UserID][:0]
	for _, ts := range r.failures[task.UserID] {
		if now.Sub(ts) < failureWindow {
			recent = append(recent, ts)
		}
	}
	recent = append(recent, now)
	r.failures[task.UserID] = recent
	count := len(recent)
	r.mu.Unlock()

	if appErr.Code == utils.ErrorCodeUnknown || count > 1 {
		r.notifyOperator(ctx, task, appErr, count)
	}
}

func (r *Reporter) notifyOperator(ctx context.Context, task *models.DownloadTask, appErr *utils.AppError, count int) {
	if r.adminChatID == 0 || r.adminChatID == task.ChatID {
		return
	}
	text := fmt.Sprintf("Download failure for user %d (%d in the last %s)\nURL: %s\n%s",
		task.UserID, count, failureWindow, task.URL, appErr.Error())
	if _, err := r.sender.SendText(ctx, r.adminChatID, text); err != nil {
		utils.LogError(ctx, "Failed to notify operator", err, nil)
	}
}

// reply edits the task's status message when one exists, otherwise sends a
// fresh message. Errors are logged and swallowed.
func (r *Reporter) reply(ctx context.Context, task *models.DownloadTask, text string) {
	if task.StatusMessageID != 0 {
		if err := r.sender.EditText(ctx, task.ChatID, task.StatusMessageID, text); err == nil {
			return
		}
	}
	if _, err := r.sender.SendText(ctx, task.ChatID, text); err != nil {
		utils.LogError(ctx, "Failed to send chat message", err, utils.Fields{"chat_id": task.ChatID})
	}
}

// archive pushes a best-effort copy of the artifact to the bucket before
// the queue reclaims the scratch directory.
func (r *Reporter) archive(ctx context.Context, task *models.DownloadTask) {
	if r.archiver == nil {
		return
	}
	key, err := r.archiver.ArchiveFile(ctx, task.ID.String(), task.Result.FilePath, task.Result.MimeType)
	if err != nil {
		utils.LogWarn(ctx, "Failed to archive artifact", utils.Fields{"error": err.Error()})
		return
	}
	utils.LogDebug(ctx, "Artifact archived", utils.Fields{"key": key})
}

// isTooLargeSendError detects the chat API refusing an upload over its size
// cap so the user gets the right advice instead of a generic failure.
func isTooLargeSendError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "too large") ||
		strings.Contains(msg, "entity too large") ||
		strings.Contains(msg, "file is too big")
}
