package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vgrab/vgrab/internal/config"
	"github.com/vgrab/vgrab/internal/models"
	"github.com/vgrab/vgrab/internal/services/extractor"
	"github.com/vgrab/vgrab/internal/utils"
)

// maxTransientRetries is the immediate-retry budget for transient network
// failures: up to 3 attempts total before the task fails.
const maxTransientRetries = 2

// Fetcher is the blocking extraction/download operation. Only workers call
// it, never the control path.
type Fetcher interface {
	Fetch(ctx context.Context, url string, spec models.FormatSpec, destDir string) (*extractor.Artifact, error)
}

// Workspace owns scratch directories for running tasks.
type Workspace interface {
	Create(taskID string) (string, error)
	Cleanup(ctx context.Context, dir string) error
}

// Notifier observes task progress. Started fires when a worker picks a task
// up; Deliver fires exactly once when the task reaches a terminal state.
// Implementations must not block for long and must not panic.
type Notifier interface {
	Started(ctx context.Context, task *models.DownloadTask)
	Deliver(ctx context.Context, task *models.DownloadTask)
}

// Queue is the download task pipeline: a FIFO pending list feeding a fixed
// worker pool, with global and per-identity admission limits. All internal
// state is guarded by one mutex; no caller sees the structures directly.
type Queue struct {
	cfg       config.DownloadConfig
	fetcher   Fetcher
	workspace Workspace
	notifier  Notifier

	mu              sync.Mutex
	pending         []*models.DownloadTask
	queued          map[uuid.UUID]*models.DownloadTask
	inFlight        map[uuid.UUID]*models.DownloadTask
	perUser         map[int64]int
	cancels         map[uuid.UUID]context.CancelFunc
	cancelRequested map[uuid.UUID]bool
	terminalCounts  map[models.TaskState]int
	closed          bool

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

func New(cfg config.DownloadConfig, fetcher Fetcher, workspace Workspace, notifier Notifier) *Queue {
	return &Queue{
		cfg:             cfg,
		fetcher:         fetcher,
		workspace:       workspace,
		notifier:        notifier,
		queued:          make(map[uuid.UUID]*models.DownloadTask),
		inFlight:        make(map[uuid.UUID]*models.DownloadTask),
		perUser:         make(map[int64]int),
		cancels:         make(map[uuid.UUID]context.CancelFunc),
		cancelRequested: make(map[uuid.UUID]bool),
		terminalCounts:  make(map[models.TaskState]int),
		wake:            make(chan struct{}, cfg.MaxQueueSize),
		stop:            make(chan struct{}),
	}
}

// Start launches the worker pool. ctx is the parent of every task context.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.cfg.MaxConcurrentDownloads; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

// Enqueue admits a task or rejects it synchronously. On success it returns
// the task handle and its 1-based position in the pending list.
// userID keys the per-identity limit; chatID is only where results go.
// statusMessageID, when non-zero, is the chat message the reporter edits
// with the terminal outcome.
func (q *Queue) Enqueue(ctx context.Context, userID, chatID int64, url string, spec models.FormatSpec, statusMessageID int) (*models.DownloadTask, int, error) {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()
		return nil, 0, utils.NewError(utils.ErrorCodeRejected,
			"queue is shutting down",
			"The bot is restarting. Please resend the link in a minute.")
	}
	if len(q.pending)+len(q.inFlight) >= q.cfg.MaxQueueSize {
		q.mu.Unlock()
		return nil, 0, utils.NewQueueFullError(q.cfg.MaxQueueSize)
	}
	if q.perUser[userID] >= q.cfg.MaxTasksPerUser {
		q.mu.Unlock()
		return nil, 0, utils.NewUserLimitError(q.cfg.MaxTasksPerUser)
	}

	task := &models.DownloadTask{
		ID:              uuid.New(),
		UserID:          userID,
		ChatID:          chatID,
		URL:             url,
		Format:          spec,
		State:           models.TaskStateQueued,
		EnqueuedAt:      time.Now(),
		StatusMessageID: statusMessageID,
	}

	q.pending = append(q.pending, task)
	q.queued[task.ID] = task
	q.perUser[userID]++
	position := len(q.pending)
	q.mu.Unlock()

	utils.LogInfo(ctx, "Task enqueued", utils.Fields{
		"task_id":  task.ID.String(),
		"user_id":  userID,
		"format":   spec.ID,
		"position": position,
	})

	// Wake tokens can outnumber pending tasks after cancellations, so a
	// full buffer already guarantees enough wakeups.
	select {
	case q.wake <- struct{}{}:
	default:
	}

	return task, position, nil
}

// Cancel moves a queued task straight to Cancelled, or signals intent to a
// running one; in the running case the slot frees when the underlying call
// returns and the result is discarded. Returns false for unknown tasks.
func (q *Queue) Cancel(taskID uuid.UUID, userInitiated bool) bool {
	q.mu.Lock()

	if task, ok := q.queued[taskID]; ok {
		q.removeFromPendingLocked(taskID)
		task.UserCancelled = userInitiated
		q.finishLocked(task, models.TaskStateCancelled, &models.TaskResult{})
		q.mu.Unlock()
		q.notify(task)
		return true
	}

	if task, ok := q.inFlight[taskID]; ok {
		q.cancelRequested[taskID] = true
		task.UserCancelled = userInitiated
		if cancel, ok := q.cancels[taskID]; ok {
			cancel()
		}
		q.mu.Unlock()
		return true
	}

	q.mu.Unlock()
	return false
}

// CancelUser cancels every active task for one identity. Returns how many
// tasks were affected.
func (q *Queue) CancelUser(userID int64) int {
	q.mu.Lock()
	var ids []uuid.UUID
	for _, task := range q.pending {
		if task.UserID == userID {
			ids = append(ids, task.ID)
		}
	}
	for id, task := range q.inFlight {
		if task.UserID == userID {
			ids = append(ids, id)
		}
	}
	q.mu.Unlock()

	for _, id := range ids {
		q.Cancel(id, true)
	}
	return len(ids)
}

// Status reports the per-identity queue view. Pending position is 1-based.
func (q *Queue) Status(userID int64) models.UserStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	var status models.UserStatus
	for i, task := range q.pending {
		if task.UserID == userID {
			if status.QueuePosition == 0 {
				status.QueuePosition = i + 1
			}
			status.PendingCount++
		}
	}
	for _, task := range q.inFlight {
		if task.UserID == userID && !q.cancelRequested[task.ID] {
			status.Running = true
			status.RunningURL = task.URL
		}
	}
	return status
}

// Snapshot is the aggregate view for the ops endpoint.
func (q *Queue) Snapshot() models.QueueSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snap := models.QueueSnapshot{
		Pending:        len(q.pending),
		InFlight:       len(q.inFlight),
		MaxConcurrent:  q.cfg.MaxConcurrentDownloads,
		MaxQueueSize:   q.cfg.MaxQueueSize,
		ActivePerUser:  make(map[int64]int, len(q.perUser)),
		TerminalCounts: make(map[string]int, len(q.terminalCounts)),
	}
	for userID, count := range q.perUser {
		snap.ActivePerUser[userID] = count
	}
	for state, count := range q.terminalCounts {
		snap.TerminalCounts[string(state)] = count
	}
	return snap
}

// Shutdown stops intake, cancels running tasks and waits for workers up to
// the context deadline.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	for id, cancel := range q.cancels {
		// not user initiated, so the reporter stays silent
		q.cancelRequested[id] = true
		cancel()
	}
	q.mu.Unlock()

	close(q.stop)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-q.stop:
			return
		case <-ctx.Done():
			return
		case <-q.wake:
			q.runNext(ctx)
		}
	}
}

// runNext promotes the head of pending and executes it to a terminal state.
func (q *Queue) runNext(ctx context.Context) {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	task := q.pending[0]
	q.pending = q.pending[1:]
	delete(q.queued, task.ID)

	task.State = models.TaskStateRunning
	task.StartedAt = time.Now()
	q.inFlight[task.ID] = task

	taskCtx, cancel := context.WithTimeout(ctx, q.cfg.TaskTimeout)
	q.cancels[task.ID] = cancel
	q.mu.Unlock()
	defer cancel()

	logCtx := utils.WithTaskID(context.Background(), task.ID.String())
	utils.LogInfo(logCtx, "Task started", utils.Fields{"chat_id": task.ChatID, "url": task.URL})
	q.notifier.Started(logCtx, task)

	workDir, err := q.workspace.Create(task.ID.String())
	if err != nil {
		q.finishAndNotify(logCtx, task, models.TaskStateFailed, &models.TaskResult{Err: utils.NewUnknownError(err)})
		return
	}
	task.WorkDir = workDir

	artifact, appErr := q.runWithRetries(taskCtx, logCtx, task)

	q.mu.Lock()
	cancelled := q.cancelRequested[task.ID]
	q.mu.Unlock()

	// A dead parent context means the pool is shutting down, however the
	// caller sequenced it; that is an internal cancellation, never a failure
	// the user or the operator should hear about.
	if !cancelled && ctx.Err() != nil {
		cancelled = true
	}

	var state models.TaskState
	result := &models.TaskResult{}
	switch {
	case cancelled:
		// Result, if any, is discarded and never delivered
		state = models.TaskStateCancelled
	case appErr != nil:
		state = models.TaskStateFailed
		result.Err = appErr
	case artifact.Size > q.cfg.MaxOutputSize:
		state = models.TaskStateFailed
		result.Err = utils.NewOutputTooLargeError(artifact.Size, q.cfg.MaxOutputSize)
	default:
		state = models.TaskStateSucceeded
		result.FilePath = artifact.Path
		result.Title = artifact.Title
		result.FileSize = artifact.Size
		result.MimeType = artifact.MimeType
	}

	q.finishAndNotify(logCtx, task, state, result)
}

// runWithRetries drives the fetch with the transient retry budget. Timeout
// and cancellation are resolved from the task context, not the fetch error.
func (q *Queue) runWithRetries(taskCtx, logCtx context.Context, task *models.DownloadTask) (*extractor.Artifact, *utils.AppError) {
	var lastErr *utils.AppError

	for attempt := 0; attempt <= maxTransientRetries; attempt++ {
		artifact, err := q.fetcher.Fetch(taskCtx, task.URL, task.Format, task.WorkDir)
		if err == nil {
			return artifact, nil
		}

		if taskCtx.Err() == context.DeadlineExceeded {
			return nil, utils.NewTimeoutError(task.URL)
		}
		if taskCtx.Err() == context.Canceled {
			return nil, utils.AsAppError(err)
		}

		appErr := utils.AsAppError(err)
		if !appErr.Transient() {
			return nil, appErr
		}

		lastErr = appErr
		utils.LogWarn(logCtx, "Transient failure, retrying", utils.Fields{
			"attempt": attempt + 1,
			"error":   appErr.Error(),
		})
	}

	return nil, lastErr
}

// finishAndNotify performs the terminal transition, hands the task to the
// notifier exactly once, then releases the scratch directory.
func (q *Queue) finishAndNotify(ctx context.Context, task *models.DownloadTask, state models.TaskState, result *models.TaskResult) {
	q.mu.Lock()
	if !q.finishLocked(task, state, result) {
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()

	q.notify(task)

	if task.WorkDir != "" {
		_ = q.workspace.Cleanup(ctx, task.WorkDir)
	}

	utils.LogInfo(ctx, "Task finished", utils.Fields{
		"chat_id": task.ChatID,
		"state":   string(state),
		"latency": task.FinishedAt.Sub(task.EnqueuedAt).String(),
	})
}

// finishLocked applies the terminal transition. Returns false when the task
// already terminated, which makes double notification impossible.
func (q *Queue) finishLocked(task *models.DownloadTask, state models.TaskState, result *models.TaskResult) bool {
	if task.State.Terminal() {
		return false
	}

	task.State = state
	task.FinishedAt = time.Now()
	task.Result = result

	delete(q.inFlight, task.ID)
	delete(q.queued, task.ID)
	delete(q.cancels, task.ID)
	delete(q.cancelRequested, task.ID)

	if q.perUser[task.UserID] > 0 {
		q.perUser[task.UserID]--
		if q.perUser[task.UserID] == 0 {
			delete(q.perUser, task.UserID)
		}
	}

	q.terminalCounts[state]++
	return true
}

func (q *Queue) removeFromPendingLocked(taskID uuid.UUID) {
	for i, task := range q.pending {
		if task.ID == taskID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

func (q *Queue) notify(task *models.DownloadTask) {
	ctx := utils.WithTaskID(context.Background(), task.ID.String())
	q.notifier.Deliver(ctx, task)
}
