package delivery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vgrab/vgrab/internal/models"
	"github.com/vgrab/vgrab/internal/services/storage"
	"github.com/vgrab/vgrab/internal/utils"
)

type sentText struct {
	chatID int64
	text   string
}

type sentDoc struct {
	chatID   int64
	filePath string
	caption  string
}

type fakeSender struct {
	mu      sync.Mutex
	texts   []sentText
	docs    []sentDoc
	edits   []sentText
	docErr  error
	textErr error
}

func (s *fakeSender) SendText(ctx context.Context, chatID int64, text string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.textErr != nil {
		return 0, s.textErr
	}
	s.texts = append(s.texts, sentText{chatID, text})
	return len(s.texts), nil
}

func (s *fakeSender) SendDocument(ctx context.Context, chatID int64, filePath, caption string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.docErr != nil {
		return s.docErr
	}
	s.docs = append(s.docs, sentDoc{chatID, filePath, caption})
	return nil
}

func (s *fakeSender) EditText(ctx context.Context, chatID int64, messageID int, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edits = append(s.edits, sentText{chatID, text})
	return nil
}

type fakeArchiver struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (a *fakeArchiver) ArchiveFile(ctx context.Context, taskID, filePath, contentType string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	key := "archive/" + taskID
	a.keys = append(a.keys, key)
	return key, nil
}

func (a *fakeArchiver) BucketName() string { return "test-bucket" }

const adminChat = int64(999)

func newTestReporter(sender *fakeSender, archiver *fakeArchiver) (*Reporter, *time.Time) {
	var arch storage.Archiver
	if archiver != nil {
		arch = archiver
	}
	r := NewReporter(sender, arch, adminChat, 50*1024*1024)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	return r, &now
}

func succeededTask(chatID int64) *models.DownloadTask {
	return &models.DownloadTask{
		ID:     uuid.New(),
		UserID: chatID,
		ChatID: chatID,
		URL:    "https://youtu.be/x",
		State:  models.TaskStateSucceeded,
		Result: &models.TaskResult{
			FilePath: "/tmp/work/clip.mp4",
			Title:    "clip",
			FileSize: 1024,
			MimeType: "video/mp4",
		},
	}
}

func failedTask(chatID int64, err *utils.AppError) *models.DownloadTask {
	return &models.DownloadTask{
		ID:     uuid.New(),
		UserID: chatID,
		ChatID: chatID,
		URL:    "https://youtu.be/x",
		State:  models.TaskStateFailed,
		Result: &models.TaskResult{Err: err},
	}
}

func TestSuccessSendsDocument(t *testing.T) {
	sender := &fakeSender{}
	r, _ := newTestReporter(sender, nil)

	r.Deliver(context.Background(), succeededTask(100))

	if len(sender.docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(sender.docs))
	}
	if sender.docs[0].chatID != 100 || sender.docs[0].caption != "clip" {
		t.Errorf("unexpected document: %+v", sender.docs[0])
	}
	if len(sender.texts) != 0 {
		t.Errorf("no text message expected on success, got %v", sender.texts)
	}
}

func TestSuccessArchivesWhenEnabled(t *testing.T) {
	sender := &fakeSender{}
	archiver := &fakeArchiver{}
	r, _ := newTestReporter(sender, archiver)

	r.Deliver(context.Background(), succeededTask(100))

	if len(archiver.keys) != 1 {
		t.Fatalf("expected 1 archived object, got %d", len(archiver.keys))
	}
}

func TestArchiveFailureDoesNotAffectDelivery(t *testing.T) {
	sender := &fakeSender{}
	archiver := &fakeArchiver{err: errors.New("bucket gone")}
	r, _ := newTestReporter(sender, archiver)

	r.Deliver(context.Background(), succeededTask(100))

	if len(sender.docs) != 1 {
		t.Error("document must still be delivered when archiving fails")
	}
}

func TestOversizeResultExplainsLimit(t *testing.T) {
	sender := &fakeSender{}
	r, _ := newTestReporter(sender, nil)

	task := succeededTask(100)
	task.Result.FileSize = 200 * 1024 * 1024

	r.Deliver(context.Background(), task)

	if len(sender.docs) != 0 {
		t.Error("oversize artifact must not be sent")
	}
	if len(sender.texts) != 1 || !strings.Contains(sender.texts[0].text, "exceeds") {
		t.Errorf("expected a size explanation, got %v", sender.texts)
	}
}

func TestTooLargeSendErrorReclassified(t *testing.T) {
	sender := &fakeSender{docErr: errors.New("Request Entity Too Large")}
	r, _ := newTestReporter(sender, nil)

	r.Deliver(context.Background(), succeededTask(100))

	if len(sender.texts) != 1 || !strings.Contains(sender.texts[0].text, "exceeds") {
		t.Errorf("expected the size limit message, got %v", sender.texts)
	}
}

func TestFailureSendsUserSafeMessage(t *testing.T) {
	sender := &fakeSender{}
	r, _ := newTestReporter(sender, nil)

	appErr := utils.NewSourceUnavailableError("https://youtu.be/x", errors.New("HTTP 410: tokens deadbeef cafebabe"))
	r.Deliver(context.Background(), failedTask(100, appErr))

	if len(sender.texts) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sender.texts))
	}
	got := sender.texts[0]
	if got.chatID != 100 {
		t.Errorf("message went to the wrong chat: %d", got.chatID)
	}
	if got.text != appErr.UserMessage {
		t.Errorf("expected the user-safe message, got %q", got.text)
	}
	if strings.Contains(got.text, "deadbeef") || strings.Contains(got.text, "410") {
		t.Error("raw error details leaked into the chat")
	}
}

func TestUnknownFailurePagesOperator(t *testing.T) {
	sender := &fakeSender{}
	r, _ := newTestReporter(sender, nil)

	r.Deliver(context.Background(), failedTask(100, utils.NewUnknownError(errors.New("nil map write"))))

	var operatorMsgs int
	for _, msg := range sender.texts {
		if msg.chatID == adminChat {
			operatorMsgs++
		}
	}
	if operatorMsgs != 1 {
		t.Errorf("expected 1 operator notification, got %d", operatorMsgs)
	}
}

func TestExpectedFailureDoesNotPageOperator(t *testing.T) {
	sender := &fakeSender{}
	r, _ := newTestReporter(sender, nil)

	appErr := utils.NewOutputTooLargeError(200*1024*1024, 50*1024*1024)
	r.Deliver(context.Background(), failedTask(100, appErr))

	for _, msg := range sender.texts {
		if msg.chatID == adminChat {
			t.Fatal("single expected failure must not page the operator")
		}
	}
}

func TestRepeatedFailuresPageOperator(t *testing.T) {
	sender := &fakeSender{}
	r, now := newTestReporter(sender, nil)

	appErr := utils.NewSourceUnavailableError("https://youtu.be/x", nil)

	r.Deliver(context.Background(), failedTask(100, appErr))
	*now = now.Add(time.Minute)
	r.Deliver(context.Background(), failedTask(100, appErr))

	var operatorMsgs int
	for _, msg := range sender.texts {
		if msg.chatID == adminChat {
			operatorMsgs++
		}
	}
	if operatorMsgs != 1 {
		t.Errorf("second failure inside the window should page once, got %d", operatorMsgs)
	}
}

func TestFailureTrackingFollowsUserAcrossChats(t *testing.T) {
	sender := &fakeSender{}
	r, now := newTestReporter(sender, nil)

	appErr := utils.NewSourceUnavailableError("https://youtu.be/x", nil)

	first := failedTask(100, appErr)
	first.UserID = 7
	r.Deliver(context.Background(), first)

	*now = now.Add(time.Minute)
	second := failedTask(200, appErr)
	second.UserID = 7
	r.Deliver(context.Background(), second)

	var operatorMsgs int
	for _, msg := range sender.texts {
		if msg.chatID == adminChat {
			operatorMsgs++
		}
	}
	if operatorMsgs != 1 {
		t.Errorf("repeated failures by one user should escalate once regardless of chat, got %d", operatorMsgs)
	}
}

func TestFailuresOutsideWindowDoNotAccumulate(t *testing.T) {
	sender := &fakeSender{}
	r, now := newTestReporter(sender, nil)

	appErr := utils.NewSourceUnavailableError("https://youtu.be/x", nil)

	r.Deliver(context.Background(), failedTask(100, appErr))
	*now = now.Add(failureWindow + time.Minute)
	r.Deliver(context.Background(), failedTask(100, appErr))

	for _, msg := range sender.texts {
		if msg.chatID == adminChat {
			t.Fatal("failures outside the window must not escalate")
		}
	}
}

func TestUserCancelIsAcknowledged(t *testing.T) {
	sender := &fakeSender{}
	r, _ := newTestReporter(sender, nil)

	task := &models.DownloadTask{
		ID:            uuid.New(),
		ChatID:        100,
		State:         models.TaskStateCancelled,
		UserCancelled: true,
		Result:        &models.TaskResult{},
	}
	r.Deliver(context.Background(), task)

	if len(sender.texts) != 1 || !strings.Contains(sender.texts[0].text, "cancelled") {
		t.Errorf("expected a cancellation acknowledgement, got %v", sender.texts)
	}
}

func TestInternalCancelIsSilent(t *testing.T) {
	sender := &fakeSender{}
	r, _ := newTestReporter(sender, nil)

	task := &models.DownloadTask{
		ID:     uuid.New(),
		ChatID: 100,
		State:  models.TaskStateCancelled,
		Result: &models.TaskResult{},
	}
	r.Deliver(context.Background(), task)

	if len(sender.texts) != 0 || len(sender.docs) != 0 {
		t.Error("internal cancellation must not message the chat")
	}
}

func TestStartedEditsStatusMessage(t *testing.T) {
	sender := &fakeSender{}
	r, _ := newTestReporter(sender, nil)

	task := succeededTask(100)
	task.State = models.TaskStateRunning
	task.StatusMessageID = 42
	task.Format = models.FormatSpec{ID: "video:HD", Label: "HD (720p)"}

	r.Started(context.Background(), task)

	if len(sender.edits) != 1 || !strings.Contains(sender.edits[0].text, "HD (720p)") {
		t.Errorf("expected a progress edit, got %v", sender.edits)
	}

	// without a status message nothing is sent
	r.Started(context.Background(), succeededTask(100))
	if len(sender.edits) != 1 || len(sender.texts) != 0 {
		t.Error("Started must stay silent without a status message")
	}
}

func TestStatusMessageEditedOnFailure(t *testing.T) {
	sender := &fakeSender{}
	r, _ := newTestReporter(sender, nil)

	task := failedTask(100, utils.NewTimeoutError("https://youtu.be/x"))
	task.StatusMessageID = 42
	r.Deliver(context.Background(), task)

	if len(sender.edits) != 1 {
		t.Fatalf("expected the status message to be edited, got %d edits", len(sender.edits))
	}
	if len(sender.texts) != 0 {
		t.Errorf("edit should replace the fresh message, got %v", sender.texts)
	}
}
