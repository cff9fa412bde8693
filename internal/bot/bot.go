package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/vgrab/vgrab/internal/models"
	"github.com/vgrab/vgrab/internal/services/formats"
	"github.com/vgrab/vgrab/internal/services/selection"
	"github.com/vgrab/vgrab/internal/utils"
)

const callbackPrefix = "fmt:"

// AuthStore is the authorization surface the bot needs from the database.
type AuthStore interface {
	IsAuthorized(ctx context.Context, chatID int64) (bool, error)
	AddUser(ctx context.Context, userID int64, username *string, addedBy int64) (bool, error)
	DeactivateUser(ctx context.Context, userID int64) error
	ListUsers(ctx context.Context) ([]models.User, error)
	CreateInvite(ctx context.Context, createdBy int64) (string, error)
	UseInvite(ctx context.Context, inviteCode string, userID int64) (bool, error)
}

// Downloads is the queue surface the bot drives. userID is the sender's
// identity; chatID is where the result goes.
type Downloads interface {
	Enqueue(ctx context.Context, userID, chatID int64, url string, spec models.FormatSpec, statusMessageID int) (*models.DownloadTask, int, error)
	CancelUser(userID int64) int
	Status(userID int64) models.UserStatus
}

// MenuResolver probes a source URL and builds the format menu.
type MenuResolver interface {
	Resolve(ctx context.Context, url string) (*formats.Menu, error)
}

// Bot is the chat transport: it consumes updates, runs authorization, shows
// the format menu and hands accepted selections to the queue. It also
// implements the reporter's Sender.
type Bot struct {
	api         *tgbotapi.BotAPI
	adminChatID int64
	auth        AuthStore
	downloads   Downloads
	resolver    MenuResolver
	selections  *selection.Store
	supported   func(url string) bool
	probes      *probeGate
}

func New(token string, adminChatID int64, auth AuthStore, downloads Downloads, resolver MenuResolver, selections *selection.Store, supported func(url string) bool, maxProbes int) (*Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &Bot{
		api:         api,
		adminChatID: adminChatID,
		auth:        auth,
		downloads:   downloads,
		resolver:    resolver,
		selections:  selections,
		supported:   supported,
		probes:      newProbeGate(maxProbes),
	}, nil
}

// probeGate bounds concurrent format probes. Each update runs on its own
// goroutine, so without the gate a burst of links would open one network
// probe per sender.
type probeGate struct {
	slots chan struct{}
}

func newProbeGate(limit int) *probeGate {
	if limit < 1 {
		limit = 1
	}
	return &probeGate{slots: make(chan struct{}, limit)}
}

func (g *probeGate) acquire(ctx context.Context) error {
	select {
	case g.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *probeGate) release() {
	<-g.slots
}

// Run consumes updates until the context is cancelled. Each update is
// handled on its own goroutine so a slow probe never stalls the loop.
func (b *Bot) Run(ctx context.Context) error {
	me, err := b.api.GetMe()
	if err != nil {
		return fmt.Errorf("failed to reach Bot API: %w", err)
	}
	utils.LogInfo(ctx, "Bot connected", utils.Fields{"username": me.UserName})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			go b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	ctx = utils.WithCorrelationID(ctx, utils.GenerateCorrelationID())
	defer func() {
		if rec := recover(); rec != nil {
			utils.LogError(ctx, "Update handler panicked", fmt.Errorf("%v", rec), nil)
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	authorized, err := b.auth.IsAuthorized(ctx, msg.From.ID)
	if err != nil {
		utils.LogError(ctx, "Authorization check failed", err, utils.Fields{"chat_id": chatID})
		b.sendTo(ctx, chatID, "Something went wrong, please try again.")
		return
	}
	if !authorized {
		b.sendTo(ctx, chatID, utils.NewUnauthorizedError().UserMessage)
		return
	}

	url := strings.TrimSpace(msg.Text)
	if !b.supported(url) {
		b.sendTo(ctx, chatID, "Send me a YouTube link and I'll offer download formats.")
		return
	}

	b.showFormatMenu(ctx, chatID, url)
}

// showFormatMenu probes the source and posts the inline keyboard. Rejected
// links get the taxonomy's user message instead.
func (b *Bot) showFormatMenu(ctx context.Context, chatID int64, url string) {
	if err := b.probes.acquire(ctx); err != nil {
		return
	}
	menu, err := b.resolver.Resolve(ctx, url)
	b.probes.release()
	if err != nil {
		appErr := utils.AsAppError(err)
		utils.LogWarn(ctx, "Format probe failed", utils.Fields{"url": url, "code": string(appErr.Code)})
		b.sendTo(ctx, chatID, appErr.UserMessage)
		return
	}

	token, err := b.selections.Create(url)
	if err != nil {
		utils.LogError(ctx, "Failed to create selection token", err, nil)
		b.sendTo(ctx, chatID, "Something went wrong, please try again.")
		return
	}

	reply := tgbotapi.NewMessage(chatID, "Choose a format for: "+menu.Title)
	reply.ReplyMarkup = buildKeyboard(menu.Options, token)
	if _, err := b.api.Send(reply); err != nil {
		utils.LogError(ctx, "Failed to send format menu", err, utils.Fields{"chat_id": chatID})
	}
}

// buildKeyboard lays options out two per row.
func buildKeyboard(options []models.FormatSpec, token string) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton

	for _, opt := range options {
		data := callbackPrefix + opt.ID + ":" + token
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(opt.Label, data))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// parseCallbackData splits "fmt:<format_id>:<token>". Format ids contain a
// colon, so the token is everything after the last one.
func parseCallbackData(data string) (formatID, token string, ok bool) {
	if !strings.HasPrefix(data, callbackPrefix) {
		return "", "", false
	}
	rest := data[len(callbackPrefix):]
	idx := strings.LastIndex(rest, ":")
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	// always answer, otherwise the client shows a spinner forever
	defer func() {
		if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
			utils.LogDebug(ctx, "Failed to answer callback", utils.Fields{"error": err.Error()})
		}
	}()

	if cb.From == nil || cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	authorized, err := b.auth.IsAuthorized(ctx, cb.From.ID)
	if err != nil || !authorized {
		b.sendTo(ctx, chatID, utils.NewUnauthorizedError().UserMessage)
		return
	}

	formatID, token, ok := parseCallbackData(cb.Data)
	if !ok {
		utils.LogWarn(ctx, "Malformed callback data", utils.Fields{"data": cb.Data})
		return
	}

	if _, known := formats.SpecByID(formatID); !known {
		utils.LogWarn(ctx, "Unknown format id in callback", utils.Fields{"format_id": formatID})
		return
	}

	url, spec, live := consumeSelection(b.selections, formatID, token)
	if !live {
		b.editTo(ctx, chatID, cb.Message.MessageID, "This menu expired. Resend the link to get a fresh one.")
		return
	}

	task, position, err := b.downloads.Enqueue(ctx, cb.From.ID, chatID, url, spec, cb.Message.MessageID)
	if err != nil {
		appErr := utils.AsAppError(err)
		b.editTo(ctx, chatID, cb.Message.MessageID, appErr.UserMessage)
		return
	}
	b.selections.Delete(token)

	utils.LogInfo(ctx, "Selection accepted", utils.Fields{
		"task_id":  task.ID.String(),
		"user_id":  cb.From.ID,
		"format":   spec.ID,
		"position": position,
	})
	b.editTo(ctx, chatID, cb.Message.MessageID,
		fmt.Sprintf("Queued %s at position %d. I'll send the file when it's ready.", spec.Label, position))
}

// consumeSelection pins the chosen format on the live selection and reads
// the request back from the store, so what gets enqueued is exactly what
// the token records.
func consumeSelection(s *selection.Store, formatID, token string) (string, models.FormatSpec, bool) {
	spec, known := formats.SpecByID(formatID)
	if !known {
		return "", models.FormatSpec{}, false
	}
	if !s.SetFormat(token, spec) {
		return "", models.FormatSpec{}, false
	}
	entry, live := s.Get(token)
	if !live || entry.Format == nil {
		return "", models.FormatSpec{}, false
	}
	return entry.URL, *entry.Format, true
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	userID := msg.From.ID

	switch msg.Command() {
	case "start":
		b.cmdStart(ctx, msg)
	case "help":
		b.sendTo(ctx, chatID, helpText)
	case "invite":
		b.cmdInvite(ctx, chatID, userID)
	case "adduser":
		b.cmdAddUser(ctx, msg)
	case "deluser":
		b.cmdDelUser(ctx, msg)
	case "users":
		b.cmdUsers(ctx, msg)
	case "cancel":
		b.cmdCancel(ctx, chatID, userID)
	case "status":
		b.cmdStatus(ctx, chatID, userID)
	default:
		b.sendTo(ctx, chatID, "Unknown command. Try /help.")
	}
}

func (b *Bot) cmdStart(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	userID := msg.From.ID

	if code := strings.TrimSpace(msg.CommandArguments()); code != "" {
		used, err := b.auth.UseInvite(ctx, code, userID)
		if err != nil {
			utils.LogError(ctx, "Invite redemption failed", err, utils.Fields{"chat_id": chatID})
			b.sendTo(ctx, chatID, "Something went wrong, please try again.")
			return
		}
		if !used {
			b.sendTo(ctx, chatID, "This invite link is invalid or already used.")
			return
		}
		b.sendTo(ctx, chatID, "Welcome! Send me a YouTube link to get started.")
		return
	}

	authorized, err := b.auth.IsAuthorized(ctx, userID)
	if err == nil && authorized {
		b.sendTo(ctx, chatID, "Send me a YouTube link and I'll offer download formats. See /help.")
		return
	}
	b.sendTo(ctx, chatID, utils.NewUnauthorizedError().UserMessage)
}

func (b *Bot) cmdInvite(ctx context.Context, chatID, userID int64) {
	authorized, err := b.auth.IsAuthorized(ctx, userID)
	if err != nil || !authorized {
		b.sendTo(ctx, chatID, utils.NewUnauthorizedError().UserMessage)
		return
	}

	code, err := b.auth.CreateInvite(ctx, userID)
	if err != nil {
		utils.LogError(ctx, "Failed to create invite", err, nil)
		b.sendTo(ctx, chatID, "Something went wrong, please try again.")
		return
	}

	me, err := b.api.GetMe()
	if err != nil {
		b.sendTo(ctx, chatID, "Invite code: "+code)
		return
	}
	b.sendTo(ctx, chatID, fmt.Sprintf("One-time invite link:\nhttps://t.me/%s?start=%s", me.UserName, code))
}

func (b *Bot) cmdAddUser(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From.ID != b.adminChatID {
		b.sendTo(ctx, msg.Chat.ID, "Only the administrator can add users directly.")
		return
	}

	var targetID int64
	var username string
	args := strings.Fields(msg.CommandArguments())
	if len(args) == 0 {
		b.sendTo(ctx, msg.Chat.ID, "Usage: /adduser <telegram_id> [username]")
		return
	}
	if _, err := fmt.Sscanf(args[0], "%d", &targetID); err != nil {
		b.sendTo(ctx, msg.Chat.ID, "Usage: /adduser <telegram_id> [username]")
		return
	}
	if len(args) > 1 {
		username = args[1]
	}

	var usernamePtr *string
	if username != "" {
		usernamePtr = &username
	}

	added, err := b.auth.AddUser(ctx, targetID, usernamePtr, msg.From.ID)
	if err != nil {
		utils.LogError(ctx, "Failed to add user", err, utils.Fields{"target_id": targetID})
		b.sendTo(ctx, msg.Chat.ID, "Something went wrong, please try again.")
		return
	}
	if added {
		b.sendTo(ctx, msg.Chat.ID, fmt.Sprintf("User %d added.", targetID))
	} else {
		b.sendTo(ctx, msg.Chat.ID, fmt.Sprintf("User %d was already on the list and is active again.", targetID))
	}
}

func (b *Bot) cmdDelUser(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From.ID != b.adminChatID {
		b.sendTo(ctx, msg.Chat.ID, "Only the administrator can remove users.")
		return
	}

	var targetID int64
	if _, err := fmt.Sscanf(strings.TrimSpace(msg.CommandArguments()), "%d", &targetID); err != nil {
		b.sendTo(ctx, msg.Chat.ID, "Usage: /deluser <telegram_id>")
		return
	}

	if err := b.auth.DeactivateUser(ctx, targetID); err != nil {
		utils.LogError(ctx, "Failed to deactivate user", err, utils.Fields{"target_id": targetID})
		b.sendTo(ctx, msg.Chat.ID, "Something went wrong, please try again.")
		return
	}
	b.sendTo(ctx, msg.Chat.ID, fmt.Sprintf("User %d deactivated.", targetID))
}

func (b *Bot) cmdUsers(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From.ID != b.adminChatID {
		b.sendTo(ctx, msg.Chat.ID, "Only the administrator can list users.")
		return
	}

	users, err := b.auth.ListUsers(ctx)
	if err != nil {
		utils.LogError(ctx, "Failed to list users", err, nil)
		b.sendTo(ctx, msg.Chat.ID, "Something went wrong, please try again.")
		return
	}
	if len(users) == 0 {
		b.sendTo(ctx, msg.Chat.ID, "No users yet.")
		return
	}

	var sb strings.Builder
	sb.WriteString("Authorized users:\n")
	for _, u := range users {
		name := ""
		if u.Username != nil {
			name = " @" + *u.Username
		}
		state := ""
		if !u.IsActive {
			state = " (inactive)"
		}
		fmt.Fprintf(&sb, "%d%s%s\n", u.ID, name, state)
	}
	b.sendTo(ctx, msg.Chat.ID, sb.String())
}

func (b *Bot) cmdCancel(ctx context.Context, chatID, userID int64) {
	count := b.downloads.CancelUser(userID)
	if count == 0 {
		b.sendTo(ctx, chatID, "Nothing to cancel.")
		return
	}
	utils.LogInfo(ctx, "User cancelled tasks", utils.Fields{"chat_id": chatID, "count": count})
}

func (b *Bot) cmdStatus(ctx context.Context, chatID, userID int64) {
	status := b.downloads.Status(userID)

	var sb strings.Builder
	if status.Running {
		fmt.Fprintf(&sb, "Downloading: %s\n", status.RunningURL)
	}
	if status.PendingCount > 0 {
		fmt.Fprintf(&sb, "Queued: %d (next at position %d)\n", status.PendingCount, status.QueuePosition)
	}
	if sb.Len() == 0 {
		sb.WriteString("No active downloads.")
	}
	b.sendTo(ctx, chatID, sb.String())
}

const helpText = `Send a YouTube link and pick a format from the menu.

/status - your queue position and active download
/cancel - cancel all your downloads
/invite - create a one-time invite link
/help - this message`

// sendTo and editTo are internal fire-and-forget variants of the Sender
// methods.
func (b *Bot) sendTo(ctx context.Context, chatID int64, text string) {
	if _, err := b.SendText(ctx, chatID, text); err != nil {
		utils.LogError(ctx, "Failed to send message", err, utils.Fields{"chat_id": chatID})
	}
}

func (b *Bot) editTo(ctx context.Context, chatID int64, messageID int, text string) {
	if err := b.EditText(ctx, chatID, messageID, text); err != nil {
		b.sendTo(ctx, chatID, text)
	}
}

// SendText implements the reporter's Sender.
func (b *Bot) SendText(ctx context.Context, chatID int64, text string) (int, error) {
	sent, err := b.api.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// SendDocument uploads a local file as a document.
func (b *Bot) SendDocument(ctx context.Context, chatID int64, filePath, caption string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(filePath))
	doc.Caption = caption
	_, err := b.api.Send(doc)
	return err
}

// EditText rewrites an existing message.
func (b *Bot) EditText(ctx context.Context, chatID int64, messageID int, text string) error {
	_, err := b.api.Request(tgbotapi.NewEditMessageText(chatID, messageID, text))
	return err
}
