package telegram

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"tg_ocr_bot/internal/access"
	"tg_ocr_bot/internal/logging"
	"tg_ocr_bot/internal/pipeline"
)

// Reply texts. The not-an-admin and unsupported notices are exact wire
// contracts relied on by callers and tests.
const (
	replyGreeting    = "Hello. Send me your pdf"
	replyNotAdmin    = "You're not an admin"
	replyUnsupported = "Unsupported or unauthorized. Logged."
	replyNoUnknown   = "No unknown users"
)

// Sender sends one outbound message; *bot.Bot satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// Downloader retrieves a document by file id into a local file the pipeline
// owns from then on.
type Downloader interface {
	Download(ctx context.Context, fileID string) (string, error)
}

// Processor runs the attachment pipeline; *pipeline.Processor satisfies it.
type Processor interface {
	Process(ctx context.Context, localPath string, userID int64, fileName string, reply pipeline.ReplyFunc) error
}

// DocumentCounter reports how many documents have been processed; nil-safe
// *store.Recorder satisfies it.
type DocumentCounter interface {
	CountDocuments(ctx context.Context) (int64, error)
}

// Router maps inbound messages to handlers. It holds no per-message state:
// authorization is computed fresh from the registry on every dispatch.
type Router struct {
	registry  *access.Registry
	processor Processor
	counter   DocumentCounter
	audit     *logrus.Entry
	logger    *logrus.Entry
}

// NewRouter constructs a Router. The audit entry receives unrecognized
// messages; counter may be nil when the processing history is disabled.
func NewRouter(registry *access.Registry, processor Processor, counter DocumentCounter, audit, logger *logrus.Entry) (*Router, error) {
	if registry == nil {
		return nil, fmt.Errorf("access registry is required")
	}
	if processor == nil {
		return nil, fmt.Errorf("pipeline processor is required")
	}
	if audit == nil {
		audit = logging.Audit()
	}
	if logger == nil {
		logger = logging.Logger()
	}

	return &Router{
		registry:  registry,
		processor: processor,
		counter:   counter,
		audit:     audit,
		logger:    logger,
	}, nil
}

// Dispatch routes one inbound update. Authorization failures are handled
// locally with a denial reply; any other failure is returned for the Boundary.
func (r *Router) Dispatch(ctx context.Context, s Sender, d Downloader, update *models.Update) error {
	if update == nil || update.Message == nil || update.Message.From == nil {
		return nil
	}

	msg := update.Message
	userID := msg.From.ID
	chatID := msg.Chat.ID

	reply := func(ctx context.Context, text string) error {
		_, err := s.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text})
		if err != nil {
			return fmt.Errorf("send reply: %w", err)
		}
		return nil
	}

	if msg.Document != nil {
		return r.handleDocument(ctx, msg, reply, d)
	}

	cmd, args := splitCommand(msg.Text)
	switch cmd {
	case "/start":
		return r.handleStart(ctx, userID, reply)
	case "/unknown_list":
		return r.handleUnknownList(ctx, userID, reply)
	case "/accept":
		return r.handleAccept(ctx, userID, args, reply)
	case "/stats":
		return r.handleStats(ctx, userID, reply)
	default:
		return r.handleOther(ctx, userID, msg.Text, reply)
	}
}

// handleStart greets authorized users. Unauthorized senders get their numeric
// id and flow into the unrecognized path; they are not registered as unknown
// here, only a document attempt does that.
func (r *Router) handleStart(ctx context.Context, userID int64, reply pipeline.ReplyFunc) error {
	if !r.registry.HasAccess(userID) {
		if err := reply(ctx, fmt.Sprintf("Your user ID is %d", userID)); err != nil {
			return err
		}
		return r.handleOther(ctx, userID, "/start", reply)
	}

	return reply(ctx, replyGreeting)
}

func (r *Router) handleDocument(ctx context.Context, msg *models.Message, reply pipeline.ReplyFunc, d Downloader) error {
	userID := msg.From.ID

	if !r.registry.HasAccess(userID) {
		if err := reply(ctx, fmt.Sprintf("Your user ID is %d", userID)); err != nil {
			return err
		}
		if _, err := r.registry.Add(userID, displayLabel(msg.From), access.ListUnknown); err != nil {
			return err
		}
		return r.handleOther(ctx, userID, msg.Caption, reply)
	}

	localPath, err := d.Download(ctx, msg.Document.FileID)
	if err != nil {
		return fmt.Errorf("download document: %w", err)
	}

	return r.processor.Process(ctx, localPath, userID, msg.Document.FileName, reply)
}

func (r *Router) handleUnknownList(ctx context.Context, userID int64, reply pipeline.ReplyFunc) error {
	if !r.registry.IsAdmin(userID) {
		return reply(ctx, replyNotAdmin)
	}

	unknown, err := r.registry.Snapshot(access.ListUnknown)
	if err != nil {
		return err
	}
	if len(unknown) == 0 {
		return reply(ctx, replyNoUnknown)
	}

	ids := make([]int64, 0, len(unknown))
	for id := range unknown {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		lines = append(lines, fmt.Sprintf("%d: %s", id, unknown[id]))
	}

	return reply(ctx, strings.Join(lines, "\n"))
}

// handleAccept moves the listed users into the user list, resolving labels
// from unknown or rejected records. A non-integer argument fails the whole
// command and reaches the Boundary.
func (r *Router) handleAccept(ctx context.Context, userID int64, args []string, reply pipeline.ReplyFunc) error {
	if !r.registry.IsAdmin(userID) {
		return reply(ctx, replyNotAdmin)
	}
	if len(args) == 0 {
		return reply(ctx, "Usage: /accept <id> [<id> ...]")
	}

	lines := make([]string, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return fmt.Errorf("parse user id %q: %w", arg, err)
		}

		already, err := r.registry.In(id, access.ListUsers)
		if err != nil {
			return err
		}
		if already {
			lines = append(lines, fmt.Sprintf("%d is already in the user list", id))
			continue
		}

		label, found := r.registry.Label(id)
		if !found {
			lines = append(lines, fmt.Sprintf("%d: no record found", id))
			continue
		}

		added, err := r.registry.Add(id, label, access.ListUsers)
		if err != nil {
			return err
		}
		if added {
			lines = append(lines, fmt.Sprintf("%d: added to the user list", id))
		} else {
			lines = append(lines, fmt.Sprintf("%d is already in the user list", id))
		}
	}

	return reply(ctx, strings.Join(lines, "\n"))
}

func (r *Router) handleStats(ctx context.Context, userID int64, reply pipeline.ReplyFunc) error {
	if !r.registry.IsAdmin(userID) {
		return reply(ctx, replyNotAdmin)
	}

	counts := r.registry.Counts()

	var documents int64
	if r.counter != nil {
		n, err := r.counter.CountDocuments(ctx)
		if err != nil {
			return err
		}
		documents = n
	}

	return reply(ctx, fmt.Sprintf(
		"admins: %d\nusers: %d\nunknown: %d\nrejected: %d\ndocuments processed: %d",
		counts[access.ListAdmins],
		counts[access.ListUsers],
		counts[access.ListUnknown],
		counts[access.ListRejected],
		documents,
	))
}

// handleOther records the message on the audit channel and sends the generic
// notice.
func (r *Router) handleOther(ctx context.Context, userID int64, text string, reply pipeline.ReplyFunc) error {
	r.audit.WithField("user_id", userID).Infof("%d %s", userID, text)
	return reply(ctx, replyUnsupported)
}

// splitCommand extracts the leading command and its arguments, tolerating the
// @botname suffix Telegram appends in groups. Non-command text yields an empty
// command.
func splitCommand(text string) (string, []string) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}

	cmd := fields[0]
	if at := strings.Index(cmd, "@"); at > 0 {
		cmd = cmd[:at]
	}

	return cmd, fields[1:]
}

// displayLabel builds the informational label stored alongside a user id.
func displayLabel(user *models.User) string {
	if user == nil {
		return ""
	}

	parts := make([]string, 0, 3)
	if user.Username != "" {
		parts = append(parts, "@"+user.Username)
	}
	if user.FirstName != "" {
		parts = append(parts, user.FirstName)
	}
	if user.LastName != "" {
		parts = append(parts, user.LastName)
	}

	return strings.Join(parts, " ")
}
