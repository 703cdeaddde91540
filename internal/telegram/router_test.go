package telegram

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"tg_ocr_bot/internal/access"
	"tg_ocr_bot/internal/pipeline"
)

type fakeSender struct {
	sent    []string
	chatIDs []int64
	err     error
}

func (f *fakeSender) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, params.Text)
	chatID, _ := params.ChatID.(int64)
	f.chatIDs = append(f.chatIDs, chatID)
	return &models.Message{}, nil
}

type fakeProcessor struct {
	path     string
	userID   int64
	fileName string
	err      error
	calls    int
}

func (f *fakeProcessor) Process(_ context.Context, localPath string, userID int64, fileName string, _ pipeline.ReplyFunc) error {
	f.calls++
	f.path = localPath
	f.userID = userID
	f.fileName = fileName
	return f.err
}

type fakeDownloader struct {
	path   string
	fileID string
	err    error
}

func (f *fakeDownloader) Download(_ context.Context, fileID string) (string, error) {
	f.fileID = fileID
	if f.err != nil {
		return "", f.err
	}
	return f.path, nil
}

type routerFixture struct {
	router     *Router
	registry   *access.Registry
	sender     *fakeSender
	processor  *fakeProcessor
	downloader *fakeDownloader
	auditHook  *logtest.Hook
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	hookLogger, _ := logtest.NewNullLogger()
	registry, err := access.Load(filepath.Join(t.TempDir(), "access.yaml"), logrus.NewEntry(hookLogger))
	if err != nil {
		t.Fatalf("access.Load returned error: %v", err)
	}

	auditLogger, auditHook := logtest.NewNullLogger()
	processor := &fakeProcessor{}

	router, err := NewRouter(registry, processor, nil, logrus.NewEntry(auditLogger), logrus.NewEntry(hookLogger))
	if err != nil {
		t.Fatalf("NewRouter returned error: %v", err)
	}

	return &routerFixture{
		router:     router,
		registry:   registry,
		sender:     &fakeSender{},
		processor:  processor,
		downloader: &fakeDownloader{path: "/tmp/doc.pdf"},
		auditHook:  auditHook,
	}
}

func textUpdate(userID int64, text string) *models.Update {
	return &models.Update{
		Message: &models.Message{
			Text: text,
			From: &models.User{ID: userID, Username: "alice", FirstName: "Alice"},
			Chat: models.Chat{ID: userID},
		},
	}
}

func documentUpdate(userID int64) *models.Update {
	return &models.Update{
		Message: &models.Message{
			From:     &models.User{ID: userID, Username: "alice", FirstName: "Alice"},
			Chat:     models.Chat{ID: userID},
			Document: &models.Document{FileID: "file-1", FileName: "scan.pdf"},
		},
	}
}

func (f *routerFixture) dispatch(t *testing.T, update *models.Update) {
	t.Helper()

	if err := f.router.Dispatch(context.Background(), f.sender, f.downloader, update); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
}

func mustAddAccess(t *testing.T, registry *access.Registry, id int64, label, list string) {
	t.Helper()

	if _, err := registry.Add(id, label, list); err != nil {
		t.Fatalf("registry.Add returned error: %v", err)
	}
}

func TestStartUnauthorizedRepliesWithIDWithoutRegistering(t *testing.T) {
	f := newRouterFixture(t)

	f.dispatch(t, textUpdate(555, "/start"))

	if len(f.sender.sent) != 2 {
		t.Fatalf("expected id reply plus unsupported notice, got %v", f.sender.sent)
	}
	if !strings.Contains(f.sender.sent[0], "555") {
		t.Fatalf("expected reply to contain the numeric id, got %q", f.sender.sent[0])
	}
	if f.sender.sent[1] != replyUnsupported {
		t.Fatalf("expected unsupported notice, got %q", f.sender.sent[1])
	}

	// Only a document attempt registers the sender as unknown.
	in, err := f.registry.In(555, access.ListUnknown)
	if err != nil {
		t.Fatalf("In returned error: %v", err)
	}
	if in {
		t.Fatalf("expected /start alone not to create an unknown entry")
	}
}

func TestStartAuthorizedGreets(t *testing.T) {
	f := newRouterFixture(t)
	mustAddAccess(t, f.registry, 1, "alice", access.ListUsers)

	f.dispatch(t, textUpdate(1, "/start"))

	if len(f.sender.sent) != 1 || f.sender.sent[0] != replyGreeting {
		t.Fatalf("expected greeting, got %v", f.sender.sent)
	}
}

func TestDocumentUnauthorizedRegistersUnknown(t *testing.T) {
	f := newRouterFixture(t)

	f.dispatch(t, documentUpdate(555))

	if f.processor.calls != 0 {
		t.Fatalf("expected pipeline untouched for unauthorized sender")
	}
	if !strings.Contains(f.sender.sent[0], "555") {
		t.Fatalf("expected id reply, got %q", f.sender.sent[0])
	}

	unknown, err := f.registry.Snapshot(access.ListUnknown)
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	label, ok := unknown[555]
	if !ok {
		t.Fatalf("expected unknown entry after document attempt")
	}
	if label != "@alice Alice" {
		t.Fatalf("unexpected label: %q", label)
	}

	// A second attempt is idempotent.
	f.dispatch(t, documentUpdate(555))
	unknown, _ = f.registry.Snapshot(access.ListUnknown)
	if len(unknown) != 1 {
		t.Fatalf("expected a single unknown entry, got %d", len(unknown))
	}
}

func TestDocumentAuthorizedRunsPipeline(t *testing.T) {
	f := newRouterFixture(t)
	mustAddAccess(t, f.registry, 1, "alice", access.ListUsers)

	f.dispatch(t, documentUpdate(1))

	if f.downloader.fileID != "file-1" {
		t.Fatalf("expected download of file-1, got %q", f.downloader.fileID)
	}
	if f.processor.calls != 1 {
		t.Fatalf("expected one pipeline run, got %d", f.processor.calls)
	}
	if f.processor.path != "/tmp/doc.pdf" || f.processor.userID != 1 || f.processor.fileName != "scan.pdf" {
		t.Fatalf("unexpected pipeline arguments: %+v", f.processor)
	}
}

func TestDocumentDownloadFailureReachesBoundary(t *testing.T) {
	f := newRouterFixture(t)
	mustAddAccess(t, f.registry, 1, "alice", access.ListUsers)
	f.downloader.err = errors.New("telegram unavailable")

	err := f.router.Dispatch(context.Background(), f.sender, f.downloader, documentUpdate(1))
	if err == nil || !strings.Contains(err.Error(), "download document") {
		t.Fatalf("expected download error to propagate, got %v", err)
	}
}

func TestUnknownListNonAdminExactDenial(t *testing.T) {
	f := newRouterFixture(t)
	mustAddAccess(t, f.registry, 1, "alice", access.ListUsers)

	f.dispatch(t, textUpdate(1, "/unknown_list"))

	if len(f.sender.sent) != 1 || f.sender.sent[0] != "You're not an admin" {
		t.Fatalf("expected exact denial, got %v", f.sender.sent)
	}

	unknown, _ := f.registry.Snapshot(access.ListUnknown)
	if len(unknown) != 0 {
		t.Fatalf("expected registry unchanged")
	}
}

func TestUnknownListAdminRendersSortedEntries(t *testing.T) {
	f := newRouterFixture(t)
	mustAddAccess(t, f.registry, 9, "admin", access.ListAdmins)
	mustAddAccess(t, f.registry, 777, "bob", access.ListUnknown)
	mustAddAccess(t, f.registry, 555, "alice", access.ListUnknown)

	f.dispatch(t, textUpdate(9, "/unknown_list"))

	want := "555: alice\n777: bob"
	if len(f.sender.sent) != 1 || f.sender.sent[0] != want {
		t.Fatalf("expected %q, got %v", want, f.sender.sent)
	}
}

func TestUnknownListAdminEmpty(t *testing.T) {
	f := newRouterFixture(t)
	mustAddAccess(t, f.registry, 9, "admin", access.ListAdmins)

	f.dispatch(t, textUpdate(9, "/unknown_list"))

	if len(f.sender.sent) != 1 || f.sender.sent[0] != replyNoUnknown {
		t.Fatalf("expected empty-list notice, got %v", f.sender.sent)
	}
}

func TestAcceptMovesUnknownToUsers(t *testing.T) {
	f := newRouterFixture(t)
	mustAddAccess(t, f.registry, 9, "admin", access.ListAdmins)
	mustAddAccess(t, f.registry, 555, "alice", access.ListUnknown)

	f.dispatch(t, textUpdate(9, "/accept 555"))

	if len(f.sender.sent) != 1 || f.sender.sent[0] != "555: added to the user list" {
		t.Fatalf("unexpected reply: %v", f.sender.sent)
	}

	users, _ := f.registry.Snapshot(access.ListUsers)
	if users[555] != "alice" {
		t.Fatalf("expected label carried into users, got %q", users[555])
	}

	unknown, _ := f.registry.Snapshot(access.ListUnknown)
	if len(unknown) != 0 {
		t.Fatalf("expected unknown entry consumed")
	}
}

func TestAcceptRepeatReportsAlreadyPresent(t *testing.T) {
	f := newRouterFixture(t)
	mustAddAccess(t, f.registry, 9, "admin", access.ListAdmins)
	mustAddAccess(t, f.registry, 555, "alice", access.ListUnknown)

	f.dispatch(t, textUpdate(9, "/accept 555"))
	f.sender.sent = nil

	f.dispatch(t, textUpdate(9, "/accept 555"))

	if len(f.sender.sent) != 1 || f.sender.sent[0] != "555 is already in the user list" {
		t.Fatalf("unexpected reply: %v", f.sender.sent)
	}
}

func TestAcceptMixedOutcomesPerID(t *testing.T) {
	f := newRouterFixture(t)
	mustAddAccess(t, f.registry, 9, "admin", access.ListAdmins)
	mustAddAccess(t, f.registry, 555, "alice", access.ListUnknown)
	mustAddAccess(t, f.registry, 666, "mallory", access.ListRejected)
	mustAddAccess(t, f.registry, 777, "bob", access.ListUsers)

	f.dispatch(t, textUpdate(9, "/accept 555 666 777 888"))

	want := strings.Join([]string{
		"555: added to the user list",
		"666: added to the user list",
		"777 is already in the user list",
		"888: no record found",
	}, "\n")
	if len(f.sender.sent) != 1 || f.sender.sent[0] != want {
		t.Fatalf("expected %q, got %v", want, f.sender.sent)
	}

	// Accepting a rejected user clears the rejection.
	rejected, _ := f.registry.Snapshot(access.ListRejected)
	if len(rejected) != 0 {
		t.Fatalf("expected rejected entry consumed, got %v", rejected)
	}
}

func TestAcceptNonIntegerFailsWholeCommand(t *testing.T) {
	f := newRouterFixture(t)
	mustAddAccess(t, f.registry, 9, "admin", access.ListAdmins)
	mustAddAccess(t, f.registry, 555, "alice", access.ListUnknown)

	err := f.router.Dispatch(context.Background(), f.sender, f.downloader, textUpdate(9, "/accept abc 555"))
	if err == nil || !strings.Contains(err.Error(), `"abc"`) {
		t.Fatalf("expected parse failure naming the argument, got %v", err)
	}

	// The command failed before replying; no per-id outcome was sent.
	if len(f.sender.sent) != 0 {
		t.Fatalf("expected no replies, got %v", f.sender.sent)
	}
}

func TestAcceptNonAdminDenied(t *testing.T) {
	f := newRouterFixture(t)

	f.dispatch(t, textUpdate(5, "/accept 555"))

	if len(f.sender.sent) != 1 || f.sender.sent[0] != replyNotAdmin {
		t.Fatalf("expected denial, got %v", f.sender.sent)
	}
}

func TestOtherMessageAuditsAndReplies(t *testing.T) {
	f := newRouterFixture(t)

	f.dispatch(t, textUpdate(31337, "what is this bot"))

	if len(f.sender.sent) != 1 || f.sender.sent[0] != replyUnsupported {
		t.Fatalf("expected unsupported notice, got %v", f.sender.sent)
	}

	entry := f.auditHook.LastEntry()
	if entry == nil {
		t.Fatalf("expected an audit record")
	}
	if entry.Data["user_id"] != int64(31337) {
		t.Fatalf("expected user_id field, got %v", entry.Data)
	}
	if entry.Message != "31337 what is this bot" {
		t.Fatalf("unexpected audit message: %q", entry.Message)
	}
}

func TestStatsAdminReportsCounts(t *testing.T) {
	f := newRouterFixture(t)
	mustAddAccess(t, f.registry, 9, "admin", access.ListAdmins)
	mustAddAccess(t, f.registry, 1, "alice", access.ListUsers)
	mustAddAccess(t, f.registry, 2, "bob", access.ListUnknown)

	f.dispatch(t, textUpdate(9, "/stats"))

	if len(f.sender.sent) != 1 {
		t.Fatalf("expected one reply, got %v", f.sender.sent)
	}
	reply := f.sender.sent[0]
	for _, want := range []string{"admins: 1", "users: 1", "unknown: 1", "rejected: 0", "documents processed: 0"} {
		if !strings.Contains(reply, want) {
			t.Fatalf("expected %q in reply %q", want, reply)
		}
	}
}

func TestCommandWithBotSuffixRoutes(t *testing.T) {
	f := newRouterFixture(t)
	mustAddAccess(t, f.registry, 1, "alice", access.ListUsers)

	f.dispatch(t, textUpdate(1, "/start@atexter_bot"))

	if len(f.sender.sent) != 1 || f.sender.sent[0] != replyGreeting {
		t.Fatalf("expected greeting for suffixed command, got %v", f.sender.sent)
	}
}

func TestDispatchIgnoresNonMessageUpdates(t *testing.T) {
	f := newRouterFixture(t)

	if err := f.router.Dispatch(context.Background(), f.sender, f.downloader, nil); err != nil {
		t.Fatalf("expected nil update to be ignored, got %v", err)
	}
	if err := f.router.Dispatch(context.Background(), f.sender, f.downloader, &models.Update{}); err != nil {
		t.Fatalf("expected empty update to be ignored, got %v", err)
	}
	if len(f.sender.sent) != 0 {
		t.Fatalf("expected no replies, got %v", f.sender.sent)
	}
}
