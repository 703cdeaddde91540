package telegram

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/sirupsen/logrus"

	"tg_ocr_bot/internal/logging"
)

// Boundary intercepts unhandled handler failures: it reports the failure to
// the originating conversation, logs it, and escalates it so process-level
// monitoring sees it. Failures are never swallowed and never retried.
type Boundary struct {
	logger *logrus.Entry

	// escalate receives every unhandled failure after the user notification.
	escalate func(error)
}

// NewBoundary constructs a Boundary. When escalate is nil the failure is
// still logged but not forwarded.
func NewBoundary(logger *logrus.Entry, escalate func(error)) *Boundary {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Boundary{
		logger:   logger,
		escalate: escalate,
	}
}

// Handle processes the outcome of one handler invocation. A nil err is a
// no-op. Otherwise the originating chat receives a diagnostic message before
// the failure is escalated; a failing notification is logged but does not mask
// the original failure.
func (b *Boundary) Handle(ctx context.Context, s Sender, chatID int64, err error) {
	if err == nil {
		return
	}

	if s != nil && chatID != 0 {
		_, sendErr := s.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   fmt.Sprintf("Internal exception: %v", err),
		})
		if sendErr != nil {
			b.logger.WithError(sendErr).WithField("chat_id", chatID).Error("failed to report failure to chat")
		}
	}

	b.logger.WithError(err).WithFields(logging.Fields{
		"event":   "handler_failure",
		"chat_id": chatID,
	}).Error("handler failed")

	if b.escalate != nil {
		b.escalate(err)
	}
}
