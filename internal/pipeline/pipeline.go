// Package pipeline turns a downloaded PDF into chunked text replies:
// rasterize, recognize, chunk, reply, clean up.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"tg_ocr_bot/internal/logging"
	"tg_ocr_bot/internal/ocr"
	"tg_ocr_bot/internal/pdf"
	"tg_ocr_bot/internal/store"
)

// ReplyFunc sends one outbound message to the originating conversation.
type ReplyFunc func(ctx context.Context, text string) error

// Settings fixes the pipeline behavior for the process lifetime.
type Settings struct {
	DPI        int
	Language   string
	ChunkLimit int
}

// Processor runs the attachment pipeline for authorized document uploads.
type Processor struct {
	rasterizer pdf.Rasterizer
	engine     ocr.Engine
	recorder   *store.Recorder
	settings   Settings
	logger     *logrus.Entry
}

// New constructs a Processor. The recorder may be nil when the processing
// history is disabled.
func New(rasterizer pdf.Rasterizer, engine ocr.Engine, recorder *store.Recorder, settings Settings, logger *logrus.Entry) (*Processor, error) {
	if rasterizer == nil {
		return nil, errors.New("rasterizer is required")
	}
	if engine == nil {
		return nil, errors.New("ocr engine is required")
	}
	if settings.DPI <= 0 {
		return nil, fmt.Errorf("dpi must be greater than 0, got %d", settings.DPI)
	}
	if settings.ChunkLimit <= 0 {
		return nil, fmt.Errorf("chunk limit must be greater than 0, got %d", settings.ChunkLimit)
	}
	if logger == nil {
		logger = logging.Logger()
	}

	return &Processor{
		rasterizer: rasterizer,
		engine:     engine,
		recorder:   recorder,
		settings:   settings,
		logger:     logger,
	}, nil
}

// Process rasterizes the PDF at localPath, recognizes each page in order,
// splits the text into bounded chunks, and sends one reply per chunk that is
// non-empty after trimming. The downloaded file is removed unconditionally,
// whether or not any chunks were emitted. Failures propagate to the caller;
// chunks already sent stay sent. Once started, a run is not cancelable.
func (p *Processor) Process(ctx context.Context, localPath string, userID int64, fileName string, reply ReplyFunc) error {
	defer func() {
		if err := os.Remove(localPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.logger.WithError(err).WithField("path", localPath).Warn("failed to remove downloaded file")
		}
	}()

	pages, err := p.rasterizer.Rasterize(ctx, localPath, p.settings.DPI)
	if err != nil {
		return fmt.Errorf("rasterize %s: %w", fileName, err)
	}

	sent := 0
	for pageIdx, page := range pages {
		pageNumber := pageIdx + 1

		text, err := p.engine.Recognize(ctx, page, p.settings.Language)
		if err != nil {
			return fmt.Errorf("recognize page %d: %w", pageNumber, err)
		}

		for chunkIdx, chunk := range SplitChunks(text, p.settings.ChunkLimit) {
			trimmed := strings.TrimSpace(chunk)
			if trimmed == "" {
				continue
			}

			partNumber := chunkIdx + 1
			msg := fmt.Sprintf("Page %d, part %d\n\n%s", pageNumber, partNumber, trimmed)
			if err := reply(ctx, msg); err != nil {
				return fmt.Errorf("send page %d part %d: %w", pageNumber, partNumber, err)
			}
			sent++
		}
	}

	if err := p.recorder.Record(ctx, store.DocumentRecord{
		UserID:   userID,
		FileName: fileName,
		Pages:    len(pages),
		Chunks:   sent,
	}); err != nil {
		// History is diagnostics only; a dead Mongo must not fail the upload.
		p.logger.WithError(err).Warn("failed to record processing history")
	}

	p.logger.WithFields(logging.Fields{
		"event":   "document_processed",
		"user_id": userID,
		"file":    fileName,
		"pages":   len(pages),
		"chunks":  sent,
	}).Info("processed document")

	return nil
}
