package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// fileAPI is the subset of *bot.Bot used to resolve download links.
type fileAPI interface {
	GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error)
	FileDownloadLink(f *models.File) string
}

// botDownloader retrieves Telegram documents over the Bot API into temporary
// local files. The pipeline owns deleting the file once processing completes.
type botDownloader struct {
	api        fileAPI
	httpClient *http.Client
}

func newDownloader(api fileAPI) *botDownloader {
	return &botDownloader{
		api:        api,
		httpClient: http.DefaultClient,
	}
}

// Download resolves the file path for fileID and streams its content into a
// temporary file, returning the local path.
func (d *botDownloader) Download(ctx context.Context, fileID string) (string, error) {
	file, err := d.api.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return "", fmt.Errorf("get file %s: %w", fileID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.api.FileDownloadLink(file), nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download file %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download file %s: unexpected status %s", fileID, resp.Status)
	}

	tmp, err := os.CreateTemp("", "tg-document-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close %s: %w", tmp.Name(), err)
	}

	return tmp.Name(), nil
}
