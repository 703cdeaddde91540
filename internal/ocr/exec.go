package ocr

import (
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ExecEngine runs a tesseract binary per page, mirroring the classic
// `tesseract <image> stdout -l <lang>` invocation. It exists for deployments
// that override the binary location via tesseract.cmd.
type ExecEngine struct {
	cmd string

	// runCommand is overridable for tests.
	runCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewExecEngine constructs an engine invoking the given tesseract binary.
func NewExecEngine(cmd string) *ExecEngine {
	return &ExecEngine{
		cmd: cmd,
		runCommand: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
	}
}

func (e *ExecEngine) Name() string { return "tesseract-exec" }

// Recognize writes the page image to a temporary PNG and feeds it to the
// configured binary, returning its stdout.
func (e *ExecEngine) Recognize(ctx context.Context, img image.Image, lang string) (string, error) {
	data, err := encodePNG(img)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp("", "ocr-page-*.png")
	if err != nil {
		return "", fmt.Errorf("create temp image: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp image: %w", err)
	}

	args := []string{tmpName, "stdout"}
	if lang != "" {
		args = append(args, "-l", lang)
	}

	out, err := e.runCommand(ctx, e.cmd, args...)
	if err != nil {
		return "", fmt.Errorf("run %s: %w", filepath.Base(e.cmd), err)
	}

	return strings.ToValidUTF8(string(out), ""), nil
}
