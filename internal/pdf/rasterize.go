// Package pdf converts PDF documents into ordered page images for OCR.
package pdf

import (
	"context"
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"
)

// Rasterizer renders a PDF into an ordered sequence of page images at a fixed
// resolution.
type Rasterizer interface {
	Rasterize(ctx context.Context, path string, dpi int) ([]image.Image, error)
}

// FitzRasterizer renders pages through MuPDF.
type FitzRasterizer struct{}

// NewRasterizer constructs the MuPDF-backed rasterizer.
func NewRasterizer() *FitzRasterizer {
	return &FitzRasterizer{}
}

// Rasterize renders every page of the document at the given DPI, in page
// order. Rendering runs to completion once started; the context is only
// checked between pages.
func (r *FitzRasterizer) Rasterize(ctx context.Context, path string, dpi int) ([]image.Image, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer doc.Close()

	pages := make([]image.Image, 0, doc.NumPage())
	for n := 0; n < doc.NumPage(); n++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		img, err := doc.ImageDPI(n, float64(dpi))
		if err != nil {
			return nil, fmt.Errorf("render page %d: %w", n+1, err)
		}
		pages = append(pages, img)
	}

	return pages, nil
}
