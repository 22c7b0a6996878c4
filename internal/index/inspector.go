package index

import (
	"context"
	"fmt"

	"github.com/gabriel-vasile/mimetype"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/yourusername/comic-library/internal/library"
)

// Inspector はファイルからページ数を取り出します。
type Inspector interface {
	Inspect(ctx context.Context, path string) (pages int, err error)
}

// PDFInspector は pdfcpu でページ数を数える Inspector です。
type PDFInspector struct{}

func (PDFInspector) Inspect(ctx context.Context, path string) (int, error) {
	mime, err := mimetype.DetectFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to detect content type: %w", err)
	}
	if !mime.Is("application/pdf") {
		return 0, library.ErrNotPDF
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	pages, err := pdfapi.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to count pages: %w", err)
	}
	return pages, nil
}
