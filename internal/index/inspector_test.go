package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/comic-library/internal/library"
)

func TestPDFInspector_RejectsNonPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fake.pdf")
	require.NoError(t, os.WriteFile(path, []byte("plain text pretending"), 0o644))

	_, err := PDFInspector{}.Inspect(context.Background(), path)
	assert.ErrorIs(t, err, library.ErrNotPDF)
}

func TestPDFInspector_MissingFile(t *testing.T) {
	_, err := PDFInspector{}.Inspect(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)
}

func TestPDFInspector_BrokenPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	require.NoError(t, os.WriteFile(path, pdfBytes, 0o644))

	_, err := PDFInspector{}.Inspect(context.Background(), path)
	require.Error(t, err)
	assert.NotErrorIs(t, err, library.ErrNotPDF)
}
