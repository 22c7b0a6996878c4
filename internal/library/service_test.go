package library

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pdfBytes = []byte("%PDF-1.4\n% dummy pdf content\n")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func newLibraryDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "b_second_issue.pdf", pdfBytes)
	writeFile(t, dir, "a_first_issue.pdf", append(pdfBytes, make([]byte, 1024*1024)...))
	writeFile(t, dir, "notes.txt", []byte("not a comic"))
	writeFile(t, dir, "UPPER.PDF", pdfBytes)
	writeFile(t, dir, "fake.pdf", []byte("plain text pretending"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "folder.pdf"), 0o755))
	return dir
}

type stubMetadata struct {
	pages map[string]int
	calls int
}

func (s *stubMetadata) Lookup(_ context.Context, file FileInfo) (int, bool) {
	s.calls++
	pages, ok := s.pages[file.Filename]
	return pages, ok
}

func TestService_ListFiles(t *testing.T) {
	svc := NewService(newLibraryDir(t), nil, discardLogger())

	files, err := svc.ListFiles(context.Background())
	require.NoError(t, err)

	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Filename)
	}
	assert.Equal(t, []string{"a_first_issue.pdf", "b_second_issue.pdf", "fake.pdf"}, names)
	assert.Equal(t, int64(len(pdfBytes)+1024*1024), files[0].SizeBytes)
}

func TestService_ListFilesMissingDirectory(t *testing.T) {
	svc := NewService(filepath.Join(t.TempDir(), "missing"), nil, discardLogger())

	_, err := svc.ListFiles(context.Background())
	assert.Error(t, err)
}

func TestService_Entries(t *testing.T) {
	meta := &stubMetadata{pages: map[string]int{"a_first_issue.pdf": 24}}
	svc := NewService(newLibraryDir(t), meta, discardLogger())

	entries, err := svc.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3)

	first := entries[0]
	assert.Equal(t, "a first issue", first.Name)
	assert.Equal(t, "1.00 MB", first.Size)
	assert.Equal(t, "/comics/a_first_issue.pdf", first.DownloadURL)
	assert.Equal(t, "/images/pdf-icon.png", first.Thumbnail)
	require.NotNil(t, first.Pages)
	assert.Equal(t, 24, *first.Pages)

	assert.Nil(t, entries[1].Pages)
	assert.Equal(t, "0.00 MB", entries[1].Size)
	assert.Equal(t, 3, meta.calls)
}

// blockingMetadata は ctx が終わるまで応答しない追加情報源です。
type blockingMetadata struct {
	calls int
}

func (b *blockingMetadata) Lookup(ctx context.Context, _ FileInfo) (int, bool) {
	b.calls++
	<-ctx.Done()
	return 0, false
}

func TestService_EntriesBoundsMetadataTime(t *testing.T) {
	meta := &blockingMetadata{}
	svc := NewService(newLibraryDir(t), meta, discardLogger())
	svc.metaBudget = 20 * time.Millisecond

	start := time.Now()
	entries, err := svc.Entries(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Nil(t, e.Pages)
	}
	// 期限切れ後の残りのファイルでは問い合わせない
	assert.Equal(t, 1, meta.calls)
}

func TestValidFilename(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"comic.pdf", true},
		{"my comic (1).pdf", true},
		{"", false},
		{".pdf", false},
		{"comic.txt", false},
		{"comic.PDF", false},
		{"../secret.pdf", false},
		{"..pdf", false},
		{"dir/comic.pdf", false},
		{`dir\comic.pdf`, false},
		{"comic\x00.pdf", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidFilename(tt.name), "ValidFilename(%q)", tt.name)
	}
}

func TestService_Exists(t *testing.T) {
	dir := newLibraryDir(t)
	svc := NewService(dir, nil, discardLogger())

	assert.True(t, svc.Exists("a_first_issue.pdf"))
	assert.False(t, svc.Exists("missing.pdf"))
	assert.False(t, svc.Exists("folder.pdf"))
	assert.False(t, svc.Exists("notes.txt"))

	// ライブラリ外のファイルは名前の検証で弾かれる
	outside := filepath.Join(filepath.Dir(dir), "outside.pdf")
	require.NoError(t, os.WriteFile(outside, pdfBytes, 0o644))
	t.Cleanup(func() { _ = os.Remove(outside) })
	assert.False(t, svc.Exists("../outside.pdf"))
}

func TestService_Open(t *testing.T) {
	svc := NewService(newLibraryDir(t), nil, discardLogger())

	file, info, err := svc.Open("b_second_issue.pdf")
	require.NoError(t, err)
	defer file.Close()
	assert.Equal(t, int64(len(pdfBytes)), info.SizeBytes)

	data, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "%PDF-"))

	_, _, err = svc.Open("fake.pdf")
	assert.ErrorIs(t, err, ErrNotPDF)

	_, _, err = svc.Open("missing.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDisplayNameAndURL(t *testing.T) {
	assert.Equal(t, "space opera vol 1", DisplayName("space_opera_vol_1.pdf"))
	assert.Equal(t, "/comics/my%20comic.pdf", FileURL("my comic.pdf"))
}
