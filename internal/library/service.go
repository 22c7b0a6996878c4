// Package library はコミック（PDF）ディレクトリの一覧・存在確認・配信を提供します。
package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

const (
	pdfExt           = ".pdf"
	pdfMIME          = "application/pdf"
	defaultThumbnail = "/images/pdf-icon.png"
	fileRoutePrefix  = "/comics/"

	// defaultMetadataBudget は一覧1回あたりに追加情報の取得へ使う時間の上限です。
	defaultMetadataBudget = 500 * time.Millisecond
)

var (
	// ErrNotFound は指定されたファイルが存在しない（または名前が不正な）場合に返されます。
	ErrNotFound = errors.New("comic not found")
	// ErrNotPDF はファイルの中身が PDF ではない場合に返されます。
	ErrNotPDF = errors.New("file is not a pdf")
)

// FileInfo はディレクトリ内の PDF ファイルの情報です。
type FileInfo struct {
	Filename  string
	SizeBytes int64
	ModTime   time.Time
}

// Entry は一覧画面に表示する1冊分の情報です。
type Entry struct {
	Filename    string `json:"filename"`
	Name        string `json:"name"`
	SizeBytes   int64  `json:"sizeBytes"`
	Size        string `json:"size"`
	DownloadURL string `json:"downloadUrl"`
	Thumbnail   string `json:"thumbnail"`
	Pages       *int   `json:"pages,omitempty"`
}

// MetadataSource はページ数などの追加情報を提供します。
// 情報が未作成の場合は ok=false を返し、一覧の表示を遅らせません。
type MetadataSource interface {
	Lookup(ctx context.Context, file FileInfo) (pages int, ok bool)
}

// Service はライブラリディレクトリを扱います。
type Service struct {
	dir        string
	meta       MetadataSource
	metaBudget time.Duration
	logger     *slog.Logger
}

// NewService はライブラリサービスを作成します。meta は nil でも構いません。
func NewService(dir string, meta MetadataSource, logger *slog.Logger) *Service {
	return &Service{
		dir:        dir,
		meta:       meta,
		metaBudget: defaultMetadataBudget,
		logger:     logger,
	}
}

// Dir はライブラリディレクトリのパスを返します。
func (s *Service) Dir() string {
	return s.dir
}

// ListFiles はディレクトリ直下の PDF（通常ファイル）をファイル名順に返します。
func (s *Service) ListFiles(ctx context.Context) ([]FileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read library directory: %w", err)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), pdfExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// 一覧取得中に削除されたファイルは飛ばす
			continue
		}
		files = append(files, FileInfo{
			Filename:  entry.Name(),
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Filename < files[j].Filename
	})
	return files, nil
}

// Entries は一覧表示用のエントリを返します。
func (s *Service) Entries(ctx context.Context) ([]Entry, error) {
	files, err := s.ListFiles(ctx)
	if err != nil {
		return nil, err
	}

	// 追加情報の取得は一覧全体で metaBudget まで。超えた分はページ数なしで返す
	metaCtx, cancel := context.WithTimeout(ctx, s.metaBudget)
	defer cancel()

	out := make([]Entry, 0, len(files))
	for _, f := range files {
		entry := Entry{
			Filename:    f.Filename,
			Name:        DisplayName(f.Filename),
			SizeBytes:   f.SizeBytes,
			Size:        formatSize(f.SizeBytes),
			DownloadURL: FileURL(f.Filename),
			Thumbnail:   defaultThumbnail,
		}
		if s.meta != nil && metaCtx.Err() == nil {
			if pages, ok := s.meta.Lookup(metaCtx, f); ok {
				entry.Pages = &pages
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

// Stat はファイルが存在すればその情報を返します。
func (s *Service) Stat(filename string) (FileInfo, error) {
	if !ValidFilename(filename) {
		return FileInfo{}, ErrNotFound
	}
	info, err := os.Stat(filepath.Join(s.dir, filename))
	if err != nil || !info.Mode().IsRegular() {
		return FileInfo{}, ErrNotFound
	}
	return FileInfo{Filename: filename, SizeBytes: info.Size(), ModTime: info.ModTime()}, nil
}

// Exists はライブラリ内にファイルが存在するかを返します。
func (s *Service) Exists(filename string) bool {
	_, err := s.Stat(filename)
	return err == nil
}

// Path はファイル名をライブラリ内の絶対パスに変換します。
func (s *Service) Path(filename string) (string, error) {
	if !ValidFilename(filename) {
		return "", ErrNotFound
	}
	return filepath.Join(s.dir, filename), nil
}

// Open はファイルを開きます。中身が PDF でない場合は ErrNotPDF を返します。
// 返されたファイルは先頭位置にシーク済みです。呼び出し側で Close してください。
func (s *Service) Open(filename string) (*os.File, FileInfo, error) {
	info, err := s.Stat(filename)
	if err != nil {
		return nil, FileInfo{}, err
	}

	file, err := os.Open(filepath.Join(s.dir, filename))
	if err != nil {
		return nil, FileInfo{}, ErrNotFound
	}

	mime, err := mimetype.DetectReader(file)
	if err != nil {
		file.Close()
		return nil, FileInfo{}, fmt.Errorf("failed to detect content type: %w", err)
	}
	if !mime.Is(pdfMIME) {
		file.Close()
		return nil, FileInfo{}, ErrNotPDF
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return nil, FileInfo{}, err
	}
	return file, info, nil
}

// ValidFilename はライブラリ直下の PDF を指す安全なファイル名かを判定します。
func ValidFilename(name string) bool {
	if name == "" || name == pdfExt || !strings.HasSuffix(name, pdfExt) {
		return false
	}
	if strings.ContainsAny(name, "/\\\x00") || strings.Contains(name, "..") {
		return false
	}
	return filepath.Base(name) == name
}

// DisplayName は拡張子を除き、アンダースコアを空白に置き換えた表示名を返します。
func DisplayName(filename string) string {
	return strings.ReplaceAll(strings.TrimSuffix(filename, pdfExt), "_", " ")
}

// FileURL はファイルを配信する URL を返します。
func FileURL(filename string) string {
	return fileRoutePrefix + url.PathEscape(filename)
}

func formatSize(bytes int64) string {
	return fmt.Sprintf("%.2f MB", float64(bytes)/(1024*1024))
}
