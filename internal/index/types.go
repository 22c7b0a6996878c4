// Package index は PDF のページ数などのメタデータをバックグラウンドで抽出し、Redis に保持します。
package index

import (
	"time"

	"github.com/yourusername/comic-library/internal/library"
)

// Status はメタデータの抽出状態を表します。
type Status string

const (
	StatusQueued  Status = "queued"
	StatusIndexed Status = "indexed"
	StatusFailed  Status = "error"
)

// ErrorInfo は抽出失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Record は1ファイル分のメタデータです。
// SizeBytes と ModTime が現在のファイルと異なる場合は古い記録とみなします。
// Attempts は処理待ちのまま放置されたタスクを投入し直した回数です。
type Record struct {
	Filename  string     `json:"filename"`
	SizeBytes int64      `json:"sizeBytes"`
	ModTime   time.Time  `json:"modTime"`
	Pages     int        `json:"pages"`
	Status    Status     `json:"status"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Attempts  int        `json:"attempts"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

// Matches は記録が file の現在の状態に対応しているかを返します。
func (r *Record) Matches(file library.FileInfo) bool {
	return r.SizeBytes == file.SizeBytes && r.ModTime.Equal(file.ModTime)
}
