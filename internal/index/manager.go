package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/yourusername/comic-library/internal/library"
	"github.com/yourusername/comic-library/internal/logging"
)

const (
	// TaskTypeInspect はページ数抽出タスクの種別です。
	TaskTypeInspect = "library:inspect"
	queueName       = "library"

	// defaultQueuedTimeout を過ぎても処理待ちの記録は、タスクが失われたものとして再投入します。
	defaultQueuedTimeout = 15 * time.Minute
)

// Library はタスク実行時にファイルを参照するための操作です。
type Library interface {
	Stat(filename string) (library.FileInfo, error)
	Path(filename string) (string, error)
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskPayload はページ数抽出タスクのペイロードです。
type TaskPayload struct {
	Filename  string    `json:"filename"`
	SizeBytes int64     `json:"sizeBytes"`
	ModTime   time.Time `json:"modTime"`
}

// Manager はタスクの投入・実行とメタデータの参照を担います。
// library.MetadataSource を実装し、一覧表示からページ数を引けるようにします。
type Manager struct {
	client    enqueuer
	closeFn   func() error
	server    *asynq.Server
	mux       *asynq.ServeMux
	store     *Store
	library   Library
	inspector Inspector
	logger    *slog.Logger

	queuedTimeout time.Duration
	now           func() time.Time
}

// NewManager は Asynq のクライアントとワーカーを初期化します。
func NewManager(redisURL string, store *Store, lib Library, inspector Inspector, logger *slog.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if lib == nil {
		return nil, errors.New("library is nil")
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				queueName: 1,
			},
		},
	)

	m := newManager(client, store, lib, inspector, logger)
	m.closeFn = client.Close
	m.server = server
	m.mux = asynq.NewServeMux()
	m.mux.HandleFunc(TaskTypeInspect, m.HandleInspectTask)
	return m, nil
}

func newManager(client enqueuer, store *Store, lib Library, inspector Inspector, logger *slog.Logger) *Manager {
	if inspector == nil {
		inspector = PDFInspector{}
	}
	return &Manager{
		client:        client,
		store:         store,
		library:       lib,
		inspector:     inspector,
		logger:        logger,
		queuedTimeout: defaultQueuedTimeout,
		now:           time.Now,
	}
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	if m.server == nil {
		return
	}
	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			m.logger.Error("asynq server stopped with error", "error", err)
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown() error {
	if m.server != nil {
		m.server.Shutdown()
	}
	if m.closeFn != nil {
		return m.closeFn()
	}
	return nil
}

// Lookup は記録済みのページ数を返します。
// 記録が無い、またはファイルが更新されている場合は抽出タスクを投入し ok=false を返します。
func (m *Manager) Lookup(ctx context.Context, file library.FileInfo) (int, bool) {
	record, err := m.store.Get(ctx, file.Filename)
	if err != nil {
		logging.LogError(m.logger, "index lookup failed", err, "filename", file.Filename)
		return 0, false
	}

	attempt := 0
	if record != nil && record.Matches(file) {
		switch {
		case record.Status == StatusIndexed:
			return record.Pages, true
		case record.Status == StatusQueued && m.now().Sub(record.UpdatedAt) >= m.queuedTimeout:
			// ワーカーが処理できないまま破棄されたタスク
			attempt = record.Attempts + 1
			m.logger.Warn("index task stalled; re-enqueueing", "filename", file.Filename, "attempt", attempt)
		default:
			// 処理待ち・失敗済みの記録ではタスクを再投入しない
			return 0, false
		}
	}

	if err := m.enqueue(ctx, file, attempt); err != nil {
		logging.LogError(m.logger, "index enqueue failed", err, "filename", file.Filename)
	}
	return 0, false
}

// Enqueue はページ数抽出タスクを投入します。同じファイル・同じ版のタスクは重複しません。
func (m *Manager) Enqueue(ctx context.Context, file library.FileInfo) error {
	return m.enqueue(ctx, file, 0)
}

func (m *Manager) enqueue(ctx context.Context, file library.FileInfo, attempt int) error {
	if file.Filename == "" {
		return fmt.Errorf("filename is required")
	}

	if err := m.store.Upsert(ctx, &Record{
		Filename:  file.Filename,
		SizeBytes: file.SizeBytes,
		ModTime:   file.ModTime,
		Status:    StatusQueued,
		Attempts:  attempt,
	}); err != nil {
		return err
	}

	body, err := json.Marshal(TaskPayload{
		Filename:  file.Filename,
		SizeBytes: file.SizeBytes,
		ModTime:   file.ModTime,
	})
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypeInspect, body, asynq.Queue(queueName))
	_, err = m.client.EnqueueContext(ctx, task,
		asynq.MaxRetry(1),
		asynq.TaskID(taskID(file, attempt)),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		// 次回の Lookup で再投入できるように処理待ちの記録を消す
		_ = m.store.Delete(ctx, file.Filename)
		return err
	}
	return nil
}

// Get はメタデータの記録を返します。
func (m *Manager) Get(ctx context.Context, filename string) (*Record, error) {
	return m.store.Get(ctx, filename)
}

// HandleInspectTask はページ数抽出タスクを処理します。
func (m *Manager) HandleInspectTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Filename == "" {
		return fmt.Errorf("missing filename in payload: %w", asynq.SkipRetry)
	}

	info, err := m.library.Stat(payload.Filename)
	if err != nil {
		// 投入後に削除されたファイル
		return m.store.Delete(ctx, payload.Filename)
	}
	path, err := m.library.Path(payload.Filename)
	if err != nil {
		return m.store.Delete(ctx, payload.Filename)
	}

	pages, err := m.inspector.Inspect(ctx, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return m.failRecord(ctx, info, err)
	}

	return m.store.Upsert(ctx, &Record{
		Filename:  info.Filename,
		SizeBytes: info.SizeBytes,
		ModTime:   info.ModTime,
		Pages:     pages,
		Status:    StatusIndexed,
	})
}

func (m *Manager) failRecord(ctx context.Context, info library.FileInfo, cause error) error {
	code := "INSPECT_FAILED"
	message := "ページ数を取得できませんでした。"
	if errors.Is(cause, library.ErrNotPDF) {
		code = "UNSUPPORTED_PDF"
		message = "PDFファイルではありません。"
	}
	m.logger.Warn("index inspect failed", "filename", info.Filename, "code", code, "error", cause)

	// 記録が期限切れで消えていた場合に備えて先に作り直す
	if err := m.store.Upsert(ctx, &Record{
		Filename:  info.Filename,
		SizeBytes: info.SizeBytes,
		ModTime:   info.ModTime,
		Status:    StatusQueued,
	}); err != nil {
		return err
	}
	return m.store.MarkFailed(ctx, info.Filename, &ErrorInfo{Code: code, Message: message})
}

// taskID は同じファイル・同じ版・同じ試行回数のタスクで一致します。
// 破棄済みのタスクと ID が衝突しないよう、再投入時は試行回数で区別します。
func taskID(file library.FileInfo, attempt int) string {
	return fmt.Sprintf("inspect:%s:%d:%d:%d", file.Filename, file.SizeBytes, file.ModTime.UnixNano(), attempt)
}
