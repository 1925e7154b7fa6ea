package publish

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/mediapost/internal/media"
	"github.com/hitoshi/mediapost/internal/model"
)

// MediaReleaser はセッション終了後にステージング済みメディアを破棄するインターフェース。
type MediaReleaser interface {
	Remove(ref media.Ref) error
}

// StartRequest はアップロードセッション開始の入力。
type StartRequest struct {
	Account     *model.Account
	Ref         media.Ref
	ContentType string
	Caption     string
	ServerID    string // 空の場合はアカウントの既定ターゲットを使う
}

// SessionStatus はセッションの状態と直近のエラーメッセージ。
type SessionStatus struct {
	ID        string
	Snapshot  Snapshot
	Completed bool   // 一度でもDoneに到達したか
	LastError string // 直近に通知された利用者向けエラーメッセージ
	UpdatedAt time.Time
}

type session struct {
	id          string
	accountKey  string
	ref         media.Ref
	pipeline    *Pipeline
	errs        <-chan string
	unsubscribe func()

	mu        sync.Mutex
	completed bool
	lastError string
	updatedAt time.Time
}

// drain は購読チャネルに溜まったメッセージを取り込む。
func (s *session) drain() {
	for {
		select {
		case msg, ok := <-s.errs:
			if !ok {
				return
			}
			s.lastError = msg
		default:
			return
		}
	}
}

// Manager はアップロード操作ごとにPipelineを生成し、IDで管理する。
// 同一アカウントでアップロード中のセッションがある間は新しいセッションを受け付けない。
type Manager struct {
	ctx      context.Context
	deps     Deps
	opts     Options
	releaser MediaReleaser
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// NewManager はManagerの新しいインスタンスを生成する。
// ctxは各ランのベースコンテキストで、アプリケーション終了時にキャンセルされることを想定する。
func NewManager(ctx context.Context, deps Deps, opts Options, releaser MediaReleaser, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		ctx:      ctx,
		deps:     deps,
		opts:     opts,
		releaser: releaser,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// Start は新しいセッションを作成し、パイプラインを開始する。
func (m *Manager) Start(req StartRequest) (*SessionStatus, error) {
	if req.Account == nil || req.Account.PubKey == "" {
		return nil, model.NewAccountNotFoundError()
	}
	if req.Ref.IsZero() {
		return nil, model.NewInvalidMediaError("file is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// 1. 同一アカウントのアップロード中セッションを確認
	for _, s := range m.sessions {
		if s.accountKey == req.Account.PubKey && s.pipeline.Snapshot().Uploading {
			return nil, model.NewUploadInProgressError()
		}
	}

	// 2. パイプラインを構築してメディアを結び付ける
	p := NewPipeline(m.deps, m.opts)
	p.Load(req.Account, req.Ref, req.ContentType)
	if req.ServerID != "" {
		if m.deps.Targets == nil {
			return nil, model.NewUnknownServerError(req.ServerID)
		}
		target, ok := m.deps.Targets.Lookup(req.ServerID)
		if !ok {
			return nil, model.NewUnknownServerError(req.ServerID)
		}
		p.Select(target)
	}
	if !p.CanPost() {
		return nil, model.NewNoServerError()
	}
	p.SetCaption(req.Caption)

	// 3. 状態変化とエラー通知を購読
	s := &session{
		id:         uuid.New().String(),
		accountKey: req.Account.PubKey,
		ref:        req.Ref,
		pipeline:   p,
		updatedAt:  m.now(),
	}
	s.errs, s.unsubscribe = p.Errors().Subscribe()
	p.OnChange(func(snap Snapshot) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if snap.State == StateDone {
			s.completed = true
		}
		s.updatedAt = m.now()
	})
	m.sessions[s.id] = s

	// 4. 開始
	p.Upload(m.ctx)

	m.logger.Info("アップロードセッションを開始しました",
		slog.String("session_id", s.id),
		slog.String("account", req.Account.PubKey),
		slog.String("target", p.Snapshot().TargetID),
	)

	return m.statusOf(s), nil
}

// Status はアカウントが所有するセッションの現在の状態を返す。
// 他のアカウントのセッションは存在しないものとして扱う。
func (m *Manager) Status(accountKey, id string) (*SessionStatus, error) {
	s, err := m.owned(accountKey, id)
	if err != nil {
		return nil, err
	}
	return m.statusOf(s), nil
}

// Cancel はアカウントが所有するセッションのパイプラインをキャンセルする。
func (m *Manager) Cancel(accountKey, id string) error {
	s, err := m.owned(accountKey, id)
	if err != nil {
		return err
	}

	s.pipeline.Cancel()
	m.logger.Info("アップロードセッションをキャンセルしました",
		slog.String("session_id", id),
		slog.String("account", accountKey),
	)
	return nil
}

func (m *Manager) owned(accountKey, id string) (*session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok || accountKey == "" || s.accountKey != accountKey {
		return nil, model.NewSessionNotFoundError(id)
	}
	return s, nil
}

// Wait は指定セッションの実行中ランの完了を待つ。
func (m *Manager) Wait(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		s.pipeline.Wait()
	}
}

// Sweep はアップロード中でなく、最終更新からmaxAge以上経過したセッションを削除する。
// 削除したセッション数を返す。
func (m *Manager) Sweep(maxAge time.Duration) int {
	cutoff := m.now().Add(-maxAge)

	m.mu.Lock()
	var expired []*session
	for id, s := range m.sessions {
		if s.pipeline.Snapshot().Uploading {
			continue
		}
		s.mu.Lock()
		stale := s.updatedAt.Before(cutoff)
		s.mu.Unlock()
		if stale {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.unsubscribe()
		if m.releaser != nil {
			if err := m.releaser.Remove(s.ref); err != nil {
				m.logger.Warn("ステージング済みメディアの削除に失敗しました",
					slog.String("session_id", s.id),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if len(expired) > 0 {
		m.logger.Info("期限切れのアップロードセッションを削除しました",
			slog.Int("count", len(expired)),
		)
	}
	return len(expired)
}

// Len は管理中のセッション数を返す。
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StartSweeper はintervalごとにSweepを実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (m *Manager) StartSweeper(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("セッションスイーパーを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("max_age", maxAge),
	)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("セッションスイーパーを停止しました")
			return
		case <-ticker.C:
			m.Sweep(maxAge)
		}
	}
}

func (m *Manager) statusOf(s *session) *SessionStatus {
	snap := s.pipeline.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.drain()
	return &SessionStatus{
		ID:        s.id,
		Snapshot:  snap,
		Completed: s.completed,
		LastError: s.lastError,
		UpdatedAt: s.updatedAt,
	}
}
