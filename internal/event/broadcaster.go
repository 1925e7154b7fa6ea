package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/mediapost/internal/model"
	"github.com/hitoshi/mediapost/internal/repository"
)

// CacheBroadcaster は署名済みレコードをレコードキャッシュに追記する。
// 追記したレコードは会話フィードの次回取得時に取り込まれる。
type CacheBroadcaster struct {
	notes  repository.NoteRepository
	logger *slog.Logger
}

// NewCacheBroadcaster はCacheBroadcasterの新しいインスタンスを生成する。
func NewCacheBroadcaster(notes repository.NoteRepository, logger *slog.Logger) *CacheBroadcaster {
	return &CacheBroadcaster{notes: notes, logger: logger}
}

// Publish はレコードを順に保存する。
// 1件の保存に失敗しても残りのレコードの保存を続け、失敗をまとめて返す。
func (b *CacheBroadcaster) Publish(ctx context.Context, records ...*model.Record) error {
	var errs []error
	for _, r := range records {
		if r == nil {
			continue
		}
		if r.ID == "" || r.Sig == "" {
			errs = append(errs, fmt.Errorf("record is not signed (kind %d)", r.Kind))
			continue
		}
		if err := b.notes.Insert(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("failed to store record %s: %w", r.ID, err))
			continue
		}
		b.logger.Info("レコードを送信しました",
			slog.String("id", r.ID),
			slog.Int("kind", int(r.Kind)),
		)
	}
	return errors.Join(errs...)
}
