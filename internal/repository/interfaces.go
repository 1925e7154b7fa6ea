// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/mediapost/internal/model"
)

// AccountRepository はアカウントと表示設定の永続化インターフェース。
type AccountRepository interface {
	// FindByPubKey は公開鍵でアカウントを取得する。見つからない場合はnilを返す。
	FindByPubKey(ctx context.Context, pubKey string) (*model.Account, error)

	// Upsert はアカウントを作成または更新する。
	Upsert(ctx context.Context, account *model.Account) error

	// LoadVisibility は閲覧者とアクティブなリストに対応するVisibilitySetを構築する。
	// グローバルリストの場合、フォロー集合は空のまま返す。
	LoadVisibility(ctx context.Context, viewer, activeList string) (model.VisibilitySet, error)
}

// NoteRepository はレコードキャッシュの永続化インターフェース。
// レコードは追記のみで、更新・削除は行わない。
type NoteRepository interface {
	// Insert は署名済みレコードを保存する。同じIDのレコードが既にある場合は何もしない。
	Insert(ctx context.Context, record *model.Record) error

	// ListSince は取り込み順序番号がafterSeqより大きいノートを指定種別に絞って取得する。
	// 取得したノートと、その中で最大の順序番号を返す。該当がない場合はafterSeqを返す。
	ListSince(ctx context.Context, afterSeq int64, kinds []model.Kind, limit int) ([]model.Note, int64, error)
}
