package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hitoshi/mediapost/internal/model"
)

// フォローリストの対象種別
const (
	followAuthor  = "author"
	followHashtag = "hashtag"
	followGeotag  = "geotag"
)

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

// FindByPubKey は公開鍵でアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByPubKey(ctx context.Context, pubKey string) (*model.Account, error) {
	a := &model.Account{}
	err := r.db.QueryRowContext(ctx,
		`SELECT pubkey, default_server_id, created_at, updated_at FROM accounts WHERE pubkey = $1`,
		pubKey,
	).Scan(&a.PubKey, &a.DefaultServerID, &a.CreatedAt, &a.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by pubkey: %w", err)
	}
	return a, nil
}

// Upsert はアカウントを作成または更新する。
func (r *PostgresAccountRepo) Upsert(ctx context.Context, account *model.Account) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (pubkey, default_server_id, created_at, updated_at)
		 VALUES ($1, $2, NOW(), NOW())
		 ON CONFLICT (pubkey) DO UPDATE
		 SET default_server_id = EXCLUDED.default_server_id, updated_at = NOW()`,
		account.PubKey, account.DefaultServerID,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

// LoadVisibility は閲覧者とアクティブなリストに対応するVisibilitySetを構築する。
func (r *PostgresAccountRepo) LoadVisibility(ctx context.Context, viewer, activeList string) (model.VisibilitySet, error) {
	vis := newVisibilitySet(viewer, activeList)

	// 1. フォローリスト（グローバルリストでは不要）
	if !vis.IsGlobal() {
		rows, err := r.db.QueryContext(ctx,
			`SELECT target_type, value FROM follow_lists WHERE owner = $1 AND list_id = $2`,
			viewer, activeList,
		)
		if err != nil {
			return vis, fmt.Errorf("failed to load follow list: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var targetType, value string
			if err := rows.Scan(&targetType, &value); err != nil {
				return vis, fmt.Errorf("failed to scan follow list: %w", err)
			}
			addFollow(&vis, targetType, value)
		}
		if err := rows.Err(); err != nil {
			return vis, fmt.Errorf("failed to iterate follow list: %w", err)
		}
	}

	// 2. 非表示の著者（自身のブロック/ミュートリストを表示中はリストの構成員として扱う）
	hidden, err := r.db.QueryContext(ctx,
		`SELECT pubkey FROM hidden_authors WHERE owner = $1`,
		viewer,
	)
	if err != nil {
		return vis, fmt.Errorf("failed to load hidden authors: %w", err)
	}
	defer hidden.Close()

	for hidden.Next() {
		var pk string
		if err := hidden.Scan(&pk); err != nil {
			return vis, fmt.Errorf("failed to scan hidden author: %w", err)
		}
		addHiddenAuthor(&vis, pk)
	}
	if err := hidden.Err(); err != nil {
		return vis, fmt.Errorf("failed to iterate hidden authors: %w", err)
	}

	return vis, nil
}

func newVisibilitySet(viewer, activeList string) model.VisibilitySet {
	return model.VisibilitySet{
		Viewer:           viewer,
		ActiveList:       activeList,
		FollowedAuthors:  make(map[string]struct{}),
		FollowedHashtags: make(map[string]struct{}),
		FollowedGeotags:  make(map[string]struct{}),
		HiddenAuthors:    make(map[string]struct{}),
	}
}

// addFollow はフォローリストの1行をVisibilitySetへ追加する。ハッシュタグは小文字に正規化する。
func addFollow(vis *model.VisibilitySet, targetType, value string) {
	switch targetType {
	case followAuthor:
		vis.FollowedAuthors[value] = struct{}{}
	case followHashtag:
		vis.FollowedHashtags[strings.ToLower(value)] = struct{}{}
	case followGeotag:
		vis.FollowedGeotags[value] = struct{}{}
	}
}

// addHiddenAuthor は非表示の著者を追加する。
// 自身のブロック/ミュートリストを表示中は、その著者をリストの構成員としてフォロー集合にも含める。
func addHiddenAuthor(vis *model.VisibilitySet, pubKey string) {
	vis.HiddenAuthors[pubKey] = struct{}{}
	if vis.IsHiddenList() {
		vis.FollowedAuthors[pubKey] = struct{}{}
	}
}
