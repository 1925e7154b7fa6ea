package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/mediapost/internal/model"
)

// PostgresNoteRepo はPostgreSQLを使用したレコードキャッシュ。
type PostgresNoteRepo struct {
	db *sql.DB
}

// NewPostgresNoteRepo はPostgresNoteRepoを生成する。
func NewPostgresNoteRepo(db *sql.DB) *PostgresNoteRepo {
	return &PostgresNoteRepo{db: db}
}

// Insert は署名済みレコードを保存する。同じIDのレコードが既にある場合は何もしない。
func (r *PostgresNoteRepo) Insert(ctx context.Context, record *model.Record) error {
	tags, err := encodeTags(record.Tags)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO events (id, pubkey, kind, created_at, tags, content, sig)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		record.ID, record.PubKey, int(record.Kind), record.CreatedAt, tags, record.Content, record.Sig,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// ListSince は取り込み順序番号がafterSeqより大きいノートを指定種別に絞って取得する。
func (r *PostgresNoteRepo) ListSince(ctx context.Context, afterSeq int64, kinds []model.Kind, limit int) ([]model.Note, int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, id, pubkey, kind, created_at, tags, content
		 FROM events
		 WHERE seq > $1 AND kind = ANY($2)
		 ORDER BY seq
		 LIMIT $3`,
		afterSeq, pq.Array(kindsToInt64(kinds)), limit,
	)
	if err != nil {
		return nil, afterSeq, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	maxSeq := afterSeq
	var notes []model.Note
	for rows.Next() {
		var (
			seq     int64
			kind    int
			rawTags []byte
			n       model.Note
		)
		if err := rows.Scan(&seq, &n.ID, &n.Author, &kind, &n.CreatedAt, &rawTags, &n.Content); err != nil {
			return nil, afterSeq, fmt.Errorf("failed to scan event: %w", err)
		}
		n.Kind = model.Kind(kind)
		n.Seq = seq
		if n.Tags, err = decodeTags(rawTags); err != nil {
			return nil, afterSeq, err
		}
		notes = append(notes, n)
		if seq > maxSeq {
			maxSeq = seq
		}
	}
	if err := rows.Err(); err != nil {
		return nil, afterSeq, fmt.Errorf("failed to iterate events: %w", err)
	}

	return notes, maxSeq, nil
}

// encodeTags はタグをJSONB列に保存する形式へ変換する。nilは空配列として保存する。
func encodeTags(tags []model.Tag) ([]byte, error) {
	if tags == nil {
		tags = []model.Tag{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tags: %w", err)
	}
	return b, nil
}

func decodeTags(raw []byte) ([]model.Tag, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var tags []model.Tag
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	return tags, nil
}

func kindsToInt64(kinds []model.Kind) []int64 {
	out := make([]int64, len(kinds))
	for i, k := range kinds {
		out[i] = int64(k)
	}
	return out
}
