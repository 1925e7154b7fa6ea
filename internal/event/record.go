// Package event はメディア投稿レコードの構築、リモート署名、レコードキャッシュへの送信を提供する。
package event

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/hitoshi/mediapost/internal/model"
)

// descriptorTags はFileDescriptorから共通のメタデータタグを生成する。
func descriptorTags(desc model.FileDescriptor) []model.Tag {
	var tags []model.Tag
	if desc.URL != "" {
		tags = append(tags, model.Tag{"url", desc.URL})
	}
	if desc.MimeType != "" {
		tags = append(tags, model.Tag{"m", desc.MimeType})
	}
	tags = append(tags,
		model.Tag{"x", desc.Hash},
		model.Tag{"size", strconv.FormatInt(desc.Size, 10)},
	)
	if desc.Dimensions != nil {
		tags = append(tags, model.Tag{"dim", fmt.Sprintf("%dx%d", desc.Dimensions.Width, desc.Dimensions.Height)})
	}
	return tags
}

// NewFileHeader はexternal-link方式の未署名レコードを構築する。
// レコードはリモートURLを参照し、説明文を本文に持つ。
func NewFileHeader(pubKey string, desc model.FileDescriptor, createdAt time.Time) *model.Record {
	return &model.Record{
		PubKey:    pubKey,
		CreatedAt: createdAt,
		Kind:      model.KindFileHeader,
		Tags:      descriptorTags(desc),
		Content:   desc.Description,
	}
}

// NewFileStorage はcontent-addressed方式のバイト列を内包する未署名レコードを構築する。
// 本文はbase64でエンコードしたバイト列。
func NewFileStorage(pubKey string, data []byte, desc model.FileDescriptor, createdAt time.Time) *model.Record {
	var tags []model.Tag
	if desc.MimeType != "" {
		tags = append(tags, model.Tag{"type", desc.MimeType})
	}
	return &model.Record{
		PubKey:    pubKey,
		CreatedAt: createdAt,
		Kind:      model.KindFileStorage,
		Tags:      tags,
		Content:   base64.StdEncoding.EncodeToString(data),
	}
}

// NewFileStorageHeader は署名済みのバイト列レコードを参照する未署名のヘッダーレコードを構築する。
func NewFileStorageHeader(pubKey string, storage *model.Record, desc model.FileDescriptor, createdAt time.Time) *model.Record {
	tags := append([]model.Tag{{"e", storage.ID}}, descriptorTags(desc)...)
	return &model.Record{
		PubKey:    pubKey,
		CreatedAt: createdAt,
		Kind:      model.KindFileStorageHeader,
		Tags:      tags,
		Content:   desc.Description,
	}
}

// ComputeID はレコードの識別子を計算する。
// [0, pubkey, created_at, kind, tags, content] のJSON直列化に対するSHA-256の16進表現。
func ComputeID(r *model.Record) (string, error) {
	tags := r.Tags
	if tags == nil {
		tags = []model.Tag{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode([]any{0, r.PubKey, r.CreatedAt.Unix(), int(r.Kind), tags, r.Content}); err != nil {
		return "", fmt.Errorf("failed to serialize record: %w", err)
	}

	// Encodeは末尾に改行を付ける
	sum := sha256.Sum256(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
	return hex.EncodeToString(sum[:]), nil
}
