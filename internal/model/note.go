// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Kind はレコードのイベント種別（判別子）を表す。
type Kind int

const (
	// KindTextNote はテキスト投稿。
	KindTextNote Kind = 1
	// KindChannelMessage はチャンネルメッセージ。
	KindChannelMessage Kind = 42
	// KindFileHeader は外部URLを参照するファイルヘッダー（external-link方式）。
	KindFileHeader Kind = 1063
	// KindFileStorage はファイル本体を内包するレコード（content-addressed方式）。
	KindFileStorage Kind = 1064
	// KindFileStorageHeader はKindFileStorageに付随するヘッダーレコード。
	KindFileStorageHeader Kind = 1065
	// KindLiveChatMessage はライブ配信チャットのメッセージ。
	KindLiveChatMessage Kind = 1311
	// KindPollNote は投票付き投稿。
	KindPollNote Kind = 6969
	// KindMuteList はミュートリスト。
	KindMuteList Kind = 10000
	// KindPeopleList は人物リスト（ブロックリストを含む）。
	KindPeopleList Kind = 30000
	// KindDraft は下書きラッパー。
	KindDraft Kind = 31234
)

// Tag はレコードに付与されるタグ。先頭要素がタグ名、2番目が値。
type Tag []string

// Name はタグ名を返す。空タグの場合は空文字列を返す。
func (t Tag) Name() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value はタグの値を返す。値がない場合は空文字列を返す。
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Marker はeタグのマーカー（root, reply, mention）を返す。
func (t Tag) Marker() string {
	if len(t) < 4 {
		return ""
	}
	return t[3]
}

// Note はレコードキャッシュに保持されたレコードを表す。
// フィードフィルタは参照のみ行い、変更しない。
type Note struct {
	ID        string
	Author    string
	Kind      Kind
	CreatedAt time.Time
	Tags      []Tag
	Content   string
	Seq       int64 // レコードキャッシュへの取り込み順序番号。キャッシュから読んだノートのみ設定される
}

// TaggedHashtag はノートが指定ハッシュタグ集合のいずれかを持つかを返す。
// ハッシュタグは大文字小文字を区別しない。
func (n Note) TaggedHashtag(set map[string]struct{}) bool {
	if len(set) == 0 {
		return false
	}
	for _, tag := range n.Tags {
		if tag.Name() != "t" {
			continue
		}
		if _, ok := set[strings.ToLower(tag.Value())]; ok {
			return true
		}
	}
	return false
}

// TaggedGeohash はノートが指定ジオハッシュ集合のいずれかを持つかを返す。
func (n Note) TaggedGeohash(set map[string]struct{}) bool {
	if len(set) == 0 {
		return false
	}
	for _, tag := range n.Tags {
		if tag.Name() != "g" {
			continue
		}
		if _, ok := set[tag.Value()]; ok {
			return true
		}
	}
	return false
}

// IsNewThread はノートが新しいスレッドの起点かを返す。
// テキスト投稿と投票のうち、返信先（root/reply または無印のeタグ）を持たないものが該当する。
// チャンネル、ライブチャット、下書きは常に起点ではない。
func (n Note) IsNewThread() bool {
	if n.Kind != KindTextNote && n.Kind != KindPollNote {
		return false
	}
	for _, tag := range n.Tags {
		if tag.Name() == "e" && tag.Marker() != "mention" {
			return false
		}
	}
	return true
}

// Record は署名済みで公開可能なレコードを表す。
// 生成後は変更せず、ブロードキャスト先に所有権が移る。
type Record struct {
	ID        string
	PubKey    string
	CreatedAt time.Time
	Kind      Kind
	Tags      []Tag
	Content   string
	Sig       string
}

// Note はレコードをキャッシュ上のノート表現に変換する。
func (r *Record) Note() Note {
	return Note{
		ID:        r.ID,
		Author:    r.PubKey,
		Kind:      r.Kind,
		CreatedAt: r.CreatedAt,
		Tags:      r.Tags,
		Content:   r.Content,
	}
}
