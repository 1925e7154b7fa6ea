// Package feed は閲覧者ごとの会話フィード（返信のみのビュー）を構築する。
// Filterはキャッシュ済みノートのスナップショットに対する純粋関数で、
// 入力を変更せず、同じ入力には常に同じ順序の結果を返す。
package feed

import (
	"sort"
	"time"

	"github.com/hitoshi/mediapost/internal/model"
)

// ConversationKinds は会話フィードに含めるノート種別。
var ConversationKinds = []model.Kind{
	model.KindTextNote,
	model.KindPollNote,
	model.KindChannelMessage,
	model.KindLiveChatMessage,
	model.KindDraft,
}

// Key はフィードの同一性を判定するキーを返す。
// 閲覧者またはアクティブなリストが変わるとキーも変わる。
func Key(viewer, activeList string) string {
	return viewer + "-" + activeList
}

// Filter はノートのうち会話フィードに表示するものを選び、新しい順に並べて返す。
// 同じIDのノートは1件にまとめる。
func Filter(notes []model.Note, vis model.VisibilitySet, now time.Time) []model.Note {
	seen := make(map[string]struct{}, len(notes))
	out := make([]model.Note, 0)
	for _, n := range notes {
		if !Admits(n, vis) || !IsPast(n, now) {
			continue
		}
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		out = append(out, n)
	}
	Sort(out)
	return out
}

// Admits は時刻以外の条件をすべて満たすかを返す。
//  1. 種別が会話フィードの対象
//  2. グローバルリスト、フォロー中の著者、フォロー中のハッシュタグまたはジオタグのいずれか
//  3. 非表示の著者でない（閲覧者自身のブロック/ミュートリスト表示中は判定しない）
//  4. 新しいスレッドの起点でない
func Admits(n model.Note, vis model.VisibilitySet) bool {
	if !isConversationKind(n.Kind) {
		return false
	}
	if !vis.IsGlobal() &&
		!vis.FollowsAuthor(n.Author) &&
		!n.TaggedHashtag(vis.FollowedHashtags) &&
		!n.TaggedGeohash(vis.FollowedGeotags) {
		return false
	}
	if !vis.IsHiddenList() && n.Author != "" && vis.IsHidden(n.Author) {
		return false
	}
	return !n.IsNewThread()
}

// IsPast はノートの作成時刻が評価時刻より厳密に前かを返す。
func IsPast(n model.Note, now time.Time) bool {
	return n.CreatedAt.Before(now)
}

// Sort は作成時刻の降順、同時刻はIDの降順に並べ替える。
func Sort(notes []model.Note) {
	sort.SliceStable(notes, func(i, j int) bool {
		if !notes[i].CreatedAt.Equal(notes[j].CreatedAt) {
			return notes[i].CreatedAt.After(notes[j].CreatedAt)
		}
		return notes[i].ID > notes[j].ID
	})
}

func isConversationKind(k model.Kind) bool {
	for _, c := range ConversationKinds {
		if c == k {
			return true
		}
	}
	return false
}
