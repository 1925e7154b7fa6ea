// Package model はドメインモデルを定義する。
package model

import "time"

// GlobalList はフォロー条件を適用しない「グローバル」リストのセレクタ。
const GlobalList = " Global "

// Account はメディアを投稿するユーザーの識別情報を表す。
type Account struct {
	PubKey          string
	DefaultServerID string // 既定のホスティングサーバーID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PeopleBlockListFor は人物リスト形式のブロックリストのセレクタを返す。
func PeopleBlockListFor(pubKey string) string {
	return "30000:" + pubKey + ":mute"
}

// MuteListFor はミュートリストのセレクタを返す。
func MuteListFor(pubKey string) string {
	return "10000:" + pubKey + ":"
}

// VisibilitySet は閲覧者ごとの表示判定に使う読み取り専用スナップショット。
// フォロー/ミュートの集合は外部で再構築され、フィルタ呼び出しごとに不変の入力として渡される。
type VisibilitySet struct {
	Viewer           string
	ActiveList       string
	FollowedAuthors  map[string]struct{}
	FollowedHashtags map[string]struct{} // 小文字で保持する
	FollowedGeotags  map[string]struct{}
	HiddenAuthors    map[string]struct{}
}

// IsGlobal はアクティブなリストがグローバルリストかを返す。
func (v VisibilitySet) IsGlobal() bool {
	return v.ActiveList == GlobalList
}

// IsHiddenList はアクティブなリストが閲覧者自身のブロック/ミュートリストかを返す。
func (v VisibilitySet) IsHiddenList() bool {
	return v.ActiveList == PeopleBlockListFor(v.Viewer) ||
		v.ActiveList == MuteListFor(v.Viewer)
}

// FollowsAuthor は著者がフォロー集合に含まれるかを返す。
func (v VisibilitySet) FollowsAuthor(pubKey string) bool {
	_, ok := v.FollowedAuthors[pubKey]
	return ok
}

// IsHidden は著者が非表示集合に含まれるかを返す。
func (v VisibilitySet) IsHidden(pubKey string) bool {
	_, ok := v.HiddenAuthors[pubKey]
	return ok
}
