package feed

import (
	"time"

	"github.com/hitoshi/mediapost/internal/model"
)

// View は1つのフィードキーに対するフィルタ結果を保持し、新着ノートを差分で取り込む。
// 作成時刻が未来のため除外したノートは保留として保持し、次回の取り込み時に再判定する。
// Viewは並行利用に対して安全ではない。
type View struct {
	key     string
	notes   []model.Note
	ids     map[string]struct{}
	pending []model.Note
}

// NewView は空のViewを生成する。
func NewView() *View {
	return &View{ids: make(map[string]struct{})}
}

// Key は現在保持している結果のフィードキーを返す。未計算の場合は空文字列。
func (v *View) Key() string {
	return v.key
}

// Notes は保持している結果のコピーを返す。
func (v *View) Notes() []model.Note {
	return append([]model.Note(nil), v.notes...)
}

// Refresh はノート全体から結果を計算し直す。
func (v *View) Refresh(notes []model.Note, vis model.VisibilitySet, now time.Time) []model.Note {
	v.key = Key(vis.Viewer, vis.ActiveList)
	v.notes = nil
	v.ids = make(map[string]struct{})
	v.pending = nil
	v.merge(notes, vis, now)
	return v.Notes()
}

// Add は新着ノートだけにフィルタを適用して結果に追加する。
// 保持している結果のキーとvisのキーが異なる場合は何もせずfalseを返すので、呼び出し側はRefreshすること。
func (v *View) Add(notes []model.Note, vis model.VisibilitySet, now time.Time) ([]model.Note, bool) {
	if v.key == "" || v.key != Key(vis.Viewer, vis.ActiveList) {
		return nil, false
	}
	candidates := append(v.pending, notes...)
	v.pending = nil
	v.merge(candidates, vis, now)
	return v.Notes(), true
}

// merge は候補のうち条件を満たすものを重複なく追加し、並べ替える。
func (v *View) merge(candidates []model.Note, vis model.VisibilitySet, now time.Time) {
	added := false
	for _, n := range candidates {
		if _, dup := v.ids[n.ID]; dup {
			continue
		}
		if !Admits(n, vis) {
			continue
		}
		if !IsPast(n, now) {
			v.pending = appendPending(v.pending, n)
			continue
		}
		v.ids[n.ID] = struct{}{}
		v.notes = append(v.notes, n)
		added = true
	}
	if added {
		Sort(v.notes)
	}
}

func appendPending(pending []model.Note, n model.Note) []model.Note {
	for _, p := range pending {
		if p.ID == n.ID {
			return pending
		}
	}
	return append(pending, n)
}
