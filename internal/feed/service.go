package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hitoshi/mediapost/internal/metrics"
	"github.com/hitoshi/mediapost/internal/model"
	"github.com/hitoshi/mediapost/internal/repository"
)

// maxCachedViews は保持するフィードキーの上限。超えた場合は最も使われていないViewから破棄する。
const maxCachedViews = 1000

// batchSize はレコードキャッシュから1回に読み込むノート数。
const batchSize = 5000

// defaultSeqOverlap は差分取り込み時に読み直す順序番号の幅。
// 順序番号は挿入時に採番されコミット順とは一致しないため、取り込み位置より手前に
// 遅れてコミットされたノートを拾うために直近の範囲を毎回読み直す。
const defaultSeqOverlap = 256

// cachedView はフィードキーごとのViewと取り込み位置。
type cachedView struct {
	mu          sync.Mutex
	view        *View
	fingerprint uint64
	seq         int64
	recent      map[string]int64 // 読み直し範囲内で取り込み済みのノートIDと順序番号
}

// remember は読み込んだノートを取り込み済みとして記録し、読み直し範囲外のものを忘れる。
func (cv *cachedView) remember(notes []model.Note, overlap int64) {
	for _, n := range notes {
		cv.recent[n.ID] = n.Seq
	}
	floor := cv.seq - overlap
	for id, seq := range cv.recent {
		if seq <= floor {
			delete(cv.recent, id)
		}
	}
}

// Service はレコードキャッシュと表示設定から会話フィードを構築する。
// フィードキーと表示設定が変わらない間は、新着ノートだけを差分で取り込む。
// 異なるフィードキーの要求は並行に処理される。
type Service struct {
	notes      repository.NoteRepository
	accounts   repository.AccountRepository
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	now        func() time.Time
	seqOverlap int64

	views *lru.Cache[string, *cachedView]
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	notes repository.NoteRepository,
	accounts repository.AccountRepository,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	views, _ := lru.New[string, *cachedView](maxCachedViews)
	return &Service{
		notes:      notes,
		accounts:   accounts,
		metrics:    mc,
		logger:     logger,
		now:        time.Now,
		seqOverlap: defaultSeqOverlap,
		views:      views,
	}
}

// Conversations は閲覧者の会話フィードを新しい順に最大limit件返す。
func (s *Service) Conversations(ctx context.Context, viewer, activeList string, limit int) ([]model.Note, error) {
	// 1. 表示設定を読み込む
	vis, err := s.accounts.LoadVisibility(ctx, viewer, activeList)
	if err != nil {
		return nil, fmt.Errorf("表示設定の取得に失敗しました: %w", err)
	}
	key := Key(viewer, activeList)
	fp := Fingerprint(vis)
	now := s.now()

	// 2. キャッシュ済みのViewがあれば新着のみ取り込む
	if cv, ok := s.views.Get(key); ok {
		result, ok, err := s.addFresh(ctx, cv, fp, vis, now)
		if err != nil {
			return nil, err
		}
		if ok {
			return truncate(result, limit), nil
		}
	}

	// 3. 初回または表示設定の変更時は全件から計算し直す
	all, seq, err := s.loadSince(ctx, 0)
	if err != nil {
		return nil, err
	}
	cv := &cachedView{view: NewView(), fingerprint: fp, seq: seq, recent: make(map[string]int64)}
	result := cv.view.Refresh(all, vis, now)
	cv.remember(all, s.seqOverlap)
	s.views.Add(key, cv)
	s.record(len(all), len(result))

	s.logger.Info("会話フィードを再構築しました",
		slog.String("feed_key", key),
		slog.Int("candidates", len(all)),
		slog.Int("kept", len(result)),
	)
	return truncate(result, limit), nil
}

// addFresh は取り込み位置の少し手前から読み直し、未取り込みのノートだけをViewへ追加する。
// 表示設定が変わっていて差分で取り込めない場合はfalseを返す。
func (s *Service) addFresh(ctx context.Context, cv *cachedView, fp uint64, vis model.VisibilitySet, now time.Time) ([]model.Note, bool, error) {
	cv.mu.Lock()
	defer cv.mu.Unlock()

	if cv.fingerprint != fp {
		return nil, false, nil
	}

	fresh, seq, err := s.loadSince(ctx, max(cv.seq-s.seqOverlap, 0))
	if err != nil {
		return nil, false, err
	}
	unseen := make([]model.Note, 0, len(fresh))
	for _, n := range fresh {
		if _, dup := cv.recent[n.ID]; !dup {
			unseen = append(unseen, n)
		}
	}

	result, ok := cv.view.Add(unseen, vis, now)
	if !ok {
		return nil, false, nil
	}
	cv.seq = max(cv.seq, seq)
	cv.remember(fresh, s.seqOverlap)
	s.record(len(unseen), keptFrom(result, unseen))
	return result, true, nil
}

// loadSince はafterSeq以降のノートを全件読み込む。
func (s *Service) loadSince(ctx context.Context, afterSeq int64) ([]model.Note, int64, error) {
	var all []model.Note
	seq := afterSeq
	for {
		batch, next, err := s.notes.ListSince(ctx, seq, ConversationKinds, batchSize)
		if err != nil {
			return nil, afterSeq, fmt.Errorf("ノートの取得に失敗しました: %w", err)
		}
		all = append(all, batch...)
		seq = next
		if len(batch) < batchSize {
			return all, seq, nil
		}
	}
}

func (s *Service) record(candidates, kept int) {
	if s.metrics == nil {
		return
	}
	dropped := candidates - kept
	if dropped < 0 {
		dropped = 0
	}
	s.metrics.RecordFeedFiltered(kept, dropped)
}

// keptFrom は新着ノートのうち結果に含まれた件数を返す。
func keptFrom(result, fresh []model.Note) int {
	ids := make(map[string]struct{}, len(fresh))
	for _, n := range fresh {
		ids[n.ID] = struct{}{}
	}
	kept := 0
	for _, n := range result {
		if _, ok := ids[n.ID]; ok {
			kept++
		}
	}
	return kept
}

// Fingerprint は表示設定の内容から決まるハッシュ値を返す。
// フォロー・非表示の集合が変わるとキャッシュ済みのViewを作り直すために使う。
func Fingerprint(vis model.VisibilitySet) uint64 {
	d := xxhash.New()
	d.WriteString(vis.Viewer)
	d.WriteString("\x00")
	d.WriteString(vis.ActiveList)
	for _, set := range []map[string]struct{}{
		vis.FollowedAuthors,
		vis.FollowedHashtags,
		vis.FollowedGeotags,
		vis.HiddenAuthors,
	} {
		d.WriteString("\x01")
		for _, k := range sortedKeys(set) {
			d.WriteString(k)
			d.WriteString("\x00")
		}
	}
	return d.Sum64()
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncate(notes []model.Note, limit int) []model.Note {
	if limit > 0 && len(notes) > limit {
		return notes[:limit]
	}
	return notes
}
