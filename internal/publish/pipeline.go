package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/mediapost/internal/media"
	"github.com/hitoshi/mediapost/internal/metrics"
	"github.com/hitoshi/mediapost/internal/model"
)

// UploadResult はホスティングサーバーへのアップロード結果。
type UploadResult struct {
	URL      string
	MimeType string
}

// Uploader はメディアをホスティングサーバーへアップロードするインターフェース。
type Uploader interface {
	Upload(ctx context.Context, ref media.Ref, target model.ServerTarget) (UploadResult, error)
}

// MediaReader はローカルに保持されたメディアのバイト列を読み込むインターフェース。
type MediaReader interface {
	ReadAll(ref media.Ref) ([]byte, error)
}

// Downloader はアップロード済みメディアを取得し直すインターフェース。
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// DescriptorBuilder はバイト列からFileDescriptorを構築するインターフェース。
type DescriptorBuilder interface {
	Build(ctx context.Context, data []byte, sourceURL, mimeType, caption string) (model.FileDescriptor, error)
}

// Signer はレコードを構築して署名するインターフェース。
// 署名対象がない場合はnilレコードを返してよい。
type Signer interface {
	SignExternalLinkRecord(ctx context.Context, account *model.Account, desc model.FileDescriptor) (*model.Record, error)
	SignContentAddressedRecord(ctx context.Context, account *model.Account, data []byte, desc model.FileDescriptor) (primary, companion *model.Record, err error)
}

// Broadcaster は署名済みレコードをネットワークへ送信するインターフェース。
type Broadcaster interface {
	Publish(ctx context.Context, records ...*model.Record) error
}

// TargetResolver はサーバーIDからServerTargetを解決するインターフェース。
type TargetResolver interface {
	Lookup(id string) (model.ServerTarget, bool)
	ExternalLinkVariant(target model.ServerTarget) (model.ServerTarget, bool)
}

// Sleeper はリモート処理待ちに使う待機関数。ctxがキャンセルされた場合はエラーを返す。
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext はtime.Timerによる標準のSleeper。
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Deps はパイプラインが依存する外部コラボレーター。
type Deps struct {
	Uploader    Uploader
	Reader      MediaReader
	Downloader  Downloader
	Descriptors DescriptorBuilder
	Signer      Signer
	Broadcaster Broadcaster
	Targets     TargetResolver
	Pool        *Pool // nilの場合は専用のgoroutineで実行する
	Metrics     metrics.MetricsCollector
	Logger      *slog.Logger
}

// Options はパイプラインの動作パラメータ。
type Options struct {
	// GraceUnit はリモート処理待ちの単位時間。0以下の場合は1秒。
	GraceUnit time.Duration
	// Sleep は待機関数。nilの場合はSleepContext。
	Sleep Sleeper
}

// Pipeline は1つのアップロードセッションを所有し、各段階を順に進める。
//
// セッションの可変フィールドはmuで保護され、段階遷移は世代番号で保護される。
// Load, Cancel, Resetおよび終端遷移で世代が進み、古い世代で開始された
// ランの結果はセッションに反映されずに破棄される。
type Pipeline struct {
	deps      Deps
	graceUnit time.Duration
	sleep     Sleeper
	hub       *ErrorHub
	logger    *slog.Logger
	metrics   metrics.MetricsCollector

	mu           sync.Mutex
	gen          uint64
	account      *model.Account
	ref          media.Ref
	kind         model.MediaKind
	contentType  string
	target       model.ServerTarget
	caption      string
	state        State
	progress     float64
	stage        string
	uploading    bool
	stageStarted time.Time
	onUploaded   func()
	onChange     func(Snapshot)

	wg sync.WaitGroup
}

// NewPipeline はPipelineの新しいインスタンスを生成する。
func NewPipeline(deps Deps, opts Options) *Pipeline {
	if opts.GraceUnit <= 0 {
		opts.GraceUnit = time.Second
	}
	if opts.Sleep == nil {
		opts.Sleep = SleepContext
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mc := deps.Metrics
	if mc == nil {
		mc = noopMetrics{}
	}
	return &Pipeline{
		deps:      deps,
		graceUnit: opts.GraceUnit,
		sleep:     opts.Sleep,
		hub:       NewErrorHub(),
		logger:    logger,
		metrics:   mc,
	}
}

// Errors は失敗通知のハブを返す。
func (p *Pipeline) Errors() *ErrorHub {
	return p.hub
}

// OnceUploaded は完了時に1回呼び出されるコールバックを登録する。
// ランが完了するたびに、そのランにつき1回だけ呼び出される。
func (p *Pipeline) OnceUploaded(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onUploaded = fn
}

// OnChange は状態変化のたびに呼ばれるコールバックを登録する。
// コールバックはロック外で呼ばれるが、パイプラインのメソッドを同期的に呼び出してはならない。
func (p *Pipeline) OnChange(fn func(Snapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = fn
}

// Snapshot は現在のセッション状態を返す。
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Load はアカウントとメディア参照をセッションに結び付け、既定のターゲットを選択する。
// 既定ターゲットが両方式に対応する場合は、同一サーバーのcontent-addressed版を選ぶ。
// refの有無はここでは検証しない。
func (p *Pipeline) Load(account *model.Account, ref media.Ref, contentType string) {
	p.mu.Lock()
	p.gen++
	p.account = account
	p.ref = ref
	p.contentType = contentType
	p.kind = model.MediaKindFromContentType(contentType)
	p.target = p.defaultTargetLocked(true)
	p.caption = ""
	p.state = StateIdle
	p.progress = 0
	p.stage = ""
	p.uploading = false
	snap, notify := p.snapshotLocked(), p.onChange
	p.mu.Unlock()

	p.notify(notify, snap)
}

// SetCaption はレコードに付与する説明文を設定する。
func (p *Pipeline) SetCaption(caption string) {
	p.mu.Lock()
	p.caption = caption
	snap, notify := p.snapshotLocked(), p.onChange
	p.mu.Unlock()

	p.notify(notify, snap)
}

// Select はターゲットを明示的に選択する。
// 両方式に対応するサーバーを選んだ場合はexternal-link版に解決する。
func (p *Pipeline) Select(target model.ServerTarget) {
	if p.deps.Targets != nil {
		if linked, ok := p.deps.Targets.ExternalLinkVariant(target); ok {
			target = linked
		}
	}

	p.mu.Lock()
	if p.uploading {
		p.mu.Unlock()
		return
	}
	p.target = target
	snap, notify := p.snapshotLocked(), p.onChange
	p.mu.Unlock()

	p.notify(notify, snap)
}

// CanPost はアップロード中でなく、メディアとターゲットが揃っているかを返す。
func (p *Pipeline) CanPost() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.uploading && !p.ref.IsZero() && !p.target.IsZero()
}

// Cancel はセッションを初期状態に戻す。どの状態からでも呼び出せる。
// 実行中の外部呼び出しは中断しないが、その結果は世代不一致により破棄される。
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	p.gen++
	p.clearLocked(StateIdle)
	snap, notify := p.snapshotLocked(), p.onChange
	p.mu.Unlock()

	p.notify(notify, snap)
}

// Reset はDoneまたはFailedのセッションをIdleへ戻す。それ以外の状態では何もしない。
func (p *Pipeline) Reset() {
	p.mu.Lock()
	if !p.state.Terminal() {
		p.mu.Unlock()
		return
	}
	p.gen++
	p.clearLocked(StateIdle)
	snap, notify := p.snapshotLocked(), p.onChange
	p.mu.Unlock()

	p.notify(notify, snap)
}

// Wait は実行中のランの完了を待つ。
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// job は1回のランに必要なセッション値のコピー。
type job struct {
	gen         uint64
	account     *model.Account
	ref         media.Ref
	contentType string
	target      model.ServerTarget
	caption     string
	data        []byte
}

// Upload はパイプラインを開始する。
// メディアまたはターゲットが未設定の場合、あるいはアップロード中の場合は何もしない。
// content-addressed方式ではメディアの読み込みをこの呼び出しの中で同期的に行う。
func (p *Pipeline) Upload(ctx context.Context) {
	p.mu.Lock()
	if p.uploading || p.ref.IsZero() || p.target.IsZero() {
		p.mu.Unlock()
		return
	}
	p.uploading = true
	p.state = StateUploading
	p.progress = progressStart
	p.stageStarted = time.Now()
	if p.target.Protocol == model.ProtocolContentAddressed {
		p.stage = LabelLoading
	} else {
		p.stage = LabelUploading
	}
	j := job{
		gen:         p.gen,
		account:     p.account,
		ref:         p.ref,
		contentType: p.contentType,
		target:      p.target,
		caption:     p.caption,
	}
	snap, notify := p.snapshotLocked(), p.onChange
	p.mu.Unlock()

	p.notify(notify, snap)
	p.metrics.RecordPublishStarted(string(j.target.Protocol))

	if j.target.Protocol == model.ProtocolContentAddressed {
		data, err := p.deps.Reader.ReadAll(j.ref)
		if err != nil {
			p.fail(j, StateUploading, fmt.Errorf("read media: %w", err))
			return
		}
		j.data = data
	}

	p.wg.Add(1)
	run := func(ctx context.Context) {
		defer p.wg.Done()
		p.run(ctx, j)
	}
	if p.deps.Pool != nil {
		p.deps.Pool.Go(ctx, run)
		return
	}
	go run(ctx)
}

// run は1回のランを最後まで順に実行する。
// 各段階の前後で世代を確認し、古くなった時点で以後の処理を打ち切る。
func (p *Pipeline) run(ctx context.Context, j job) {
	if err := ctx.Err(); err != nil {
		p.fail(j, StateUploading, err)
		return
	}

	linked := j.target.Protocol != model.ProtocolContentAddressed
	data := j.data
	sourceURL := ""
	mimeType := j.contentType

	if linked {
		// 1. ホスティングサーバーへアップロード
		res, err := p.deps.Uploader.Upload(ctx, j.ref, j.target)
		if err != nil {
			p.fail(j, StateUploading, err)
			return
		}
		if res.MimeType != "" {
			mimeType = res.MimeType
		}

		// 2. サーバー側の処理完了を待つ
		if !p.advance(j.gen, StateRemoteProcessing, progressLinkProcessing, LabelProcessing) {
			return
		}
		wait := time.Duration(graceUnits(mimeType)) * p.graceUnit
		if err := p.sleep(ctx, wait); err != nil {
			p.fail(j, StateRemoteProcessing, err)
			return
		}

		// 3. アップロードされたメディアを取得し直す
		if !p.advance(j.gen, StateDownloading, progressLinkDownloading, LabelDownloading) {
			return
		}
		data, err = p.deps.Downloader.Download(ctx, res.URL)
		if err != nil {
			p.fail(j, StateDownloading, err)
			return
		}
		sourceURL = res.URL

		if !p.advance(j.gen, StateHashing, progressLinkHashing, LabelHashing) {
			return
		}
	} else if !p.advance(j.gen, StateHashing, progressAddressedHashing, LabelHashing) {
		return
	}

	// 4. ハッシュとメタデータを計算
	desc, err := p.deps.Descriptors.Build(ctx, data, sourceURL, mimeType, j.caption)
	if err != nil {
		p.fail(j, StateHashing, err)
		return
	}

	// 5. 署名
	signingProgress := progressLinkHashing
	if !linked {
		signingProgress = progressAddressedSigning
	}
	if !p.advance(j.gen, StateSigning, signingProgress, LabelSigning) {
		return
	}
	records := p.sign(ctx, j, data, desc)

	// 6. 送信。署名済みレコードがない場合は送信せずに完了する
	if len(records) > 0 {
		sendingProgress := progressLinkSending
		if !linked {
			sendingProgress = progressAddressedSending
		}
		if !p.advance(j.gen, StateSending, sendingProgress, LabelSending) {
			return
		}
		if err := p.deps.Broadcaster.Publish(ctx, records...); err != nil {
			p.logger.Warn("レコードの送信に失敗しました",
				slog.String("target", j.target.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	p.complete(j)
}

// sign は方式に応じたレコードを署名して返す。
// 署名の失敗やレコードなしは致命的な失敗として扱わず、空のスライスを返す。
func (p *Pipeline) sign(ctx context.Context, j job, data []byte, desc model.FileDescriptor) []*model.Record {
	protocol := string(j.target.Protocol)

	var records []*model.Record
	var err error
	if j.target.Protocol == model.ProtocolContentAddressed {
		var primary, companion *model.Record
		primary, companion, err = p.deps.Signer.SignContentAddressedRecord(ctx, j.account, data, desc)
		if err == nil && primary != nil {
			records = append(records, primary)
			if companion != nil {
				records = append(records, companion)
			}
		}
	} else {
		var rec *model.Record
		rec, err = p.deps.Signer.SignExternalLinkRecord(ctx, j.account, desc)
		if err == nil && rec != nil {
			records = append(records, rec)
		}
	}

	if len(records) == 0 {
		if err == nil {
			err = errors.New("signer returned no record")
		}
		p.metrics.RecordSignSkipped(protocol)
		p.logger.Warn("レコードに署名できなかったため送信をスキップします",
			slog.String("protocol", protocol),
			slog.String("hash", desc.Hash),
			slog.String("error", err.Error()),
		)
	}
	return records
}

// advance は世代が一致する場合のみ段階を進める。
// 世代が古い場合はfalseを返し、呼び出し側はランを打ち切る。
func (p *Pipeline) advance(gen uint64, state State, progress float64, stage string) bool {
	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		p.logger.Debug("キャンセル済みのセッションへの遷移を破棄しました",
			slog.String("state", state.String()),
		)
		return false
	}
	prev, elapsed := p.state, time.Since(p.stageStarted)
	p.state = state
	p.progress = progress
	p.stage = stage
	p.stageStarted = time.Now()
	snap, notify := p.snapshotLocked(), p.onChange
	p.mu.Unlock()

	p.metrics.RecordStageLatency(prev.String(), elapsed)
	p.notify(notify, snap)
	return true
}

// fail はセッションをFailedへ遷移させ、利用者向けメッセージを1回通知する。
// 世代が古い場合は何もしない。
func (p *Pipeline) fail(j job, at State, err error) {
	p.mu.Lock()
	if p.gen != j.gen {
		p.mu.Unlock()
		p.logger.Debug("キャンセル済みのセッションの失敗を破棄しました",
			slog.String("state", at.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	p.gen++
	p.clearLocked(StateFailed)
	snap, notify := p.snapshotLocked(), p.onChange
	p.mu.Unlock()

	p.logger.Error("メディアの公開に失敗しました",
		slog.String("stage", at.String()),
		slog.String("target", j.target.ID),
		slog.String("error", err.Error()),
	)
	p.metrics.RecordPublishFailed(at.String())
	p.notify(notify, snap)
	p.hub.Emit(UploadFailedMessage)
}

// complete はDoneへ遷移して完了コールバックを呼び出し、セッションをIdleへ戻す。
func (p *Pipeline) complete(j job) {
	p.mu.Lock()
	if p.gen != j.gen {
		p.mu.Unlock()
		return
	}
	p.state = StateDone
	p.progress = progressDone
	p.stage = ""
	p.uploading = false
	done, notify, onUploaded := p.snapshotLocked(), p.onChange, p.onUploaded
	p.mu.Unlock()

	p.notify(notify, done)
	p.metrics.RecordPublishCompleted(string(j.target.Protocol))
	p.logger.Info("メディアを公開しました",
		slog.String("target", j.target.ID),
		slog.String("protocol", string(j.target.Protocol)),
	)
	if onUploaded != nil {
		onUploaded()
	}

	p.mu.Lock()
	if p.gen != j.gen {
		p.mu.Unlock()
		return
	}
	p.gen++
	p.clearLocked(StateIdle)
	idle, notify := p.snapshotLocked(), p.onChange
	p.mu.Unlock()

	p.notify(notify, idle)
}

// clearLocked はメディアと説明文を消去し、進捗を0に戻し、ターゲットをアカウントの既定値に戻す。
func (p *Pipeline) clearLocked(state State) {
	p.ref = media.Ref{}
	p.kind = model.MediaKindNone
	p.contentType = ""
	p.caption = ""
	p.uploading = false
	p.state = state
	p.progress = 0
	p.stage = ""
	p.target = p.defaultTargetLocked(false)
}

// defaultTargetLocked はアカウントの既定ターゲットを返す。
// preferAddressedがtrueの場合、両方式対応サーバーはcontent-addressed版に置き換える。
func (p *Pipeline) defaultTargetLocked(preferAddressed bool) model.ServerTarget {
	if p.account == nil || p.deps.Targets == nil || p.account.DefaultServerID == "" {
		return model.ServerTarget{}
	}
	target, ok := p.deps.Targets.Lookup(p.account.DefaultServerID)
	if !ok {
		return model.ServerTarget{}
	}
	if preferAddressed && target.SupportsBoth() {
		if addressed, ok := p.deps.Targets.Lookup(target.Counterpart); ok {
			return addressed
		}
	}
	return target
}

func (p *Pipeline) snapshotLocked() Snapshot {
	return Snapshot{
		State:     p.state,
		Progress:  p.progress,
		Stage:     p.stage,
		MediaKind: p.kind,
		TargetID:  p.target.ID,
		Caption:   p.caption,
		Uploading: p.uploading,
	}
}

func (p *Pipeline) notify(fn func(Snapshot), snap Snapshot) {
	if fn != nil {
		fn(snap)
	}
}

// noopMetrics はメトリクス未設定時に使用する。
type noopMetrics struct{}

func (noopMetrics) RecordPublishStarted(string) {}
func (noopMetrics) RecordPublishCompleted(string) {}
func (noopMetrics) RecordPublishFailed(string) {}
func (noopMetrics) RecordSignSkipped(string) {}
func (noopMetrics) RecordStageLatency(string, time.Duration) {}
func (noopMetrics) RecordHostingStatus(int) {}
func (noopMetrics) RecordFeedFiltered(int, int) {}
