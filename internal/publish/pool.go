package publish

import (
	"context"
	"log/slog"
	"sync"
)

// Pool はパイプラインの実行を並列数上限付きで行うワーカープール。
// semaphoreパターンで同時に実行されるラン数を制御する。
type Pool struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewPool はPoolの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4を使用する。
func NewPool(maxConcurrency int, logger *slog.Logger) *Pool {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &Pool{
		sem:    make(chan struct{}, maxConcurrency),
		logger: logger,
	}
}

// Go はfnをバックグラウンドで実行する。
// 空きスロットを待つ間にctxがキャンセルされた場合も、fnはキャンセル済みのctxで呼び出される。
// fn側でctx.Err()を確認して失敗として扱うこと。
func (p *Pool) Go(ctx context.Context, fn func(ctx context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		select {
		case p.sem <- struct{}{}: // semaphore取得
			defer func() { <-p.sem }() // semaphore解放
		case <-ctx.Done():
			p.logger.Warn("ワーカーの空きを待つ間にキャンセルされました",
				slog.String("error", ctx.Err().Error()),
			)
		}

		fn(ctx)
	}()
}

// Wait は実行中のすべてのジョブの完了を待つ。
func (p *Pool) Wait() {
	p.wg.Wait()
}
