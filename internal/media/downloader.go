package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/mediapost/internal/metrics"
)

// URLGuard はダウンロード先URLの検証と安全なHTTPクライアントの生成を行うインターフェース。
type URLGuard interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// Downloader はホスティングサーバーにアップロードしたメディアを取得し直す。
// SSRF検証済みのクライアントで1回だけGETし、リトライは行わない。
type Downloader struct {
	guard       URLGuard
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	timeout     time.Duration
	maxBodySize int64
}

// NewDownloader はDownloaderの新しいインスタンスを生成する。
func NewDownloader(
	guard URLGuard,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
	timeout time.Duration,
	maxBodySize int64,
) *Downloader {
	return &Downloader{
		guard:       guard,
		metrics:     mc,
		logger:      logger,
		timeout:     timeout,
		maxBodySize: maxBodySize,
	}
}

// Download はURLのメディアを取得する。
// 200以外のステータス、サイズ超過、ネットワークエラーはすべてエラーとして返す。
func (d *Downloader) Download(ctx context.Context, url string) ([]byte, error) {
	start := time.Now()

	// SSRF検証
	if err := d.guard.ValidateURL(url); err != nil {
		return nil, fmt.Errorf("SSRF検証に失敗: %w", err)
	}

	client := d.guard.NewSafeClient(d.timeout, d.maxBodySize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", "Mediapost/1.0")

	resp, err := client.Do(req)
	if err != nil {
		d.logger.Error("メディアの取得に失敗しました",
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	if d.metrics != nil {
		d.metrics.RecordHostingStatus(resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		d.logger.Warn("予期しないHTTPステータスコード",
			slog.String("url", url),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	// 上限+1バイトまで読み、超過を検出する
	body, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("レスポンス読み取り失敗: %w", err)
	}
	if int64(len(body)) > d.maxBodySize {
		return nil, ErrTooLarge
	}

	d.logger.Info("メディアを取得しました",
		slog.String("url", url),
		slog.Int("bytes", len(body)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return body, nil
}
