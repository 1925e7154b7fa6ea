package hosting

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/mediapost/internal/media"
	"github.com/hitoshi/mediapost/internal/metrics"
	"github.com/hitoshi/mediapost/internal/model"
	"github.com/hitoshi/mediapost/internal/publish"
)

// MediaOpener はステージング済みメディアを読み込み用に開くインターフェース。
type MediaOpener interface {
	Open(ref media.Ref) (io.ReadCloser, error)
}

// maxResponseSize はアップロードレスポンスとして読み込む上限バイト数。
const maxResponseSize = 1 << 20

// HTTPUploader はmultipart/form-dataでメディアをホスティングサーバーに送信する。
type HTTPUploader struct {
	client  *http.Client
	opener  MediaOpener
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewHTTPUploader はHTTPUploaderの新しいインスタンスを生成する。
func NewHTTPUploader(opener MediaOpener, mc metrics.MetricsCollector, logger *slog.Logger, timeout time.Duration) *HTTPUploader {
	return &HTTPUploader{
		client:  &http.Client{Timeout: timeout},
		opener:  opener,
		metrics: mc,
		logger:  logger,
	}
}

// Upload はメディアを送信し、レスポンスJSONから公開URLとMIMEタイプを取り出す。
func (u *HTTPUploader) Upload(ctx context.Context, ref media.Ref, target model.ServerTarget) (publish.UploadResult, error) {
	f, err := u.opener.Open(ref)
	if err != nil {
		return publish.UploadResult{}, fmt.Errorf("failed to open media: %w", err)
	}

	// 1. ファイルをパイプ経由でmultipartとして書き出す
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer f.Close()
		pw.CloseWithError(writeMultipart(mw, f, ref, target.FormField))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.UploadURL, pr)
	if err != nil {
		pr.Close()
		return publish.UploadResult{}, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("User-Agent", "Mediapost/1.0")

	// 2. 送信
	resp, err := u.client.Do(req)
	if err != nil {
		pr.Close()
		u.logger.Error("メディアのアップロードに失敗しました",
			slog.String("target", target.ID),
			slog.String("error", err.Error()),
		)
		return publish.UploadResult{}, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if u.metrics != nil {
		u.metrics.RecordHostingStatus(resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		u.logger.Warn("アップロード先が予期しないステータスを返しました",
			slog.String("target", target.ID),
			slog.Int("http_status", resp.StatusCode),
		)
		return publish.UploadResult{}, fmt.Errorf("unexpected upload status %d", resp.StatusCode)
	}

	// 3. レスポンスからURLを取り出す
	var body any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&body); err != nil {
		return publish.UploadResult{}, fmt.Errorf("failed to decode upload response: %w", err)
	}
	url, ok := lookupString(body, target.URLField)
	if !ok || url == "" {
		return publish.UploadResult{}, fmt.Errorf("upload response has no %s field", target.URLField)
	}

	mimeType := ref.ContentType
	if target.MimeField != "" {
		if m, ok := lookupString(body, target.MimeField); ok && m != "" {
			mimeType = m
		}
	}

	return publish.UploadResult{URL: url, MimeType: mimeType}, nil
}

func writeMultipart(mw *multipart.Writer, r io.Reader, ref media.Ref, field string) error {
	if field == "" {
		field = "file"
	}
	name := ref.Name
	if name == "" {
		name = "upload"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, escapeQuotes(field), escapeQuotes(name)))
	contentType := ref.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	return mw.Close()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// lookupString はドット区切りのパスでJSON値をたどり、文字列を返す。
// 数値のセグメントは配列のインデックスとして扱う。
func lookupString(v any, path string) (string, bool) {
	if path == "" {
		return "", false
	}
	for _, seg := range strings.Split(path, ".") {
		switch node := v.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return "", false
			}
			v = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return "", false
			}
			v = node[i]
		default:
			return "", false
		}
	}
	s, ok := v.(string)
	return s, ok
}
