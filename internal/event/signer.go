package event

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/mediapost/internal/model"
)

// signPath はリモート署名サービスの署名エンドポイント。
const signPath = "/sign"

// signRequest はリモート署名サービスに送る未署名レコード。
type signRequest struct {
	PubKey    string      `json:"pubkey"`
	CreatedAt int64       `json:"created_at"`
	Kind      int         `json:"kind"`
	Tags      []model.Tag `json:"tags"`
	Content   string      `json:"content"`
}

// signResponse はリモート署名サービスの応答。
type signResponse struct {
	ID  string `json:"id"`
	Sig string `json:"sig"`
}

// RemoteSigner はアカウントの秘密鍵を保持するリモート署名サービスでレコードに署名する。
// 秘密鍵はこのサービスに渡らない。
type RemoteSigner struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
	now        func() time.Time
}

// NewRemoteSigner はRemoteSignerの新しいインスタンスを生成する。
func NewRemoteSigner(httpClient *http.Client, baseURL string, logger *slog.Logger) *RemoteSigner {
	return &RemoteSigner{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   strings.TrimRight(baseURL, "/") + signPath,
		now:        time.Now,
	}
}

// timestamp はレコードの作成時刻を返す。IDは秒単位の時刻から計算されるため秒未満を切り捨てる。
func (s *RemoteSigner) timestamp() time.Time {
	return s.now().Truncate(time.Second)
}

// SignExternalLinkRecord はリモートURLを参照するレコードを構築して署名する。
func (s *RemoteSigner) SignExternalLinkRecord(ctx context.Context, account *model.Account, desc model.FileDescriptor) (*model.Record, error) {
	if account == nil {
		return nil, fmt.Errorf("account is required")
	}
	return s.Sign(ctx, NewFileHeader(account.PubKey, desc, s.timestamp()))
}

// SignContentAddressedRecord はバイト列を内包するレコードと、それを参照するヘッダーレコードに署名する。
// ヘッダーレコードの署名に失敗した場合は、主レコードのみを返す。
func (s *RemoteSigner) SignContentAddressedRecord(ctx context.Context, account *model.Account, data []byte, desc model.FileDescriptor) (*model.Record, *model.Record, error) {
	if account == nil {
		return nil, nil, fmt.Errorf("account is required")
	}
	createdAt := s.timestamp()

	// 1. バイト列レコードに署名
	primary, err := s.Sign(ctx, NewFileStorage(account.PubKey, data, desc, createdAt))
	if err != nil {
		return nil, nil, err
	}

	// 2. 署名済みIDを参照するヘッダーレコードに署名
	companion, err := s.Sign(ctx, NewFileStorageHeader(account.PubKey, primary, desc, createdAt))
	if err != nil {
		s.logger.Warn("ヘッダーレコードの署名に失敗しました",
			slog.String("primary_id", primary.ID),
			slog.String("error", err.Error()),
		)
		return primary, nil, nil
	}
	return primary, companion, nil
}

// Sign は未署名レコードを署名サービスに送り、IDと署名を付与したコピーを返す。
// 署名サービスが返したIDがレコード内容と一致しない場合はエラーを返す。
func (s *RemoteSigner) Sign(ctx context.Context, unsigned *model.Record) (*model.Record, error) {
	tags := unsigned.Tags
	if tags == nil {
		tags = []model.Tag{}
	}
	payload, err := json.Marshal(signRequest{
		PubKey:    unsigned.PubKey,
		CreatedAt: unsigned.CreatedAt.Unix(),
		Kind:      int(unsigned.Kind),
		Tags:      tags,
		Content:   unsigned.Content,
	})
	if err != nil {
		return nil, fmt.Errorf("署名リクエストの作成に失敗しました: %w", err)
	}

	// HTTPリクエスト作成
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mediapost/1.0")

	// HTTPリクエスト実行
	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Error("署名サービスの呼び出しに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("kind", int(unsigned.Kind)),
		)
		return nil, err
	}
	defer resp.Body.Close()

	// HTTPステータスチェック
	if resp.StatusCode != http.StatusOK {
		s.logger.Error("署名サービスがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.Int("kind", int(unsigned.Kind)),
		)
		return nil, fmt.Errorf("署名サービスがステータス %d を返しました", resp.StatusCode)
	}

	// レスポンスボディ読み取り
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	// JSONデコード
	var result signResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	if result.Sig == "" {
		return nil, fmt.Errorf("署名サービスの応答に署名が含まれていません")
	}

	// IDの検証
	id, err := ComputeID(unsigned)
	if err != nil {
		return nil, err
	}
	if result.ID != id {
		return nil, fmt.Errorf("署名サービスの応答IDが一致しません: got %s, want %s", result.ID, id)
	}

	signed := *unsigned
	signed.CreatedAt = time.Unix(unsigned.CreatedAt.Unix(), 0)
	signed.Tags = append([]model.Tag(nil), unsigned.Tags...)
	signed.ID = id
	signed.Sig = result.Sig
	return &signed, nil
}
