package hosting

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/hitoshi/mediapost/internal/media"
	"github.com/hitoshi/mediapost/internal/metrics"
	"github.com/hitoshi/mediapost/internal/model"
	"github.com/hitoshi/mediapost/internal/publish"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
)

// S3TargetID はS3アップロード先として登録するターゲットのID。
const S3TargetID = "s3"

// S3Config はS3互換ストレージの接続設定。
type S3Config struct {
	Region        string
	BaseEndpoint  string
	Bucket        string
	AccessKey     string
	SecretKey     string
	PublicBaseURL string
}

// S3Target はS3アップロード先のServerTargetを返す。
func S3Target() model.ServerTarget {
	return model.ServerTarget{
		ID:        S3TargetID,
		Name:      "S3",
		Protocol:  model.ProtocolExternalLink,
		Transport: model.TransportS3,
	}
}

// S3Uploader は署名付きPUT URLでS3互換ストレージにメディアを送信する。
// 公開URLはPublicBaseURLにオブジェクトキーを連結したもの。
type S3Uploader struct {
	cfg     S3Config
	client  *http.Client
	opener  MediaOpener
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewS3Uploader はS3Uploaderの新しいインスタンスを生成する。
func NewS3Uploader(cfg S3Config, opener MediaOpener, mc metrics.MetricsCollector, logger *slog.Logger, timeout time.Duration) *S3Uploader {
	return &S3Uploader{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		opener:  opener,
		metrics: mc,
		logger:  logger,
	}
}

func (u *S3Uploader) presignClient(ctx context.Context) (*s3.PresignClient, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(u.cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			u.cfg.AccessKey,
			u.cfg.SecretKey,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if u.cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(u.cfg.BaseEndpoint)
			o.UsePathStyle = true
		}
	})
	return s3.NewPresignClient(client), nil
}

// ObjectKey はメディアのオブジェクトキーを生成する。
func ObjectKey(ref media.Ref, now time.Time) string {
	ext := strings.ToLower(path.Ext(ref.Name))
	return fmt.Sprintf("media/%d/%02d/%02d/%s%s", now.Year(), now.Month(), now.Day(), uuid.New(), ext)
}

// Upload は署名付きURLを発行してメディアをPUTし、公開URLを返す。
func (u *S3Uploader) Upload(ctx context.Context, ref media.Ref, target model.ServerTarget) (publish.UploadResult, error) {
	// 1. 署名付きPUT URLを発行
	pc, err := u.presignClient(ctx)
	if err != nil {
		return publish.UploadResult{}, fmt.Errorf("failed to load s3 config: %w", err)
	}

	contentType := ref.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	bucket := u.cfg.Bucket
	key := ObjectKey(ref, time.Now())

	presigned, err := presignPutObject(pc, ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		return publish.UploadResult{}, fmt.Errorf("failed to presign put object: %w", err)
	}

	// 2. メディアをPUT
	f, err := u.opener.Open(ref)
	if err != nil {
		return publish.UploadResult{}, fmt.Errorf("failed to open media: %w", err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, presigned.URL, f)
	if err != nil {
		return publish.UploadResult{}, fmt.Errorf("failed to create put request: %w", err)
	}
	req.ContentLength = ref.Size
	req.Header.Set("Content-Type", contentType)

	resp, err := u.client.Do(req)
	if err != nil {
		u.logger.Error("S3へのアップロードに失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return publish.UploadResult{}, fmt.Errorf("put request failed: %w", err)
	}
	defer resp.Body.Close()

	if u.metrics != nil {
		u.metrics.RecordHostingStatus(resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return publish.UploadResult{}, fmt.Errorf("upload failed: %s; body: %s", resp.Status, string(b))
	}

	// 3. 公開URLを組み立てる
	url := strings.TrimRight(u.cfg.PublicBaseURL, "/") + "/" + key
	u.logger.Info("S3にメディアをアップロードしました",
		slog.String("target", target.ID),
		slog.String("key", key),
	)
	return publish.UploadResult{URL: url, MimeType: contentType}, nil
}
