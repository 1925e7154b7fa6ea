package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"

	"github.com/hitoshi/mediapost/internal/model"
)

// DescriptorBuilder はバイト列からハッシュ、サイズ、MIMEタイプ、寸法を求める。
type DescriptorBuilder struct{}

// NewDescriptorBuilder はDescriptorBuilderの新しいインスタンスを生成する。
func NewDescriptorBuilder() *DescriptorBuilder {
	return &DescriptorBuilder{}
}

// Build はFileDescriptorを構築する。
// mimeTypeが空の場合は内容から判定する。画像の寸法は復号できた場合のみ設定する。
func (b *DescriptorBuilder) Build(ctx context.Context, data []byte, sourceURL, mimeType, caption string) (model.FileDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return model.FileDescriptor{}, err
	}
	if len(data) == 0 {
		return model.FileDescriptor{}, errors.New("empty media")
	}

	sum := sha256.Sum256(data)
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	// パラメータ（; charset=...）は除く
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}

	desc := model.FileDescriptor{
		Hash:        hex.EncodeToString(sum[:]),
		Size:        int64(len(data)),
		MimeType:    mimeType,
		URL:         sourceURL,
		Description: caption,
	}
	if model.IsImageMime(mimeType) {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			desc.Dimensions = &model.Dimensions{Width: cfg.Width, Height: cfg.Height}
		}
	}
	return desc, nil
}
