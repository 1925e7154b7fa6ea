package hosting

import (
	"context"
	"fmt"

	"github.com/hitoshi/mediapost/internal/media"
	"github.com/hitoshi/mediapost/internal/model"
	"github.com/hitoshi/mediapost/internal/publish"
)

// Dispatcher はターゲットの送信手段に応じてアップロード処理を振り分ける。
type Dispatcher struct {
	uploaders map[model.Transport]publish.Uploader
}

// NewDispatcher はDispatcherの新しいインスタンスを生成する。
// s3がnilの場合、S3ターゲットへのアップロードはエラーになる。
func NewDispatcher(httpUploader, s3 publish.Uploader) *Dispatcher {
	d := &Dispatcher{uploaders: make(map[model.Transport]publish.Uploader)}
	if httpUploader != nil {
		d.uploaders[model.TransportHTTP] = httpUploader
	}
	if s3 != nil {
		d.uploaders[model.TransportS3] = s3
	}
	return d
}

// Upload はターゲットに対応するアップローダーでメディアを送信する。
func (d *Dispatcher) Upload(ctx context.Context, ref media.Ref, target model.ServerTarget) (publish.UploadResult, error) {
	if target.Protocol != model.ProtocolExternalLink {
		return publish.UploadResult{}, fmt.Errorf("target %s does not accept uploads", target.ID)
	}
	u, ok := d.uploaders[target.Transport]
	if !ok {
		return publish.UploadResult{}, fmt.Errorf("no uploader for transport %q", target.Transport)
	}
	return u.Upload(ctx, ref, target)
}
