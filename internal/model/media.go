// Package model はドメインモデルを定義する。
package model

import "strings"

// MediaKind は選択されたメディアの種類を表す。
type MediaKind string

const (
	// MediaKindNone はメディア未選択。
	MediaKindNone MediaKind = ""
	// MediaKindImage は画像。
	MediaKindImage MediaKind = "image"
	// MediaKindVideo は動画。
	MediaKindVideo MediaKind = "video"
	// MediaKindOther はその他のメディア。
	MediaKindOther MediaKind = "other"
)

// MediaKindFromContentType はContent-Type文字列からメディア種別を判定する。
func MediaKindFromContentType(contentType string) MediaKind {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case ct == "":
		return MediaKindNone
	case strings.HasPrefix(ct, "image"):
		return MediaKindImage
	case strings.HasPrefix(ct, "video"):
		return MediaKindVideo
	default:
		return MediaKindOther
	}
}

// IsImageMime はMIMEタイプが画像（image/）かを返す。
func IsImageMime(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(mimeType), "image/")
}

// Protocol はレコードの公開方式を表す。
type Protocol string

const (
	// ProtocolExternalLink はメディアを外部サーバーに置き、レコードがURLで参照する方式。
	ProtocolExternalLink Protocol = "external_link"
	// ProtocolContentAddressed はレコード自体がバイト列とそのハッシュを持つ方式。
	ProtocolContentAddressed Protocol = "content_addressed"
)

// Transport はexternal-link方式のアップロード手段を表す。
type Transport string

const (
	// TransportNone はアップロードを行わない（content-addressed方式）。
	TransportNone Transport = ""
	// TransportHTTP はmultipart/form-dataによるHTTPアップロード。
	TransportHTTP Transport = "http"
	// TransportS3 はS3互換ストレージへの署名付きPUT。
	TransportS3 Transport = "s3"
)

// ServerTarget はホスティング先と公開方式の組を表す。
type ServerTarget struct {
	ID        string
	Name      string
	Protocol  Protocol
	Transport Transport
	UploadURL string
	// FormField はmultipartでファイルを送るフィールド名。空の場合は"file"。
	FormField string
	// URLField はアップロードレスポンスJSON内のURLを指すドット区切りのパス。
	URLField string
	// MimeField はアップロードレスポンスJSON内のMIMEタイプを指すパス。任意。
	MimeField string
	// Counterpart は同一サーバーのcontent-addressed版ターゲットのID。
	// 設定されている場合、このターゲットは両方式に対応する。
	Counterpart string
}

// IsZero はターゲットが未選択かを返す。
func (t ServerTarget) IsZero() bool {
	return t.ID == ""
}

// SupportsBoth はターゲットが両方式に対応するかを返す。
func (t ServerTarget) SupportsBoth() bool {
	return t.Protocol == ProtocolExternalLink && t.Counterpart != ""
}

// Dimensions はメディアのピクセル寸法。
type Dimensions struct {
	Width  int
	Height int
}

// FileDescriptor はメディアのバイト列から導出されたメタデータ。
// 生成後は不変で、値渡しでレコード生成に使用される。
type FileDescriptor struct {
	Hash        string // SHA-256 の16進表現
	Size        int64
	MimeType    string
	Dimensions  *Dimensions
	URL         string // external-link方式の参照URL。content-addressed方式では空
	Description string
}
