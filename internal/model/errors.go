// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, upload, feed, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAccountNotFound  = "ACCOUNT_NOT_FOUND"
	ErrCodeSessionNotFound  = "UPLOAD_SESSION_NOT_FOUND"
	ErrCodeUploadInProgress = "UPLOAD_IN_PROGRESS"
	ErrCodeInvalidMedia     = "INVALID_MEDIA"
	ErrCodeUnknownServer    = "UNKNOWN_SERVER"
	ErrCodeNoServer         = "NO_SERVER_SELECTED"
	ErrCodeMediaTooLarge    = "MEDIA_TOO_LARGE"
)

// NewAccountNotFoundError はアカウント未登録エラーを生成する。
func NewAccountNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  "アカウントが見つかりません。",
		Category: "auth",
		Action:   "X-Account-Pubkeyヘッダーに登録済みの公開鍵を指定してください。",
	}
}

// NewSessionNotFoundError はアップロードセッション未検出エラーを生成する。
func NewSessionNotFoundError(sessionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotFound,
		Message:  fmt.Sprintf("指定されたアップロードセッションが見つかりません: %s", sessionID),
		Category: "upload",
		Action:   "セッションIDを確認してください。完了済みのセッションは一定時間後に削除されます。",
	}
}

// NewUploadInProgressError はアップロード中に新しいセッションを開始しようとした場合のエラーを生成する。
func NewUploadInProgressError() *APIError {
	return &APIError{
		Code:     ErrCodeUploadInProgress,
		Message:  "別のアップロードが進行中です。",
		Category: "upload",
		Action:   "進行中のアップロードが完了するか、キャンセルしてから再度お試しください。",
	}
}

// NewInvalidMediaError は無効なメディア指定エラーを生成する。
func NewInvalidMediaError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidMedia,
		Message:  fmt.Sprintf("メディアを読み込めませんでした: %s", reason),
		Category: "validation",
		Action:   "fileフィールドに画像または動画を指定してください。",
	}
}

// NewUnknownServerError は未登録のホスティングサーバー指定エラーを生成する。
func NewUnknownServerError(serverID string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownServer,
		Message:  fmt.Sprintf("未登録のサーバーです: %s", serverID),
		Category: "validation",
		Action:   "登録済みのサーバーIDを指定してください。",
	}
}

// NewNoServerError はターゲット未選択のまま投稿しようとした場合のエラーを生成する。
func NewNoServerError() *APIError {
	return &APIError{
		Code:     ErrCodeNoServer,
		Message:  "アップロード先のサーバーが選択されていません。",
		Category: "validation",
		Action:   "serverフィールドでサーバーを指定するか、アカウントの既定サーバーを設定してください。",
	}
}

// NewMediaTooLargeError はメディアサイズ上限超過エラーを生成する。
func NewMediaTooLargeError(limit int64) *APIError {
	return &APIError{
		Code:     ErrCodeMediaTooLarge,
		Message:  fmt.Sprintf("メディアのサイズが上限（%dバイト）を超えています。", limit),
		Category: "validation",
		Action:   "サイズの小さいファイルを選択してください。",
	}
}
