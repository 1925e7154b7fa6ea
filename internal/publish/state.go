// Package publish はローカルで選択されたメディアを公開レコードとして発行するパイプラインを提供する。
// アップロード、リモート処理待ち、ダウンロード検証、ハッシュ計算、署名、送信の各段階を
// 1つのセッションごとに順序どおりに進める。
package publish

import "github.com/hitoshi/mediapost/internal/model"

// State はパイプラインの段階を表す。
type State int

const (
	StateIdle State = iota
	StateUploading
	StateRemoteProcessing
	StateDownloading
	StateHashing
	StateSigning
	StateSending
	StateDone
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:             "idle",
	StateUploading:        "uploading",
	StateRemoteProcessing: "remote_processing",
	StateDownloading:      "downloading",
	StateHashing:          "hashing",
	StateSigning:          "signing",
	StateSending:          "sending",
	StateDone:             "done",
	StateFailed:           "failed",
}

// String は状態名を返す。
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal は終端状態（DoneまたはFailed）かを返す。
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// 段階ラベル
const (
	LabelLoading     = "Loading"
	LabelUploading   = "Uploading"
	LabelProcessing  = "Server Processing"
	LabelDownloading = "Downloading"
	LabelHashing     = "Hashing"
	LabelSigning     = "Signing"
	LabelSending     = "Sending"
)

// 進捗値。external-link方式とcontent-addressed方式で基準が異なる。
const (
	progressStart = 0.1

	progressLinkProcessing  = 0.4
	progressLinkDownloading = 0.6
	progressLinkHashing     = 0.8
	progressLinkSending     = 0.9

	progressAddressedHashing = 0.2
	progressAddressedSigning = 0.3
	progressAddressedSending = 0.6

	progressDone = 1.0
)

// UploadFailedMessage はすべての失敗経路で通知される利用者向けメッセージ。
const UploadFailedMessage = "画像・動画のアップロードに失敗しました"

// graceUnits はリモート処理待ちの単位数を返す。
// 画像は2単位、それ以外（動画など）は15単位待つ。
func graceUnits(mimeType string) int {
	if model.IsImageMime(mimeType) {
		return 2
	}
	return 15
}

// Snapshot はセッションの観測用スナップショット。
type Snapshot struct {
	State     State
	Progress  float64
	Stage     string // 現在の段階ラベル。Idleでは空
	MediaKind model.MediaKind
	TargetID  string
	Caption   string
	Uploading bool
}
