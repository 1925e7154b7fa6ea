package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/mediapost/internal/media"
	"github.com/hitoshi/mediapost/internal/middleware"
	"github.com/hitoshi/mediapost/internal/model"
	"github.com/hitoshi/mediapost/internal/publish"
)

// UploadManager はアップロードハンドラーが必要とするセッション管理のインターフェース。
type UploadManager interface {
	Start(req publish.StartRequest) (*publish.SessionStatus, error)
	Status(accountKey, id string) (*publish.SessionStatus, error)
	Cancel(accountKey, id string) error
}

// MediaStager はアップロードされたファイルをステージングするインターフェース。
type MediaStager interface {
	Stage(r io.Reader, name, contentType string) (media.Ref, error)
	Remove(ref media.Ref) error
}

// CaptionSanitizer はキャプションを無害化するインターフェース。
type CaptionSanitizer interface {
	Sanitize(raw string) string
}

// multipartMemory はmultipartフォームのうちメモリに保持する上限バイト数。
const multipartMemory = 32 << 20

// UploadHandler はアップロードセッションのHTTPハンドラー。
type UploadHandler struct {
	manager   UploadManager
	stager    MediaStager
	sanitizer CaptionSanitizer
	maxSize   int64
	logger    *slog.Logger
}

// NewUploadHandler はUploadHandlerを生成する。
func NewUploadHandler(manager UploadManager, stager MediaStager, sanitizer CaptionSanitizer, maxSize int64, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{
		manager:   manager,
		stager:    stager,
		sanitizer: sanitizer,
		maxSize:   maxSize,
		logger:    logger,
	}
}

// uploadResponse はアップロードセッションのAPIレスポンス。
type uploadResponse struct {
	ID        string  `json:"id"`
	State     string  `json:"state"`
	Progress  float64 `json:"progress"`
	Stage     string  `json:"stage"`
	MediaKind string  `json:"media_kind,omitempty"`
	Server    string  `json:"server,omitempty"`
	Caption   string  `json:"caption,omitempty"`
	Uploading bool    `json:"uploading"`
	Completed bool    `json:"completed"`
	LastError string  `json:"last_error,omitempty"`
	UpdatedAt string  `json:"updated_at"`
}

func toUploadResponse(s *publish.SessionStatus) uploadResponse {
	return uploadResponse{
		ID:        s.ID,
		State:     s.Snapshot.State.String(),
		Progress:  s.Snapshot.Progress,
		Stage:     s.Snapshot.Stage,
		MediaKind: string(s.Snapshot.MediaKind),
		Server:    s.Snapshot.TargetID,
		Caption:   s.Snapshot.Caption,
		Uploading: s.Snapshot.Uploading,
		Completed: s.Completed,
		LastError: s.LastError,
		UpdatedAt: s.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// CreateUpload はメディアを受け取り、アップロードセッションを開始する。
// POST /api/uploads
func (h *UploadHandler) CreateUpload(w http.ResponseWriter, r *http.Request) {
	account, err := middleware.AccountFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAccountNotFoundError())
		return
	}

	// 1. multipartフォームを読み込む
	r.Body = http.MaxBytesReader(w, r.Body, h.maxSize+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			middleware.WriteError(w, h.logger, model.NewMediaTooLargeError(h.maxSize))
			return
		}
		middleware.WriteError(w, h.logger, model.NewInvalidMediaError("multipart form is required"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		middleware.WriteError(w, h.logger, model.NewInvalidMediaError("file is required"))
		return
	}
	defer file.Close()

	// 2. ファイルをステージング
	ref, err := h.stager.Stage(file, header.Filename, header.Header.Get("Content-Type"))
	if err != nil {
		switch {
		case errors.Is(err, media.ErrTooLarge):
			middleware.WriteError(w, h.logger, model.NewMediaTooLargeError(h.maxSize))
		case errors.Is(err, media.ErrEmpty):
			middleware.WriteError(w, h.logger, model.NewInvalidMediaError("file is empty"))
		default:
			middleware.WriteError(w, h.logger, err)
		}
		return
	}

	// 3. セッションを開始
	status, err := h.manager.Start(publish.StartRequest{
		Account:     account,
		Ref:         ref,
		ContentType: ref.ContentType,
		Caption:     h.sanitizer.Sanitize(r.FormValue("caption")),
		ServerID:    r.FormValue("server"),
	})
	if err != nil {
		if rmErr := h.stager.Remove(ref); rmErr != nil {
			h.logger.Warn("ステージング済みメディアの削除に失敗しました",
				slog.String("error", rmErr.Error()),
			)
		}
		middleware.WriteError(w, h.logger, err)
		return
	}

	w.Header().Set("Location", "/api/uploads/"+status.ID)
	writeJSON(w, http.StatusAccepted, toUploadResponse(status))
}

// GetUpload はアップロードセッションの状態を返す。
// GET /api/uploads/{id}
func (h *UploadHandler) GetUpload(w http.ResponseWriter, r *http.Request) {
	account, err := middleware.AccountFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAccountNotFoundError())
		return
	}

	status, err := h.manager.Status(account.PubKey, chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toUploadResponse(status))
}

// CancelUpload はアップロードセッションをキャンセルする。
// DELETE /api/uploads/{id}
func (h *UploadHandler) CancelUpload(w http.ResponseWriter, r *http.Request) {
	account, err := middleware.AccountFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAccountNotFoundError())
		return
	}

	if err := h.manager.Cancel(account.PubKey, chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
