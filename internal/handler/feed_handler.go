package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/mediapost/internal/middleware"
	"github.com/hitoshi/mediapost/internal/model"
)

// ConversationService はフィードハンドラーが必要とするサービスインターフェース。
type ConversationService interface {
	Conversations(ctx context.Context, viewer, activeList string, limit int) ([]model.Note, error)
}

// maxFeedLimit はlimitパラメータの上限。
const maxFeedLimit = 500

// FeedHandler は会話フィードのHTTPハンドラー。
type FeedHandler struct {
	service      ConversationService
	defaultLimit int
	logger       *slog.Logger
}

// NewFeedHandler はFeedHandlerを生成する。
func NewFeedHandler(service ConversationService, defaultLimit int, logger *slog.Logger) *FeedHandler {
	if defaultLimit <= 0 {
		defaultLimit = 100
	}
	return &FeedHandler{
		service:      service,
		defaultLimit: defaultLimit,
		logger:       logger,
	}
}

// noteResponse はノートのAPIレスポンス。
type noteResponse struct {
	ID        string     `json:"id"`
	Author    string     `json:"pubkey"`
	Kind      int        `json:"kind"`
	CreatedAt int64      `json:"created_at"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
}

// conversationsResponse は会話フィードのAPIレスポンス。
type conversationsResponse struct {
	List  string         `json:"list"`
	Notes []noteResponse `json:"notes"`
}

func toNoteResponse(n model.Note) noteResponse {
	tags := make([][]string, 0, len(n.Tags))
	for _, t := range n.Tags {
		tags = append(tags, []string(t))
	}
	return noteResponse{
		ID:        n.ID,
		Author:    n.Author,
		Kind:      int(n.Kind),
		CreatedAt: n.CreatedAt.Unix(),
		Tags:      tags,
		Content:   n.Content,
	}
}

// ListConversations は閲覧者の会話フィードを返す。
// GET /api/feeds/conversations?list=...&limit=...
func (h *FeedHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	account, err := middleware.AccountFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAccountNotFoundError())
		return
	}

	// 1. パラメータの解析。listが未指定の場合はグローバルリスト
	list := r.URL.Query().Get("list")
	if list == "" {
		list = model.GlobalList
	}

	limit := h.defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
				Code:     "INVALID_LIMIT",
				Message:  "limitは正の整数で指定してください。",
				Category: "validation",
				Action:   "limitの値を確認してください。",
			})
			return
		}
		limit = min(n, maxFeedLimit)
	}

	// 2. フィードを取得
	start := time.Now()
	notes, err := h.service.Conversations(r.Context(), account.PubKey, list, limit)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	h.logger.Debug("会話フィードを返却しました",
		slog.String("account", account.PubKey),
		slog.Int("count", len(notes)),
		slog.Duration("elapsed", time.Since(start)),
	)

	resp := conversationsResponse{List: list, Notes: make([]noteResponse, 0, len(notes))}
	for _, n := range notes {
		resp.Notes = append(resp.Notes, toNoteResponse(n))
	}
	writeJSON(w, http.StatusOK, resp)
}
