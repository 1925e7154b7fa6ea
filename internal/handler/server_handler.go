package handler

import (
	"net/http"

	"github.com/hitoshi/mediapost/internal/model"
)

// ServerLister は登録済みホスティング先の一覧を返すインターフェース。
type ServerLister interface {
	List() []model.ServerTarget
}

type serverResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Protocol    string `json:"protocol"`
	Counterpart string `json:"counterpart,omitempty"`
}

// ServerHandler はホスティング先一覧のHTTPハンドラー。
type ServerHandler struct {
	servers ServerLister
}

// NewServerHandler はServerHandlerを生成する。
func NewServerHandler(servers ServerLister) *ServerHandler {
	return &ServerHandler{servers: servers}
}

// ListServers はホスティング先の一覧を返す。
// GET /api/servers
func (h *ServerHandler) ListServers(w http.ResponseWriter, r *http.Request) {
	targets := h.servers.List()
	resp := make([]serverResponse, 0, len(targets))
	for _, t := range targets {
		resp = append(resp, serverResponse{
			ID:          t.ID,
			Name:        t.Name,
			Protocol:    string(t.Protocol),
			Counterpart: t.Counterpart,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": resp})
}
