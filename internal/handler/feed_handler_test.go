package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/mediapost/internal/model"
)

// mockConversationService はConversationServiceのモック実装。
type mockConversationService struct {
	notes []model.Note
	err   error

	gotViewer string
	gotList   string
	gotLimit  int
}

func (m *mockConversationService) Conversations(ctx context.Context, viewer, activeList string, limit int) ([]model.Note, error) {
	m.gotViewer, m.gotList, m.gotLimit = viewer, activeList, limit
	return m.notes, m.err
}

func TestListConversations_ReturnsNotes(t *testing.T) {
	svc := &mockConversationService{
		notes: []model.Note{
			{
				ID:        "n1",
				Author:    "alice",
				Kind:      model.KindTextNote,
				CreatedAt: time.Unix(1700000000, 0),
				Tags:      []model.Tag{{"t", "golang"}},
				Content:   "hello",
			},
		},
	}
	h := NewFeedHandler(svc, 50, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/feeds/conversations?list=3:abc123:&limit=10", nil)
	w := httptest.NewRecorder()
	h.ListConversations(w, withAccount(req))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if svc.gotViewer != "abc123" || svc.gotList != "3:abc123:" || svc.gotLimit != 10 {
		t.Errorf("called with viewer=%q list=%q limit=%d", svc.gotViewer, svc.gotList, svc.gotLimit)
	}

	var resp conversationsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Notes) != 1 {
		t.Fatalf("notes = %d, want 1", len(resp.Notes))
	}
	n := resp.Notes[0]
	if n.ID != "n1" || n.Author != "alice" || n.Kind != 1 || n.CreatedAt != 1700000000 {
		t.Errorf("note = %+v", n)
	}
	if len(n.Tags) != 1 || n.Tags[0][1] != "golang" {
		t.Errorf("tags = %v", n.Tags)
	}
}

func TestListConversations_Defaults(t *testing.T) {
	svc := &mockConversationService{}
	h := NewFeedHandler(svc, 50, testLogger())

	w := httptest.NewRecorder()
	h.ListConversations(w, withAccount(httptest.NewRequest(http.MethodGet, "/api/feeds/conversations", nil)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if svc.gotList != model.GlobalList {
		t.Errorf("list = %q, want global list", svc.gotList)
	}
	if svc.gotLimit != 50 {
		t.Errorf("limit = %d, want 50", svc.gotLimit)
	}

	var resp conversationsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Notes == nil {
		t.Error("notes should be an empty array, not null")
	}
}

func TestListConversations_LimitIsCapped(t *testing.T) {
	svc := &mockConversationService{}
	h := NewFeedHandler(svc, 50, testLogger())

	w := httptest.NewRecorder()
	h.ListConversations(w, withAccount(httptest.NewRequest(http.MethodGet, "/api/feeds/conversations?limit=100000", nil)))

	if svc.gotLimit != maxFeedLimit {
		t.Errorf("limit = %d, want %d", svc.gotLimit, maxFeedLimit)
	}
}

func TestListConversations_InvalidLimit(t *testing.T) {
	for _, v := range []string{"0", "-1", "abc"} {
		t.Run(v, func(t *testing.T) {
			h := NewFeedHandler(&mockConversationService{}, 50, testLogger())
			w := httptest.NewRecorder()
			h.ListConversations(w, withAccount(httptest.NewRequest(http.MethodGet, "/api/feeds/conversations?limit="+v, nil)))

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestListConversations_ServiceError(t *testing.T) {
	h := NewFeedHandler(&mockConversationService{err: errors.New("db down")}, 50, testLogger())

	w := httptest.NewRecorder()
	h.ListConversations(w, withAccount(httptest.NewRequest(http.MethodGet, "/api/feeds/conversations", nil)))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}
