package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/pranaynidhi/microhire-backend/cmd/internal/identity"
	"github.com/pranaynidhi/microhire-backend/cmd/internal/messaging"
	"github.com/pranaynidhi/microhire-backend/cmd/internal/notify"
)

// APIHandler serves the synchronous REST surface for messages and
// notifications. Everything here is also reachable over the WebSocket
// gateway; REST exists for history backfill and clients without a live
// connection.
type APIHandler struct {
	log           *slog.Logger
	auth          *identity.Authenticator
	messages      *messaging.Service
	notifications *notify.Service
}

// NewAPIHandler constructs the REST handler.
func NewAPIHandler(log *slog.Logger, auth *identity.Authenticator, messages *messaging.Service, notifications *notify.Service) (*APIHandler, error) {
	if auth == nil {
		return nil, errors.New("app: nil authenticator")
	}
	if messages == nil {
		return nil, errors.New("app: nil message service")
	}
	if notifications == nil {
		return nil, errors.New("app: nil notification service")
	}
	return &APIHandler{log: log, auth: auth, messages: messages, notifications: notifications}, nil
}

// Register mounts every API route on mux.
func (h *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/messages", h.withIdentity(h.sendMessage))
	mux.HandleFunc("GET /api/messages/conversation/{userID}", h.withIdentity(h.pageConversation))
	mux.HandleFunc("PUT /api/messages/conversation/{conversationID}/read", h.withIdentity(h.markConversationRead))
	mux.HandleFunc("PUT /api/messages/{id}", h.withIdentity(h.editMessage))
	mux.HandleFunc("DELETE /api/messages/{id}", h.withIdentity(h.deleteMessage))

	mux.HandleFunc("GET /api/notifications", h.withIdentity(h.listNotifications))
	mux.HandleFunc("GET /api/notifications/unread-count", h.withIdentity(h.notificationUnreadCount))
	mux.HandleFunc("PUT /api/notifications/read-all", h.withIdentity(h.markAllNotificationsRead))
	mux.HandleFunc("PUT /api/notifications/{id}/read", h.withIdentity(h.markNotificationRead))
}

type identityHandler func(w http.ResponseWriter, r *http.Request, who identity.Identity)

func (h *APIHandler) withIdentity(next identityHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerFromHeader(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "auth_required", "missing bearer token")
			return
		}
		who, err := h.auth.Authenticate(r.Context(), token)
		if err != nil {
			h.log.Warn("api.auth.fail", "path", r.URL.Path, "err", err)
			writeError(w, http.StatusUnauthorized, "auth_failed", "invalid or expired token")
			return
		}
		next(w, r, who)
	}
}

func bearerFromHeader(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

type sendMessageRequest struct {
	ReceiverID int64  `json:"receiver_id"`
	Content    string `json:"content"`
	Type       string `json:"type,omitempty"`
	FileURL    string `json:"file_url,omitempty"`
	FileName   string `json:"file_name,omitempty"`
}

func (h *APIHandler) sendMessage(w http.ResponseWriter, r *http.Request, who identity.Identity) {
	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	m, err := h.messages.Append(r.Context(), messaging.AppendInput{
		SenderID:   who.ID,
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
		Type:       messaging.MessageType(req.Type),
		FileURL:    req.FileURL,
		FileName:   req.FileName,
	})
	if err != nil {
		h.writeMessagingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, apiMessage(m))
}

func (h *APIHandler) pageConversation(w http.ResponseWriter, r *http.Request, who identity.Identity) {
	peerID, err := strconv.ParseInt(r.PathValue("userID"), 10, 64)
	if err != nil || peerID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_payload", "malformed user id")
		return
	}

	convID := messaging.ConversationID(who.ID, peerID)
	before := queryInt64Ptr(r, "before")
	limit := queryInt(r, "limit")

	page, err := h.messages.Page(r.Context(), who.ID, convID, before, limit)
	if err != nil {
		h.writeMessagingError(w, r, err)
		return
	}

	out := struct {
		ConversationID string        `json:"conversation_id"`
		Messages       []messageJSON `json:"messages"`
		HasMore        bool          `json:"has_more"`
	}{
		ConversationID: convID,
		Messages:       make([]messageJSON, 0, len(page.Messages)),
		HasMore:        page.HasMore,
	}
	for _, m := range page.Messages {
		out.Messages = append(out.Messages, apiMessage(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *APIHandler) markConversationRead(w http.ResponseWriter, r *http.Request, who identity.Identity) {
	convID := r.PathValue("conversationID")
	n, err := h.messages.MarkRead(r.Context(), convID, who.ID)
	if err != nil {
		h.writeMessagingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"marked_read": n})
}

type editMessageRequest struct {
	Content string `json:"content"`
}

func (h *APIHandler) editMessage(w http.ResponseWriter, r *http.Request, who identity.Identity) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_payload", "malformed message id")
		return
	}
	var req editMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	m, err := h.messages.Edit(r.Context(), id, who.ID, req.Content)
	if err != nil {
		h.writeMessagingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apiMessage(m))
}

func (h *APIHandler) deleteMessage(w http.ResponseWriter, r *http.Request, who identity.Identity) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_payload", "malformed message id")
		return
	}
	if err := h.messages.SoftDelete(r.Context(), id, who.ID); err != nil {
		h.writeMessagingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *APIHandler) listNotifications(w http.ResponseWriter, r *http.Request, who identity.Identity) {
	page, err := h.notifications.Page(r.Context(), notify.PageInput{
		UserID:     who.ID,
		UnreadOnly: r.URL.Query().Get("unread_only") == "true",
		Before:     queryInt64Ptr(r, "before"),
		Limit:      queryInt(r, "limit"),
	})
	if err != nil {
		h.writeNotifyError(w, r, err)
		return
	}

	out := struct {
		Notifications []notificationJSON `json:"notifications"`
		HasMore       bool               `json:"has_more"`
	}{
		Notifications: make([]notificationJSON, 0, len(page.Notifications)),
		HasMore:       page.HasMore,
	}
	for _, n := range page.Notifications {
		out.Notifications = append(out.Notifications, apiNotification(n))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *APIHandler) notificationUnreadCount(w http.ResponseWriter, r *http.Request, who identity.Identity) {
	n, err := h.notifications.UnreadCount(r.Context(), who.ID)
	if err != nil {
		h.writeNotifyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"unread_count": n})
}

func (h *APIHandler) markNotificationRead(w http.ResponseWriter, r *http.Request, who identity.Identity) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_payload", "malformed notification id")
		return
	}
	if err := h.notifications.MarkRead(r.Context(), id, who.ID); err != nil {
		h.writeNotifyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"read": true})
}

func (h *APIHandler) markAllNotificationsRead(w http.ResponseWriter, r *http.Request, who identity.Identity) {
	n, err := h.notifications.MarkAllRead(r.Context(), who.ID)
	if err != nil {
		h.writeNotifyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"marked_read": n})
}

func (h *APIHandler) writeMessagingError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, messaging.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_payload", err.Error())
	case errors.Is(err, messaging.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, messaging.ErrEditWindowClosed):
		writeError(w, http.StatusForbidden, "edit_window_exceeded", err.Error())
	case errors.Is(err, messaging.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "dependency_failure", "operation timed out")
	default:
		h.log.Error("api.messages.fail", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "dependency_failure", "internal error")
	}
}

func (h *APIHandler) writeNotifyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, notify.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_payload", err.Error())
	case errors.Is(err, notify.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "dependency_failure", "operation timed out")
	default:
		h.log.Error("api.notifications.fail", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "dependency_failure", "internal error")
	}
}

type messageJSON struct {
	ID             int64   `json:"id"`
	SenderID       int64   `json:"sender_id"`
	ReceiverID     int64   `json:"receiver_id"`
	Content        string  `json:"content"`
	Type           string  `json:"type"`
	ConversationID string  `json:"conversation_id"`
	FileURL        string  `json:"file_url,omitempty"`
	FileName       string  `json:"file_name,omitempty"`
	IsRead         bool    `json:"is_read"`
	ReadAt         *string `json:"read_at,omitempty"`
	CreatedAt      string  `json:"created_at"`
	EditedAt       *string `json:"edited_at,omitempty"`
}

func apiMessage(m messaging.Message) messageJSON {
	out := messageJSON{
		ID:             m.ID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Content:        m.Content,
		Type:           string(m.Type),
		ConversationID: m.ConversationID,
		FileURL:        m.FileURL,
		FileName:       m.FileName,
		IsRead:         m.IsRead,
		CreatedAt:      m.CreatedAt.Format(timeLayout),
	}
	if m.ReadAt != nil {
		s := m.ReadAt.Format(timeLayout)
		out.ReadAt = &s
	}
	if m.EditedAt != nil {
		s := m.EditedAt.Format(timeLayout)
		out.EditedAt = &s
	}
	return out
}

type notificationJSON struct {
	ID        int64          `json:"id"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Type      string         `json:"type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Priority  string         `json:"priority"`
	IsRead    bool           `json:"is_read"`
	CreatedAt string         `json:"created_at"`
	ExpiresAt *string        `json:"expires_at,omitempty"`
}

func apiNotification(n notify.Notification) notificationJSON {
	out := notificationJSON{
		ID:        n.ID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      string(n.Type),
		Metadata:  n.Metadata,
		Priority:  string(n.Priority),
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt.Format(timeLayout),
	}
	if n.ExpiresAt != nil {
		s := n.ExpiresAt.Format(timeLayout)
		out.ExpiresAt = &s
	}
	return out
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "malformed JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: msg}})
}

func queryInt64Ptr(r *http.Request, key string) *int64 {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return nil
	}
	return &n
}

func queryInt(r *http.Request, key string) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
