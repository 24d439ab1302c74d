package app

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pranaynidhi/microhire-backend/cmd/internal/identity"
	"github.com/pranaynidhi/microhire-backend/cmd/internal/messaging"
	"github.com/pranaynidhi/microhire-backend/cmd/internal/notify"
	"github.com/pranaynidhi/microhire-backend/cmd/internal/realtime"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func signTestToken(t *testing.T, userID int64) string {
	t.Helper()

	claims := jwt.MapClaims{
		"user_id": userID,
		"iat":     time.Now().Unix(),
		"exp":     time.Now().Add(time.Hour).Unix(),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func newTestAPI(t *testing.T) (*httptest.Server, *notify.Service) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	dir := identity.NewMemoryDirectory()
	dir.Put(identity.Identity{ID: 7, Name: "Alice", Role: "student"}, true)
	dir.Put(identity.Identity{ID: 42, Name: "Bob", Role: "employer"}, true)

	verifier, err := identity.NewJWTVerifier([]byte(testSecret))
	if err != nil {
		t.Fatalf("NewJWTVerifier: %v", err)
	}
	auth, err := identity.NewAuthenticator(verifier, dir)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}

	reg := realtime.NewRegistry(log)
	router := realtime.NewRouter(log, reg, nil)

	messages, err := messaging.NewService(log, messaging.NewMemoryStore(), dir, router)
	if err != nil {
		t.Fatalf("messaging.NewService: %v", err)
	}
	notifications, err := notify.NewService(log, notify.NewMemoryStore(), router)
	if err != nil {
		t.Fatalf("notify.NewService: %v", err)
	}

	api, err := NewAPIHandler(log, auth, messages, notifications)
	if err != nil {
		t.Fatalf("NewAPIHandler: %v", err)
	}

	mux := http.NewServeMux()
	api.Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, notifications
}

func doJSON(t *testing.T, method, url, token, body string) (*http.Response, []byte) {
	t.Helper()

	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, raw
}

func TestAPIRequiresAuth(t *testing.T) {
	t.Parallel()

	srv, _ := newTestAPI(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/notifications", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status %d, want 401", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/notifications", "not-a-jwt", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token: status %d, want 401", resp.StatusCode)
	}
}

func TestAPISendAndPageMessages(t *testing.T) {
	t.Parallel()

	srv, _ := newTestAPI(t)
	alice := signTestToken(t, 7)
	bob := signTestToken(t, 42)

	resp, raw := doJSON(t, http.MethodPost, srv.URL+"/api/messages", alice,
		`{"receiver_id": 42, "content": "hi bob"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send: status %d, body %s", resp.StatusCode, raw)
	}

	var sent struct {
		ID             int64  `json:"id"`
		ConversationID string `json:"conversation_id"`
		Content        string `json:"content"`
	}
	if err := json.Unmarshal(raw, &sent); err != nil {
		t.Fatalf("decode send response: %v", err)
	}
	if sent.ConversationID != "conv_7_42" || sent.Content != "hi bob" {
		t.Fatalf("send response = %+v", sent)
	}

	// Bob pages the conversation by peer user id.
	resp, raw = doJSON(t, http.MethodGet, srv.URL+"/api/messages/conversation/7", bob, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("page: status %d, body %s", resp.StatusCode, raw)
	}
	var page struct {
		ConversationID string            `json:"conversation_id"`
		Messages       []json.RawMessage `json:"messages"`
		HasMore        bool              `json:"has_more"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.ConversationID != "conv_7_42" || len(page.Messages) != 1 || page.HasMore {
		t.Fatalf("page = %+v", page)
	}

	// Bob marks it read.
	resp, raw = doJSON(t, http.MethodPut, srv.URL+"/api/messages/conversation/conv_7_42/read", bob, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mark read: status %d, body %s", resp.StatusCode, raw)
	}
	var marked map[string]int64
	if err := json.Unmarshal(raw, &marked); err != nil {
		t.Fatalf("decode mark read: %v", err)
	}
	if marked["marked_read"] != 1 {
		t.Fatalf("marked_read = %d, want 1", marked["marked_read"])
	}
}

func TestAPIMessageValidationAndOwnership(t *testing.T) {
	t.Parallel()

	srv, _ := newTestAPI(t)
	alice := signTestToken(t, 7)
	bob := signTestToken(t, 42)

	// Self-message rejected.
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/messages", alice,
		`{"receiver_id": 7, "content": "note to self"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("self message: status %d, want 400", resp.StatusCode)
	}

	resp, raw := doJSON(t, http.MethodPost, srv.URL+"/api/messages", alice,
		`{"receiver_id": 42, "content": "original"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send: status %d", resp.StatusCode)
	}
	var sent struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(raw, &sent); err != nil {
		t.Fatalf("decode: %v", err)
	}

	msgURL := srv.URL + "/api/messages/" + strconv.FormatInt(sent.ID, 10)

	// Receiver may not edit.
	resp, _ = doJSON(t, http.MethodPut, msgURL, bob, `{"content": "hijack"}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("edit by receiver: status %d, want 403", resp.StatusCode)
	}

	// Sender edits inside the window.
	resp, _ = doJSON(t, http.MethodPut, msgURL, alice, `{"content": "fixed"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("edit by sender: status %d, want 200", resp.StatusCode)
	}

	// Deleting a missing message is 404.
	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/messages/9999", alice, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("delete missing: status %d, want 404", resp.StatusCode)
	}
}

func TestAPINotifications(t *testing.T) {
	t.Parallel()

	srv, notifications := newTestAPI(t)
	alice := signTestToken(t, 7)

	// Zero state.
	resp, raw := doJSON(t, http.MethodGet, srv.URL+"/api/notifications/unread-count", alice, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unread count: status %d", resp.StatusCode)
	}
	var count map[string]int64
	if err := json.Unmarshal(raw, &count); err != nil {
		t.Fatalf("decode count: %v", err)
	}
	if count["unread_count"] != 0 {
		t.Fatalf("initial unread = %d, want 0", count["unread_count"])
	}

	// Mark-all with nothing unread is a successful no-op.
	resp, raw = doJSON(t, http.MethodPut, srv.URL+"/api/notifications/read-all", alice, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("read-all empty: status %d", resp.StatusCode)
	}

	// Seed through the service, read back through the API.
	n, err := notifications.ApplicationReceived(t.Context(), 7, "Bob", "Backend Intern", 12)
	if err != nil {
		t.Fatalf("seed notification: %v", err)
	}

	resp, raw = doJSON(t, http.MethodGet, srv.URL+"/api/notifications", alice, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: status %d", resp.StatusCode)
	}
	var list struct {
		Notifications []struct {
			ID     int64  `json:"id"`
			Type   string `json:"type"`
			IsRead bool   `json:"is_read"`
		} `json:"notifications"`
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Notifications) != 1 || list.Notifications[0].ID != n.ID || list.Notifications[0].IsRead {
		t.Fatalf("list = %+v", list)
	}

	readURL := srv.URL + "/api/notifications/" + strconv.FormatInt(n.ID, 10) + "/read"
	resp, _ = doJSON(t, http.MethodPut, readURL, alice, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mark read: status %d", resp.StatusCode)
	}

	// Another user's token cannot touch Alice's notification.
	bob := signTestToken(t, 42)
	resp, _ = doJSON(t, http.MethodPut, readURL, bob, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-user mark read: status %d, want 404", resp.StatusCode)
	}
}
