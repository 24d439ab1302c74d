package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"

	v1 "github.com/pranaynidhi/microhire-backend/contracts/realtime/v1"
	"github.com/pranaynidhi/microhire-backend/cmd/internal/identity"
	"github.com/pranaynidhi/microhire-backend/cmd/internal/messaging"
)

const gwTestSecret = "ws-gateway-test-secret-0123456789"

type gatewayFixture struct {
	gw *Gateway
	ts *httptest.Server
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	// Dialed connections carry no Origin header.
	t.Setenv("MICROHIRE_WS_ORIGIN_REQUIRED", "false")

	log := testLogger()

	dir := identity.NewMemoryDirectory()
	dir.Put(identity.Identity{ID: 7, Name: "Alice", Role: "student"}, true)
	dir.Put(identity.Identity{ID: 42, Name: "Bob", Role: "employer"}, true)

	verifier, err := identity.NewJWTVerifier([]byte(gwTestSecret))
	if err != nil {
		t.Fatalf("NewJWTVerifier: %v", err)
	}
	auth, err := identity.NewAuthenticator(verifier, dir)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}

	reg := NewRegistry(log)
	router := NewRouter(log, reg, nil)
	presence := NewPresence(log, router)

	messages, err := messaging.NewService(log, messaging.NewMemoryStore(), dir, router)
	if err != nil {
		t.Fatalf("messaging.NewService: %v", err)
	}

	gw := NewGateway(log, reg, router, presence, auth, messages, nil)

	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return &gatewayFixture{gw: gw, ts: ts}
}

func mintGatewayToken(t *testing.T, userID int64) string {
	t.Helper()

	claims := jwt.MapClaims{
		"user_id": userID,
		"iat":     time.Now().Unix(),
		"exp":     time.Now().Add(time.Hour).Unix(),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(gwTestSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func dialGateway(t *testing.T, baseHTTPURL, token string) *websocket.Conn {
	t.Helper()

	u, err := url.Parse(baseHTTPURL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"
	if strings.TrimSpace(token) != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocolV1},
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") })
	return conn
}

func writeClientEnvelope(t *testing.T, conn *websocket.Conn, typ, id string, payload any) {
	t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	env := v1.Envelope{V: v1.Version, Type: typ, ID: id, TS: time.Now().UTC(), Payload: body}
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("conn.Write: %v", err)
	}
}

func readNextEnvelope(t *testing.T, conn *websocket.Conn) v1.Envelope {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, b, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("conn.Read: %v", err)
	}
	var env v1.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

func readUntilEnvelope(t *testing.T, conn *websocket.Conn, typ string, maxReads int) v1.Envelope {
	t.Helper()

	for i := 0; i < maxReads; i++ {
		env := readNextEnvelope(t, conn)
		if env.Type == typ {
			return env
		}
	}
	t.Fatalf("did not receive envelope type %q within %d reads", typ, maxReads)
	return v1.Envelope{}
}

func TestGatewayRejectsInvalidToken(t *testing.T) {
	f := newGatewayFixture(t)

	conn := dialGateway(t, f.ts.URL, "not-a-valid-token")

	// The rejection is exactly one auth-failure envelope, then a policy close.
	env := readNextEnvelope(t, conn)
	if env.Type != v1.TypeError {
		t.Fatalf("first envelope type = %q, want %q", env.Type, v1.TypeError)
	}
	var p v1.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if p.Code != "auth_failed" {
		t.Fatalf("error code = %q, want auth_failed", p.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Fatalf("read after rejection = %v, want close %v", err, websocket.StatusPolicyViolation)
	}

	if f.gw.Registry().Len() != 0 {
		t.Fatal("rejected connection must not be registered")
	}
}

func TestGatewayReadyAfterAuth(t *testing.T) {
	f := newGatewayFixture(t)

	conn := dialGateway(t, f.ts.URL, mintGatewayToken(t, 7))
	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		t.Fatalf("subprotocol = %q, want %q", sp, wsSubprotocolV1)
	}

	// No event precedes the post-auth ack.
	env := readNextEnvelope(t, conn)
	if env.Type != v1.TypeReady {
		t.Fatalf("first envelope type = %q, want %q", env.Type, v1.TypeReady)
	}
	var p v1.ReadyPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("decode ready payload: %v", err)
	}
	if p.UserID != 7 || strings.TrimSpace(p.ConnectionID) == "" {
		t.Fatalf("ready payload = %+v", p)
	}

	// The private room is joined without any client request.
	if n := f.gw.Router().SendToUser(7, v1.TypeNotificationNew, struct{}{}); n != 1 {
		t.Fatalf("SendToUser after connect delivered to %d connections, want 1", n)
	}
	got := readUntilEnvelope(t, conn, v1.TypeNotificationNew, 3)
	if got.Type != v1.TypeNotificationNew {
		t.Fatalf("private-room delivery type = %q", got.Type)
	}

	if !f.gw.Registry().Online(7) {
		t.Fatal("authenticated user should be online")
	}
}

func TestGatewayErrorReplyKeepsTransportAlive(t *testing.T) {
	f := newGatewayFixture(t)

	conn := dialGateway(t, f.ts.URL, mintGatewayToken(t, 7))
	readUntilEnvelope(t, conn, v1.TypeReady, 2)

	// A sender cannot message themself; the failure is replied, not fatal.
	writeClientEnvelope(t, conn, v1.TypeMessageSend, "send-1", v1.MessageSendPayload{
		ReceiverID: 7,
		Content:    "talking to myself",
	})
	env := readUntilEnvelope(t, conn, v1.TypeError, 3)
	var p v1.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if p.Code != "invalid_payload" {
		t.Fatalf("error code = %q, want invalid_payload", p.Code)
	}

	// Same transport, next event still processed.
	writeClientEnvelope(t, conn, v1.TypeConversationJoin, "join-1", v1.ConversationJoinPayload{
		ConversationID: "conv_7_42",
	})
	waitForCondition(t, func() bool {
		return len(f.gw.Registry().Members(ConversationRoom("conv_7_42"))) == 1
	}, "conversation join after error reply")

	if n := f.gw.Router().SendToConversation("conv_7_42", v1.TypeUserTyping, v1.UserTypingPayload{UserID: 42, UserName: "Bob"}); n != 1 {
		t.Fatalf("conversation delivery after error reply reached %d connections, want 1", n)
	}
	readUntilEnvelope(t, conn, v1.TypeUserTyping, 3)
}

func TestGatewayDisconnectCleanup(t *testing.T) {
	f := newGatewayFixture(t)

	conn := dialGateway(t, f.ts.URL, mintGatewayToken(t, 7))
	readUntilEnvelope(t, conn, v1.TypeReady, 2)

	writeClientEnvelope(t, conn, v1.TypeConversationJoin, "join-1", v1.ConversationJoinPayload{
		ConversationID: "conv_7_42",
	})
	waitForCondition(t, func() bool {
		return len(f.gw.Registry().Members(ConversationRoom("conv_7_42"))) == 1
	}, "conversation join")

	_ = conn.Close(websocket.StatusNormalClosure, "bye")

	// Disconnect clears the registry, every room, and the presence refcount.
	waitForCondition(t, func() bool {
		reg := f.gw.Registry()
		return reg.Len() == 0 &&
			reg.Members(ConversationRoom("conv_7_42")) == nil &&
			reg.Members(PrivateRoom(7)) == nil &&
			!reg.Online(7)
	}, "registry cleanup after disconnect")
}

func TestGatewayOpContextSurvivesCancel(t *testing.T) {
	f := newGatewayFixture(t)

	parent, cancel := context.WithCancel(context.Background())
	cancel()

	// Persistence work started by a now-dead connection still runs to its own
	// deadline instead of inheriting the cancellation.
	opCtx, opCancel := f.gw.opContext(parent)
	defer opCancel()

	if err := opCtx.Err(); err != nil {
		t.Fatalf("op context inherited cancellation: %v", err)
	}
	if _, ok := opCtx.Deadline(); !ok {
		t.Fatal("op context must carry its own deadline")
	}
}

func waitForCondition(t *testing.T, cond func() bool, what string) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
