// Package main provides a CI-friendly WebSocket smoke test for MicroHire realtime.
//
// It validates:
//   - handshake + subprotocol selection + JWT auth
//   - ready envelope on connect
//   - message_send -> message_new fanout to the receiver
//   - mark_read -> message_read receipt back to the sender
//   - typing relay excludes the typist's own connection
//
// It needs a running server in dev mode with the default seeded users
// (MICROHIRE_DEV_USERS), and the same secret in -secret / MICROHIRE_JWT_SECRET.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"

	v1 "github.com/pranaynidhi/microhire-backend/contracts/realtime/v1"
)

const (
	defaultSubprotocol = "microhire.realtime.v1"
	maxReadBytes       = 1 << 20 // 1MiB
)

type smokeClient struct {
	name   string
	userID int64
	conn   *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		secret  = flag.String("secret", os.Getenv("MICROHIRE_JWT_SECRET"), "HS256 signing secret (must match the server)")
		aUser   = flag.Int64("a-user", 7, "User id for client A (must exist in the directory)")
		bUser   = flag.Int64("b-user", 42, "User id for client B (must exist in the directory)")
		text    = flag.String("text", "hello microhire 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if strings.TrimSpace(*secret) == "" {
		fatalf("missing -secret (or MICROHIRE_JWT_SECRET)")
	}

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *origin, mustToken(*secret, *aUser), *aUser, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *wsURL, *origin, mustToken(*secret, *bUser), *bUser, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=user_%d B=user_%d origin=%q\n", a.userID, b.userID, *origin)
	}

	convID := conversationID(*aUser, *bUser)
	mustJoin(root, a, convID, *timeout)
	mustJoin(root, b, convID, *timeout)

	// A -> B direct message; B gets it on the private room, and again on the
	// conversation room since B joined it.
	msg := mustSendAndAssertNew(root, a, b, *bUser, convID, *text, *timeout)
	_ = drainType(root, b, v1.TypeMessageNew, 750*time.Millisecond)

	// B marks the conversation read; A gets the receipt.
	mustMarkReadAndAssertReceipt(root, b, a, convID, *bUser, *timeout)

	// B types; A sees it, B's own connection does not.
	mustTypingRelay(root, b, a, convID, *bUser, *timeout)

	fmt.Printf("OK: A=user_%d B=user_%d conv_id=%s message_id=%d\n", a.userID, b.userID, convID, msg.ID)
}

func conversationID(a, b int64) string {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	return fmt.Sprintf("conv_%d_%d", lo, hi)
}

func mustToken(secret string, userID int64) string {
	claims := jwt.MapClaims{
		"user_id": userID,
		"iat":     time.Now().Unix(),
		"exp":     time.Now().Add(10 * time.Minute).Unix(),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		fatalf("sign token: %v", err)
	}
	return s
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin, token string, userID int64, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	h.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, defaultSubprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:   name,
		userID: userID,
		conn:   conn,
		inbox:  make(chan v1.Envelope, 512),
		errCh:  make(chan error, 1),
	}
	c.startReadLoop()

	ready := c.mustReadUntilType(parent, v1.TypeReady, stepTimeout, statusChangeSkips())

	var p v1.ReadyPayload
	if err := json.Unmarshal(ready.Payload, &p); err != nil {
		fatalf("unmarshal ready payload (%s): %v", name, err)
	}
	if p.UserID != userID {
		fatalf("ready user_id mismatch (%s): got=%d want=%d", name, p.UserID, userID)
	}
	if strings.TrimSpace(p.ConnectionID) == "" {
		fatalf("ready missing connection_id (%s)", name)
	}

	return c
}

// statusChangeSkips ignores presence broadcasts that race the ready envelope.
func statusChangeSkips() map[string]struct{} {
	return map[string]struct{}{
		v1.TypeUserStatusChange: {},
		v1.TypeNotificationNew:  {},
	}
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustJoin(parent context.Context, c *smokeClient, convID string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeConversationJoin,
		ID:   fmt.Sprintf("%s-join", c.name),
		TS:   time.Now().UTC(),
		Payload: mustJSON(v1.ConversationJoinPayload{
			ConversationID: convID,
		}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)
}

func mustSendAndAssertNew(parent context.Context, sender, receiver *smokeClient, receiverID int64, convID, text string, stepTimeout time.Duration) v1.MessagePayload {
	env := v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeMessageSend,
		ID:   fmt.Sprintf("%s-send", sender.name),
		TS:   time.Now().UTC(),
		Payload: mustJSON(v1.MessageSendPayload{
			ReceiverID: receiverID,
			Content:    text,
		}),
	}
	mustWriteWithTimeout(parent, sender.conn, env, stepTimeout)

	got := receiver.mustReadUntilType(parent, v1.TypeMessageNew, stepTimeout, statusChangeSkips())

	var p v1.MessageNewPayload
	if err := json.Unmarshal(got.Payload, &p); err != nil {
		fatalf("unmarshal message_new payload (%s): %v", receiver.name, err)
	}
	if p.ConversationID != convID {
		fatalf("message_new conv_id mismatch (%s): got=%q want=%q", receiver.name, p.ConversationID, convID)
	}
	if p.Message.SenderID != sender.userID {
		fatalf("message_new sender mismatch (%s): got=%d want=%d", receiver.name, p.Message.SenderID, sender.userID)
	}
	if p.Message.Content != text {
		fatalf("message_new content mismatch (%s): got=%q want=%q", receiver.name, p.Message.Content, text)
	}
	if p.Message.ID <= 0 {
		fatalf("message_new missing id (%s)", receiver.name)
	}
	if p.Message.CreatedAt.IsZero() {
		fatalf("message_new created_at missing/zero (%s)", receiver.name)
	}
	return p.Message
}

func mustMarkReadAndAssertReceipt(parent context.Context, reader, sender *smokeClient, convID string, readerID int64, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeMarkRead,
		ID:   fmt.Sprintf("%s-mark-read", reader.name),
		TS:   time.Now().UTC(),
		Payload: mustJSON(v1.MarkReadPayload{
			ConversationID: convID,
		}),
	}
	mustWriteWithTimeout(parent, reader.conn, env, stepTimeout)

	skips := statusChangeSkips()
	skips[v1.TypeMessageNew] = struct{}{}
	got := sender.mustReadUntilType(parent, v1.TypeMessageRead, stepTimeout, skips)

	var p v1.MessageReadPayload
	if err := json.Unmarshal(got.Payload, &p); err != nil {
		fatalf("unmarshal message_read payload (%s): %v", sender.name, err)
	}
	if p.ConversationID != convID {
		fatalf("message_read conv_id mismatch (%s): got=%q want=%q", sender.name, p.ConversationID, convID)
	}
	if p.ReaderID != readerID {
		fatalf("message_read reader mismatch (%s): got=%d want=%d", sender.name, p.ReaderID, readerID)
	}
	if p.Count <= 0 {
		fatalf("message_read count not positive (%s): %d", sender.name, p.Count)
	}
}

func mustTypingRelay(parent context.Context, typist, watcher *smokeClient, convID string, typistID int64, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeTypingStart,
		ID:   fmt.Sprintf("%s-typing", typist.name),
		TS:   time.Now().UTC(),
		Payload: mustJSON(v1.TypingPayload{
			ConversationID: convID,
		}),
	}
	mustWriteWithTimeout(parent, typist.conn, env, stepTimeout)

	got := watcher.mustReadUntilType(parent, v1.TypeUserTyping, stepTimeout, statusChangeSkips())

	var p v1.UserTypingPayload
	if err := json.Unmarshal(got.Payload, &p); err != nil {
		fatalf("unmarshal user_typing payload (%s): %v", watcher.name, err)
	}
	if p.UserID != typistID {
		fatalf("user_typing user mismatch (%s): got=%d want=%d", watcher.name, p.UserID, typistID)
	}

	mustAssertNoType(parent, typist, v1.TypeUserTyping, 1200*time.Millisecond)
}

// drainType swallows one optional envelope of the given type (e.g. the
// duplicate message_new from the conversation room).
func drainType(parent context.Context, c *smokeClient, typ string, wait time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-c.errCh:
			if err != nil {
				return err
			}
			return errors.New("connection closed while draining")
		case env, ok := <-c.inbox:
			if !ok {
				return errors.New("connection closed while draining")
			}
			if env.Type == typ {
				return nil
			}
		}
	}
}

func mustAssertNoType(parent context.Context, c *smokeClient, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if env.Type == forbiddenType {
				fatalf("unexpected %s received (%s)", forbiddenType, c.name)
			}
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
