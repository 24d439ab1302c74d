package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	v1 "github.com/pranaynidhi/microhire-backend/contracts/realtime/v1"
	"github.com/pranaynidhi/microhire-backend/cmd/internal/identity"
	"github.com/pranaynidhi/microhire-backend/cmd/internal/messaging"
)

const (
	wsSubprotocolV1 = "microhire.realtime.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout     = 5 * time.Second
	wsDefaultReadIdle         = 2 * time.Minute
	wsDefaultHandshakeTimeout = 10 * time.Second
	wsDefaultOpTimeout        = 10 * time.Second
	wsCloseGrace              = 1 * time.Second

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// MessageService is the slice of the messaging layer the gateway drives.
type MessageService interface {
	Append(ctx context.Context, in messaging.AppendInput) (messaging.Message, error)
	MarkRead(ctx context.Context, conversationID string, readerID int64) (int64, error)
	Edit(ctx context.Context, messageID, editorID int64, content string) (messaging.Message, error)
	SoftDelete(ctx context.Context, messageID, requesterID int64) error
}

// Gateway is the WebSocket entrypoint for MicroHire realtime.
//
// It authenticates every connection before any other event is processed,
// auto-joins the identity's private room, enforces origin policy, rate limits,
// and heartbeats, and routes validated events into the messaging layer.
type Gateway struct {
	log      *slog.Logger
	reg      *Registry
	router   *Router
	presence *Presence
	auth     *identity.Authenticator
	messages MessageService
	metrics  *Metrics

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout     time.Duration
	readIdleTimeout  time.Duration
	handshakeTimeout time.Duration
	opTimeout        time.Duration
	sendQueueSize    int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewGateway constructs a gateway with secure defaults.
func NewGateway(
	log *slog.Logger,
	reg *Registry,
	router *Router,
	presence *Presence,
	auth *identity.Authenticator,
	messages MessageService,
	metrics *Metrics,
) *Gateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if reg == nil {
		reg = NewRegistry(log)
	}
	if router == nil {
		router = NewRouter(log, reg, metrics)
	}
	if presence == nil {
		presence = NewPresence(log, router)
	}

	g := &Gateway{
		log:      log,
		reg:      reg,
		router:   router,
		presence: presence,
		auth:     auth,
		messages: messages,
		metrics:  metrics,
	}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("MICROHIRE_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("MICROHIRE_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("MICROHIRE_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("MICROHIRE_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("MICROHIRE_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)
	g.handshakeTimeout = envDurationWS("MICROHIRE_WS_HANDSHAKE_TIMEOUT", wsDefaultHandshakeTimeout)
	g.opTimeout = envDurationWS("MICROHIRE_WS_OP_TIMEOUT", wsDefaultOpTimeout)

	g.sendQueueSize = envIntWS("MICROHIRE_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("MICROHIRE_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("MICROHIRE_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("MICROHIRE_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("MICROHIRE_WS_RATE_WINDOW", rateLimitWindow)

	return g
}

// Registry exposes the live-connection registry owned by this gateway.
func (g *Gateway) Registry() *Registry { return g.reg }

// Router exposes the delivery router bound to this gateway's registry.
func (g *Gateway) Router() *Router { return g.router }

// ServeHTTP adapter so the gateway can be mounted as http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the realtime loop.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{wsSubprotocolV1},

		// Authorize allowed origin hosts (e.g. localhost) for cross-origin requests.
		OriginPatterns: g.originPatterns,

		// Dev-only escape hatch.
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Authentication is the mandatory synchronous prerequisite: no event is
	// read or delivered before the credential resolves to an active identity.
	ident, err := g.authenticate(ctx, r)
	if err != nil {
		g.metrics.authFailure()
		g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)

		// Rejected connections receive a single authentication-failure event
		// and are closed. The gateway never retries; the caller must reconnect
		// with a fresh credential.
		env, envErr := g.errorEnvelope("auth_failed", "authentication failed")
		if envErr == nil {
			_ = writeEnvelope(ctx, conn, env, g.writeTimeout)
		}
		_ = conn.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}

	connID, err := NewConnectionID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.conn_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "id generation failed")
		return
	}

	client := NewConn(connID, ident, g.sendQueueSize)
	first := g.reg.Add(client)
	g.metrics.connOpened()

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	// Registry removal happens before client.Close so no broadcaster can pick
	// the connection up while its goroutines are being torn down.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			_, last := g.reg.Remove(connID)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
			g.metrics.connClosed()

			if last {
				g.presence.SetOffline(ident.ID)
			}
			g.log.Info("ws.disconnect", "conn_id", connID, "user_id", ident.ID, "reason", reason)
		})
	}

	// The private room is the sole conduit for receiver-targeted events and
	// never needs an explicit join from the client.
	g.reg.Join(connID, PrivateRoom(ident.ID))

	if first {
		g.presence.SetOnline(ident)
	}

	g.log.Info("ws.connect", "conn_id", connID, "user_id", ident.ID, "role", ident.Role)

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "conn_id", connID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "conn_id", connID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	g.trySend(ctx, client, v1.TypeReady, v1.ReadyPayload{ConnectionID: connID, UserID: ident.ID})

	// Per-connection FIFO: events on this connection are processed in the
	// order received; other connections run concurrently in their own loops.
readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "conn_id", connID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		g.metrics.event(env.Type)
		g.dispatch(ctx, client, env)
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- event dispatch ----

// dispatch handles one validated inbound envelope. Per-event failures are
// reported back only to the originating connection and never close the
// transport.
func (g *Gateway) dispatch(ctx context.Context, client *Conn, env v1.Envelope) {
	switch env.Type {
	case v1.TypeConversationJoin:
		var p v1.ConversationJoinPayload
		if !g.decode(ctx, client, env.Payload, &p) {
			return
		}
		if strings.TrimSpace(p.ConversationID) == "" {
			g.trySendError(ctx, client, "invalid_payload", "missing conversation_id")
			return
		}
		g.reg.Join(client.ID, ConversationRoom(p.ConversationID))
		g.log.Debug("ws.conversation.join", "conn_id", client.ID, "conversation_id", p.ConversationID)

	case v1.TypeConversationLeave:
		var p v1.ConversationLeavePayload
		if !g.decode(ctx, client, env.Payload, &p) {
			return
		}
		g.reg.Leave(client.ID, ConversationRoom(p.ConversationID))
		g.log.Debug("ws.conversation.leave", "conn_id", client.ID, "conversation_id", p.ConversationID)

	case v1.TypeTypingStart, v1.TypeTypingStop:
		var p v1.TypingPayload
		if !g.decode(ctx, client, env.Payload, &p) {
			return
		}
		if strings.TrimSpace(p.ConversationID) == "" {
			g.trySendError(ctx, client, "invalid_payload", "missing conversation_id")
			return
		}
		g.presence.BroadcastTyping(client.Identity, p.ConversationID, env.Type == v1.TypeTypingStart)

	case v1.TypeMessageSend:
		var p v1.MessageSendPayload
		if !g.decode(ctx, client, env.Payload, &p) {
			return
		}
		opCtx, opCancel := g.opContext(ctx)
		_, err := g.messages.Append(opCtx, messaging.AppendInput{
			SenderID:   client.Identity.ID,
			ReceiverID: p.ReceiverID,
			Content:    p.Content,
			FileURL:    p.FileURL,
			FileName:   p.FileName,
		})
		opCancel()
		if err != nil {
			g.replyError(ctx, client, err)
		}

	case v1.TypeMarkRead:
		var p v1.MarkReadPayload
		if !g.decode(ctx, client, env.Payload, &p) {
			return
		}
		opCtx, opCancel := g.opContext(ctx)
		_, err := g.messages.MarkRead(opCtx, p.ConversationID, client.Identity.ID)
		opCancel()
		if err != nil {
			g.replyError(ctx, client, err)
		}

	case v1.TypeMessageEdit:
		var p v1.MessageEditPayload
		if !g.decode(ctx, client, env.Payload, &p) {
			return
		}
		opCtx, opCancel := g.opContext(ctx)
		_, err := g.messages.Edit(opCtx, p.MessageID, client.Identity.ID, p.Content)
		opCancel()
		if err != nil {
			g.replyError(ctx, client, err)
		}

	case v1.TypeMessageDelete:
		var p v1.MessageDeletePayload
		if !g.decode(ctx, client, env.Payload, &p) {
			return
		}
		opCtx, opCancel := g.opContext(ctx)
		err := g.messages.SoftDelete(opCtx, p.MessageID, client.Identity.ID)
		opCancel()
		if err != nil {
			g.replyError(ctx, client, err)
		}

	case v1.TypePresenceOnline:
		g.presence.SetOnline(client.Identity)

	default:
		// Outbound-only types arriving inbound.
		g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
	}
}

// opContext detaches persistence work from the connection's lifetime: a
// pending operation that outlives its owning connection's disconnect is still
// completed and its delivery side effect attempted.
func (g *Gateway) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), g.opTimeout)
}

func (g *Gateway) authenticate(ctx context.Context, r *http.Request) (identity.Identity, error) {
	if g.auth == nil {
		return identity.Identity{}, errors.New("no authenticator configured")
	}

	authCtx, cancel := context.WithTimeout(ctx, g.handshakeTimeout)
	defer cancel()

	return g.auth.Authenticate(authCtx, bearerToken(r))
}

// bearerToken extracts the handshake credential: "token" query parameter,
// falling back to an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	if tok := strings.TrimSpace(r.URL.Query().Get("token")); tok != "" {
		return tok
	}
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

func (g *Gateway) decode(ctx context.Context, client *Conn, raw json.RawMessage, dst any) bool {
	if err := json.Unmarshal(raw, dst); err != nil {
		g.trySendError(ctx, client, "invalid_payload", "invalid payload: "+err.Error())
		return false
	}
	return true
}

// replyError maps a messaging-layer failure onto a wire error code for the
// originating connection.
func (g *Gateway) replyError(ctx context.Context, client *Conn, err error) {
	code := "dependency_failure"
	switch {
	case errors.Is(err, messaging.ErrEditWindowClosed):
		code = "edit_window_exceeded"
	case errors.Is(err, messaging.ErrForbidden):
		code = "forbidden"
	case errors.Is(err, messaging.ErrNotFound):
		code = "not_found"
	case errors.Is(err, messaging.ErrInvalidInput):
		code = "invalid_payload"
	}
	g.trySendError(ctx, client, code, err.Error())
}

// ---- send helpers ----

func (g *Gateway) trySend(ctx context.Context, client *Conn, typ string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	env, err := g.newEnvelope(typ, body)
	if err != nil {
		return
	}
	g.enqueue(ctx, client, env)
}

func (g *Gateway) trySendError(ctx context.Context, client *Conn, code, msg string) {
	env, err := g.errorEnvelope(code, msg)
	if err != nil {
		return
	}
	g.enqueue(ctx, client, env)
}

func (g *Gateway) errorEnvelope(code, msg string) (v1.Envelope, error) {
	p, err := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	if err != nil {
		return v1.Envelope{}, err
	}
	return g.newEnvelope(v1.TypeError, p)
}

func (g *Gateway) newEnvelope(typ string, payload json.RawMessage) (v1.Envelope, error) {
	now := time.Now().UTC()
	id, err := NewEnvelopeID(now)
	if err != nil {
		return v1.Envelope{}, err
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      now,
		Payload: payload,
	}, nil
}

func (g *Gateway) enqueue(ctx context.Context, client *Conn, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		g.metrics.drop()
		return false
	}
}

// ---- envelope IO ----

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON decode errors are typically returned by json.Unmarshal, not conn.Read.
	// This fallback exists for robustness when error strings are propagated.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using filepath.Match patterns.
	// We keep this strict: only hosts extracted from the allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	// Stable in-file sort (avoid importing sort just for this).
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
