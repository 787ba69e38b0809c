package twwplus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	maxBridgeMessageBytes = 16 << 20
	bridgeWriteTimeout    = 5 * time.Second
	bridgeCloseTimeout    = 2 * time.Second
)

// ============================================================================
// Wire format
// ============================================================================

// BridgeEnvelope is the wire format of every page bridge message.
//
// Page to server: snapshot, mutations, response, input, ping.
// Server to page: hello, patch, pong, error.
type BridgeEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HelloPayload opens every connection.
type HelloPayload struct {
	SessionID string `json:"sessionId"`
}

// SnapshotPayload carries the full page, sent on connect and after navigation.
type SnapshotPayload struct {
	HTML string `json:"html"`
}

// RecordsPayload carries DOM records: page mutations inbound, overlay
// patches outbound. The page must not echo records caused by applying a
// patch.
type RecordsPayload struct {
	Records []Record `json:"records"`
}

// InputPayload reports the content of an edited element. The page does not
// forward mutation records from inside that element.
type InputPayload struct {
	XPath string `json:"xpath"`
	HTML  string `json:"html"`
}

// ErrorPayload reports a rejected message.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ============================================================================
// Server
// ============================================================================

// BridgeConfig configures a BridgeServer.
type BridgeConfig struct {
	AuthToken         string
	OriginPatterns    []string
	Storage           Storage
	Selectors         Selectors
	DraftDebounce     time.Duration
	ReconcileDebounce time.Duration
	FrameInterval     time.Duration
	// Upstream, when set, is served under /tap/ through a reverse proxy
	// whose responses feed the most recently connected session.
	Upstream          *url.URL
	UpstreamTransport http.RoundTripper
	Logger            zerolog.Logger
}

// BridgeServer accepts page bridge connections. Each connection gets its own
// mirror document, loop and Session.
type BridgeServer struct {
	cfg    BridgeConfig
	logger zerolog.Logger

	mu      sync.Mutex
	clients map[*bridgeClient]struct{}
	latest  *bridgeClient
}

// NewBridgeServer creates a server. A nil Storage keeps drafts in memory.
func NewBridgeServer(cfg BridgeConfig) *BridgeServer {
	if cfg.Storage == nil {
		cfg.Storage = NewMemoryStorage()
	}
	if cfg.UpstreamTransport == nil {
		cfg.UpstreamTransport = http.DefaultTransport
	}
	return &BridgeServer{
		cfg:     cfg,
		logger:  cfg.Logger,
		clients: make(map[*bridgeClient]struct{}),
	}
}

// Handler routes /ws, /tap/ and /healthz.
func (b *BridgeServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", b.HandleWebSocket)
	mux.Handle("/tap/", b.tapHandler())
	mux.Handle("/healthz", corsHandler(http.HandlerFunc(b.handleHealth)))
	return mux
}

// Sessions reports how many pages are connected.
func (b *BridgeServer) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *BridgeServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "sessions": b.Sessions()})
}

// HandleWebSocket is the HTTP handler for /ws.
func (b *BridgeServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !IsAuthorizedRequest(b.cfg.AuthToken, r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: b.cfg.OriginPatterns})
	if err != nil {
		b.logger.Debug().Err(err).Msg("websocket accept failed")
		return
	}
	conn.SetReadLimit(maxBridgeMessageBytes)

	c := b.newClient(conn)
	b.addClient(c)
	defer b.removeClient(c)

	c.logger.Info().Str("remote", r.RemoteAddr).Msg("page connected")
	c.run()
	c.logger.Info().Msg("page disconnected")
}

func (b *BridgeServer) addClient(c *bridgeClient) {
	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.latest = c
	b.mu.Unlock()
}

func (b *BridgeServer) removeClient(c *bridgeClient) {
	b.mu.Lock()
	delete(b.clients, c)
	if b.latest == c {
		b.latest = nil
		for other := range b.clients {
			b.latest = other
			break
		}
	}
	b.mu.Unlock()
}

func (b *BridgeServer) latestClient() *bridgeClient {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest
}

// ── Upstream tap ────────────────────────────────────────

func (b *BridgeServer) tapHandler() http.Handler {
	if b.cfg.Upstream == nil {
		return http.NotFoundHandler()
	}
	upstream := b.cfg.Upstream
	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
		},
		Transport: tapTransport{server: b},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			b.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("upstream request failed")
			w.WriteHeader(http.StatusBadGateway)
		},
	}
	return http.StripPrefix("/tap", proxy)
}

// tapTransport routes proxied responses into the latest session.
type tapTransport struct {
	server *BridgeServer
}

func (t tapTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.server.cfg.UpstreamTransport
	c := t.server.latestClient()
	if c == nil {
		return base.RoundTrip(req)
	}
	return c.session.Transport(base).RoundTrip(req)
}

// ============================================================================
// Client
// ============================================================================

type bridgeClient struct {
	id      string
	conn    *websocket.Conn
	server  *BridgeServer
	loop    *Loop
	session *Session
	logger  zerolog.Logger
	send    chan []byte
	ctx     context.Context
	cancel  context.CancelFunc

	// loop thread only
	patches     []Record
	flushQueued bool
}

func (b *BridgeServer) newClient(conn *websocket.Conn) *bridgeClient {
	id := uuid.NewString()
	logger := b.logger.With().Str("session", id).Logger()
	ctx, cancel := context.WithCancel(context.Background())

	loop := NewLoop(WithFrameInterval(b.cfg.FrameInterval), WithLoopLogger(logger))
	doc := NewDocument()
	c := &bridgeClient{
		id:     id,
		conn:   conn,
		server: b,
		loop:   loop,
		logger: logger,
		send:   make(chan []byte, 256),
		ctx:    ctx,
		cancel: cancel,
	}
	c.session = NewSession(doc, b.cfg.Storage,
		WithScheduler(loop),
		WithLogger(logger),
		WithSelectors(b.cfg.Selectors.WithDefaults()),
		WithDraftDebounce(b.cfg.DraftDebounce),
		WithReconcileDebounce(b.cfg.ReconcileDebounce),
	)
	doc.SetPatchSink(c.queuePatch)
	return c
}

func (c *bridgeClient) run() {
	go func() { _ = c.session.Run(c.ctx) }()
	go c.writePump()
	c.sendEnvelope("hello", HelloPayload{SessionID: c.id})
	c.readPump()
	c.shutdown()
}

func (c *bridgeClient) shutdown() {
	done := make(chan struct{})
	go c.loop.Post(func() {
		if err := c.session.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("session close")
		}
		close(done)
	})
	select {
	case <-done:
	case <-time.After(bridgeCloseTimeout):
		c.logger.Warn().Msg("session did not close in time")
	}
	c.cancel()
}

func (c *bridgeClient) readPump() {
	for {
		typ, data, err := c.conn.Read(c.ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			c.sendError("binary messages are not supported")
			continue
		}
		c.handleTextMessage(data)
	}
}

func (c *bridgeClient) writePump() {
	defer func() { _ = c.conn.Close(websocket.StatusNormalClosure, "") }()
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.send:
			ctx, cancel := context.WithTimeout(c.ctx, bridgeWriteTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (c *bridgeClient) handleTextMessage(data []byte) {
	var env BridgeEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.sendError("invalid message: " + err.Error())
		return
	}
	doc := c.session.Document()

	switch env.Type {
	case "snapshot":
		var p SnapshotPayload
		if !c.decode(env, &p) {
			return
		}
		c.loop.Post(func() {
			if err := doc.Reset(p.HTML); err != nil {
				c.logger.Debug().Err(err).Msg("snapshot rejected")
			}
		})
	case "mutations":
		var p RecordsPayload
		if !c.decode(env, &p) {
			return
		}
		c.loop.Post(func() {
			if applied := doc.Apply(p.Records); applied < len(p.Records) {
				c.logger.Debug().Int("applied", applied).Int("total", len(p.Records)).Msg("skipped unresolvable records")
			}
		})
	case "response":
		var sig ResponseSignal
		if !c.decode(env, &sig) {
			return
		}
		c.session.EmitResponse(sig)
	case "input":
		var p InputPayload
		if !c.decode(env, &p) {
			return
		}
		c.loop.Post(func() {
			n, err := doc.Resolve(p.XPath)
			if err != nil {
				c.logger.Debug().Err(err).Msg("input target not found")
				return
			}
			if err := doc.DispatchInput(n, p.HTML); err != nil {
				c.logger.Debug().Err(err).Msg("input rejected")
			}
		})
	case "ping":
		c.sendEnvelope("pong", nil)
	default:
		c.sendError("unknown message type: " + env.Type)
	}
}

func (c *bridgeClient) decode(env BridgeEnvelope, out any) bool {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		c.sendError("invalid " + env.Type + " payload: " + err.Error())
		return false
	}
	return true
}

// queuePatch collects overlay changes and sends them once per frame.
func (c *bridgeClient) queuePatch(rec Record) {
	c.patches = append(c.patches, rec)
	if c.flushQueued {
		return
	}
	c.flushQueued = true
	c.loop.NextFrame(c.flushPatches)
}

func (c *bridgeClient) flushPatches() {
	records := c.patches
	c.patches = nil
	c.flushQueued = false
	if len(records) > 0 {
		c.sendEnvelope("patch", RecordsPayload{Records: records})
	}
}

func (c *bridgeClient) sendError(msg string) {
	c.sendEnvelope("error", ErrorPayload{Message: msg})
}

func (c *bridgeClient) sendEnvelope(typ string, payload any) {
	env := BridgeEnvelope{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			c.logger.Warn().Err(err).Str("type", typ).Msg("failed to marshal payload")
			return
		}
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		c.logger.Warn().Err(err).Str("type", typ).Msg("failed to marshal envelope")
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn().Str("type", typ).Msg("dropping message for slow page")
	}
}
