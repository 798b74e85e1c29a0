package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/auth"
	"github.com/vovakirdan/wirechat-relay/internal/config"
	"github.com/vovakirdan/wirechat-relay/internal/core"
	"github.com/vovakirdan/wirechat-relay/internal/proto"
	"github.com/vovakirdan/wirechat-relay/internal/store"
	"github.com/vovakirdan/wirechat-relay/internal/store/sqlite"
)

type testEnv struct {
	store       store.Store
	hub         *core.Hub
	authService *auth.Service
	jwtConfig   *auth.JWTConfig
	handler     http.Handler
	server      *httptest.Server
}

func testJWTConfig() *auth.JWTConfig {
	return &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	}
}

// newTestEnv wires an in-memory store, hub and HTTP server.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	disabledLogger := zerolog.Nop()
	jwtConfig := testJWTConfig()
	hub := core.NewHub(st, core.Options{TypingTimeout: time.Minute}, &disabledLogger)
	t.Cleanup(hub.Close)

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.ReadHeaderTimeout = time.Second

	authService := auth.NewService(st, jwtConfig)
	server := NewServer(hub, authService, auth.NewVerifier(jwtConfig), st, &cfg, &disabledLogger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{
		store:       st,
		hub:         hub,
		authService: authService,
		jwtConfig:   jwtConfig,
		handler:     server.Handler,
		server:      ts,
	}
}

func (e *testEnv) registerUser(t *testing.T, username string) (string, *store.User) {
	t.Helper()

	token, user, err := e.authService.Register(context.Background(), username, username+"@example.com", "password123")
	if err != nil {
		t.Fatalf("failed to register %s: %v", username, err)
	}
	return token, user
}

func (e *testEnv) wsURL(token string) string {
	u := strings.Replace(e.server.URL, "http", "ws", 1) + "/ws"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func (e *testEnv) dial(ctx context.Context, t *testing.T, token string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, e.wsURL(token), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

// do performs a REST request against the handler and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp := httptest.NewRecorder()
	e.handler.ServeHTTP(resp, req)
	return resp
}

// wireFrame is an outbound envelope with the payload left raw.
type wireFrame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Ref   string          `json:"ref"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func sendInbound(ctx context.Context, t *testing.T, conn *websocket.Conn, typ, ref string, data any) {
	t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Ref: ref, Data: payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// readUntil reads frames until one matches, skipping the rest.
func readUntil(ctx context.Context, t *testing.T, conn *websocket.Conn, match func(wireFrame) bool) wireFrame {
	t.Helper()

	for {
		var frame wireFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if match(frame) {
			return frame
		}
	}
}

func isEvent(name string) func(wireFrame) bool {
	return func(f wireFrame) bool {
		return f.Type == proto.OutboundTypeEvent && f.Event == name
	}
}

func isType(typ string) func(wireFrame) bool {
	return func(f wireFrame) bool { return f.Type == typ }
}
