// ABOUTME: HTTP API tests against the full route table with a fake client
// ABOUTME: Covers dispatch, session CRUD, auth gating, and the observer socket

package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagate/wagate/internal/auth"
	"github.com/wagate/wagate/internal/broadcast"
	"github.com/wagate/wagate/internal/config"
	"github.com/wagate/wagate/internal/session"
	"github.com/wagate/wagate/internal/store"
	"github.com/wagate/wagate/internal/whatsapp"
)

// fakeClient is an in-memory Client double driven by the test.
type fakeClient struct {
	events chan whatsapp.Event

	mu      sync.Mutex
	sent    [][2]string
	sendErr error
	receipt json.RawMessage

	destroyOnce sync.Once
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		events:  make(chan whatsapp.Event, 16),
		receipt: json.RawMessage(`{"id":"receipt-1"}`),
	}
}

func (c *fakeClient) Initialize(ctx context.Context) error { return nil }

func (c *fakeClient) SendMessage(ctx context.Context, recipient, body string) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, [2]string{recipient, body})
	if c.sendErr != nil {
		return nil, c.sendErr
	}
	return c.receipt, nil
}

func (c *fakeClient) Events() <-chan whatsapp.Event { return c.events }

func (c *fakeClient) Destroy() error {
	c.destroyOnce.Do(func() { close(c.events) })
	return nil
}

func (c *fakeClient) sentMessages() [][2]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][2]string, len(c.sent))
	copy(out, c.sent)
	return out
}

// webFixture wires a real supervisor and store behind the HTTP server.
type webFixture struct {
	server  *Server
	sup     *session.Supervisor
	casting *broadcast.Broadcaster

	mu      sync.Mutex
	clients map[string]*fakeClient
}

func newWebFixture(t *testing.T, mutate ...func(*config.Config)) *webFixture {
	t.Helper()

	st, err := store.NewFileStore(filepath.Join(t.TempDir(), "sessions.json"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	f := &webFixture{clients: make(map[string]*fakeClient)}
	f.casting = broadcast.New(nil)
	t.Cleanup(f.casting.Close)

	f.sup = session.New(session.Params{
		Store:       st,
		Broadcaster: f.casting,
		Factory: func(id string) (whatsapp.Client, error) {
			c := newFakeClient()
			f.mu.Lock()
			f.clients[id] = c
			f.mu.Unlock()
			return c, nil
		},
	})
	t.Cleanup(f.sup.Close)

	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	for _, m := range mutate {
		m(cfg)
	}

	f.server = New(Params{
		Config:      cfg,
		Supervisor:  f.sup,
		Broadcaster: f.casting,
	})
	return f
}

func (f *webFixture) client(id string) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[id]
}

func (f *webFixture) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSendMessageUnknownDevice(t *testing.T) {
	f := newWebFixture(t)

	rec := f.do(t, http.MethodPost, "/send-message", map[string]string{
		"device":   "s1",
		"receiver": "08123",
		"message":  "hi",
	})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["status"])
	assert.Equal(t, "The sender: s1 is not found!", body["message"])
}

func TestSendMessageMissingFields(t *testing.T) {
	f := newWebFixture(t)

	rec := f.do(t, http.MethodPost, "/send-message", map[string]string{"device": "s1"})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["status"])
}

func TestSendMessageReturnsReceipt(t *testing.T) {
	f := newWebFixture(t)
	require.NoError(t, f.sup.Create(t.Context(), "s1", "desk"))

	rec := f.do(t, http.MethodPost, "/send-message", map[string]string{
		"device":   "s1",
		"receiver": "08123456789",
		"message":  "hello there",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["status"])
	resp, err := json.Marshal(body["response"])
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"receipt-1"}`, string(resp))

	sent := f.client("s1").sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "628123456789@c.us", sent[0][0])
	assert.Equal(t, "hello there", sent[0][1])
}

func TestSendMessageClientError(t *testing.T) {
	f := newWebFixture(t)
	require.NoError(t, f.sup.Create(t.Context(), "s1", "desk"))

	c := f.client("s1")
	c.mu.Lock()
	c.sendErr = assert.AnError
	c.mu.Unlock()

	rec := f.do(t, http.MethodPost, "/send-message", map[string]string{
		"device":   "s1",
		"receiver": "08123",
		"message":  "hi",
	})

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["status"])
	assert.Contains(t, body["response"], assert.AnError.Error())
}

func TestCreateSession(t *testing.T) {
	f := newWebFixture(t)

	rec := f.do(t, http.MethodPost, "/sessions", map[string]string{
		"id":          "s1",
		"description": "front desk",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["status"])
}

func TestCreateSessionDuplicateIsIdempotent(t *testing.T) {
	f := newWebFixture(t)
	require.NoError(t, f.sup.Create(t.Context(), "s1", "desk"))

	rec := f.do(t, http.MethodPost, "/sessions", map[string]string{"id": "s1"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["status"])
}

func TestRemoveSession(t *testing.T) {
	f := newWebFixture(t)
	require.NoError(t, f.sup.Create(t.Context(), "s1", "desk"))

	rec := f.do(t, http.MethodDelete, "/sessions/s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/sessions/s1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["message"], "s1")
}

func TestListSessionsForcesReadyFalse(t *testing.T) {
	f := newWebFixture(t)
	require.NoError(t, f.sup.Create(t.Context(), "s1", "desk"))

	f.client("s1").events <- whatsapp.Event{Type: whatsapp.EventAuthenticated}
	f.client("s1").events <- whatsapp.Event{Type: whatsapp.EventReady}
	require.Eventually(t, func() bool {
		st, ok := f.sup.State("s1")
		return ok && st == session.StateReady
	}, time.Second, 5*time.Millisecond)

	rec := f.do(t, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	sessions, ok := body["sessions"].([]any)
	require.True(t, ok)
	require.Len(t, sessions, 1)
	entry := sessions[0].(map[string]any)
	assert.Equal(t, "s1", entry["id"])
	assert.Equal(t, false, entry["ready"])
}

func TestHealth(t *testing.T) {
	f := newWebFixture(t)

	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthGatesAPI(t *testing.T) {
	const secret = "test-secret"
	f := newWebFixture(t, func(cfg *config.Config) {
		cfg.Auth.JWTSecret = secret
	})

	rec := f.do(t, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := auth.NewJWTVerifier([]byte(secret)).Generate("ops", time.Hour)
	require.NoError(t, err)

	rec = f.do(t, http.MethodGet, "/sessions", nil, "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, rec.Code)

	// Health and the observer socket stay open without a token.
	rec = f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestObserverReceivesInitAndLiveEvents(t *testing.T) {
	f := newWebFixture(t)
	require.NoError(t, f.sup.Create(t.Context(), "s1", "desk"))

	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var init struct {
		Event   string          `json:"event"`
		Payload []store.Session `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&init))
	assert.Equal(t, broadcast.EventInit, init.Event)
	require.Len(t, init.Payload, 1)
	assert.Equal(t, "s1", init.Payload[0].ID)
	assert.False(t, init.Payload[0].Ready)

	f.casting.Publish(broadcast.Event{Name: broadcast.EventMessage, Payload: "s1 has been created!"})

	var live struct {
		Event   string `json:"event"`
		Payload string `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&live))
	assert.Equal(t, broadcast.EventMessage, live.Event)
	assert.Equal(t, "s1 has been created!", live.Payload)
}
