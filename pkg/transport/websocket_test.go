package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/urmzd/homesync/pkg/entity"
)

// wsController is a scripted push-side stand-in for the remote
// controller: it runs the auth handshake and answers the command frames
// the transport sends, so handshake, correlation, and reconnection can be
// exercised against a real socket.
type wsController struct {
	upgrader websocket.Upgrader

	mu          sync.Mutex
	rejectAuth  bool
	refuseDial  bool
	silentCalls bool
	holdDial    chan struct{}
	dialWaiting chan struct{}
	states      []entity.Entity
	requestIDs  []int64

	connected chan *serverConn
}

type serverConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *serverConn) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func newWSController() *wsController {
	return &wsController{
		connected: make(chan *serverConn, 8),
	}
}

func (s *wsController) setStates(states []entity.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = states
}

func (s *wsController) setRejectAuth(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectAuth = v
}

func (s *wsController) setRefuseDial(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refuseDial = v
}

func (s *wsController) setSilentCalls(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silentCalls = v
}

// holdDials blocks every subsequent dial at the server until release is
// called. The waiting channel receives once per dial that reaches the hold.
func (s *wsController) holdDials() (waiting chan struct{}, release func()) {
	hold := make(chan struct{})
	waiting = make(chan struct{}, 8)
	s.mu.Lock()
	s.holdDial = hold
	s.dialWaiting = waiting
	s.mu.Unlock()
	return waiting, func() { close(hold) }
}

func (s *wsController) seenIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.requestIDs))
	copy(out, s.requestIDs)
	return out
}

func (s *wsController) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/websocket", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		refuse := s.refuseDial
		hold := s.holdDial
		waiting := s.dialWaiting
		s.mu.Unlock()
		if refuse {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		if hold != nil {
			select {
			case waiting <- struct{}{}:
			default:
			}
			<-hold
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.serve(&serverConn{conn: conn})
	})
	return mux
}

func (s *wsController) serve(sc *serverConn) {
	defer sc.conn.Close()

	if err := sc.send(map[string]any{"type": msgAuthRequired, "ha_version": "2024.1"}); err != nil {
		return
	}
	var auth wsMessage
	if err := sc.conn.ReadJSON(&auth); err != nil {
		return
	}

	s.mu.Lock()
	reject := s.rejectAuth
	s.mu.Unlock()
	if reject || auth.Type != msgAuth || auth.AccessToken != testToken {
		_ = sc.send(map[string]any{"type": msgAuthInvalid, "message": "invalid credential"})
		return
	}
	if err := sc.send(map[string]any{"type": msgAuthOK, "ha_version": "2024.1"}); err != nil {
		return
	}

	s.connected <- sc

	for {
		var msg wsMessage
		if err := sc.conn.ReadJSON(&msg); err != nil {
			return
		}
		s.mu.Lock()
		s.requestIDs = append(s.requestIDs, msg.ID)
		s.mu.Unlock()

		switch msg.Type {
		case msgPing:
			_ = sc.send(map[string]any{"id": msg.ID, "type": msgPong})
		case msgSubscribeEvents:
			_ = sc.send(map[string]any{"id": msg.ID, "type": msgResult, "success": true})
		case msgGetStates:
			s.mu.Lock()
			states := s.states
			s.mu.Unlock()
			_ = sc.send(map[string]any{"id": msg.ID, "type": msgResult, "success": true, "result": states})
		case msgGetServices:
			_ = sc.send(map[string]any{
				"id": msg.ID, "type": msgResult, "success": true,
				"result": map[string]any{
					"switch": map[string]any{
						"toggle": map[string]any{"description": "Toggle a switch"},
					},
				},
			})
		case msgCallService:
			s.mu.Lock()
			silent := s.silentCalls
			s.mu.Unlock()
			if silent {
				continue
			}
			if msg.Domain == "broken" {
				_ = sc.send(map[string]any{
					"id": msg.ID, "type": msgResult, "success": false,
					"error": map[string]any{"code": "service_not_found", "message": "no such service"},
				})
				continue
			}
			_ = sc.send(map[string]any{"id": msg.ID, "type": msgResult, "success": true, "result": []any{}})
		}
	}
}

// pushEvent delivers a state_changed event on the given connection.
func (s *wsController) pushEvent(sc *serverConn, id string, oldState, newState *entity.Entity) error {
	return sc.send(map[string]any{
		"type": msgEvent,
		"event": map[string]any{
			"event_type": eventStateChanged,
			"data": map[string]any{
				"entity_id": id,
				"old_state": oldState,
				"new_state": newState,
			},
		},
	})
}

func newWSFixture(t *testing.T, cfg Config) (*wsController, *Websocket) {
	t.Helper()
	ctrl := newWSController()
	srv := httptest.NewServer(ctrl.handler())
	t.Cleanup(srv.Close)

	cfg.Endpoint = srv.URL
	if cfg.Token == "" {
		cfg.Token = testToken
	}
	tr := NewWebsocket(cfg)
	t.Cleanup(tr.Disconnect)
	return ctrl, tr
}

func TestWebsocketConnect(t *testing.T) {
	ctrl, tr := newWSFixture(t, Config{})
	ctrl.setStates([]entity.Entity{{ID: "light.lamp", State: entity.StateOn}})

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if got := tr.State(); got != StateConnected {
		t.Fatalf("expected connected, got %v", got)
	}

	// Connecting again while connected is a no-op.
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("second connect should be a no-op, got %v", err)
	}

	states, err := tr.FetchAllState(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(states) != 1 || states[0].ID != "light.lamp" {
		t.Errorf("unexpected snapshot: %+v", states)
	}

	tr.Disconnect()
	if got := tr.State(); got != StateClosed {
		t.Fatalf("expected closed after disconnect, got %v", got)
	}
	tr.Disconnect()
}

func TestWebsocketConnect_RejectedCredential(t *testing.T) {
	ctrl, tr := newWSFixture(t, Config{})
	ctrl.setRejectAuth(true)

	var states []ConnState
	var mu sync.Mutex
	tr.SubscribeConnState(func(s ConnState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	err := tr.Connect(context.Background())
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	if got := tr.State(); got != StateError {
		t.Fatalf("expected error state, got %v", got)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []ConnState{StateClosed, StateConnecting, StateAuthenticating, StateError}
	if len(states) != len(want) {
		t.Fatalf("expected state sequence %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("expected state sequence %v, got %v", want, states)
		}
	}
}

func TestWebsocketCorrelation(t *testing.T) {
	ctrl, tr := newWSFixture(t, Config{})
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	if _, err := tr.FetchAllState(context.Background()); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if _, err := tr.ListActions(context.Background()); err != nil {
		t.Fatalf("list actions failed: %v", err)
	}
	if _, err := tr.Invoke(context.Background(), "switch", "toggle", map[string]any{
		"entity_id": "switch.fan",
	}); err != nil {
		t.Fatalf("invoke failed: %v", err)
	}

	ids := ctrl.seenIDs()
	if len(ids) < 4 {
		t.Fatalf("expected at least 4 correlated requests, got %d", len(ids))
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("correlation ids must be strictly increasing, got %v", ids)
		}
	}
}

func TestWebsocketInvoke_RemoteRejection(t *testing.T) {
	_, tr := newWSFixture(t, Config{})
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	_, err := tr.Invoke(context.Background(), "broken", "anything", nil)
	var actionErr *ActionError
	if !errors.As(err, &actionErr) {
		t.Fatalf("expected ActionError, got %v", err)
	}
	if actionErr.Code != "service_not_found" || actionErr.Message != "no such service" {
		t.Errorf("unexpected rejection detail: %+v", actionErr)
	}
}

func TestWebsocketEvents(t *testing.T) {
	ctrl, tr := newWSFixture(t, Config{})
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	sc := <-ctrl.connected

	events := make(chan ChangeEvent, 4)
	unsub := tr.SubscribeChanges(func(ev ChangeEvent) {
		events <- ev
	})
	defer unsub()

	oldState := &entity.Entity{ID: "light.lamp", State: entity.StateOff}
	newState := &entity.Entity{ID: "light.lamp", State: entity.StateOn}
	if err := ctrl.pushEvent(sc, "light.lamp", oldState, newState); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	select {
	case ev := <-events:
		if ev.ID != "light.lamp" {
			t.Errorf("unexpected entity id %q", ev.ID)
		}
		if ev.New == nil || ev.New.State != entity.StateOn {
			t.Errorf("unexpected new state: %+v", ev.New)
		}
		if ev.Old == nil || ev.Old.State != entity.StateOff {
			t.Errorf("unexpected old state: %+v", ev.Old)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the pushed event")
	}
}

func TestWebsocketReconnect(t *testing.T) {
	ctrl, tr := newWSFixture(t, Config{
		ReconnectBase:        10 * time.Millisecond,
		MaxReconnectAttempts: 5,
	})
	ctrl.setStates([]entity.Entity{{ID: "light.lamp", State: entity.StateOn}})

	var mu sync.Mutex
	var states []ConnState
	tr.SubscribeConnState(func(s ConnState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	sc := <-ctrl.connected

	events := make(chan ChangeEvent, 4)
	unsub := tr.SubscribeChanges(func(ev ChangeEvent) {
		events <- ev
	})
	defer unsub()

	// Drop the socket out from under the transport.
	sc.conn.Close()

	want := []ConnState{StateClosed, StateConnecting, StateAuthenticating, StateConnected,
		StateClosed, StateReconnecting, StateConnected}
	waitFor(t, "reconnection", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) >= len(want)
	})
	sc2 := <-ctrl.connected

	mu.Lock()
	got := make([]ConnState, len(states))
	copy(got, states)
	mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("expected state sequence %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected state sequence %v, got %v", want, got)
		}
	}

	// The change subscription survives reconnection without caller action.
	if err := ctrl.pushEvent(sc2, "light.lamp", nil,
		&entity.Entity{ID: "light.lamp", State: entity.StateOff}); err != nil {
		t.Fatalf("push failed: %v", err)
	}
	select {
	case ev := <-events:
		if ev.ID != "light.lamp" {
			t.Errorf("unexpected entity id %q", ev.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event after reconnection")
	}
}

func TestWebsocketReconnect_AttemptsExhausted(t *testing.T) {
	ctrl, tr := newWSFixture(t, Config{
		ReconnectBase:        5 * time.Millisecond,
		MaxReconnectAttempts: 2,
	})

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	sc := <-ctrl.connected

	var mu sync.Mutex
	var errs []error
	tr.SubscribeErrors(func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	})

	ctrl.setRefuseDial(true)
	sc.conn.Close()

	waitFor(t, "terminal error state", func() bool {
		return tr.State() == StateError
	})

	mu.Lock()
	defer mu.Unlock()
	if len(errs) == 0 {
		t.Error("expected reconnection failures to reach the error observer")
	}
}

func TestWebsocketDisconnect_HaltsReconnection(t *testing.T) {
	ctrl, tr := newWSFixture(t, Config{
		ReconnectBase:        5 * time.Millisecond,
		MaxReconnectAttempts: 5,
	})
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	sc := <-ctrl.connected

	// Park the reconnection dial at the server, then drop the socket.
	waiting, release := ctrl.holdDials()
	sc.conn.Close()

	select {
	case <-waiting:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the reconnection dial")
	}

	tr.Disconnect()
	if got := tr.State(); got != StateClosed {
		t.Fatalf("expected closed after disconnect, got %v", got)
	}

	// Releasing the parked dial must not resurrect the connection.
	release()
	time.Sleep(100 * time.Millisecond)
	if got := tr.State(); got != StateClosed {
		t.Fatalf("transport must stay closed after disconnect, got %v", got)
	}
}

func TestWebsocketDisconnect_CancelsInflightInvoke(t *testing.T) {
	ctrl, tr := newWSFixture(t, Config{})
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	ctrl.setSilentCalls(true)

	errCh := make(chan error, 1)
	go func() {
		_, err := tr.Invoke(context.Background(), "switch", "toggle", map[string]any{
			"entity_id": "switch.fan",
		})
		errCh <- err
	}()

	// The subscription frame from connect is request one; wait for the
	// parked call to reach the server before disconnecting.
	waitFor(t, "the in-flight call", func() bool {
		return len(ctrl.seenIDs()) >= 2
	})

	tr.Disconnect()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect left the invocation hanging")
	}
}

func TestWebsocketConnect_WhileReconnecting(t *testing.T) {
	ctrl, tr := newWSFixture(t, Config{
		ReconnectBase:        20 * time.Millisecond,
		MaxReconnectAttempts: 50,
	})
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	sc := <-ctrl.connected

	ctrl.setRefuseDial(true)
	sc.conn.Close()

	waitFor(t, "reconnecting state", func() bool {
		return tr.State() == StateReconnecting
	})

	if err := tr.Connect(context.Background()); !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection while a reconnection is in progress, got %v", err)
	}
}

func TestWebsocketFetchOne(t *testing.T) {
	ctrl, tr := newWSFixture(t, Config{})
	ctrl.setStates([]entity.Entity{
		{ID: "light.lamp", State: entity.StateOn},
		{ID: "switch.fan", State: entity.StateOff},
	})
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	e, err := tr.FetchOne(context.Background(), "switch.fan")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if e.State != entity.StateOff {
		t.Errorf("unexpected state %q", e.State)
	}

	if _, err := tr.FetchOne(context.Background(), "light.ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWebsocketFetch_NotConnected(t *testing.T) {
	_, tr := newWSFixture(t, Config{})
	if _, err := tr.FetchAllState(context.Background()); !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
}

func TestParseServiceMap(t *testing.T) {
	raw := json.RawMessage(`{
		"light": {
			"turn_on": {
				"description": "Turn a light on",
				"fields": {
					"brightness": {
						"description": "Brightness 0..255",
						"required": true,
						"selector": {"number": {"min": 0, "max": 255}}
					},
					"effect": {
						"selector": {"text": {}}
					}
				}
			}
		}
	}`)

	actions, err := parseServiceMap(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(actions))
	}
	a := actions[0]
	if a.Qualified() != "light.turn_on" {
		t.Errorf("unexpected qualified name %q", a.Qualified())
	}

	var schema struct {
		Type       string   `json:"type"`
		Required   []string `json:"required"`
		Properties map[string]struct {
			Type    string   `json:"type"`
			Minimum *float64 `json:"minimum"`
			Maximum *float64 `json:"maximum"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(a.ParamSchema, &schema); err != nil {
		t.Fatalf("schema did not decode: %v", err)
	}
	if schema.Type != "object" {
		t.Errorf("expected object schema, got %q", schema.Type)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "brightness" {
		t.Errorf("unexpected required list %v", schema.Required)
	}
	b := schema.Properties["brightness"]
	if b.Type != "number" || b.Minimum == nil || *b.Minimum != 0 || b.Maximum == nil || *b.Maximum != 255 {
		t.Errorf("unexpected brightness property: %+v", b)
	}
	if schema.Properties["effect"].Type != "string" {
		t.Errorf("expected string type for text selector, got %q", schema.Properties["effect"].Type)
	}
}

func TestWSURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"http://hub.local:8123", "ws://hub.local:8123/api/websocket"},
		{"https://hub.example.com", "wss://hub.example.com/api/websocket"},
		{"ws://hub.local:8123/", "ws://hub.local:8123/api/websocket"},
		{"hub.local:8123", "ws://hub.local:8123/api/websocket"},
	}
	for _, tc := range cases {
		got, err := wsURL(tc.in)
		if err != nil {
			t.Errorf("wsURL(%q) failed: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("wsURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	if _, err := wsURL(""); err == nil {
		t.Error("expected an error for the empty endpoint")
	}
}
