package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/urmzd/homesync/pkg/entity"
)

// Correlation ids are monotonically increasing and never reused for the
// life of the process, shared across connections and transport instances.
var nextCorrelationID atomic.Int64

type callResult struct {
	msg wsMessage
	err error
}

// Websocket is the push transport: one persistent connection to the
// controller carrying authenticated, correlated request/reply frames plus
// server-pushed state_changed events. The socket reconnects automatically
// with exponential backoff; registered change listeners are re-armed
// against the fresh connection without caller involvement.
type Websocket struct {
	cfg Config
	obs observers

	mu       sync.Mutex
	state    ConnState
	conn     *websocket.Conn
	connDone chan struct{} // closed when the current socket is torn down
	shutdown chan struct{} // closed by Disconnect
	pending  map[int64]chan callResult
	eventSub int64 // correlation id of the state_changed subscription
	closed   bool

	writeMu sync.Mutex
}

// NewWebsocket creates a push transport for the given endpoint. The
// connection is not established until Connect.
func NewWebsocket(cfg Config) *Websocket {
	return &Websocket{
		cfg:     cfg.withDefaults(),
		state:   StateClosed,
		pending: make(map[int64]chan callResult),
	}
}

// State returns the current connection state.
func (t *Websocket) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Websocket) setState(s ConnState) {
	t.mu.Lock()
	if t.state == s {
		t.mu.Unlock()
		return
	}
	t.state = s
	t.mu.Unlock()

	log.Debug().Str("state", s.String()).Msg("Push transport state changed")
	t.obs.notifyState(s)
}

// setConnectedIfOpen publishes the connected state unless Disconnect has
// already closed the transport. The closed check and the state write share
// one critical section so a concurrent Disconnect can never be overwritten
// with a stale connected announcement.
func (t *Websocket) setConnectedIfOpen() bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	changed := t.state != StateConnected
	t.state = StateConnected
	t.mu.Unlock()

	if changed {
		log.Debug().Str("state", StateConnected.String()).Msg("Push transport state changed")
		t.obs.notifyState(StateConnected)
	}
	return true
}

// Connect dials the controller, performs the auth handshake, and arms the
// state_changed subscription. A rejected credential is terminal for this
// attempt: the state moves to error and the caller must Connect again.
func (t *Websocket) Connect(ctx context.Context) error {
	t.mu.Lock()
	switch t.state {
	case StateClosed, StateError:
	case StateConnected:
		t.mu.Unlock()
		return nil
	default:
		t.mu.Unlock()
		return fmt.Errorf("%w: connection attempt already in progress", ErrConnection)
	}
	t.closed = false
	t.shutdown = make(chan struct{})
	t.mu.Unlock()

	t.setState(StateConnecting)

	if err := t.dial(ctx, true); err != nil {
		if errors.Is(err, ErrCancelled) {
			// Disconnect won the race; the state is already closed.
			return err
		}
		t.obs.notifyError(err)
		t.setState(StateError)
		return err
	}

	t.setConnectedIfOpen()
	return nil
}

// dial opens the socket, runs the auth handshake, starts the read and
// heartbeat loops, and re-arms the event subscription. When announce is
// set the intermediate handshake states are published; reconnection
// attempts keep the observable state at reconnecting instead.
func (t *Websocket) dial(ctx context.Context, announce bool) error {
	u, err := wsURL(t.cfg.Endpoint)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrConnection, u, err)
	}

	var hello wsMessage
	if err := conn.ReadJSON(&hello); err != nil {
		_ = conn.Close()
		return fmt.Errorf("%w: read server hello: %v", ErrConnection, err)
	}

	switch hello.Type {
	case msgAuthRequired:
		if announce {
			t.setState(StateAuthenticating)
		}
		if err := conn.WriteJSON(wsMessage{Type: msgAuth, AccessToken: t.cfg.Token}); err != nil {
			_ = conn.Close()
			return fmt.Errorf("%w: send credential: %v", ErrConnection, err)
		}
		var reply wsMessage
		if err := conn.ReadJSON(&reply); err != nil {
			_ = conn.Close()
			return fmt.Errorf("%w: read auth reply: %v", ErrConnection, err)
		}
		switch reply.Type {
		case msgAuthOK:
		case msgAuthInvalid:
			_ = conn.Close()
			if reply.Message != "" {
				return fmt.Errorf("%w: %s", ErrAuth, reply.Message)
			}
			return ErrAuth
		default:
			_ = conn.Close()
			return fmt.Errorf("%w: unexpected auth reply %q", ErrTransport, reply.Type)
		}
	case msgAuthOK:
		// Server requires no credential.
	default:
		_ = conn.Close()
		return fmt.Errorf("%w: unexpected server hello %q", ErrTransport, hello.Type)
	}

	done := make(chan struct{})
	t.mu.Lock()
	if t.closed {
		// Disconnect arrived while the handshake was in flight; the fresh
		// socket must not be installed.
		t.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("%w: disconnected during dial", ErrCancelled)
	}
	t.conn = conn
	t.connDone = done
	t.mu.Unlock()

	go t.readLoop(conn, done)
	go t.heartbeat(conn, done)

	if err := t.subscribeEvents(ctx, conn); err != nil {
		t.teardownConn(conn, err)
		return err
	}

	log.Info().Str("endpoint", t.cfg.Endpoint).Msg("Push transport connected")
	return nil
}

// subscribeEvents arms the state_changed subscription on the given socket.
func (t *Websocket) subscribeEvents(ctx context.Context, conn *websocket.Conn) error {
	res, err := t.call(ctx, conn, wsMessage{Type: msgSubscribeEvents, EventType: eventStateChanged})
	if err != nil {
		return err
	}
	if res.Success != nil && !*res.Success {
		return fmt.Errorf("%w: subscribe_events refused: %s", ErrTransport, resultError(res))
	}

	t.mu.Lock()
	t.eventSub = res.ID
	t.mu.Unlock()
	return nil
}

// Disconnect closes the socket, cancels every in-flight invocation, and
// stops the heartbeat and any reconnection in progress. It is idempotent.
func (t *Websocket) Disconnect() {
	t.mu.Lock()
	if t.closed && t.conn == nil {
		alreadyClosed := t.state == StateClosed
		t.mu.Unlock()
		if !alreadyClosed {
			t.setState(StateClosed)
		}
		return
	}
	t.closed = true
	if t.shutdown != nil {
		close(t.shutdown)
		t.shutdown = nil
	}
	conn := t.conn
	done := t.connDone
	t.conn = nil
	t.connDone = nil
	pend := t.pending
	t.pending = make(map[int64]chan callResult)
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		close(done)
	}
	for _, ch := range pend {
		ch <- callResult{err: ErrCancelled}
	}

	t.setState(StateClosed)
}

// teardownConn tears down one socket after a subscription or write failure
// during connection establishment.
func (t *Websocket) teardownConn(conn *websocket.Conn, cause error) {
	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return
	}
	done := t.connDone
	t.conn = nil
	t.connDone = nil
	pend := t.pending
	t.pending = make(map[int64]chan callResult)
	t.mu.Unlock()

	_ = conn.Close()
	if done != nil {
		close(done)
	}
	for _, ch := range pend {
		ch <- callResult{err: fmt.Errorf("%w: %v", ErrConnection, cause)}
	}
}

// readLoop consumes frames from one socket until it closes.
func (t *Websocket) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.socketClosed(conn, err)
			return
		}

		switch msg.Type {
		case msgResult:
			t.resolve(msg)
		case msgPong:
			// Pongs are not tracked; a dead peer is only detected by the
			// socket closing.
		case msgEvent:
			if msg.Event != nil && msg.Event.EventType == eventStateChanged {
				data := msg.Event.Data
				t.obs.notifyChange(ChangeEvent{
					ID:  data.EntityID,
					New: data.NewState,
					Old: data.OldState,
				})
			}
		default:
			log.Debug().Str("type", msg.Type).Msg("Unhandled push frame")
		}
	}
}

// resolve matches a result frame to its pending call. Replies for unknown
// ids are dropped silently.
func (t *Websocket) resolve(msg wsMessage) {
	t.mu.Lock()
	ch, ok := t.pending[msg.ID]
	if ok {
		delete(t.pending, msg.ID)
	}
	t.mu.Unlock()

	if !ok {
		log.Debug().Int64("id", msg.ID).Msg("Dropping reply for unknown correlation id")
		return
	}
	ch <- callResult{msg: msg}
}

// socketClosed handles an unexpected socket closure: in-flight calls fail,
// the state drops to closed, and automatic reconnection begins.
func (t *Websocket) socketClosed(conn *websocket.Conn, cause error) {
	t.mu.Lock()
	if t.conn != conn {
		// Disconnect or teardownConn already handled this socket.
		t.mu.Unlock()
		return
	}
	done := t.connDone
	t.conn = nil
	t.connDone = nil
	pend := t.pending
	t.pending = make(map[int64]chan callResult)
	t.mu.Unlock()

	if done != nil {
		close(done)
	}
	err := fmt.Errorf("%w: socket closed: %v", ErrConnection, cause)
	for _, ch := range pend {
		ch <- callResult{err: err}
	}

	log.Warn().Err(cause).Msg("Push transport socket closed unexpectedly")
	t.obs.notifyError(err)
	t.setState(StateClosed)

	go t.reconnectLoop()
}

// reconnectLoop retries the connection with exponential backoff from the
// configured base, doubling per attempt, up to the attempt cap. A rejected
// credential or an exhausted cap is terminal: the state moves to error and
// no further automatic retries happen.
func (t *Websocket) reconnectLoop() {
	t.mu.Lock()
	shutdown := t.shutdown
	t.mu.Unlock()
	if shutdown == nil {
		return
	}

	t.setState(StateReconnecting)

	delay := t.cfg.ReconnectBase
	for attempt := 1; attempt <= t.cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-time.After(delay):
		case <-shutdown:
			return
		}

		err := t.dial(context.Background(), false)
		if err == nil {
			if !t.setConnectedIfOpen() {
				// Disconnect landed between the dial and here; drop the
				// fresh socket instead of resurrecting the connection.
				t.mu.Lock()
				conn := t.conn
				t.mu.Unlock()
				if conn != nil {
					t.teardownConn(conn, ErrCancelled)
				}
				return
			}
			log.Info().Int("attempt", attempt).Msg("Push transport reconnected")
			return
		}
		if errors.Is(err, ErrCancelled) {
			return
		}

		t.obs.notifyError(err)
		if errors.Is(err, ErrAuth) {
			t.setState(StateError)
			return
		}

		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).
			Msg("Reconnection attempt failed")
		delay *= 2
	}

	log.Error().Int("attempts", t.cfg.MaxReconnectAttempts).
		Msg("Reconnection attempts exhausted")
	t.setState(StateError)
}

// heartbeat sends a ping on a fixed interval while the socket is up. No
// pong deadline is enforced; a write failure closes the socket, which the
// read loop then observes.
func (t *Websocket) heartbeat(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(t.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			id := nextCorrelationID.Add(1)
			if err := t.write(conn, wsMessage{ID: id, Type: msgPing}); err != nil {
				log.Warn().Err(err).Msg("Heartbeat write failed")
				_ = conn.Close()
				return
			}
		}
	}
}

func (t *Websocket) write(conn *websocket.Conn, msg wsMessage) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

// call sends a correlated request on the given socket and waits for its
// reply. There is no per-call timeout: a hung call waits until the context
// is cancelled or the socket goes away.
func (t *Websocket) call(ctx context.Context, conn *websocket.Conn, msg wsMessage) (wsMessage, error) {
	id := nextCorrelationID.Add(1)
	ch := make(chan callResult, 1)

	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()

	msg.ID = id
	if err := t.write(conn, msg); err != nil {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return wsMessage{}, fmt.Errorf("%w: write: %v", ErrConnection, err)
	}

	select {
	case res := <-ch:
		return res.msg, res.err
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return wsMessage{}, ctx.Err()
	}
}

// activeConn returns the current socket, or a connection error when the
// transport is not connected.
func (t *Websocket) activeConn() (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || t.state != StateConnected {
		return nil, fmt.Errorf("%w: not connected", ErrConnection)
	}
	return t.conn, nil
}

// FetchAllState returns a full snapshot of every entity.
func (t *Websocket) FetchAllState(ctx context.Context) ([]entity.Entity, error) {
	conn, err := t.activeConn()
	if err != nil {
		return nil, err
	}

	res, err := t.call(ctx, conn, wsMessage{Type: msgGetStates})
	if err != nil {
		return nil, err
	}
	if res.Success != nil && !*res.Success {
		return nil, fmt.Errorf("%w: get_states refused: %s", ErrTransport, resultError(res))
	}

	var states []entity.Entity
	if err := json.Unmarshal(res.Result, &states); err != nil {
		return nil, fmt.Errorf("%w: decode states: %v", ErrTransport, err)
	}
	return states, nil
}

// FetchOne returns a single entity by id.
func (t *Websocket) FetchOne(ctx context.Context, id string) (*entity.Entity, error) {
	states, err := t.FetchAllState(ctx)
	if err != nil {
		return nil, err
	}
	for i := range states {
		if states[i].ID == id {
			return &states[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// ListActions returns the controller's action descriptors.
func (t *Websocket) ListActions(ctx context.Context) ([]entity.ActionDescriptor, error) {
	conn, err := t.activeConn()
	if err != nil {
		return nil, err
	}

	res, err := t.call(ctx, conn, wsMessage{Type: msgGetServices})
	if err != nil {
		return nil, err
	}
	if res.Success != nil && !*res.Success {
		return nil, fmt.Errorf("%w: get_services refused: %s", ErrTransport, resultError(res))
	}
	return parseServiceMap(res.Result)
}

// Invoke calls a remote action. Controller rejections surface as
// *ActionError carrying the controller's code and message.
func (t *Websocket) Invoke(ctx context.Context, domain, name string, params map[string]any) (json.RawMessage, error) {
	conn, err := t.activeConn()
	if err != nil {
		return nil, err
	}

	res, err := t.call(ctx, conn, wsMessage{
		Type:        msgCallService,
		Domain:      domain,
		Service:     name,
		ServiceData: params,
	})
	if err != nil {
		return nil, err
	}
	if res.Success != nil && !*res.Success {
		actionErr := &ActionError{Message: "call refused"}
		if res.Error != nil {
			actionErr.Code = res.Error.Code
			actionErr.Message = res.Error.Message
		}
		t.obs.notifyError(actionErr)
		return nil, actionErr
	}
	return res.Result, nil
}

// SubscribeChanges registers a listener for entity transitions, optionally
// filtered by id. Listeners survive reconnection.
func (t *Websocket) SubscribeChanges(l ChangeListener, ids ...string) func() {
	return t.obs.changes.add(newChangeSubscription(l, ids))
}

// SubscribeConnState registers a connection-state observer. The listener
// immediately receives the current state.
func (t *Websocket) SubscribeConnState(l StateListener) func() {
	remove := t.obs.connState.add(l)
	l(t.State())
	return remove
}

// SubscribeErrors registers an error observer.
func (t *Websocket) SubscribeErrors(l ErrorListener) func() {
	return t.obs.errors.add(l)
}

func resultError(msg wsMessage) string {
	if msg.Error == nil {
		return "no error detail"
	}
	return fmt.Sprintf("%s: %s", msg.Error.Code, msg.Error.Message)
}

// wsURL derives the websocket endpoint from the controller base URL.
func wsURL(endpoint string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("%w: empty endpoint", ErrConnection)
	}
	u := strings.TrimRight(endpoint, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	case strings.HasPrefix(u, "ws://"), strings.HasPrefix(u, "wss://"):
	default:
		u = "ws://" + u
	}
	return u + "/api/websocket", nil
}
