// Package hub owns the authoritative in-memory mirror of the controller's
// entity state. It bridges whichever transport is active into a stable
// read/query surface: the entity table, the action catalog, and channel
// and callback subscriptions for the application shell.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/urmzd/homesync/pkg/entity"
	"github.com/urmzd/homesync/pkg/schema"
	"github.com/urmzd/homesync/pkg/transport"
)

// ChangeEvent is re-exported so shell code can subscribe to the hub
// without importing the transport package.
type ChangeEvent = transport.ChangeEvent

// SessionSaver persists the last successful connection configuration so
// it can be resumed at next startup.
type SessionSaver interface {
	SaveSession(ctx context.Context, endpoint, token string, kind string) error
}

// Hub is the synchronization facade. All entity-table mutation goes
// through its merge path; readers always see a fully-replaced entity,
// never a partially-updated one.
type Hub struct {
	validator *schema.Validator
	sessions  SessionSaver // nil disables persistence

	mu        sync.RWMutex
	tr        transport.Transport
	kind      transport.Kind
	entities  map[string]*entity.Entity
	actions   []entity.ActionDescriptor
	actionIdx map[string]*entity.ActionDescriptor
	connected bool
	lastError string
	teardown  bool
	unsubs    []func()

	subsMu     sync.Mutex
	changeSubs []chan ChangeEvent
	stateSubs  []transport.StateListener
	errorSubs  []transport.ErrorListener
}

// New creates a hub. sessions may be nil to disable session persistence.
func New(validator *schema.Validator, sessions SessionSaver) *Hub {
	return &Hub{
		validator: validator,
		sessions:  sessions,
		entities:  make(map[string]*entity.Entity),
		actionIdx: make(map[string]*entity.ActionDescriptor),
	}
}

// Connect builds the chosen transport, wires its observer channels into
// the hub, pulls the initial snapshot and action catalog, and persists the
// configuration for resumption. Any previous connection is torn down
// first.
func (h *Hub) Connect(ctx context.Context, endpoint, token string, kind transport.Kind) error {
	h.Disconnect()

	tr, err := transport.New(kind, transport.Config{Endpoint: endpoint, Token: token})
	if err != nil {
		return err
	}

	unsubs := []func(){
		tr.SubscribeConnState(h.onConnState),
		tr.SubscribeErrors(h.onError),
		tr.SubscribeChanges(h.onChange),
	}

	h.mu.Lock()
	h.tr = tr
	h.kind = kind
	h.unsubs = unsubs
	h.entities = make(map[string]*entity.Entity)
	h.actions = nil
	h.actionIdx = make(map[string]*entity.ActionDescriptor)
	h.lastError = ""
	h.mu.Unlock()

	if err := tr.Connect(ctx); err != nil {
		h.Disconnect()
		return fmt.Errorf("connect %s transport: %w", kind, err)
	}

	if err := h.Refresh(ctx); err != nil {
		h.Disconnect()
		return fmt.Errorf("initial state fetch: %w", err)
	}

	actions, err := tr.ListActions(ctx)
	if err != nil {
		h.Disconnect()
		return fmt.Errorf("fetch action catalog: %w", err)
	}
	h.setActions(actions)

	if h.sessions != nil {
		if err := h.sessions.SaveSession(ctx, endpoint, token, string(kind)); err != nil {
			log.Warn().Err(err).Msg("Failed to persist session")
		}
	}

	log.Info().Str("endpoint", endpoint).Str("transport", string(kind)).
		Int("entities", h.EntityCount()).Int("actions", len(actions)).
		Msg("Connected")
	return nil
}

// Disconnect tears down the active transport. Idempotent.
func (h *Hub) Disconnect() {
	h.mu.Lock()
	tr := h.tr
	unsubs := h.unsubs
	h.teardown = true
	h.mu.Unlock()

	if tr != nil {
		tr.Disconnect()
	}
	for _, unsub := range unsubs {
		unsub()
	}

	h.mu.Lock()
	h.tr = nil
	h.unsubs = nil
	h.connected = false
	h.teardown = false
	h.mu.Unlock()
}

// IsConnected reports whether the active transport is connected.
func (h *Hub) IsConnected() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.connected
}

// LastError returns the most recent surfaced transport condition, or ""
// when the connection is healthy.
func (h *Hub) LastError() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastError
}

// TransportKind returns the kind of the active transport, or "" when
// disconnected.
func (h *Hub) TransportKind() transport.Kind {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.tr == nil {
		return ""
	}
	return h.kind
}

// ConnState returns the active transport's connection state.
func (h *Hub) ConnState() transport.ConnState {
	h.mu.RLock()
	tr := h.tr
	h.mu.RUnlock()
	if tr == nil {
		return transport.StateClosed
	}
	return tr.State()
}

// Query returns the cached entity for id. No network access.
func (h *Hub) Query(id string) (*entity.Entity, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.entities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", transport.ErrNotFound, id)
	}
	return e, nil
}

// QueryByDomainPrefix returns every cached entity whose domain matches
// prefix, sorted by id. No network access.
func (h *Hub) QueryByDomainPrefix(prefix string) []*entity.Entity {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*entity.Entity
	for _, e := range h.entities {
		if e.Domain() == prefix {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// All returns every cached entity, sorted by id.
func (h *Hub) All() []*entity.Entity {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*entity.Entity, 0, len(h.entities))
	for _, e := range h.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EntityCount returns the size of the entity table.
func (h *Hub) EntityCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entities)
}

// Actions returns the action catalog fetched at connect time.
func (h *Hub) Actions() []entity.ActionDescriptor {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]entity.ActionDescriptor, len(h.actions))
	copy(out, h.actions)
	return out
}

// Action returns the descriptor for domain.name, if the controller
// advertises one.
func (h *Hub) Action(domain, name string) (*entity.ActionDescriptor, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	a, ok := h.actionIdx[domain+"."+name]
	return a, ok
}

// Refresh forces a full state fetch and replaces the entity table
// wholesale with the result.
func (h *Hub) Refresh(ctx context.Context) error {
	h.mu.RLock()
	tr := h.tr
	h.mu.RUnlock()
	if tr == nil {
		return fmt.Errorf("%w: no active transport", transport.ErrConnection)
	}

	states, err := tr.FetchAllState(ctx)
	if err != nil {
		return err
	}

	table := make(map[string]*entity.Entity, len(states))
	for i := range states {
		table[states[i].ID] = &states[i]
	}

	h.mu.Lock()
	h.entities = table
	h.mu.Unlock()
	return nil
}

// InvokeAction validates params against the action's descriptor and
// delegates to the active transport. On the rest transport an immediate
// full re-fetch follows, so callers always observe a table that reflects
// the invocation's side effects regardless of transport kind.
func (h *Hub) InvokeAction(ctx context.Context, domain, name string, params map[string]any) (json.RawMessage, error) {
	h.mu.RLock()
	tr := h.tr
	kind := h.kind
	h.mu.RUnlock()
	if tr == nil {
		return nil, fmt.Errorf("%w: no active transport", transport.ErrConnection)
	}

	if h.validator != nil {
		if desc, ok := h.Action(domain, name); ok && len(desc.ParamSchema) > 0 {
			if err := h.validator.ValidateParams(desc.ParamSchema, params); err != nil {
				return nil, fmt.Errorf("invalid parameters for %s.%s: %w", domain, name, err)
			}
		}
	}

	result, err := tr.Invoke(ctx, domain, name, params)
	if err != nil {
		return nil, err
	}

	if kind == transport.KindRest {
		// No push event will reflect the side effect; normalize the
		// transport difference away with an immediate re-fetch.
		if err := h.Refresh(ctx); err != nil {
			log.Warn().Err(err).Msg("Post-invoke refresh failed")
		}
	}
	return result, nil
}

// --- observer wiring ---

// onChange is the single merge path for the entity table: the new value
// replaces the existing entry wholesale, last write wins by arrival order.
func (h *Hub) onChange(ev ChangeEvent) {
	h.mu.Lock()
	if ev.New == nil {
		delete(h.entities, ev.ID)
	} else {
		h.entities[ev.ID] = ev.New
	}
	h.mu.Unlock()

	h.publish(ev)
}

func (h *Hub) onConnState(s transport.ConnState) {
	h.mu.Lock()
	h.connected = s == transport.StateConnected
	switch {
	case s == transport.StateConnected:
		h.lastError = ""
	case (s == transport.StateError || s == transport.StateClosed) && !h.teardown:
		h.lastError = fmt.Sprintf("transport %s", s)
	}
	h.mu.Unlock()

	h.subsMu.Lock()
	listeners := make([]transport.StateListener, len(h.stateSubs))
	copy(listeners, h.stateSubs)
	h.subsMu.Unlock()
	for _, l := range listeners {
		l(s)
	}
}

func (h *Hub) onError(err error) {
	h.mu.Lock()
	h.lastError = err.Error()
	h.mu.Unlock()

	h.subsMu.Lock()
	listeners := make([]transport.ErrorListener, len(h.errorSubs))
	copy(listeners, h.errorSubs)
	h.subsMu.Unlock()
	for _, l := range listeners {
		l(err)
	}
}

// --- shell-facing subscriptions ---

// Subscribe returns a channel receiving entity change events. Slow
// consumers drop events rather than blocking the merge path.
func (h *Hub) Subscribe() chan ChangeEvent {
	ch := make(chan ChangeEvent, 16)
	h.subsMu.Lock()
	h.changeSubs = append(h.changeSubs, ch)
	h.subsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a change subscription.
func (h *Hub) Unsubscribe(ch chan ChangeEvent) {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	for i, sub := range h.changeSubs {
		if sub == ch {
			h.changeSubs = append(h.changeSubs[:i], h.changeSubs[i+1:]...)
			close(ch)
			return
		}
	}
}

// SubscribeConnectionState registers a connection-state observer, which
// immediately receives the current state.
func (h *Hub) SubscribeConnectionState(l transport.StateListener) {
	h.subsMu.Lock()
	h.stateSubs = append(h.stateSubs, l)
	h.subsMu.Unlock()
	l(h.ConnState())
}

// SubscribeErrors registers an error observer.
func (h *Hub) SubscribeErrors(l transport.ErrorListener) {
	h.subsMu.Lock()
	h.errorSubs = append(h.errorSubs, l)
	h.subsMu.Unlock()
}

func (h *Hub) publish(ev ChangeEvent) {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	for _, ch := range h.changeSubs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *Hub) setActions(actions []entity.ActionDescriptor) {
	idx := make(map[string]*entity.ActionDescriptor, len(actions))
	for i := range actions {
		idx[actions[i].Qualified()] = &actions[i]
	}

	h.mu.Lock()
	h.actions = actions
	h.actionIdx = idx
	h.mu.Unlock()
}
