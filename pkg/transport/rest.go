package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/urmzd/homesync/pkg/entity"
)

// Rest is the pull transport: plain request/response against the
// controller's HTTP API. Subscription is emulated by a fixed-interval poll
// loop that fetches the full state and notifies listeners only for
// entities whose state or serialized attributes changed since the last
// observation. The loop runs only while at least one change listener is
// registered and the transport is connected.
type Rest struct {
	cfg    Config
	client *http.Client
	obs    observers

	mu        sync.Mutex
	state     ConnState
	lastSeen  map[string]observedEntity
	listeners int
	pollStop  chan struct{}
}

// observedEntity is the comparison baseline for one entity between polls.
type observedEntity struct {
	state string
	attrs string
	ent   *entity.Entity
}

// NewRest creates a pull transport for the given endpoint.
func NewRest(cfg Config) *Rest {
	return &Rest{
		cfg:      cfg.withDefaults(),
		client:   &http.Client{},
		state:    StateClosed,
		lastSeen: make(map[string]observedEntity),
	}
}

// State returns the current connection state. The pull transport only
// models closed, connected, and error.
func (t *Rest) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Rest) setState(s ConnState) {
	t.mu.Lock()
	if t.state == s {
		t.mu.Unlock()
		return
	}
	t.state = s
	t.mu.Unlock()

	t.obs.notifyState(s)
}

// Connect verifies the endpoint and credential with a config probe.
func (t *Rest) Connect(ctx context.Context) error {
	var probe json.RawMessage
	if err := t.get(ctx, "/api/config", &probe); err != nil {
		t.obs.notifyError(err)
		t.setState(StateError)
		return err
	}

	t.setState(StateConnected)
	t.maybeStartPolling()
	log.Info().Str("endpoint", t.cfg.Endpoint).Msg("Rest transport connected")
	return nil
}

// Disconnect stops the poll loop and drops to closed. It is idempotent.
// The pull transport holds no persistent connection, so there are no
// correlated in-flight calls to cancel.
func (t *Rest) Disconnect() {
	t.mu.Lock()
	t.stopPollingLocked()
	t.mu.Unlock()

	t.setState(StateClosed)
}

// FetchAllState returns a full snapshot and refreshes the poll baseline,
// so a snapshot the caller already saw is never re-reported as a change.
func (t *Rest) FetchAllState(ctx context.Context) ([]entity.Entity, error) {
	states, err := t.fetchStates(ctx)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.lastSeen = baseline(states)
	t.mu.Unlock()
	return states, nil
}

func (t *Rest) fetchStates(ctx context.Context) ([]entity.Entity, error) {
	var states []entity.Entity
	if err := t.get(ctx, "/api/states", &states); err != nil {
		return nil, err
	}
	return states, nil
}

// FetchOne returns a single entity by id.
func (t *Rest) FetchOne(ctx context.Context, id string) (*entity.Entity, error) {
	var e entity.Entity
	if err := t.get(ctx, "/api/states/"+id, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// restServiceDomain is one element of the controller's service listing.
type restServiceDomain struct {
	Domain   string                     `json:"domain"`
	Services map[string]json.RawMessage `json:"services"`
}

// ListActions returns the controller's action descriptors.
func (t *Rest) ListActions(ctx context.Context) ([]entity.ActionDescriptor, error) {
	var listing []restServiceDomain
	if err := t.get(ctx, "/api/services", &listing); err != nil {
		return nil, err
	}

	// Re-shape into the domain -> service mapping shared with the push
	// transport's parser.
	byDomain := make(map[string]map[string]json.RawMessage, len(listing))
	for _, d := range listing {
		byDomain[d.Domain] = d.Services
	}
	raw, err := json.Marshal(byDomain)
	if err != nil {
		return nil, fmt.Errorf("%w: reshape services: %v", ErrTransport, err)
	}
	return parseServiceMap(raw)
}

// Invoke calls a remote action. The caller is expected to refresh state
// afterwards: with no push channel, the side effect is otherwise only
// visible at the next poll.
func (t *Rest) Invoke(ctx context.Context, domain, name string, params map[string]any) (json.RawMessage, error) {
	if t.State() != StateConnected {
		return nil, fmt.Errorf("%w: not connected", ErrConnection)
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("%w: encode params: %v", ErrTransport, err)
	}

	req, err := t.newRequest(ctx, http.MethodPost, "/api/services/"+domain+"/"+name, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrConnection, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return payload, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		err := fmt.Errorf("%w: %s %s", ErrAuth, domain, name)
		t.obs.notifyError(err)
		return nil, err
	default:
		actionErr := &ActionError{
			Code:    resp.Status,
			Message: strings.TrimSpace(string(payload)),
		}
		t.obs.notifyError(actionErr)
		return nil, actionErr
	}
}

// SubscribeChanges registers a change listener. The first registration
// starts the poll loop; the loop stops when the last listener leaves.
func (t *Rest) SubscribeChanges(l ChangeListener, ids ...string) func() {
	remove := t.obs.changes.add(newChangeSubscription(l, ids))

	t.mu.Lock()
	t.listeners++
	t.mu.Unlock()
	t.maybeStartPolling()

	var once sync.Once
	return func() {
		once.Do(func() {
			remove()
			t.mu.Lock()
			t.listeners--
			if t.listeners == 0 {
				t.stopPollingLocked()
			}
			t.mu.Unlock()
		})
	}
}

// SubscribeConnState registers a connection-state observer. The listener
// immediately receives the current state.
func (t *Rest) SubscribeConnState(l StateListener) func() {
	remove := t.obs.connState.add(l)
	l(t.State())
	return remove
}

// SubscribeErrors registers an error observer.
func (t *Rest) SubscribeErrors(l ErrorListener) func() {
	return t.obs.errors.add(l)
}

func (t *Rest) maybeStartPolling() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateConnected || t.listeners == 0 || t.pollStop != nil {
		return
	}
	stop := make(chan struct{})
	t.pollStop = stop
	go t.pollLoop(stop)
}

func (t *Rest) stopPollingLocked() {
	if t.pollStop != nil {
		close(t.pollStop)
		t.pollStop = nil
	}
}

func (t *Rest) pollLoop(stop chan struct{}) {
	log.Debug().Dur("interval", t.cfg.PollInterval).Msg("Poll loop started")
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			log.Debug().Msg("Poll loop stopped")
			return
		case <-ticker.C:
			t.pollOnce()
		}
	}
}

// pollOnce fetches the full state and notifies listeners for every entity
// whose state or attributes differ from the last observation. A rejected
// credential forces disconnect; any other failure is reported and the loop
// carries on at the next interval.
func (t *Rest) pollOnce() {
	states, err := t.fetchStates(context.Background())
	if err != nil {
		t.obs.notifyError(err)
		if errors.Is(err, ErrAuth) {
			log.Warn().Err(err).Msg("Credential rejected during poll, disconnecting")
			t.Disconnect()
			return
		}
		log.Debug().Err(err).Msg("Poll cycle failed, retrying at next interval")
		return
	}

	next := baseline(states)

	t.mu.Lock()
	prev := t.lastSeen
	t.lastSeen = next
	t.mu.Unlock()

	for i := range states {
		cur := next[states[i].ID]
		old, seen := prev[states[i].ID]
		if seen && old.state == cur.state && old.attrs == cur.attrs {
			continue
		}
		ev := ChangeEvent{ID: states[i].ID, New: cur.ent}
		if seen {
			ev.Old = old.ent
		}
		t.obs.notifyChange(ev)
	}

	// Entities a fresh snapshot no longer contains are reported as removed.
	for id, old := range prev {
		if _, ok := next[id]; !ok {
			t.obs.notifyChange(ChangeEvent{ID: id, Old: old.ent})
		}
	}
}

// baseline builds the per-entity comparison index for a snapshot.
func baseline(states []entity.Entity) map[string]observedEntity {
	out := make(map[string]observedEntity, len(states))
	for i := range states {
		e := states[i]
		attrs, _ := json.Marshal(e.Attributes)
		out[e.ID] = observedEntity{
			state: e.State,
			attrs: string(attrs),
			ent:   &e,
		}
	}
	return out
}

// --- HTTP plumbing ---

func (t *Rest) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u := strings.TrimRight(t.cfg.Endpoint, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrConnection, err)
	}
	req.Header.Set("Authorization", "Bearer "+t.cfg.Token)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// get performs an authenticated GET and decodes the JSON response into out.
func (t *Rest) get(ctx context.Context, path string, out any) error {
	req, err := t.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAuth, path)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: %s returned %s", ErrTransport, path, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrTransport, path, err)
	}
	return nil
}
