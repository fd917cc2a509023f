package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/urmzd/homesync/pkg/entity"
)

// ConnState is the observable connection state of a transport.
type ConnState int

const (
	StateClosed ConnState = iota
	StateConnecting
	StateAuthenticating
	StateConnected
	StateReconnecting
	StateError
)

func (s ConnState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Kind selects the transport implementation.
type Kind string

const (
	// KindPush is the persistent WebSocket transport.
	KindPush Kind = "push"
	// KindRest is the polling HTTP transport.
	KindRest Kind = "rest"
)

// Config holds the connection parameters shared by both transports.
// Zero durations and counts fall back to the defaults below.
type Config struct {
	// Endpoint is the controller base URL, e.g. "http://hub.local:8123".
	Endpoint string
	// Token is the bearer credential presented at connect time.
	Token string

	// PollInterval is the pull transport's poll period.
	PollInterval time.Duration
	// HeartbeatInterval is the push transport's ping period.
	HeartbeatInterval time.Duration
	// ReconnectBase is the push transport's first retry delay; it doubles
	// per attempt with no jitter.
	ReconnectBase time.Duration
	// MaxReconnectAttempts bounds automatic reconnection before the
	// transport gives up and enters the error state.
	MaxReconnectAttempts int
}

const (
	defaultPollInterval      = 3 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
	defaultReconnectBase     = 1 * time.Second
	defaultMaxReconnects     = 5
)

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = defaultReconnectBase
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = defaultMaxReconnects
	}
	return c
}

// ChangeEvent describes one entity transition. New is nil when the entity
// disappeared; Old is nil when it was first observed.
type ChangeEvent struct {
	ID  string
	New *entity.Entity
	Old *entity.Entity
}

// Listener signatures for the three observer channels.
type (
	ChangeListener func(ChangeEvent)
	StateListener  func(ConnState)
	ErrorListener  func(error)
)

// Transport is the capability contract both transports satisfy. Callers
// must not be able to tell the implementations apart through this surface,
// except for the documented polling latency of the rest transport.
type Transport interface {
	// Connect establishes the transport. It returns once the transport is
	// usable, or an error wrapping ErrConnection / ErrAuth on failure.
	Connect(ctx context.Context) error

	// Disconnect tears the transport down. It is idempotent, stops all
	// timers, and fails every in-flight invocation with ErrCancelled.
	Disconnect()

	// FetchAllState returns a full snapshot of every entity.
	FetchAllState(ctx context.Context) ([]entity.Entity, error)

	// FetchOne returns a single entity, or ErrNotFound.
	FetchOne(ctx context.Context, id string) (*entity.Entity, error)

	// ListActions returns the controller's action descriptors.
	ListActions(ctx context.Context) ([]entity.ActionDescriptor, error)

	// Invoke calls a remote action and returns the controller's immediate
	// result payload, which may be empty. Controller rejections surface as
	// *ActionError.
	Invoke(ctx context.Context, domain, name string, params map[string]any) (json.RawMessage, error)

	// SubscribeChanges registers a listener for entity transitions,
	// optionally filtered to the given ids. Listeners are invoked
	// synchronously in registration order. The returned func unregisters.
	SubscribeChanges(l ChangeListener, ids ...string) (unsubscribe func())

	// SubscribeConnState registers a connection-state observer. The
	// listener is immediately invoked with the current state so it never
	// has to poll at registration time.
	SubscribeConnState(l StateListener) (unsubscribe func())

	// SubscribeErrors registers an error observer. Every transport-level
	// error is mirrored here in addition to failing the specific call.
	SubscribeErrors(l ErrorListener) (unsubscribe func())

	// State returns the current connection state.
	State() ConnState
}

// New constructs the transport selected by kind.
func New(kind Kind, cfg Config) (Transport, error) {
	switch kind {
	case KindPush:
		return NewWebsocket(cfg), nil
	case KindRest:
		return NewRest(cfg), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", kind)
	}
}
