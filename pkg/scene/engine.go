// Package scene performs reversible bulk state changes: activating a
// scene snapshots the prior state of every member entity, and
// deactivating it replays a domain-aware inverse of the transition.
package scene

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/urmzd/homesync/pkg/entity"
)

// ErrAlreadyActive indicates an activation request for a scene that
// already holds an active record.
var ErrAlreadyActive = errors.New("scene already active")

// Hub is the slice of the synchronization facade the engine depends on.
type Hub interface {
	Query(id string) (*entity.Entity, error)
	Refresh(ctx context.Context) error
	InvokeAction(ctx context.Context, domain, name string, params map[string]any) (json.RawMessage, error)
}

// Snapshot is the captured pre-activation state of one member entity:
// its state value and the subset of attributes meaningful for later
// restoration in its domain.
type Snapshot struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// transitionSeconds is the hint attached to light restorations so the
// rollback is not visually abrupt.
const transitionSeconds = 1

// Engine owns the active scene records: at most one record per scene id,
// created on activation and destroyed on deactivation or activation
// failure. Operations on the same scene id are serialized.
type Engine struct {
	hub Hub

	mu     sync.Mutex
	active map[string][]Snapshot
	guards map[string]*sync.Mutex
}

// NewEngine creates a scene engine over the given facade.
func NewEngine(hub Hub) *Engine {
	return &Engine{
		hub:    hub,
		active: make(map[string][]Snapshot),
		guards: make(map[string]*sync.Mutex),
	}
}

// guard returns the per-scene-id mutex, creating it on first use.
// Overlapping Activate/Deactivate/Toggle calls for the same id serialize
// on it instead of racing.
func (e *Engine) guard(sceneID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.guards[sceneID]
	if !ok {
		g = &sync.Mutex{}
		e.guards[sceneID] = g
	}
	return g
}

// IsActive reports whether the scene holds an active record.
func (e *Engine) IsActive(sceneID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[sceneID]
	return ok
}

// ActiveScenes returns the ids of every scene holding an active record.
func (e *Engine) ActiveScenes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.active))
	for id := range e.active {
		out = append(out, id)
	}
	return out
}

// Snapshots returns the captured record for an active scene, for display
// or manual recovery.
func (e *Engine) Snapshots(sceneID string) ([]Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	snaps, ok := e.active[sceneID]
	if !ok {
		return nil, false
	}
	out := make([]Snapshot, len(snaps))
	copy(out, snaps)
	return out, true
}

// Activate snapshots the scene's member entities and invokes the
// controller's scene activation. The record is stored before the
// activation call, so a crash mid-call still leaves it available for
// manual recovery; an activation failure discards it again.
func (e *Engine) Activate(ctx context.Context, sceneID string) error {
	g := e.guard(sceneID)
	g.Lock()
	defer g.Unlock()
	return e.activate(ctx, sceneID)
}

func (e *Engine) activate(ctx context.Context, sceneID string) error {
	e.mu.Lock()
	_, exists := e.active[sceneID]
	e.mu.Unlock()
	if exists {
		return fmt.Errorf("%w: %s", ErrAlreadyActive, sceneID)
	}

	sceneEnt, err := e.hub.Query(sceneID)
	if err != nil {
		return err
	}
	members := memberIDs(sceneEnt)

	// Snapshot against fresh state, not whatever the cache last saw.
	if err := e.hub.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh before snapshot: %w", err)
	}

	snaps := make([]Snapshot, 0, len(members))
	for _, id := range members {
		member, err := e.hub.Query(id)
		if err != nil {
			log.Warn().Str("scene", sceneID).Str("entity", id).
				Msg("Scene member missing from state table, skipping capture")
			continue
		}
		snaps = append(snaps, capture(member))
	}

	e.mu.Lock()
	e.active[sceneID] = snaps
	e.mu.Unlock()

	if _, err := e.hub.InvokeAction(ctx, entity.DomainScene, "turn_on", map[string]any{
		"entity_id": sceneID,
	}); err != nil {
		e.mu.Lock()
		delete(e.active, sceneID)
		e.mu.Unlock()
		return fmt.Errorf("activate %s: %w", sceneID, err)
	}

	log.Info().Str("scene", sceneID).Int("members", len(snaps)).Msg("Scene activated")
	return nil
}

// Deactivate restores every captured member entity to its snapshotted
// state. The record is removed up front, so the scene reads as inactive
// while restoration runs. Each per-entity restoration is independent: one
// failure is surfaced but does not abort the rest.
func (e *Engine) Deactivate(ctx context.Context, sceneID string) error {
	g := e.guard(sceneID)
	g.Lock()
	defer g.Unlock()
	return e.deactivate(ctx, sceneID)
}

func (e *Engine) deactivate(ctx context.Context, sceneID string) error {
	e.mu.Lock()
	snaps, ok := e.active[sceneID]
	if ok {
		delete(e.active, sceneID)
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}

	var errs []error
	for _, snap := range snaps {
		if err := e.restore(ctx, snap); err != nil {
			log.Error().Err(err).Str("scene", sceneID).Str("entity", snap.EntityID).
				Msg("Failed to restore entity")
			errs = append(errs, fmt.Errorf("restore %s: %w", snap.EntityID, err))
		}
	}

	log.Info().Str("scene", sceneID).Int("members", len(snaps)).
		Int("failed", len(errs)).Msg("Scene deactivated")
	return errors.Join(errs...)
}

// Toggle activates an inactive scene and deactivates an active one.
func (e *Engine) Toggle(ctx context.Context, sceneID string) error {
	g := e.guard(sceneID)
	g.Lock()
	defer g.Unlock()

	e.mu.Lock()
	_, isActive := e.active[sceneID]
	e.mu.Unlock()

	if isActive {
		return e.deactivate(ctx, sceneID)
	}
	return e.activate(ctx, sceneID)
}

// restore issues the domain-appropriate inverse call for one snapshot.
func (e *Engine) restore(ctx context.Context, snap Snapshot) error {
	domain := entity.Domain(snap.EntityID)

	switch domain {
	case entity.DomainLight:
		if snap.State == entity.StateOn {
			params := map[string]any{
				"entity_id":  snap.EntityID,
				"transition": transitionSeconds,
			}
			for _, key := range lightRestoreAttrs {
				if v, ok := snap.Attributes[key]; ok {
					params[key] = v
				}
			}
			_, err := e.hub.InvokeAction(ctx, domain, "turn_on", params)
			return err
		}
		_, err := e.hub.InvokeAction(ctx, domain, "turn_off", map[string]any{
			"entity_id":  snap.EntityID,
			"transition": transitionSeconds,
		})
		return err

	case entity.DomainSwitch, entity.DomainInputBoolean:
		name := "turn_off"
		if snap.State == entity.StateOn {
			name = "turn_on"
		}
		_, err := e.hub.InvokeAction(ctx, domain, name, map[string]any{
			"entity_id": snap.EntityID,
		})
		return err

	case entity.DomainCover:
		if snap.State == entity.StateOpen || snap.State == entity.StateOpening {
			if pos, ok := snap.Attributes["current_position"]; ok {
				_, err := e.hub.InvokeAction(ctx, domain, "set_cover_position", map[string]any{
					"entity_id": snap.EntityID,
					"position":  pos,
				})
				return err
			}
			_, err := e.hub.InvokeAction(ctx, domain, "open_cover", map[string]any{
				"entity_id": snap.EntityID,
			})
			return err
		}
		_, err := e.hub.InvokeAction(ctx, domain, "close_cover", map[string]any{
			"entity_id": snap.EntityID,
		})
		return err

	default:
		// Best effort for domains without a specific inverse.
		switch snap.State {
		case entity.StateOn:
			_, err := e.hub.InvokeAction(ctx, "homeassistant", "turn_on", map[string]any{
				"entity_id": snap.EntityID,
			})
			return err
		case entity.StateOff:
			_, err := e.hub.InvokeAction(ctx, "homeassistant", "turn_off", map[string]any{
				"entity_id": snap.EntityID,
			})
			return err
		default:
			return nil
		}
	}
}

// lightRestoreAttrs is the attribute subset kept for dimmable lights;
// everything else a light carries is irrelevant to restoration.
var lightRestoreAttrs = []string{"brightness", "color_temp", "rgb_color"}

// capture builds the snapshot for one member entity, keeping only the
// attributes its domain needs for restoration.
func capture(e *entity.Entity) Snapshot {
	snap := Snapshot{
		EntityID: e.ID,
		State:    e.State,
	}

	switch e.Domain() {
	case entity.DomainLight:
		for _, key := range lightRestoreAttrs {
			if v, ok := e.Attributes[key]; ok {
				if snap.Attributes == nil {
					snap.Attributes = make(map[string]any, len(lightRestoreAttrs))
				}
				snap.Attributes[key] = v
			}
		}
	default:
		if len(e.Attributes) > 0 {
			snap.Attributes = make(map[string]any, len(e.Attributes))
			for k, v := range e.Attributes {
				snap.Attributes[k] = v
			}
		}
	}
	return snap
}

// memberIDs extracts the member entity ids from a scene entity's
// attribute map.
func memberIDs(sceneEnt *entity.Entity) []string {
	raw, ok := sceneEnt.Attributes["entity_id"]
	if !ok {
		return nil
	}

	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
