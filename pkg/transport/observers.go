package transport

import "sync"

// callbackList is an ordered observer registry. Add returns a removal
// handle; the snapshot taken by invoke preserves registration order and
// is safe against removal during notification.
type callbackList[T any] struct {
	mu        sync.Mutex
	nextID    int
	callbacks []registered[T]
}

type registered[T any] struct {
	id int
	fn T
}

func (l *callbackList[T]) add(fn T) (remove func()) {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.callbacks = append(l.callbacks, registered[T]{id: id, fn: fn})
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, r := range l.callbacks {
			if r.id == id {
				l.callbacks = append(l.callbacks[:i:i], l.callbacks[i+1:]...)
				return
			}
		}
	}
}

// get returns a snapshot of the registered callbacks in registration order.
func (l *callbackList[T]) get() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]T, len(l.callbacks))
	for i, r := range l.callbacks {
		out[i] = r.fn
	}
	return out
}

// changeSubscription pairs a change listener with its optional id filter.
type changeSubscription struct {
	listener ChangeListener
	ids      map[string]struct{} // nil means all entities
}

func newChangeSubscription(l ChangeListener, ids []string) changeSubscription {
	sub := changeSubscription{listener: l}
	if len(ids) > 0 {
		sub.ids = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			sub.ids[id] = struct{}{}
		}
	}
	return sub
}

func (s changeSubscription) matches(id string) bool {
	if s.ids == nil {
		return true
	}
	_, ok := s.ids[id]
	return ok
}

// observers bundles the three observer channels shared by both transports.
type observers struct {
	changes   callbackList[changeSubscription]
	connState callbackList[StateListener]
	errors    callbackList[ErrorListener]
}

func (o *observers) notifyChange(ev ChangeEvent) {
	for _, sub := range o.changes.get() {
		if sub.matches(ev.ID) {
			sub.listener(ev)
		}
	}
}

func (o *observers) notifyState(s ConnState) {
	for _, l := range o.connState.get() {
		l(s)
	}
}

func (o *observers) notifyError(err error) {
	for _, l := range o.errors.get() {
		l(err)
	}
}
