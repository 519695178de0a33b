package transport

import "sync"

// HandlerID identifies a registered handler for later removal.
type HandlerID uint64

// registry keeps handlers in registration order.
type registry[H any] struct {
	mu    sync.Mutex
	next  HandlerID
	order []HandlerID
	byID  map[HandlerID]H
}

func (r *registry[H]) add(h H) HandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byID == nil {
		r.byID = make(map[HandlerID]H)
	}
	r.next++
	r.byID[r.next] = h
	r.order = append(r.order, r.next)
	return r.next
}

func (r *registry[H]) remove(id HandlerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *registry[H]) get(id HandlerID) (H, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byID[id]
	return h, ok
}

func (r *registry[H]) ids() []HandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]HandlerID(nil), r.order...)
}

// each calls fn for every handler still registered at the moment it is reached,
// so a handler removed by an earlier one in the same dispatch is skipped.
func (r *registry[H]) each(fn func(H)) {
	for _, id := range r.ids() {
		if h, ok := r.get(id); ok {
			fn(h)
		}
	}
}
