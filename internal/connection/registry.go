package connection

// handlerList keeps callbacks in registration order. Each registration gets
// its own id so removing one never affects another registration of the
// same function.
type handlerList[H any] struct {
	nextID  uint64
	entries []handlerEntry[H]
}

type handlerEntry[H any] struct {
	id uint64
	fn H
}

func (l *handlerList[H]) add(fn H) uint64 {
	l.nextID++
	l.insert(l.nextID, fn)
	return l.nextID
}

func (l *handlerList[H]) insert(id uint64, fn H) {
	l.entries = append(l.entries, handlerEntry[H]{id: id, fn: fn})
}

func (l *handlerList[H]) remove(id uint64) bool {
	for i, e := range l.entries {
		if e.id == id {
			l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (l *handlerList[H]) len() int {
	return len(l.entries)
}

// snapshot copies the callbacks so they can be invoked without holding the lock.
func (l *handlerList[H]) snapshot() []H {
	if len(l.entries) == 0 {
		return nil
	}
	out := make([]H, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.fn
	}
	return out
}

// registry maps inbound event types to their subscribers. Types with no
// subscribers are pruned. Ids are unique across types so a stale
// unsubscribe cannot hit a list that was pruned and recreated.
type registry struct {
	nextID uint64
	byType map[string]*handlerList[Handler]
}

func newRegistry() *registry {
	return &registry{byType: make(map[string]*handlerList[Handler])}
}

func (r *registry) add(eventType string, h Handler) uint64 {
	list, ok := r.byType[eventType]
	if !ok {
		list = &handlerList[Handler]{}
		r.byType[eventType] = list
	}
	r.nextID++
	list.insert(r.nextID, h)
	return r.nextID
}

func (r *registry) remove(eventType string, id uint64) {
	list, ok := r.byType[eventType]
	if !ok {
		return
	}
	list.remove(id)
	if list.len() == 0 {
		delete(r.byType, eventType)
	}
}

// handlers returns the subscribers for msgType followed by the catch-all
// subscribers.
func (r *registry) handlers(msgType string) []Handler {
	var out []Handler
	if list, ok := r.byType[msgType]; ok {
		out = append(out, list.snapshot()...)
	}
	if msgType != ChannelMessage {
		if list, ok := r.byType[ChannelMessage]; ok {
			out = append(out, list.snapshot()...)
		}
	}
	return out
}

func (r *registry) types() int {
	return len(r.byType)
}
