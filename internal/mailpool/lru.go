package mailpool

import "container/list"

// lru tracks the use order of a bounded set of inbox ids. Both pools use it
// to pick an eviction candidate once they are at max_live_handles_per_protocol
// (§5).
type lru struct {
	order *list.List
	index map[string]*list.Element
}

func newLRU() *lru {
	return &lru{order: list.New(), index: make(map[string]*list.Element)}
}

// touch marks id as most recently used, inserting it if new.
func (l *lru) touch(id string) {
	if el, ok := l.index[id]; ok {
		l.order.MoveToFront(el)
		return
	}
	l.index[id] = l.order.PushFront(id)
}

// remove drops id from the tracked set.
func (l *lru) remove(id string) {
	if el, ok := l.index[id]; ok {
		l.order.Remove(el)
		delete(l.index, id)
	}
}

// oldest returns the least recently used id, if any.
func (l *lru) oldest() (string, bool) {
	back := l.order.Back()
	if back == nil {
		return "", false
	}
	return back.Value.(string), true
}

func (l *lru) len() int {
	return l.order.Len()
}
