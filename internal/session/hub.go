package session

import (
	"sync"

	"genstudio/internal/generation"
)

// hub fans task events of one session out to its subscribers. Slow
// subscribers miss events rather than block task delivery.
type hub struct {
	mu     sync.Mutex
	subs   map[chan generation.Event]struct{}
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[chan generation.Event]struct{})}
}

func (h *hub) publish(ev generation.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// subscribe returns a buffered channel and a func that removes it. The
// channel is closed when the subscription ends or the session closes.
func (h *hub) subscribe(buffer int) (<-chan generation.Event, func()) {
	ch := make(chan generation.Event, buffer)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
			h.mu.Unlock()
		})
	}
}

// listeners returns the number of open subscriptions.
func (h *hub) listeners() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
