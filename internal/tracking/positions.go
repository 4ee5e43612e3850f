package tracking

import "sync"

// Update is the current position of the tracked entity.
type Update struct {
	Kind     Kind
	ID       string
	Position Position
}

// PositionStore holds the single current position and fans changes out to
// subscribers.
type PositionStore struct {
	mu      sync.RWMutex
	current *Update
	subs    map[int]chan Update
	nextSub int
}

// NewPositionStore creates an empty store.
func NewPositionStore() *PositionStore {
	return &PositionStore{subs: make(map[int]chan Update)}
}

// Set replaces the current position and notifies subscribers. Subscribers
// that are not keeping up miss the update.
func (p *PositionStore) Set(u Update) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = &u
	for _, ch := range p.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

// Current returns the current position, if any.
func (p *PositionStore) Current() (Update, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return Update{}, false
	}
	return *p.current, true
}

// Reset forgets the current position.
func (p *PositionStore) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = nil
}

// Subscribe returns a channel of position updates and a cancel function that
// closes it. Updates are dropped for a subscriber whose buffer is full.
func (p *PositionStore) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer < 1 {
		buffer = 16
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextSub
	p.nextSub++
	ch := make(chan Update, buffer)
	p.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.subs, id)
			close(ch)
		})
	}
}
