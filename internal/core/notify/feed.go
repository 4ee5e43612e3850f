package notify

import "sync"

// Feed is the in-memory notification list shared by the process. It keeps at
// most max items, newest first, and fans new items out to subscribers.
type Feed struct {
	mu    sync.RWMutex
	max   int
	items []Notification
	subs  map[int]chan Notification
	next  int
}

// NewFeed creates a feed retaining at most max notifications.
func NewFeed(max int) *Feed {
	if max < 1 {
		max = DefaultMax
	}
	return &Feed{
		max:  max,
		subs: make(map[int]chan Notification),
	}
}

// Max returns the retention cap.
func (f *Feed) Max() int {
	return f.max
}

// Push adds n to the front of the list, evicting the oldest entry when the
// cap is exceeded. Subscribers that are not keeping up miss the item rather
// than blocking the producer.
func (f *Feed) Push(n Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.items = append([]Notification{n}, f.items...)
	if len(f.items) > f.max {
		f.items = f.items[:f.max]
	}

	for _, ch := range f.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

// List returns a copy of the retained notifications, newest first.
func (f *Feed) List() []Notification {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]Notification, len(f.items))
	copy(out, f.items)
	return out
}

// Len returns the number of retained notifications.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.items)
}

// Clear drops all retained notifications.
func (f *Feed) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = nil
}

// Subscribe returns a channel receiving every pushed notification and a
// function that cancels the subscription and closes the channel.
func (f *Feed) Subscribe(buffer int) (<-chan Notification, func()) {
	if buffer < 1 {
		buffer = 16
	}

	f.mu.Lock()
	id := f.next
	f.next++
	ch := make(chan Notification, buffer)
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			close(ch)
			f.mu.Unlock()
		})
	}
}
