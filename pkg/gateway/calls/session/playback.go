package session

import "sync"

// playbackTracker pairs outbound marks with their echoes from the provider.
// The provider echoes a mark once every frame queued before it has played.
type playbackTracker struct {
	mu      sync.Mutex
	waiting map[string]chan struct{}
	closed  bool
}

func newPlaybackTracker() *playbackTracker {
	return &playbackTracker{waiting: make(map[string]chan struct{})}
}

// expect registers a mark name and returns a channel closed when its echo
// arrives or the tracker is closed.
func (p *playbackTracker) expect(name string) <-chan struct{} {
	ch := make(chan struct{})
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		close(ch)
		return ch
	}
	if prev, ok := p.waiting[name]; ok {
		close(prev)
	}
	p.waiting[name] = ch
	return ch
}

// resolve reports whether name was pending.
func (p *playbackTracker) resolve(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.waiting[name]
	if !ok {
		return false
	}
	delete(p.waiting, name)
	close(ch)
	return true
}

func (p *playbackTracker) pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiting)
}

func (p *playbackTracker) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for name, ch := range p.waiting {
		close(ch)
		delete(p.waiting, name)
	}
}
