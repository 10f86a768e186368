package session

import (
	"testing"
	"time"
)

func TestPlaybackTracker_ResolveClosesWaiter(t *testing.T) {
	p := newPlaybackTracker()
	done := p.expect("turn-1")
	if p.resolve("turn-2") {
		t.Fatalf("resolve of unknown mark should report false")
	}
	select {
	case <-done:
		t.Fatalf("waiter closed before its mark")
	default:
	}
	if !p.resolve("turn-1") {
		t.Fatalf("resolve(turn-1)=false, want true")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("waiter not closed after resolve")
	}
	if got := p.pending(); got != 0 {
		t.Fatalf("pending=%d, want 0", got)
	}
}

func TestPlaybackTracker_CloseAllReleasesWaiters(t *testing.T) {
	p := newPlaybackTracker()
	a := p.expect("turn-1")
	b := p.expect("turn-2")
	p.closeAll()
	for _, ch := range []<-chan struct{}{a, b} {
		select {
		case <-ch:
		default:
			t.Fatalf("waiter still open after closeAll")
		}
	}

	late := p.expect("turn-3")
	select {
	case <-late:
	default:
		t.Fatalf("expect after closeAll should return a closed channel")
	}
}
