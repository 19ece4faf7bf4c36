package mqtt

import (
	"context"
	"sync"
	"time"
)

// Latest keeps only the most recent payload seen on a topic.
type Latest struct {
	sub *Subscription

	mu      sync.RWMutex
	value   []byte
	ok      bool
	updated chan struct{}
}

func newLatest(sub *Subscription) *Latest {
	l := &Latest{sub: sub, updated: make(chan struct{})}
	go l.run()
	return l
}

func (l *Latest) run() {
	for {
		select {
		case <-l.sub.Done():
			return
		case msg := <-l.sub.Messages():
			l.mu.Lock()
			l.value = msg.Payload
			l.ok = true
			close(l.updated)
			l.updated = make(chan struct{})
			l.mu.Unlock()
		}
	}
}

// Value returns the latest payload, or false if none was seen yet.
func (l *Latest) Value() ([]byte, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.value, l.ok
}

// Wait returns the latest payload, waiting up to timeout for a first one.
func (l *Latest) Wait(ctx context.Context, timeout time.Duration) ([]byte, bool) {
	l.mu.RLock()
	value, ok, updated := l.value, l.ok, l.updated
	l.mu.RUnlock()
	if ok {
		return value, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-updated:
		return l.Value()
	case <-timer.C:
	case <-ctx.Done():
	case <-l.sub.Done():
	}
	return l.Value()
}

// Close releases the underlying subscription.
func (l *Latest) Close() {
	l.sub.Close()
}
