// internal/browser/keylock.go
package browser

import (
	"context"
	"sync"
)

// KeyedLock serializes work per key in strict enqueue order. Callers reserve
// their position with Enqueue at submission time, then Wait when they are
// ready to run; the grant order for a key is exactly the Enqueue order.
// Different keys never contend.
type KeyedLock struct {
	mu    sync.Mutex
	tails map[string]*Ticket
}

// NewKeyedLock creates an empty KeyedLock.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{tails: make(map[string]*Ticket)}
}

// Ticket is one reserved position in a key's queue. Release must be called
// exactly once, even when Wait returned an error; defer it.
type Ticket struct {
	lock *KeyedLock
	key  string
	prev <-chan struct{}
	done chan struct{}
	once sync.Once
}

// Enqueue reserves the next position for key. It never blocks.
func (l *KeyedLock) Enqueue(key string) *Ticket {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := &Ticket{lock: l, key: key, done: make(chan struct{})}
	if tail, ok := l.tails[key]; ok {
		t.prev = tail.done
	} else {
		t.prev = closedChan
	}
	l.tails[key] = t
	return t
}

// Wait blocks until every earlier ticket for the same key has released, or
// the context is done. On error the caller holds no turn but must still
// Release the ticket so later tickets are not stranded.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.prev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release hands the turn to the next ticket. If this ticket was abandoned
// before its turn arrived, the handoff happens once its predecessors finish,
// preserving order for everyone behind it.
func (t *Ticket) Release() {
	t.once.Do(func() {
		select {
		case <-t.prev:
			t.finish()
		default:
			go func() {
				<-t.prev
				t.finish()
			}()
		}
	})
}

func (t *Ticket) finish() {
	close(t.done)
	t.lock.mu.Lock()
	if t.lock.tails[t.key] == t {
		delete(t.lock.tails, t.key)
	}
	t.lock.mu.Unlock()
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()
