package converge

import (
	"sort"
	"sync"
	"time"
)

// KeySet holds keys owned by in-flight tasks. Acquisition is an atomic
// check-and-insert; the returned release func frees the key exactly once.
type KeySet struct {
	mu   sync.Mutex
	held map[string]time.Time
}

// NewKeySet creates an empty key set.
func NewKeySet() *KeySet {
	return &KeySet{held: make(map[string]time.Time)}
}

// TryAcquire claims key. ok is false when another task already holds it.
func (k *KeySet) TryAcquire(key string) (release func(), ok bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, busy := k.held[key]; busy {
		return nil, false
	}
	k.held[key] = time.Now()

	var once sync.Once
	return func() {
		once.Do(func() {
			k.mu.Lock()
			delete(k.held, key)
			k.mu.Unlock()
		})
	}, true
}

// Held reports whether key is currently owned.
func (k *KeySet) Held(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.held[key]
	return ok
}

// Active lists held keys in sorted order.
func (k *KeySet) Active() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]string, 0, len(k.held))
	for key := range k.held {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
