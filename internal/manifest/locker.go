package manifest

import (
	"context"
	"sync"
	"time"
)

// Locker grants exclusive, expiring leases on manifest keys.
type Locker interface {
	// TryAcquire returns ok=false without blocking when the key is held.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (g Guard, ok bool, err error)
}

// Guard is one holder's claim on a key.
type Guard interface {
	// Refresh extends the claim by ttl. It reports false once the claim has
	// expired, whether or not another holder has taken the key since.
	Refresh(ctx context.Context, ttl time.Duration) (bool, error)
	// Release gives the key up if this guard still holds it. It is idempotent.
	Release()
}

type keyToken struct {
	token   uint64
	expires time.Time
}

// KeyLocker is an in-process Locker: a map from key to the token of its
// current holder. A lease that outlives its ttl may be taken over.
type KeyLocker struct {
	mu   sync.Mutex
	held map[string]keyToken
	next uint64
	now  func() time.Time
}

var _ Locker = (*KeyLocker)(nil)

// NewKeyLocker creates an empty KeyLocker.
func NewKeyLocker() *KeyLocker {
	return &KeyLocker{held: make(map[string]keyToken), now: time.Now}
}

// TryAcquire implements Locker.
func (k *KeyLocker) TryAcquire(_ context.Context, key string, ttl time.Duration) (Guard, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	if cur, ok := k.held[key]; ok && cur.live(now) {
		return nil, false, nil
	}

	k.next++
	tok := keyToken{token: k.next}
	if ttl > 0 {
		tok.expires = now.Add(ttl)
	}
	k.held[key] = tok
	return &keyGuard{locker: k, key: key, token: tok.token}, true, nil
}

func (t keyToken) live(now time.Time) bool {
	return t.expires.IsZero() || now.Before(t.expires)
}

type keyGuard struct {
	locker *KeyLocker
	key    string
	token  uint64
	once   sync.Once
}

func (g *keyGuard) Refresh(_ context.Context, ttl time.Duration) (bool, error) {
	k := g.locker
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	cur, ok := k.held[g.key]
	if !ok || cur.token != g.token {
		return false, nil
	}
	if !cur.live(now) {
		delete(k.held, g.key)
		return false, nil
	}
	if ttl > 0 {
		cur.expires = now.Add(ttl)
	}
	k.held[g.key] = cur
	return true, nil
}

func (g *keyGuard) Release() {
	g.once.Do(func() {
		k := g.locker
		k.mu.Lock()
		defer k.mu.Unlock()
		if cur, ok := k.held[g.key]; ok && cur.token == g.token {
			delete(k.held, g.key)
		}
	})
}
