package keystore

import "sync"

// KeyLocks serialises read-modify-write sequences per public key.
// Entries are reference counted and dropped once no goroutine holds or waits on them.
type KeyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyLocks creates an empty lock table
func NewKeyLocks() *KeyLocks {
	return &KeyLocks{locks: make(map[string]*keyLock)}
}

// Lock acquires the lock for publicKey and returns its release function
func (k *KeyLocks) Lock(publicKey string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[publicKey]
	if !ok {
		l = &keyLock{}
		k.locks[publicKey] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()

			k.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(k.locks, publicKey)
			}
			k.mu.Unlock()
		})
	}
}

// Len returns the number of keys currently locked or awaited
func (k *KeyLocks) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
