package service

import "sync"

// keyedMutex provides mutual exclusion per string key. The guard serializes
// authorizations per agent, settlement transitions per receipt, and status
// changes per wallet; operations on different keys never block each other.
//
// Entries are never evicted. The population of agents and wallets is small
// and stable, so the map stays bounded in practice.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key, creating it on first use, and returns
// the unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
