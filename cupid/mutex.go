package cupid

import (
	"fmt"
	"sync"
)

type refMutex struct {
	sync.Mutex
	// refs counts the holder and the waiters
	refs int
}

// MutexMap hands out one mutex per key. An entry is dropped once nobody
// holds or waits for it.
type MutexMap struct {
	mu sync.Mutex           // a separate mutex to protect the map
	m  map[string]*refMutex // map from keys to mutexes
}

func NewMutexMap() *MutexMap {
	return &MutexMap{
		m: make(map[string]*refMutex),
	}
}

func (mm *MutexMap) Lock(key string) {
	mm.mu.Lock()
	mutex, ok := mm.m[key]
	if !ok {
		mutex = &refMutex{}
		mm.m[key] = mutex
	}
	mutex.refs++
	mm.mu.Unlock()

	mutex.Lock()
}

func (mm *MutexMap) Unlock(key string) {
	mm.mu.Lock()
	mutex, ok := mm.m[key]
	if !ok {
		mm.mu.Unlock()
		panic(fmt.Sprintf("tried to unlock mutex for non-existent key %s", key))
	}
	mutex.refs--
	if mutex.refs == 0 {
		delete(mm.m, key)
	}
	mm.mu.Unlock()

	mutex.Unlock()
}
