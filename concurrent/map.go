package concurrent

import (
	"sync"

	"github.com/pkg/errors"
)

var KeyExistsError = errors.New("Concurrent:KeyExistsError")

type Map interface {
	All() map[interface{}]interface{}
	Get(interface{}) interface{}
	Put(interface{}, interface{}) error
	Remove(interface{})

	// Runs the function while holding the map's write lock.  The map given
	// to the function must not escape it.
	Update(func(Map))
}

type mmap struct {
	lock  sync.RWMutex
	inner map[interface{}]interface{}
}

func NewMap() Map {
	return &mmap{inner: make(map[interface{}]interface{})}
}

func (s *mmap) All() map[interface{}]interface{} {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return CopyMap(s.inner)
}

func (s *mmap) Get(key interface{}) interface{} {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.inner[key]
}

func (s *mmap) Put(key interface{}, val interface{}) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return put(s.inner, key, val)
}

func (s *mmap) Remove(key interface{}) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.inner, key)
}

func (s *mmap) Update(fn func(Map)) {
	s.lock.Lock()
	defer s.lock.Unlock()
	fn(unlockedMap(s.inner))
}

func put(m map[interface{}]interface{}, key interface{}, val interface{}) error {
	if _, ok := m[key]; ok {
		return errors.WithStack(KeyExistsError)
	}

	m[key] = val
	return nil
}

// view handed to Update callers, which already hold the lock.
type unlockedMap map[interface{}]interface{}

func (u unlockedMap) All() map[interface{}]interface{} {
	return CopyMap(u)
}

func (u unlockedMap) Get(key interface{}) interface{} {
	return u[key]
}

func (u unlockedMap) Put(key interface{}, val interface{}) error {
	return put(u, key, val)
}

func (u unlockedMap) Remove(key interface{}) {
	delete(u, key)
}

func (u unlockedMap) Update(fn func(Map)) {
	fn(u)
}

func CopyMap(m map[interface{}]interface{}) map[interface{}]interface{} {
	ret := make(map[interface{}]interface{})
	for k, v := range m {
		ret[k] = v
	}
	return ret
}
