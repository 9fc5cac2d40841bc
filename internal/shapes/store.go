package shapes

import (
	"errors"
	"sync"
)

// ErrAlreadyInitialized indicates that a store received a second snapshot.
var ErrAlreadyInitialized = errors.New("shapes: store already initialized")

// Store is the ordered shape list for one room. Iteration order is render order.
type Store struct {
	mu          sync.RWMutex
	shapes      []Shape
	initialized bool
	onChange    func()
}

// NewStore returns an empty, uninitialized store.
func NewStore() *Store {
	return &Store{}
}

// OnChange registers a callback invoked after every mutation, outside the store lock.
func (s *Store) OnChange(callback func()) {
	s.mu.Lock()
	s.onChange = callback
	s.mu.Unlock()
}

// Initialize replaces the contents with the session snapshot. It may be called once.
func (s *Store) Initialize(snapshot []Shape) error {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return ErrAlreadyInitialized
	}
	s.shapes = make([]Shape, 0, len(snapshot))
	for _, shape := range snapshot {
		s.shapes = append(s.shapes, shape.Clone())
	}
	s.initialized = true
	callback := s.onChange
	s.mu.Unlock()

	notify(callback)
	return nil
}

// Initialized reports whether the snapshot was loaded.
func (s *Store) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// Apply appends a shape. Duplicate ids are kept.
func (s *Store) Apply(shape Shape) {
	s.mu.Lock()
	s.shapes = append(s.shapes, shape.Clone())
	callback := s.onChange
	s.mu.Unlock()

	notify(callback)
}

// Delete removes the first shape carrying id and reports whether one was found.
func (s *Store) Delete(id ID) bool {
	s.mu.Lock()
	index := -1
	for i, shape := range s.shapes {
		if shape.ID == id {
			index = i
			break
		}
	}
	if index < 0 {
		s.mu.Unlock()
		return false
	}
	s.shapes = append(s.shapes[:index], s.shapes[index+1:]...)
	callback := s.onChange
	s.mu.Unlock()

	notify(callback)
	return true
}

// Erase removes every shape accepted by match and returns them in store order.
func (s *Store) Erase(match func(Shape) bool) []Shape {
	s.mu.Lock()
	var removed []Shape
	kept := s.shapes[:0]
	for _, shape := range s.shapes {
		if match(shape) {
			removed = append(removed, shape)
			continue
		}
		kept = append(kept, shape)
	}
	for i := len(kept); i < len(s.shapes); i++ {
		s.shapes[i] = Shape{}
	}
	s.shapes = kept
	callback := s.onChange
	s.mu.Unlock()

	if len(removed) > 0 {
		notify(callback)
	}
	return removed
}

// List returns a copy of the shapes in render order.
func (s *Store) List() []Shape {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]Shape, 0, len(s.shapes))
	for _, shape := range s.shapes {
		list = append(list, shape.Clone())
	}
	return list
}

// Len returns the number of shapes held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.shapes)
}

func notify(callback func()) {
	if callback != nil {
		callback()
	}
}
