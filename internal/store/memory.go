package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"itemstore/internal/models"
)

var ErrItemNotFound = errors.New("item not found")

// MemoryStore keeps all items in process memory. A single mutex guards the
// map and the id counter; the counter only ever moves forward, so an id is
// never handed out twice even after the item it belonged to is deleted.
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[int64]models.Item
	nextID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:  make(map[int64]models.Item),
		nextID: 1,
	}
}

func (s *MemoryStore) List(ctx context.Context) ([]models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]models.Item, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return models.Item{}, ErrItemNotFound
	}
	return item, nil
}

func (s *MemoryStore) Create(ctx context.Context, name, description string) (models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := models.Item{
		ID:          s.nextID,
		Name:        name,
		Description: description,
	}
	s.nextID++
	s.items[item.ID] = item
	return item, nil
}

func (s *MemoryStore) Update(ctx context.Context, id int64, update models.ItemUpdate) (models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return models.Item{}, ErrItemNotFound
	}
	if update.Name != nil {
		item.Name = *update.Name
	}
	if update.Description != nil {
		item.Description = *update.Description
	}
	s.items[id] = item
	return item, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return ErrItemNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items), nil
}
