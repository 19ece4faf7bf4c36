package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// TypedStore wraps Store with JSON marshaling for one kind of value.
type TypedStore[T any] struct {
	store *Store
	kind  string
}

// NewTypedStore creates a typed view of store for kind.
func NewTypedStore[T any](store *Store, kind string) *TypedStore[T] {
	return &TypedStore[T]{
		store: store,
		kind:  kind,
	}
}

// Kind returns the resource kind this store handles.
func (s *TypedStore[T]) Kind() string {
	return s.kind
}

// Get retrieves and unmarshals the value for an ID. The bool is false if
// nothing is stored.
func (s *TypedStore[T]) Get(ctx context.Context, id string) (value T, ok bool, err error) {
	entry, ok, err := s.store.Get(ctx, s.kind, id)
	if err != nil || !ok {
		return value, false, err
	}

	if err := json.Unmarshal(entry.Payload, &value); err != nil {
		return value, false, fmt.Errorf("failed to unmarshal %s/%s: %w", s.kind, id, err)
	}

	return value, true, nil
}

// Set marshals and stores the value for an ID.
func (s *TypedStore[T]) Set(ctx context.Context, id string, value T) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", s.kind, id, err)
	}

	return s.store.Set(ctx, s.kind, id, payload)
}

// Delete removes the value for an ID.
func (s *TypedStore[T]) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, s.kind, id)
}

// Clear removes all values of this kind.
func (s *TypedStore[T]) Clear(ctx context.Context) error {
	return s.store.Clear(ctx, s.kind)
}

// All retrieves every value of this kind.
func (s *TypedStore[T]) All(ctx context.Context) (map[string]T, error) {
	entries, err := s.store.List(ctx, s.kind)
	if err != nil {
		return nil, err
	}

	values := make(map[string]T, len(entries))
	for id, e := range entries {
		var value T
		if err := json.Unmarshal(e.Payload, &value); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s/%s: %w", s.kind, id, err)
		}
		values[id] = value
	}

	return values, nil
}
