package domain

import (
	"errors"
	"fmt"
)

// NotFound is returned by FindIndexByID when no element carries the id.
const NotFound = -1

// ErrIndexOutOfRange is returned when an index falls outside the bounds an
// operation accepts. Indices are never clamped.
var ErrIndexOutOfRange = errors.New("index out of range")

// Identified is implemented by board elements addressed by id.
type Identified interface {
	ItemID() string
}

// FindIndexByID returns the position of the first element whose id equals
// id, or NotFound.
func FindIndexByID[T Identified](items []T, id string) int {
	for i, item := range items {
		if item.ItemID() == id {
			return i
		}
	}
	return NotFound
}

// InsertAt returns a new slice with item placed at index. Valid indices are
// 0 through len(items) inclusive.
func InsertAt[T any](items []T, item T, index int) ([]T, error) {
	if index < 0 || index > len(items) {
		return nil, outOfRange("insert", index, len(items))
	}
	out := make([]T, 0, len(items)+1)
	out = append(out, items[:index]...)
	out = append(out, item)
	out = append(out, items[index:]...)
	return out, nil
}

// RemoveAt returns a new slice without the element at index.
func RemoveAt[T any](items []T, index int) ([]T, error) {
	if index < 0 || index >= len(items) {
		return nil, outOfRange("remove", index, len(items))
	}
	out := make([]T, 0, len(items)-1)
	out = append(out, items[:index]...)
	out = append(out, items[index+1:]...)
	return out, nil
}

// OverrideAt returns a copy of items with position index replaced by item.
func OverrideAt[T any](items []T, item T, index int) ([]T, error) {
	if index < 0 || index >= len(items) {
		return nil, outOfRange("override", index, len(items))
	}
	out := make([]T, len(items))
	copy(out, items)
	out[index] = item
	return out, nil
}

// MoveItem removes the element at from and inserts it at to, where to is
// resolved against the slice after the removal.
func MoveItem[T any](items []T, from, to int) ([]T, error) {
	if from < 0 || from >= len(items) {
		return nil, outOfRange("move", from, len(items))
	}
	item := items[from]
	removed, err := RemoveAt(items, from)
	if err != nil {
		return nil, err
	}
	return InsertAt(removed, item, to)
}

func outOfRange(op string, index, length int) error {
	return fmt.Errorf("%s at %d (len %d): %w", op, index, length, ErrIndexOutOfRange)
}
