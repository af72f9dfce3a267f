package domain

import (
	"errors"
	"fmt"
)

// DragKind discriminates what a DragItem refers to.
type DragKind string

const (
	DragList DragKind = "LIST"
	DragTask DragKind = "TASK"
)

// ErrInvalidDragItem is returned for a drag descriptor that is neither a
// well-formed list nor a well-formed task.
var ErrInvalidDragItem = errors.New("invalid drag item")

// DragItem describes the element currently in flight during a drag gesture.
// A LIST item carries its original index; a TASK item additionally carries
// the id of the column it was picked up from.
type DragItem struct {
	Kind     DragKind `json:"type"`
	ID       string   `json:"id"`
	Text     string   `json:"text,omitempty"`
	Index    int      `json:"index"`
	ColumnID string   `json:"columnId,omitempty"`
}

// ListDrag builds the descriptor for a list picked up at index.
func ListDrag(id, text string, index int) DragItem {
	return DragItem{Kind: DragList, ID: id, Text: text, Index: index}
}

// TaskDrag builds the descriptor for a task picked up at index in columnID.
func TaskDrag(id, text string, index int, columnID string) DragItem {
	return DragItem{Kind: DragTask, ID: id, Text: text, Index: index, ColumnID: columnID}
}

// IsList reports whether the item is a list.
func (d DragItem) IsList() bool { return d.Kind == DragList }

// IsTask reports whether the item is a task.
func (d DragItem) IsTask() bool { return d.Kind == DragTask }

// Validate checks the variant's fields against its kind.
func (d DragItem) Validate() error {
	if d.Index < 0 {
		return fmt.Errorf("%w: negative index %d", ErrInvalidDragItem, d.Index)
	}
	switch d.Kind {
	case DragList:
		if d.ColumnID != "" {
			return fmt.Errorf("%w: list item carries column %q", ErrInvalidDragItem, d.ColumnID)
		}
	case DragTask:
		if d.ColumnID == "" {
			return fmt.Errorf("%w: task item without column", ErrInvalidDragItem)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidDragItem, d.Kind)
	}
	return nil
}
