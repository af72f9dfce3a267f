package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an action names a list that is not on the
// board.
var ErrNotFound = errors.New("not found")

// NewID generates list and task ids. Tests may replace it.
var NewID = uuid.NewString

// Reduce is the total form of Apply: any action that cannot be applied
// leaves the board unchanged.
func Reduce(b Board, a Action) Board {
	next, _ := Apply(b, a)
	return next
}

// Apply computes the board that follows b after a. On error the input board
// is returned as is. The input board is never modified.
func Apply(b Board, a Action) (Board, error) {
	switch act := a.(type) {
	case AddList:
		return addList(b, act), nil
	case AddTask:
		return addTask(b, act)
	case MoveList:
		return moveList(b, act)
	case SetDraggedItem:
		return setDraggedItem(b, act)
	case MoveTask:
		return moveTask(b, act)
	default:
		return b, nil
	}
}

func addList(b Board, a AddList) Board {
	lists := make([]List, 0, len(b.Lists)+1)
	lists = append(lists, b.Lists...)
	lists = append(lists, List{ID: NewID(), Text: a.Text, Tasks: []Task{}})
	return Board{Lists: lists, DraggedItem: b.DraggedItem}
}

func addTask(b Board, a AddTask) (Board, error) {
	idx := FindIndexByID(b.Lists, a.ListID)
	if idx == NotFound {
		return b, fmt.Errorf("list %q: %w", a.ListID, ErrNotFound)
	}
	target := b.Lists[idx]
	tasks := make([]Task, 0, len(target.Tasks)+1)
	tasks = append(tasks, target.Tasks...)
	tasks = append(tasks, Task{ID: NewID(), Text: a.Text})

	lists, err := OverrideAt(b.Lists, List{ID: target.ID, Text: target.Text, Tasks: tasks}, idx)
	if err != nil {
		return b, err
	}
	return Board{Lists: lists, DraggedItem: b.DraggedItem}, nil
}

func moveList(b Board, a MoveList) (Board, error) {
	lists, err := MoveItem(b.Lists, a.DragIndex, a.HoverIndex)
	if err != nil {
		return b, fmt.Errorf("move list: %w", err)
	}
	return Board{Lists: lists, DraggedItem: b.DraggedItem}, nil
}

func setDraggedItem(b Board, a SetDraggedItem) (Board, error) {
	if a.Item == nil {
		return Board{Lists: b.Lists}, nil
	}
	if err := a.Item.Validate(); err != nil {
		return b, err
	}
	item := *a.Item
	return Board{Lists: b.Lists, DraggedItem: &item}, nil
}

// moveTask removes the task from its source list first and then locates the
// target list in the updated board, so a same-list move inserts against the
// shortened task slice.
func moveTask(b Board, a MoveTask) (Board, error) {
	srcIdx := FindIndexByID(b.Lists, a.SourceColumn)
	if srcIdx == NotFound {
		return b, fmt.Errorf("source list %q: %w", a.SourceColumn, ErrNotFound)
	}
	source := b.Lists[srcIdx]
	if a.DragIndex < 0 || a.DragIndex >= len(source.Tasks) {
		return b, fmt.Errorf("move task from %q: %w", a.SourceColumn, outOfRange("remove", a.DragIndex, len(source.Tasks)))
	}
	task := source.Tasks[a.DragIndex]
	remaining, err := RemoveAt(source.Tasks, a.DragIndex)
	if err != nil {
		return b, err
	}
	lists, err := OverrideAt(b.Lists, List{ID: source.ID, Text: source.Text, Tasks: remaining}, srcIdx)
	if err != nil {
		return b, err
	}

	dstIdx := FindIndexByID(lists, a.TargetColumn)
	if dstIdx == NotFound {
		return b, fmt.Errorf("target list %q: %w", a.TargetColumn, ErrNotFound)
	}
	target := lists[dstIdx]
	inserted, err := InsertAt(target.Tasks, task, a.HoverIndex)
	if err != nil {
		return b, fmt.Errorf("move task into %q: %w", a.TargetColumn, err)
	}
	lists, err = OverrideAt(lists, List{ID: target.ID, Text: target.Text, Tasks: inserted}, dstIdx)
	if err != nil {
		return b, err
	}
	return Board{Lists: lists, DraggedItem: b.DraggedItem}, nil
}
