package domain

import (
	"errors"
	"reflect"
	"testing"
)

func TestFindIndexByID(t *testing.T) {
	lists := []List{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	if got := FindIndexByID(lists, "b"); got != 1 {
		t.Fatalf("expected index 1, got %d", got)
	}
	if got := FindIndexByID(lists, "missing"); got != NotFound {
		t.Fatalf("expected NotFound, got %d", got)
	}
	if got := FindIndexByID([]Task(nil), "x"); got != NotFound {
		t.Fatalf("expected NotFound on empty slice, got %d", got)
	}
}

func TestInsertRemoveRoundTrip(t *testing.T) {
	base := []string{"a", "b", "c"}
	for i := 0; i <= len(base); i++ {
		inserted, err := InsertAt(base, "x", i)
		if err != nil {
			t.Fatalf("insert at %d: %v", i, err)
		}
		if inserted[i] != "x" || len(inserted) != len(base)+1 {
			t.Fatalf("insert at %d produced %v", i, inserted)
		}
		removed, err := RemoveAt(inserted, i)
		if err != nil {
			t.Fatalf("remove at %d: %v", i, err)
		}
		if !reflect.DeepEqual(removed, base) {
			t.Fatalf("round trip at %d: got %v want %v", i, removed, base)
		}
	}
}

func TestArrayOpsDoNotMutateInput(t *testing.T) {
	base := []string{"a", "b", "c"}
	snapshot := append([]string(nil), base...)

	if _, err := InsertAt(base[:2], "x", 1); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := RemoveAt(base, 0); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := OverrideAt(base, "z", 2); err != nil {
		t.Fatalf("override: %v", err)
	}
	if _, err := MoveItem(base, 0, 2); err != nil {
		t.Fatalf("move: %v", err)
	}
	if !reflect.DeepEqual(base, snapshot) {
		t.Fatalf("input mutated: %v", base)
	}
}

func TestOverrideAt(t *testing.T) {
	got, err := OverrideAt([]string{"a", "b", "c"}, "B", 1)
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if want := []string{"a", "B", "c"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestMoveItemRemovesBeforeInserting(t *testing.T) {
	tests := []struct {
		name     string
		from, to int
		want     []string
	}{
		{name: "forward", from: 0, to: 2, want: []string{"b", "c", "a", "d"}},
		{name: "to end", from: 0, to: 3, want: []string{"b", "c", "d", "a"}},
		{name: "backward", from: 3, to: 0, want: []string{"d", "a", "b", "c"}},
		{name: "same", from: 1, to: 1, want: []string{"a", "b", "c", "d"}},
		{name: "adjacent", from: 1, to: 2, want: []string{"a", "c", "b", "d"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := []string{"a", "b", "c", "d"}
			got, err := MoveItem(base, tt.from, tt.to)
			if err != nil {
				t.Fatalf("move: %v", err)
			}
			if len(got) != len(base) {
				t.Fatalf("length changed: %d", len(got))
			}
			if got[tt.to] != base[tt.from] {
				t.Fatalf("moved element not at %d: %v", tt.to, got)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %v want %v", got, tt.want)
			}
		})
	}
}

func TestArrayOpsRejectOutOfRange(t *testing.T) {
	base := []string{"a", "b"}
	checks := map[string]func() error{
		"insert negative": func() error { _, err := InsertAt(base, "x", -1); return err },
		"insert past end": func() error { _, err := InsertAt(base, "x", 3); return err },
		"remove at len":   func() error { _, err := RemoveAt(base, 2); return err },
		"remove empty":    func() error { _, err := RemoveAt([]string{}, 0); return err },
		"override":        func() error { _, err := OverrideAt(base, "x", 5); return err },
		"move from":       func() error { _, err := MoveItem(base, 2, 0); return err },
		"move to":         func() error { _, err := MoveItem(base, 0, 2); return err },
	}
	for name, fn := range checks {
		t.Run(name, func(t *testing.T) {
			if err := fn(); !errors.Is(err, ErrIndexOutOfRange) {
				t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
			}
		})
	}
}
