package domain

// Task is a single card on the board.
type Task struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// ItemID implements Identified.
func (t Task) ItemID() string { return t.ID }

// List is a named, ordered column of tasks.
type List struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Tasks []Task `json:"tasks"`
}

// ItemID implements Identified.
func (l List) ItemID() string { return l.ID }

// Board is the root aggregate held by a session. Boards are treated as
// values: transitions build new slices instead of writing into old ones.
type Board struct {
	Lists       []List    `json:"lists"`
	DraggedItem *DragItem `json:"draggedItem,omitempty"`
}

// Clone returns a deep copy that shares no slices or pointers with b.
func (b Board) Clone() Board {
	out := Board{Lists: make([]List, len(b.Lists))}
	for i, l := range b.Lists {
		tasks := make([]Task, len(l.Tasks))
		copy(tasks, l.Tasks)
		out.Lists[i] = List{ID: l.ID, Text: l.Text, Tasks: tasks}
	}
	if b.DraggedItem != nil {
		item := *b.DraggedItem
		out.DraggedItem = &item
	}
	return out
}

// Normalize replaces nil slices with empty ones so the board always
// serializes lists and tasks as arrays.
func (b *Board) Normalize() {
	if b.Lists == nil {
		b.Lists = []List{}
	}
	for i := range b.Lists {
		if b.Lists[i].Tasks == nil {
			b.Lists[i].Tasks = []Task{}
		}
	}
}

// TaskCount returns the number of tasks across all lists.
func (b Board) TaskCount() int {
	n := 0
	for _, l := range b.Lists {
		n += len(l.Tasks)
	}
	return n
}

// DefaultBoard is the seed used for users without a stored board.
func DefaultBoard() Board {
	return Board{
		Lists: []List{
			{ID: "0", Text: "To Do", Tasks: []Task{{ID: "c0", Text: "Generate app scaffold"}}},
			{ID: "1", Text: "In Progress", Tasks: []Task{{ID: "c2", Text: "Learn Typescript"}}},
			{ID: "2", Text: "Done", Tasks: []Task{{ID: "c3", Text: "Begin to use static typing"}}},
		},
	}
}
