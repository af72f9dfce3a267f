package domain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// ActionType is the wire discriminator of an action envelope.
type ActionType string

const (
	ActionAddList        ActionType = "ADD_LIST"
	ActionAddTask        ActionType = "ADD_TASK"
	ActionMoveList       ActionType = "MOVE_LIST"
	ActionSetDraggedItem ActionType = "SET_DRAGGED_ITEM"
	ActionMoveTask       ActionType = "MOVE_TASK"
)

// ErrMalformedAction is returned when a known action type carries a payload
// that does not decode into its shape.
var ErrMalformedAction = errors.New("malformed action")

// Action is a discrete board transition request.
type Action interface {
	Type() ActionType
}

// AddList appends an empty list.
type AddList struct {
	Text string
}

// AddTask appends a task to the list identified by ListID. On the wire the
// list id travels as "taskId".
type AddTask struct {
	Text   string `json:"text"`
	ListID string `json:"taskId"`
}

// MoveList reorders lists.
type MoveList struct {
	DragIndex  int `json:"dragIndex"`
	HoverIndex int `json:"hoverIndex"`
}

// SetDraggedItem records or clears (nil Item) the item in flight.
type SetDraggedItem struct {
	Item *DragItem
}

// MoveTask moves a task within a list or across lists.
type MoveTask struct {
	DragIndex    int    `json:"dragIndex"`
	HoverIndex   int    `json:"hoverIndex"`
	SourceColumn string `json:"sourceColumn"`
	TargetColumn string `json:"targetColumn"`
}

// UnknownAction carries an action type this service does not handle. The
// reducer passes state through unchanged for it.
type UnknownAction struct {
	Name ActionType
}

func (AddList) Type() ActionType { return ActionAddList }

func (AddTask) Type() ActionType { return ActionAddTask }

func (MoveList) Type() ActionType { return ActionMoveList }

func (SetDraggedItem) Type() ActionType { return ActionSetDraggedItem }

func (MoveTask) Type() ActionType { return ActionMoveTask }

func (a UnknownAction) Type() ActionType { return a.Name }

// Envelope is the wire form of an action.
type Envelope struct {
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	Type           ActionType      `json:"type"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// DecodeAction converts an envelope into a typed action.
func DecodeAction(env Envelope) (Action, error) {
	switch env.Type {
	case ActionAddList:
		var text string
		if err := decodePayload(env, &text); err != nil {
			return nil, err
		}
		return AddList{Text: text}, nil
	case ActionAddTask:
		var a AddTask
		if err := decodePayload(env, &a); err != nil {
			return nil, err
		}
		return a, nil
	case ActionMoveList:
		var a MoveList
		if err := decodePayload(env, &a); err != nil {
			return nil, err
		}
		return a, nil
	case ActionSetDraggedItem:
		if isNullPayload(env.Payload) {
			return SetDraggedItem{}, nil
		}
		var item DragItem
		if err := decodePayload(env, &item); err != nil {
			return nil, err
		}
		return SetDraggedItem{Item: &item}, nil
	case ActionMoveTask:
		var a MoveTask
		if err := decodePayload(env, &a); err != nil {
			return nil, err
		}
		return a, nil
	default:
		return UnknownAction{Name: env.Type}, nil
	}
}

// EncodeAction is the inverse of DecodeAction.
func EncodeAction(a Action) (Envelope, error) {
	var payload any
	switch v := a.(type) {
	case AddList:
		payload = v.Text
	case SetDraggedItem:
		payload = v.Item
	case UnknownAction:
		return Envelope{Type: v.Name}, nil
	default:
		payload = v
	}
	data, err := sonic.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", a.Type(), err)
	}
	return Envelope{Type: a.Type(), Payload: data}, nil
}

func decodePayload(env Envelope, dst any) error {
	if isNullPayload(env.Payload) {
		return fmt.Errorf("%w: %s without payload", ErrMalformedAction, env.Type)
	}
	if err := sonic.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedAction, env.Type, err)
	}
	return nil
}

func isNullPayload(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
