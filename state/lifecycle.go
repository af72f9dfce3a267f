package state

import (
	"errors"
	"fmt"

	"taskboard-api/domain"
)

// Phase is the load lifecycle of a session. It only ever moves forward:
// Loading to Ready or Loading to Failed.
type Phase int

const (
	PhaseLoading Phase = iota
	PhaseReady
	PhaseFailed
)

var (
	ErrNotReady = errors.New("board is still loading")
	ErrFailed   = errors.New("board failed to load")
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

func (p Phase) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// Snapshot is a point-in-time copy of a session. Board is only meaningful
// when Phase is PhaseReady; Err is only set when Phase is PhaseFailed.
type Snapshot struct {
	Phase Phase
	Board domain.Board
	Err   error
}

// Ready reports whether the snapshot carries a usable board.
func (s Snapshot) Ready() bool { return s.Phase == PhaseReady }
