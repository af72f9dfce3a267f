package api

import (
	"taskboard-api/domain"
	"taskboard-api/state"
)

const postActionsMaxSize = 64 * 1024 // 64 KiB

// POST /api/actions response body
type postActionsResponse struct {
	Board   *domain.Board `json:"board,omitempty"`
	Applied int           `json:"applied"`
	Skipped int           `json:"skipped"`
	Error   string        `json:"error,omitempty"`
}

// GET /api/board body while the board is not ready
type phaseResponse struct {
	Phase state.Phase `json:"phase"`
	Error string      `json:"error,omitempty"`
}
