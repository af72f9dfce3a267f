package storage

import (
	"fmt"

	"github.com/bytedance/sonic"

	"taskboard-api/domain"
)

// EncodeBoard serializes a board into its wire form.
func EncodeBoard(b domain.Board) ([]byte, error) {
	out := b.Clone()
	out.Normalize()
	data, err := sonic.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode board: %w", err)
	}
	return data, nil
}

// DecodeBoard parses the wire form produced by EncodeBoard.
func DecodeBoard(data []byte) (domain.Board, error) {
	var b domain.Board
	if err := sonic.Unmarshal(data, &b); err != nil {
		return domain.Board{}, fmt.Errorf("decode board: %w", err)
	}
	b.Normalize()
	return b, nil
}
