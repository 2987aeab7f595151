package store

import (
	"encoding/json"
	"fmt"

	"github.com/utafrali/cartstore/internal/domain"
)

// snapshotVersion is written with every snapshot. Readers accept any version.
const snapshotVersion = 0

// snapshot is the persisted form of a cart: {"state":{"items":[...]},"version":0}.
type snapshot struct {
	State   snapshotState `json:"state"`
	Version int           `json:"version"`
}

type snapshotState struct {
	Items []domain.CartLine `json:"items"`
}

func encodeSnapshot(lines domain.Lines) ([]byte, error) {
	items := lines.Clone()
	data, err := json.Marshal(snapshot{
		State:   snapshotState{Items: items},
		Version: snapshotVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("encode cart snapshot: %w", err)
	}
	return data, nil
}

// decodeSnapshot parses a persisted snapshot and normalizes its lines. The
// second result counts the lines that were dropped or merged.
func decodeSnapshot(data []byte) (domain.Lines, int, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, 0, fmt.Errorf("decode cart snapshot: %w", err)
	}
	lines, dropped := domain.Normalize(snap.State.Items)
	return lines, dropped, nil
}
