// Package merge collapses a run of deltas for one topic into a single
// representative delta.
package merge

import (
	"time"

	"github.com/google/uuid"

	"github.com/keytempo/fanout/internal/domain/model"
)

// Deltas merges an ordered batch of deltas for the same topic.
//
// Conflicts resolve by arrival order: a later change for a user
// overwrites an earlier one, and a removal beats any change for that
// user no matter which arrived first. The merged delta inherits topic,
// top-N depth, and version from the last element, carries a fresh
// timestamp, and is stamped with a synthetic batch ID.
//
// A single-element batch is returned as-is. An empty batch is a caller
// bug and yields ErrEmptyBatch; callers are expected to length-check
// before calling.
func Deltas(deltas []model.Delta) (model.Delta, error) {
	switch len(deltas) {
	case 0:
		return model.Delta{}, ErrEmptyBatch
	case 1:
		return deltas[0], nil
	}

	// Last write wins per user; order slices keep output deterministic.
	changes := make(map[string]model.Change)
	changeOrder := make([]string, 0, len(deltas[0].Changes))
	removed := make(map[string]struct{})
	removedOrder := make([]string, 0)

	for _, d := range deltas {
		for _, c := range d.Changes {
			if _, seen := changes[c.UserID]; !seen {
				changeOrder = append(changeOrder, c.UserID)
			}
			changes[c.UserID] = c
		}
		for _, id := range d.Removed {
			if _, seen := removed[id]; !seen {
				removed[id] = struct{}{}
				removedOrder = append(removedOrder, id)
			}
		}
	}

	// Removal always wins over any accumulated change.
	for id := range removed {
		delete(changes, id)
	}

	last := deltas[len(deltas)-1]
	out := model.Delta{
		Topic:     last.Topic,
		Version:   last.Version,
		Timestamp: time.Now(),
		TopN:      last.TopN,
		BatchID:   uuid.NewString(),
		Changes:   make([]model.Change, 0, len(changes)),
		Removed:   removedOrder,
	}
	for _, id := range changeOrder {
		if c, ok := changes[id]; ok {
			out.Changes = append(out.Changes, c)
		}
	}
	return out, nil
}
